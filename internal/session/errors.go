package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Send while the session is not open.
	ErrNotReady = errors.New("whatsapp session is not ready")
	// ErrLoggedOut ends Run when the device was unlinked. Credentials have
	// already been deleted; an operator has to pair the device again.
	ErrLoggedOut = errors.New("whatsapp session logged out, pairing required")

	errStreamEnded = errors.New("connection event stream ended")
)

// SendError wraps a provider failure for a single send attempt.
type SendError struct {
	Address string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Address, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
