package session

import (
	"context"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type EventKind int

const (
	EventQR EventKind = iota + 1
	EventCredentials
	EventOpen
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventCredentials:
		return "credentials"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason classifies a closed connection.
type CloseReason int

const (
	// CloseTransient is recoverable by reconnecting with the same credentials.
	CloseTransient CloseReason = iota
	// CloseLoggedOut means the device was unlinked and must be paired again.
	CloseLoggedOut
)

func (r CloseReason) String() string {
	if r == CloseLoggedOut {
		return "logged_out"
	}
	return "transient"
}

// Event is a single lifecycle notification emitted by a Connection.
type Event struct {
	Kind        EventKind
	QR          string
	Credentials []byte
	Reason      CloseReason
	Err         error
}

// Image is an image attachment. Caption may be empty.
type Image struct {
	Data     []byte
	MimeType string
	Caption  string
}

// Content is the body of an outbound message: either Text or Image.
type Content struct {
	Text  string
	Image *Image
}

// Provider creates connections to the messaging network.
type Provider interface {
	// Connect starts a new connection using previously persisted credentials,
	// or a fresh pairing when creds is empty.
	Connect(ctx context.Context, creds []byte) (Connection, error)
}

// Connection is one connection attempt. Events must yield zero or more QR and
// credential events followed by open and/or closed; the channel is closed
// once the connection is torn down.
type Connection interface {
	Events() <-chan Event
	// Send delivers content to address without retrying and returns the
	// provider's message id.
	Send(ctx context.Context, address string, content Content) (string, error)
	Close()
}

// CredentialStore persists the paired-device credentials. Load returns a nil
// blob and no error when nothing has been stored yet.
type CredentialStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, creds []byte) error
	Delete(ctx context.Context) error
}

// QRPublisher turns a raw pairing payload into a retrievable artifact.
// Clear withdraws it once the code can no longer be scanned.
type QRPublisher interface {
	Publish(payload string) error
	Clear() error
}

// Change describes something the controller just did.
type Change struct {
	Kind   EventKind
	State  State
	Reason CloseReason
	Err    error
	At     time.Time
}

// Listener observes controller changes. Calls happen on the controller
// goroutine, so implementations must not block.
type Listener interface {
	SessionChanged(change Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(change Change)

func (f ListenerFunc) SessionChanged(change Change) {
	f(change)
}

// Status is a point-in-time view of the session.
type Status struct {
	State     State     `json:"-"`
	StateName string    `json:"state"`
	Since     time.Time `json:"since"`
	Attempt   int       `json:"reconnect_attempt"`
	LastError string    `json:"last_error,omitempty"`
}
