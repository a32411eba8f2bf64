package whatsapp

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
)

var (
	ErrStreamReplaced = errors.New("whatsapp stream replaced by another client")
	ErrDisconnected   = errors.New("whatsapp websocket disconnected")
	ErrClientOutdated = errors.New("whatsapp client version is outdated")
	ErrQRTimeout      = errors.New("whatsapp qr codes expired without a scan")
)

// translateEvent maps a whatsmeow event onto the session lifecycle. Events
// irrelevant to the lifecycle report false.
func translateEvent(evt interface{}) (session.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return session.Event{Kind: session.EventOpen}, true
	case *events.LoggedOut:
		return closedEvent(session.CloseLoggedOut, fmt.Errorf("logged out (on connect: %t, reason: %v)", e.OnConnect, e.Reason)), true
	case *events.ConnectFailure:
		err := fmt.Errorf("connect failure: %v %s", e.Reason, e.Message)
		if e.Reason.IsLoggedOut() {
			return closedEvent(session.CloseLoggedOut, err), true
		}
		return closedEvent(session.CloseTransient, err), true
	case *events.StreamReplaced:
		return closedEvent(session.CloseTransient, ErrStreamReplaced), true
	case *events.StreamError:
		return closedEvent(session.CloseTransient, fmt.Errorf("stream error: %s", e.Code)), true
	case *events.Disconnected:
		return closedEvent(session.CloseTransient, ErrDisconnected), true
	case *events.TemporaryBan:
		return closedEvent(session.CloseTransient, fmt.Errorf("temporary ban: %s", e.String())), true
	case *events.ClientOutdated:
		return closedEvent(session.CloseTransient, ErrClientOutdated), true
	case *events.PairError:
		return closedEvent(session.CloseTransient, fmt.Errorf("pairing failed: %w", e.Error)), true
	}
	return session.Event{}, false
}

// translateQR maps an item of the whatsmeow QR channel.
func translateQR(item whatsmeow.QRChannelItem) (session.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return session.Event{Kind: session.EventQR, QR: item.Code}, true
	case whatsmeow.QRChannelTimeout.Event:
		return closedEvent(session.CloseTransient, ErrQRTimeout), true
	case whatsmeow.QRChannelClientOutdated.Event:
		return closedEvent(session.CloseTransient, ErrClientOutdated), true
	case whatsmeow.QRChannelErrUnexpectedEvent.Event:
		return closedEvent(session.CloseTransient, errors.New("whatsapp qr channel entered an unexpected state")), true
	case whatsmeow.QRChannelEventError:
		err := item.Error
		if err == nil {
			err = errors.New("whatsapp qr channel reported an unspecified error")
		}
		return closedEvent(session.CloseTransient, err), true
	}
	// success and scanned-without-multidevice are followed by regular events.
	return session.Event{}, false
}

func closedEvent(reason session.CloseReason, err error) session.Event {
	return session.Event{Kind: session.EventClosed, Reason: reason, Err: err}
}
