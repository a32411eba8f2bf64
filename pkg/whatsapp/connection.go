package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
)

const eventBuffer = 16

var ErrClientNotReady = errors.New("WhatsApp Client is not Logged In")

// connection is one whatsmeow client wrapped as a session.Connection. QR
// codes and client events are merged into a single ordered channel.
type connection struct {
	client    *whatsmeow.Client
	image     ImageOptions
	pairedAt  time.Time
	handlerID uint32

	events chan session.Event
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	emitting  sync.WaitGroup
	closeOnce sync.Once
}

func newConnection(client *whatsmeow.Client, image ImageOptions, pairedAt time.Time) *connection {
	return &connection{
		client:   client,
		image:    image,
		pairedAt: pairedAt,
		events:   make(chan session.Event, eventBuffer),
		done:     make(chan struct{}),
		cancel:   func() {},
	}
}

func (c *connection) Events() <-chan session.Event {
	return c.events
}

// emit forwards evt unless the connection is closing. It may block while the
// consumer is busy, which keeps events in order.
func (c *connection) emit(evt session.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.emitting.Add(1)
	c.mu.Unlock()
	defer c.emitting.Done()

	select {
	case c.events <- evt:
	case <-c.done:
	}
}

func (c *connection) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.pairedAt = time.Now()
		c.emitCredentials(credentialsFromPair(pairInfo{
			ID:           e.ID,
			LID:          e.LID,
			Platform:     e.Platform,
			BusinessName: e.BusinessName,
		}, c.pairedAt))
		return
	case *events.Connected:
		if creds, ok := credentialsFromDevice(c.client.Store, c.pairedAt); ok {
			c.emitCredentials(creds)
		}
	case *events.PushNameSetting:
		if creds, ok := credentialsFromDevice(c.client.Store, c.pairedAt); ok {
			c.emitCredentials(creds)
		}
		return
	case *events.KeepAliveTimeout:
		log.Session("open").
			WithField("errors", e.ErrorCount).
			WithField("last_success", e.LastSuccess.Format(time.RFC3339)).
			Warn("WhatsApp keepalive timeout")
		return
	}

	if translated, ok := translateEvent(evt); ok {
		c.emit(translated)
	}
}

func (c *connection) emitCredentials(creds Credentials) {
	blob, err := creds.Encode()
	if err != nil {
		log.SysErr("credentials-encode", err)
		return
	}
	c.emit(session.Event{Kind: session.EventCredentials, Credentials: blob})
}

// watchQR forwards pairing codes until the channel closes or the connection
// is torn down.
func (c *connection) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-c.done:
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			if evt, ok := translateQR(item); ok {
				c.emit(evt)
			}
		}
	}
}

func (c *connection) Send(ctx context.Context, address string, content session.Content) (string, error) {
	if !c.client.IsLoggedIn() {
		return "", ErrClientNotReady
	}
	remoteJID, err := ParseAddress(address)
	if err != nil {
		return "", err
	}

	var message *waE2E.Message
	if content.Image != nil {
		message, err = c.imageMessage(ctx, content.Image)
		if err != nil {
			return "", err
		}
	} else {
		message = &waE2E.Message{Conversation: proto.String(content.Text)}
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: c.client.GenerateMessageID()}
	if _, err := c.client.SendMessage(ctx, remoteJID, message, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (c *connection) imageMessage(ctx context.Context, img *session.Image) (*waE2E.Message, error) {
	prepared, err := prepareImage(img.Data, img.MimeType, c.image)
	if err != nil {
		return nil, err
	}

	imageUploaded, err := c.client.Upload(ctx, prepared.Data, whatsmeow.MediaImage)
	if err != nil {
		return nil, errors.New("Error While Uploading Media to WhatsApp Server")
	}
	thumbUploaded, err := c.client.Upload(ctx, prepared.Thumbnail, whatsmeow.MediaLinkThumbnail)
	if err != nil {
		return nil, errors.New("Error while Uploading Image Thumbnail to WhatsApp Server")
	}

	imageMessage := &waE2E.ImageMessage{
		URL:                 proto.String(imageUploaded.URL),
		DirectPath:          proto.String(imageUploaded.DirectPath),
		Mimetype:            proto.String(prepared.MimeType),
		FileLength:          proto.Uint64(imageUploaded.FileLength),
		FileSHA256:          imageUploaded.FileSHA256,
		FileEncSHA256:       imageUploaded.FileEncSHA256,
		MediaKey:            imageUploaded.MediaKey,
		JPEGThumbnail:       prepared.Thumbnail,
		ThumbnailDirectPath: proto.String(thumbUploaded.DirectPath),
		ThumbnailSHA256:     thumbUploaded.FileSHA256,
		ThumbnailEncSHA256:  thumbUploaded.FileEncSHA256,
	}
	if img.Caption != "" {
		imageMessage.Caption = proto.String(img.Caption)
	}
	return &waE2E.Message{ImageMessage: imageMessage}, nil
}

// Close disconnects the client and closes the event channel once every
// pending emit has given up.
func (c *connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		if c.client != nil {
			c.client.RemoveEventHandler(c.handlerID)
			c.client.Disconnect()
		}
		c.emitting.Wait()
		close(c.events)
	})
}
