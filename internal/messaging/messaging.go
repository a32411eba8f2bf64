package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-sender/internal/qr"
	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	"github.com/gdbrns/go-whatsapp-sender/pkg/router"
	"github.com/gdbrns/go-whatsapp-sender/pkg/validation"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-sender/pkg/whatsapp"
)

const DefaultMaxImageSize = 5 * 1024 * 1024

// Sender delivers a message through the live session.
type Sender interface {
	Send(ctx context.Context, address string, content session.Content) (string, error)
}

// QRSource exposes the latest pairing code.
type QRSource interface {
	FetchLatest() (qr.Artifact, error)
}

type Option func(*Handler)

// WithMaxImageSize limits uploaded and fetched images.
func WithMaxImageSize(size int) Option {
	return func(h *Handler) {
		if size > 0 {
			h.maxImageSize = size
		}
	}
}

// WithImageFetcher replaces the default fiber client used for image URLs.
func WithImageFetcher(fetch ImageFetcher) Option {
	return func(h *Handler) {
		if fetch != nil {
			h.fetchImage = fetch
		}
	}
}

type Handler struct {
	sender       Sender
	qr           QRSource
	maxImageSize int
	fetchImage   ImageFetcher
}

func New(sender Sender, qrSource QRSource, opts ...Option) *Handler {
	h := &Handler{
		sender:       sender,
		qr:           qrSource,
		maxImageSize: DefaultMaxImageSize,
		fetchImage:   FetchImage,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type RequestSend struct {
	Number  string `json:"number" form:"number"`
	Message string `json:"message" form:"message"`
	Image   string `json:"image" form:"image"`
}

// NormalizeRecipient turns a phone number into a WhatsApp user address.
// Values that already carry a server part are kept as they are.
func NormalizeRecipient(number string) string {
	number = strings.TrimSpace(number)
	number = strings.TrimPrefix(number, "+")
	if strings.ContainsRune(number, '@') {
		return number
	}
	return number + pkgWhatsApp.UserServerSuffix
}

// Send
// @Summary     Send a Text or Image Message
// @Description Send a text message, or an image with the message as caption
// @Tags        Messaging
// @Accept      json,x-www-form-urlencoded,multipart/form-data
// @Produce     json
// @Param       number  formData string true  "Recipient phone number or JID"
// @Param       message formData string true  "Message text or image caption"
// @Param       image   formData file   false "Image file, or an image URL string"
// @Success     200
// @Failure     400
// @Failure     500
// @Security    BearerAuth
// @Router      /send [post]
func (h *Handler) Send(c *fiber.Ctx) error {
	var reqSend RequestSend
	if err := c.BodyParser(&reqSend); err != nil {
		log.Print(c).WithError(err).Warn("Failed to parse body request")
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if strings.TrimSpace(reqSend.Number) == "" || strings.TrimSpace(reqSend.Message) == "" {
		return router.ResponseBadRequest(c, "Number and message are required.")
	}
	if err := validation.ValidateRecipient(reqSend.Number); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateMessage(reqSend.Message); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	image, err := h.readImage(c, reqSend.Image)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	address := NormalizeRecipient(reqSend.Number)
	content := session.Content{Text: reqSend.Message}
	op := "SendText"
	if image != nil {
		image.Caption = reqSend.Message
		content = session.Content{Image: image}
		op = "SendImage"
	}

	log.MessageOp(op, address).Info("Sending message")

	msgID, err := h.sender.Send(c.UserContext(), address, content)
	if err != nil {
		entry := log.MessageOp(op, address).WithError(err)
		if errors.Is(err, session.ErrNotReady) {
			entry.Warn("Session not ready")
		} else {
			entry.Error("Failed to send message")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	log.MessageOp(op, address).WithField("message_id", msgID).Info("Message sent successfully")
	return router.ResponseSent(c, "Message sent successfully", reqSend.Number, map[string]interface{}{"message_id": msgID})
}

// QR
// @Summary     Get The Pairing QR Code
// @Description Latest QR code to link this service as a WhatsApp device
// @Tags        Session
// @Produce     png
// @Success     200
// @Failure     404
// @Router      /qr [get]
func (h *Handler) QR(c *fiber.Ctx) error {
	artifact, err := h.qr.FetchLatest()
	if err != nil {
		return router.ResponseNotFound(c, "QR code not generated yet.")
	}
	return router.ResponseImage(c, "image/png", artifact.PNG)
}
