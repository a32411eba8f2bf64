package index

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/internal/webhook"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	"github.com/gdbrns/go-whatsapp-sender/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-sender/pkg/whatsapp"
)

type StatusSource interface {
	Status() session.Status
}

type QRAvailability interface {
	Available() bool
}

// Deps are the read-only views shown by /status. Versions and Deliveries
// may be nil.
type Deps struct {
	Session    StatusSource
	QR         QRAvailability
	Versions   *pkgWhatsApp.VersionRefresher
	Deliveries *webhook.Store
}

type Handler struct {
	deps Deps
}

func New(deps Deps) *Handler {
	return &Handler{deps: deps}
}

type StatusResponse struct {
	Session    session.Status             `json:"session"`
	QRReady    bool                       `json:"qr_available"`
	WAVersion  *pkgWhatsApp.VersionStatus `json:"wa_version,omitempty"`
	Deliveries []webhook.DeliveryLog      `json:"webhook_deliveries,omitempty"`
}

// Index
// @Summary     Show The Status of The Server
// @Description Get The Server Status
// @Tags        Root
// @Produce     json
// @Success     200
// @Router      / [get]
func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "Go WhatsApp Sender is running")
}

// Status
// @Summary     Show The WhatsApp Session Status
// @Description Session state, last error, and whether a QR code is waiting to be scanned
// @Tags        Session
// @Produce     json
// @Success     200
// @Router      /status [get]
func (h *Handler) Status(c *fiber.Ctx) error {
	resp := StatusResponse{
		Session: h.deps.Session.Status(),
		QRReady: h.deps.QR.Available(),
	}
	if h.deps.Versions != nil {
		version := h.deps.Versions.Status()
		resp.WAVersion = &version
	}
	if h.deps.Deliveries != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		deliveries, err := h.deps.Deliveries.RecentDeliveries(ctx, 10)
		cancel()
		if err != nil {
			log.Print(c).WithError(err).Warn("Failed to read webhook deliveries")
		}
		resp.Deliveries = deliveries
	}
	return router.ResponseSuccessWithData(c, "Session is "+resp.Session.StateName, resp)
}
