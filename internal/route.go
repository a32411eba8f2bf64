package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	ctlIndex "github.com/gdbrns/go-whatsapp-sender/internal/index"
	ctlMessaging "github.com/gdbrns/go-whatsapp-sender/internal/messaging"
	"github.com/gdbrns/go-whatsapp-sender/pkg/auth"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/router"
)

func Routes(app *fiber.App, svc *Service) {
	messaging := ctlMessaging.New(svc.Controller, svc.QR,
		ctlMessaging.WithMaxImageSize(env.GetEnvSizeOrDefault("SEND_IMAGE_MAX_SIZE", ctlMessaging.DefaultMaxImageSize)),
		ctlMessaging.WithImageFetcher(ctlMessaging.NewImageFetcher(env.GetEnvBoolOrDefault("SEND_IMAGE_ALLOW_PRIVATE_URLS", false))),
	)
	index := ctlIndex.New(ctlIndex.Deps{
		Session:    svc.Controller,
		QR:         svc.QR,
		Versions:   svc.Versions,
		Deliveries: svc.Webhooks.Store(),
	})

	RegisterRoutes(app, messaging, index, RouteConfig{
		JWTSecret:     env.GetEnvStringOrDefault("API_JWT_SECRET", ""),
		RatePerSecond: env.GetEnvFloat64OrDefault("SEND_RATE_LIMIT_PER_SECOND", 0),
		RateBurst:     env.GetEnvIntOrDefault("SEND_RATE_LIMIT_BURST", 5),
	})
}

type RouteConfig struct {
	JWTSecret     string
	RatePerSecond float64
	RateBurst     int
}

// RegisterRoutes mounts the gateway under router.BaseURL.
func RegisterRoutes(app *fiber.App, messaging *ctlMessaging.Handler, index *ctlIndex.Handler, cfg RouteConfig) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swagger.New(swagger.Config{
		URL: router.BaseURL + "/docs/swagger.json",
	}))

	// Route for Session
	// ---------------------------------------------
	app.Get(router.BaseURL+"/qr", messaging.QR)
	app.Get(router.BaseURL+"/status", index.Status)

	// Route for Messaging
	// ---------------------------------------------
	app.Post(router.BaseURL+"/send",
		auth.BearerAuth(cfg.JWTSecret),
		router.HttpRateLimit(cfg.RatePerSecond, cfg.RateBurst),
		messaging.Send,
	)
}
