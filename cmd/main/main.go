package main

// @title Go WhatsApp Sender
// @version 1.0.0
// @description Single-session WhatsApp sender with QR pairing, text and image messages, and session lifecycle webhooks

// @contact.name gdbrns
// @contact.url https://github.com/gdbrns/go-whatsapp-sender

// @license.name MIT
// @license.url https://github.com/gdbrns/go-whatsapp-sender/blob/main/LICENSE

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token, required on /send when API_JWT_SECRET is set

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	"github.com/gdbrns/go-whatsapp-sender/pkg/router"

	"github.com/gdbrns/go-whatsapp-sender/internal"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Running Startup Tasks
	svc, err := internal.Startup(ctx)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:          router.HttpErrorHandler,
		BodyLimit:             router.BodyLimitBytes(),
		ReadBufferSize:        8192,
		DisableStartupMessage: true,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs") || strings.HasSuffix(c.Path(), "/qr")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, svc)

	// Running Routines Tasks
	internal.Routines(c, svc)

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// PORT, then SERVER_PORT: default "3000"
	serverConfig.Port = env.GetEnvStringOrDefault("PORT", env.GetEnvStringOrDefault("SERVER_PORT", "3000"))

	group, groupCtx := errgroup.WithContext(ctx)

	// Start Server
	group.Go(func() error {
		log.Print(nil).Info("Listening on " + serverConfig.Address + ":" + serverConfig.Port)
		return app.Listen(serverConfig.Address + ":" + serverConfig.Port)
	})

	// Keep The WhatsApp Session Alive
	group.Go(func() error {
		err := svc.RunSession(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, session.ErrLoggedOut) {
			log.Session(session.StateClosed.String()).Warn("Logged out from WhatsApp, shutting down")
		}
		return err
	})

	// Watch for Shutdown Signal or a Finished Session
	group.Go(func() error {
		<-groupCtx.Done()

		// Wait 5 Seconds Before Graceful Shutdown
		ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		// Try To Shutdown Server
		if err := app.ShutdownWithContext(ctxShutdown); err != nil {
			log.Print(nil).Error(err.Error())
		}
		return nil
	})

	err = group.Wait()

	// Try To Shutdown Cron
	<-c.Stop().Done()

	ctxClose, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	svc.Close(ctxClose)
	cancelClose()

	if err != nil && !errors.Is(err, session.ErrLoggedOut) {
		log.Print(nil).Fatal(err.Error())
	}
	log.Print(nil).Info("Server stopped")
}
