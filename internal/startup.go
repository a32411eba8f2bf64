package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gdbrns/go-whatsapp-sender/internal/credential"
	"github.com/gdbrns/go-whatsapp-sender/internal/qr"
	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/internal/webhook"
	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-sender/pkg/whatsapp"
)

const (
	defaultDatastoreURI   = "file:auth/whatsmeow.db?_pragma=foreign_keys(1)"
	defaultCredentialPath = "auth/creds.json"
	defaultQRPath         = "qr.png"
	defaultBackoffMax     = 2 * time.Minute
)

// Service holds the long lived components shared by routes and routines.
type Service struct {
	DB           *datastore.DB
	Provider     *pkgWhatsApp.Provider
	Credentials  session.CredentialStore
	QR           *qr.Publisher
	Controller   *session.Controller
	Webhooks     *webhook.Engine
	Versions     *pkgWhatsApp.VersionRefresher
	ExitOnLogout bool
}

// Startup opens the datastore and assembles the session from the environment.
func Startup(ctx context.Context) (*Service, error) {
	log.Print(nil).Info("Running Startup Tasks")

	db, err := datastore.Open(ctx,
		env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_TYPE", "sqlite"),
		env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_URI", defaultDatastoreURI))
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	log.Print(nil).Info("database is ok")

	svc := &Service{
		DB:           db,
		Versions:     pkgWhatsApp.VersionRefresherFromEnv(),
		ExitOnLogout: env.GetEnvBoolOrDefault("WHATSAPP_EXIT_ON_LOGOUT", true),
	}

	svc.Provider, err = pkgWhatsApp.NewProvider(ctx, db, pkgWhatsApp.ConfigFromEnv())
	if err != nil {
		db.Close()
		return nil, err
	}

	svc.Credentials, err = openCredentialStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	var qrOpts []qr.Option
	if env.GetEnvBoolOrDefault("QR_PRINT_TERMINAL", true) {
		qrOpts = append(qrOpts, qr.WithTerminal(os.Stdout))
	}
	svc.QR, err = qr.New(
		env.GetEnvStringOrDefault("QR_IMAGE_PATH", defaultQRPath),
		env.GetEnvIntOrDefault("QR_IMAGE_SIZE", qr.DefaultSize),
		qrOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	var deliveries *webhook.Store
	webhookCfg := webhook.ConfigFromEnv()
	if len(webhookCfg.URLs) > 0 {
		deliveries, err = webhook.NewStore(ctx, db)
		if err != nil {
			log.SysErr("webhook-store", err)
			deliveries = nil
		}
	}
	svc.Webhooks = webhook.NewEngine(webhookCfg, deliveries)

	delay := env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_DELAY", session.DefaultReconnectDelay)
	maxDelay := env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_MAX", defaultBackoffMax)
	svc.Controller = session.New(svc.Provider, svc.Credentials, svc.QR,
		session.WithBackoff(session.NewBackoff(delay, maxDelay)),
		session.WithListener(svc.Webhooks),
	)

	log.Print(nil).
		WithField("datastore", string(db.Dialect)).
		WithField("webhooks", len(webhookCfg.URLs)).
		WithField("reconnect_delay", delay.String()).
		WithField("reconnect_max", maxDelay.String()).
		Info("Startup complete")
	return svc, nil
}

func openCredentialStore(ctx context.Context, db *datastore.DB) (session.CredentialStore, error) {
	switch kind := env.GetEnvStringOrDefault("CREDENTIAL_STORE_TYPE", "file"); kind {
	case "file":
		return credential.NewFileStore(env.GetEnvStringOrDefault("CREDENTIAL_STORE_PATH", defaultCredentialPath)), nil
	case "sql":
		return credential.NewSQLStore(ctx, db, credential.DefaultSessionKey)
	default:
		return nil, fmt.Errorf("unsupported CREDENTIAL_STORE_TYPE %q", kind)
	}
}

// RunSession keeps the WhatsApp session alive until ctx is done. A logout
// ends it with session.ErrLoggedOut unless the service is configured to wait
// for a new pairing instead.
func (s *Service) RunSession(ctx context.Context) error {
	for {
		err := s.Controller.Run(ctx)
		if !errors.Is(err, session.ErrLoggedOut) || s.ExitOnLogout {
			return err
		}
		log.Session(session.StateClosed.String()).Warn("Logged out, waiting for a new QR pairing")
	}
}

// Close flushes webhooks and releases the datastore.
func (s *Service) Close(ctx context.Context) {
	if s.Webhooks != nil {
		s.Webhooks.Shutdown(ctx)
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.SysErr("datastore-close", err)
		}
	}
}
