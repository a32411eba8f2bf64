package whatsapp

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
)

const DefaultBrowserName = "MyBot"

type Config struct {
	BrowserName string
	ProxyURL    string
	Image       ImageOptions
}

func ConfigFromEnv() Config {
	return Config{
		BrowserName: env.GetEnvStringOrDefault("WHATSAPP_BROWSER_NAME", DefaultBrowserName),
		ProxyURL:    env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", ""),
		Image: ImageOptions{
			ConvertWebP: env.GetEnvBoolOrDefault("WHATSAPP_MEDIA_IMAGE_CONVERT_WEBP", false),
			Compress:    env.GetEnvBoolOrDefault("WHATSAPP_MEDIA_IMAGE_COMPRESSION", false),
		},
	}
}

// Provider opens whatsmeow clients backed by a shared device datastore.
type Provider struct {
	container *sqlstore.Container
	cfg       Config
}

// NewProvider upgrades the whatsmeow schema in db and sets the device
// properties announced to WhatsApp when pairing.
func NewProvider(ctx context.Context, db *datastore.DB, cfg Config) (*Provider, error) {
	if cfg.BrowserName == "" {
		cfg.BrowserName = DefaultBrowserName
	}

	log.Print(nil).Info("Initializing WhatsApp datastore with dialect=" + db.WhatsMeowDialect())
	container := sqlstore.NewWithDB(db.DB, db.WhatsMeowDialect(), log.WhatsMeow("database"))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade whatsapp datastore: %w", err)
	}

	store.DeviceProps.Os = proto.String(cfg.BrowserName)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	return &Provider{container: container, cfg: cfg}, nil
}

// Connect starts one client. Stored credentials resume the paired device;
// without them a QR channel is opened for a fresh pairing.
func (p *Provider) Connect(ctx context.Context, blob []byte) (session.Connection, error) {
	creds, err := DecodeCredentials(blob)
	if err != nil {
		// An unreadable blob is treated like a missing one.
		log.SysErr("credentials-decode", err)
		creds = Credentials{}
	}

	device, err := p.device(ctx, creds)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, log.WhatsMeow("client"))
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	if p.cfg.ProxyURL != "" {
		if err := client.SetProxyAddress(p.cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy address: %w", err)
		}
	}

	conn := newConnection(client, p.cfg.Image, creds.PairedAt)
	conn.handlerID = client.AddEventHandler(conn.handle)

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		conn.cancel = cancel
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open qr channel: %w", err)
		}
		go conn.watchQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

func (p *Provider) device(ctx context.Context, creds Credentials) (*store.Device, error) {
	jid, ok := creds.DeviceJID()
	if !ok {
		return p.container.NewDevice(), nil
	}
	device, err := p.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", log.MaskRecipient(jid.String()), err)
	}
	if device == nil {
		log.Session("connecting").Warn("Stored device not found in datastore, pairing a new one")
		return p.container.NewDevice(), nil
	}
	return device, nil
}

var _ session.Provider = (*Provider)(nil)

var errNoProvider = errors.New("whatsapp provider not initialized")

// Ping checks that the device datastore still answers.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.container == nil {
		return errNoProvider
	}
	_, err := p.container.GetAllDevices(ctx)
	return err
}
