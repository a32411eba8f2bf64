package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/internal/webhook"
	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
)

type staticStatus session.Status

func (s staticStatus) Status() session.Status { return session.Status(s) }

type staticQR bool

func (q staticQR) Available() bool { return bool(q) }

type statusEnvelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    StatusResponse `json:"data"`
}

func getStatus(t *testing.T, h *Handler) statusEnvelope {
	t.Helper()
	app := fiber.New()
	app.Get("/status", h.Status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statusEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStatusWithoutOptionalViews(t *testing.T) {
	h := New(Deps{
		Session: staticStatus{State: session.StateClosed, StateName: "closed", LastError: "stream error 515"},
		QR:      staticQR(true),
	})

	out := getStatus(t, h)
	assert.True(t, out.Success)
	assert.Equal(t, "Session is closed", out.Message)
	assert.Equal(t, "stream error 515", out.Data.Session.LastError)
	assert.True(t, out.Data.QRReady)
	assert.Nil(t, out.Data.WAVersion)
	assert.Empty(t, out.Data.Deliveries)
}

func TestStatusIncludesRecentDeliveries(t *testing.T) {
	ctx := context.Background()
	db, err := datastore.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := webhook.NewStore(ctx, db)
	require.NoError(t, err)
	require.NoError(t, store.LogDelivery(ctx, "https://hooks.example.com/wa", webhook.EventConnectionOpen, webhook.DeliverySuccess, 1, ""))

	h := New(Deps{
		Session:    staticStatus{State: session.StateOpen, StateName: "open", Since: time.Now()},
		QR:         staticQR(false),
		Deliveries: store,
	})

	out := getStatus(t, h)
	assert.Equal(t, "Session is open", out.Message)
	require.Len(t, out.Data.Deliveries, 1)
	assert.Equal(t, webhook.EventConnectionOpen, out.Data.Deliveries[0].EventType)
	assert.Equal(t, webhook.DeliverySuccess, out.Data.Deliveries[0].Status)
}
