package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/datastore"
	"github.com/gdbrns/go-whatsapp-sender/pkg/validation"
)

var _ session.Listener = (*Engine)(nil)

type receiver struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	failures int
	got      chan struct{}
}

func newReceiver(failures int) (*receiver, *httptest.Server) {
	r := &receiver{failures: failures, got: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		fail := r.failures > 0
		if fail {
			r.failures--
		}
		r.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		r.got <- struct{}{}
	}))
	return r, srv
}

func (r *receiver) waitDelivered(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := datastore.Open(context.Background(), "sqlite", "file:"+filepath.Join(t.TempDir(), "wh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func TestEngineDeliversSignedLifecycleEvent(t *testing.T) {
	recv, srv := newReceiver(0)
	defer srv.Close()

	store := openStore(t)
	engine := NewEngine(Config{URLs: []string{srv.URL}, Secret: "s3cret", AllowInsecure: true}, store)
	defer engine.Shutdown(context.Background())

	engine.SessionChanged(session.Change{
		Kind:   session.EventClosed,
		State:  session.StateClosed,
		Reason: session.CloseLoggedOut,
		Err:    errors.New("unlinked"),
		At:     time.Now(),
	})
	recv.waitDelivered(t)

	recv.mu.Lock()
	body := recv.bodies[0]
	req := recv.requests[0]
	recv.mu.Unlock()

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), req.Header.Get("X-Webhook-Signature"))
	assert.Equal(t, string(EventConnectionLoggedOut), req.Header.Get("X-Webhook-Event"))

	var event WebhookEvent
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventConnectionLoggedOut, event.EventType)
	assert.Equal(t, "logged_out", event.Data["reason"])
	assert.Equal(t, "unlinked", event.Data["error"])

	assert.Eventually(t, func() bool {
		logs, err := store.RecentDeliveries(context.Background(), 5)
		return err == nil && len(logs) == 1 && logs[0].Status == DeliverySuccess
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEngineRetriesFailedDelivery(t *testing.T) {
	recv, srv := newReceiver(2)
	defer srv.Close()

	engine := NewEngine(Config{
		URLs:          []string{srv.URL},
		RetryLimit:    3,
		RetryDelay:    10 * time.Millisecond,
		AllowInsecure: true,
	}, nil)
	defer engine.Shutdown(context.Background())

	engine.SessionChanged(session.Change{Kind: session.EventOpen, State: session.StateOpen})
	recv.waitDelivered(t)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	assert.Len(t, recv.requests, 3)
}

func TestEngineFiltersEvents(t *testing.T) {
	recv, srv := newReceiver(0)
	defer srv.Close()

	engine := NewEngine(Config{
		URLs:          []string{srv.URL},
		Events:        []EventType{EventConnectionOpen},
		AllowInsecure: true,
	}, nil)

	engine.SessionChanged(session.Change{Kind: session.EventQR, State: session.StateConnecting})
	engine.SessionChanged(session.Change{Kind: session.EventCredentials, State: session.StateConnecting})
	engine.SessionChanged(session.Change{Kind: session.EventOpen, State: session.StateOpen})
	recv.waitDelivered(t)
	engine.Shutdown(context.Background())

	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Len(t, recv.requests, 1)
	assert.Equal(t, string(EventConnectionOpen), recv.requests[0].Header.Get("X-Webhook-Event"))
}

func TestEngineDisabledWithoutURLs(t *testing.T) {
	engine := NewEngine(Config{}, nil)
	assert.False(t, engine.Enabled())
	engine.Dispatch(WebhookEvent{EventType: EventConnectionOpen})
	engine.Shutdown(context.Background())
	engine.Dispatch(WebhookEvent{EventType: EventConnectionOpen})
}

func TestValidateURL(t *testing.T) {
	strict := &Engine{cfg: Config{}}
	assert.NoError(t, strict.validateURL("https://hooks.example.com/wa"))
	for _, raw := range []string{
		"http://hooks.example.com/wa",
		"https://localhost/wa",
		"https://127.0.0.1/wa",
		"https://10.0.0.8/wa",
		"https://192.168.1.2/wa",
		"https://169.254.169.254/latest",
		"https://[::1]/wa",
		"ftp://hooks.example.com",
	} {
		assert.Error(t, strict.validateURL(raw), raw)
	}

	relaxed := &Engine{cfg: Config{AllowInsecure: true}}
	assert.NoError(t, relaxed.validateURL("http://127.0.0.1:9000/wa"))
	assert.Error(t, relaxed.validateURL("ftp://127.0.0.1/wa"))
}

func TestStrictClientRefusesPrivateAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newHTTPClient(false).Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, validation.ErrPrivateHost)

	resp, err = newHTTPClient(true).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestRejectedURLIsRecorded(t *testing.T) {
	store := openStore(t)
	engine := NewEngine(Config{URLs: []string{"http://hooks.example.com"}}, store)
	engine.Dispatch(WebhookEvent{EventType: EventConnectionQR})
	engine.Shutdown(context.Background())

	logs, err := store.RecentDeliveries(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, DeliveryFailed, logs[0].Status)
	assert.Contains(t, logs[0].LastError, "HTTPS")
}
