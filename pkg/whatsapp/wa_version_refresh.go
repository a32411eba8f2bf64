package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"

	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
)

const defaultVersionRefreshInterval = 10 * time.Minute

type VersionStatus struct {
	CurrentVersion store.WAVersionContainer `json:"current_version"`
	LastRefreshed  *time.Time               `json:"last_refreshed,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
}

// VersionFetcher returns the latest WhatsApp Web version.
type VersionFetcher func(ctx context.Context) (*store.WAVersionContainer, error)

// VersionRefresher keeps the client version announced to WhatsApp current.
// Concurrent refreshes share a single fetch.
type VersionRefresher struct {
	minInterval time.Duration
	fetch       VersionFetcher
	group       singleflight.Group

	mu            sync.RWMutex
	lastRefreshed *time.Time
	lastError     string
}

func NewVersionRefresher(minInterval time.Duration, fetch VersionFetcher) *VersionRefresher {
	if fetch == nil {
		fetch = fetchLatestVersion
	}
	return &VersionRefresher{minInterval: minInterval, fetch: fetch}
}

func VersionRefresherFromEnv() *VersionRefresher {
	return NewVersionRefresher(
		env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", defaultVersionRefreshInterval),
		nil,
	)
}

func fetchLatestVersion(ctx context.Context) (*store.WAVersionContainer, error) {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return whatsmeow.GetLatestVersion(ctx, httpClient)
}

func (r *VersionRefresher) Status() VersionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	if r.lastRefreshed != nil {
		t := *r.lastRefreshed
		last = &t
	}
	return VersionStatus{
		CurrentVersion: store.GetWAVersion(),
		LastRefreshed:  last,
		LastError:      r.lastError,
	}
}

// Refresh fetches and applies the latest version. Unless force is set, calls
// within the minimum interval of the previous attempt are skipped; the bool
// result reports whether a fetch happened.
func (r *VersionRefresher) Refresh(ctx context.Context, force bool) (VersionStatus, bool, error) {
	if !force && r.minInterval > 0 {
		r.mu.RLock()
		last := r.lastRefreshed
		r.mu.RUnlock()
		if last != nil && time.Since(*last) < r.minInterval {
			return r.Status(), false, nil
		}
	}

	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		latest, err := r.fetch(ctx)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}
		if err == nil {
			store.SetWAVersion(*latest)
		}
		r.record(err)
		return nil, err
	})
	return r.Status(), true, err
}

func (r *VersionRefresher) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.lastRefreshed = &now
	r.lastError = ""
	if err != nil {
		r.lastError = err.Error()
	}
}
