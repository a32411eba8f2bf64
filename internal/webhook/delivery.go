package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	"github.com/gdbrns/go-whatsapp-sender/pkg/validation"
)

const queueSize = 100

// Engine delivers session lifecycle notifications to the configured URLs.
type Engine struct {
	cfg        Config
	store      *Store
	httpClient *http.Client
	queue      chan *deliveryTask
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type deliveryTask struct {
	url   string
	event WebhookEvent
}

func ConfigFromEnv() Config {
	var events []EventType
	for _, name := range env.GetEnvListOrDefault("WEBHOOK_EVENTS", nil) {
		events = append(events, EventType(name))
	}
	return Config{
		URLs:          env.GetEnvListOrDefault("WEBHOOK_URLS", nil),
		Secret:        env.GetEnvStringOrDefault("WEBHOOK_SECRET", ""),
		Events:        events,
		RetryLimit:    env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", 3),
		RetryDelay:    env.GetEnvDurationOrDefault("WEBHOOK_RETRY_DELAY", 2*time.Second),
		Workers:       env.GetEnvIntOrDefault("WEBHOOK_WORKERS", 2),
		AllowInsecure: env.GetEnvBoolOrDefault("WEBHOOK_ALLOW_INSECURE", false),
	}
}

// NewEngine starts the delivery workers. store may be nil, in which case
// delivery results are only logged.
func NewEngine(cfg Config, store *Store) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		cfg:        cfg,
		store:      store,
		httpClient: newHTTPClient(cfg.AllowInsecure),
		queue:      make(chan *deliveryTask, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	if engine.Enabled() {
		for i := 0; i < cfg.Workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}
	return engine
}

func (e *Engine) Enabled() bool {
	return len(e.cfg.URLs) > 0
}

func (e *Engine) Store() *Store {
	return e.store
}

// Shutdown stops accepting events, lets queued deliveries finish and aborts
// pending retries once ctx expires.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		<-done
	}
	e.cancel()
}

// SessionChanged turns controller changes into webhook events.
func (e *Engine) SessionChanged(change session.Change) {
	var eventType EventType
	switch change.Kind {
	case session.EventQR:
		eventType = EventConnectionQR
	case session.EventOpen:
		eventType = EventConnectionOpen
	case session.EventClosed:
		eventType = EventConnectionClosed
		if change.Reason == session.CloseLoggedOut {
			eventType = EventConnectionLoggedOut
		}
	default:
		return
	}

	data := map[string]interface{}{
		"state": change.State.String(),
	}
	if change.Kind == session.EventClosed {
		data["reason"] = change.Reason.String()
	}
	if change.Err != nil {
		data["error"] = change.Err.Error()
	}
	e.Dispatch(WebhookEvent{EventType: eventType, Timestamp: change.At, Data: data})
}

// Dispatch queues event for every subscribed URL without blocking.
func (e *Engine) Dispatch(event WebhookEvent) {
	if !e.Enabled() || !e.subscribed(event.EventType) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	for _, target := range e.cfg.URLs {
		select {
		case e.queue <- &deliveryTask{url: target, event: event}:
		default:
			log.Webhook(string(event.EventType), target).Warn("Webhook queue full, dropping event")
		}
	}
}

func (e *Engine) subscribed(eventType EventType) bool {
	if len(e.cfg.Events) == 0 {
		return true
	}
	for _, evt := range e.cfg.Events {
		if evt == eventType {
			return true
		}
	}
	return false
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		e.deliver(task)
	}
}

func (e *Engine) deliver(task *deliveryTask) {
	entry := log.Webhook(string(task.event.EventType), task.url)

	if err := e.validateURL(task.url); err != nil {
		entry.WithError(err).Warn("Webhook URL rejected")
		e.record(task, DeliveryFailed, 0, err.Error())
		return
	}

	payload, err := json.Marshal(task.event)
	if err != nil {
		log.SysErr("wh-marshal", err)
		return
	}
	signature := e.generateSignature(payload, e.cfg.Secret)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryLimit; attempt++ {
		if attempt > 1 && !e.wait(time.Duration(attempt-1)*e.cfg.RetryDelay) {
			break
		}

		lastErr = e.post(task, payload, signature)
		if lastErr == nil {
			entry.WithField("attempt", attempt).Debug("Webhook delivered")
			e.record(task, DeliverySuccess, attempt, "")
			return
		}
	}

	errorMsg := ""
	if lastErr != nil {
		errorMsg = lastErr.Error()
	}
	entry.WithField("attempts", e.cfg.RetryLimit).Warn("Webhook delivery failed: " + errorMsg)
	e.record(task, DeliveryFailed, e.cfg.RetryLimit, errorMsg)
}

func (e *Engine) post(task *deliveryTask, payload []byte, signature string) error {
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Hub-Signature-256", signature)
	req.Header.Set("X-Webhook-Event", string(task.event.EventType))
	req.Header.Set("User-Agent", "go-whatsapp-sender/1.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

func (e *Engine) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) record(task *deliveryTask, status DeliveryStatus, attempts int, lastError string) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.LogDelivery(ctx, task.url, task.event.EventType, status, attempts, lastError); err != nil {
		log.SysErr("wh-log", err)
	}
}

func (e *Engine) generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	if e.cfg.AllowInsecure {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("only HTTP(S) URLs are allowed")
		}
		return nil
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	return validation.ValidatePublicHost(u.Hostname())
}

// newHTTPClient refuses to connect to non-public addresses unless insecure
// targets are allowed, so a public name resolving to a private IP is caught.
func newHTTPClient(allowInsecure bool) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	if allowInsecure {
		return client
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: validation.DialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	client.Transport = transport
	return client
}
