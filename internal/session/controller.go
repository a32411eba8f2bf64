package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
)

const storeTimeout = 10 * time.Second

type Option func(*Controller)

// WithBackoff replaces the default fixed 5s reconnect delay.
func WithBackoff(b *Backoff) Option {
	return func(c *Controller) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithSaveRetry replaces the policy used to retry failed credential saves.
func WithSaveRetry(b *Backoff) Option {
	return func(c *Controller) {
		if b != nil {
			c.saveRetry = b
		}
	}
}

// WithListener registers an observer for lifecycle changes.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

type Controller struct {
	provider  Provider
	creds     CredentialStore
	qr        QRPublisher
	backoff   *Backoff
	saveRetry *Backoff
	listeners []Listener

	mu      sync.RWMutex
	state   State
	since   time.Time
	lastErr error
	attempt int
	conn    Connection
}

func New(provider Provider, creds CredentialStore, qr QRPublisher, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		creds:     creds,
		qr:        qr,
		backoff:   NewBackoff(DefaultReconnectDelay, DefaultReconnectDelay),
		saveRetry: NewBackoff(250*time.Millisecond, 5*time.Second),
		state:     StateClosed,
		since:    time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run bootstraps the session and keeps it alive until ctx is done or the
// device is logged out. It returns ctx.Err() or ErrLoggedOut.
func (c *Controller) Run(ctx context.Context) error {
	for {
		err := c.runConnection(ctx)
		if err != nil {
			return err
		}

		delay := c.backoff.Next()
		c.mu.Lock()
		c.attempt = c.backoff.Attempt()
		c.mu.Unlock()
		log.Session(c.State().String()).
			WithField("attempt", c.backoff.Attempt()).
			WithField("delay", delay.String()).
			Info("Reconnecting after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runConnection performs one bootstrap and consumes its events. A nil return
// means the connection closed transiently and should be retried.
func (c *Controller) runConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	creds, err := c.creds.Load(loadCtx)
	cancel()
	if err != nil {
		log.SysErr("credentials-load", err)
		c.setClosed(err)
		c.notify(Change{Kind: EventClosed, State: StateClosed, Reason: CloseTransient, Err: err})
		return nil
	}

	// lastErr is kept while connecting so /status still explains the retry.
	c.mu.Lock()
	if c.state != StateConnecting {
		c.since = time.Now()
	}
	c.state = StateConnecting
	c.mu.Unlock()
	log.Session(StateConnecting.String()).WithField("resume", len(creds) > 0).Info("Starting WhatsApp session")

	conn, err := c.provider.Connect(ctx, creds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.setClosed(ctxErr)
			return ctxErr
		}
		log.Session(StateConnecting.String()).WithError(err).Warn("Connection attempt failed")
		c.setClosed(err)
		c.notify(Change{Kind: EventClosed, State: StateClosed, Reason: CloseTransient, Err: err})
		return nil
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			c.teardown(ctx.Err())
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				c.teardown(errStreamEnded)
				c.notify(Change{Kind: EventClosed, State: StateClosed, Reason: CloseTransient, Err: errStreamEnded})
				return nil
			}
			if done, err := c.apply(ctx, evt); done {
				return err
			}
		}
	}
}

// apply handles one provider event. done reports that the connection is over;
// err is then nil for a transient close and ErrLoggedOut for a logout.
func (c *Controller) apply(ctx context.Context, evt Event) (done bool, err error) {
	switch evt.Kind {
	case EventQR:
		if c.State() != StateConnecting {
			log.Session(c.State().String()).Warn("Ignoring QR code outside of pairing")
			return false, nil
		}
		if err := c.qr.Publish(evt.QR); err != nil {
			log.SysErr("qr-publish", err)
			return false, nil
		}
		log.Session(StateConnecting.String()).Info("QR code published, waiting for scan")
		c.notify(Change{Kind: EventQR, State: StateConnecting})

	case EventCredentials:
		if err := c.persist(ctx, evt.Credentials); err != nil {
			c.teardown(err)
			return true, err
		}
		log.Session(c.State().String()).Debug("Credentials persisted")
		c.notify(Change{Kind: EventCredentials, State: c.State()})

	case EventOpen:
		if c.State() == StateOpen {
			return false, nil
		}
		c.backoff.Reset()
		c.mu.Lock()
		c.attempt = 0
		c.mu.Unlock()
		c.setState(StateOpen, nil)
		c.clearQR()
		log.Session(StateOpen.String()).Info("Connected to WhatsApp")
		c.notify(Change{Kind: EventOpen, State: StateOpen})

	case EventClosed:
		closeErr := evt.Err
		if closeErr == nil {
			closeErr = errors.New("connection closed: " + evt.Reason.String())
		}
		c.teardown(closeErr)

		if evt.Reason == CloseLoggedOut {
			log.Session(StateClosed.String()).WithError(closeErr).Warn("Session logged out, deleting credentials")
			c.clearQR()
			deleteCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := c.creds.Delete(deleteCtx); err != nil {
				log.SysErr("credentials-delete", err)
			}
			cancel()
			c.notify(Change{Kind: EventClosed, State: StateClosed, Reason: CloseLoggedOut, Err: closeErr})
			return true, ErrLoggedOut
		}

		log.Session(StateClosed.String()).WithError(closeErr).Warn("Connection closed, will reconnect")
		c.notify(Change{Kind: EventClosed, State: StateClosed, Reason: CloseTransient, Err: closeErr})
		return true, nil
	}
	return false, nil
}

// persist saves blob, retrying with backoff until it is stored or ctx ends.
// Later events wait meanwhile so an older blob never lands after a newer one.
func (c *Controller) persist(ctx context.Context, blob []byte) error {
	c.saveRetry.Reset()
	for {
		saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := c.creds.Save(saveCtx, blob)
		cancel()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		delay := c.saveRetry.Next()
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		log.Session(c.State().String()).
			WithError(err).
			WithField("attempt", c.saveRetry.Attempt()).
			WithField("delay", delay.String()).
			Warn("Saving credentials failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Send delivers content through the open connection. The read lock is held
// for the whole provider call so a teardown waits for in-flight sends.
func (c *Controller) Send(ctx context.Context, address string, content Content) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateOpen || c.conn == nil {
		return "", ErrNotReady
	}
	id, err := c.conn.Send(ctx, address, content)
	if err != nil {
		return "", &SendError{Address: address, Err: err}
	}
	return id, nil
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := Status{
		State:     c.state,
		StateName: c.state.String(),
		Since:     c.since,
		Attempt:   c.attempt,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

func (c *Controller) setState(state State, err error) {
	c.mu.Lock()
	if c.state != state {
		c.since = time.Now()
	}
	c.state = state
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) setClosed(err error) {
	c.setState(StateClosed, err)
}

// teardown marks the session closed and releases the live connection. It
// blocks until in-flight sends holding the read lock have returned.
func (c *Controller) teardown(err error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.state != StateClosed {
		c.since = time.Now()
	}
	c.state = StateClosed
	c.lastErr = err
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Controller) clearQR() {
	if err := c.qr.Clear(); err != nil {
		log.SysErr("qr-clear", err)
	}
}

func (c *Controller) notify(change Change) {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	for _, l := range c.listeners {
		l.SessionChanged(change)
	}
}
