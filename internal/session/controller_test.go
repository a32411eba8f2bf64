package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type sentMessage struct {
	address string
	content Content
}

type fakeConn struct {
	events chan Event

	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	closed  bool
	release chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan Event, 16)}
}

func (f *fakeConn) Events() <-chan Event { return f.events }

func (f *fakeConn) Send(ctx context.Context, address string, content Content) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{address: address, content: content})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "MSG-1", nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeProvider struct {
	mu         sync.Mutex
	conns      []*fakeConn
	creds      [][]byte
	connectErr error
	newConn    func() *fakeConn
}

func (p *fakeProvider) Connect(ctx context.Context, creds []byte) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = append(p.creds, creds)
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	conn := newFakeConn()
	if p.newConn != nil {
		conn = p.newConn()
	}
	p.conns = append(p.conns, conn)
	return conn, nil
}

func (p *fakeProvider) connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

func (p *fakeProvider) conn(i int) *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.conns) {
		return nil
	}
	return p.conns[i]
}

func (p *fakeProvider) waitConn(t *testing.T, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return p.conn(i) != nil }, waitFor, tick)
	return p.conn(i)
}

type memCreds struct {
	mu      sync.Mutex
	blob    []byte
	saves   int
	deletes int
	saveErr error
}

func (m *memCreds) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob, nil
}

func (m *memCreds) Save(ctx context.Context, creds []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.blob = append([]byte(nil), creds...)
	return nil
}

func (m *memCreds) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.blob = nil
	return nil
}

func (m *memCreds) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memCreds) snapshot() (blob string, saves, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.blob), m.saves, m.deletes
}

type memQR struct {
	mu       sync.Mutex
	payloads []string
	current  string
	clears   int
}

func (q *memQR) Publish(payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	q.current = payload
	return nil
}

func (q *memQR) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = ""
	q.clears++
	return nil
}

func (q *memQR) clearCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clears
}

func (q *memQR) latest() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

func (q *memQR) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.payloads...)
}

type harness struct {
	provider *fakeProvider
	creds    *memCreds
	qr       *memQR
	ctrl     *Controller
	cancel   context.CancelFunc
	finished chan struct{}
	err      error
}

func start(t *testing.T, delay time.Duration, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{},
		creds:    &memCreds{},
		qr:       &memQR{},
		finished: make(chan struct{}),
	}
	opts = append([]Option{WithBackoff(NewBackoff(delay, delay))}, opts...)
	h.ctrl = New(h.provider, h.creds, h.qr, opts...)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.ctrl.Run(ctx)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.finished:
		case <-time.After(waitFor):
		}
	})
}

func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case <-h.finished:
		return h.err
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
		return nil
	}
}

func TestSendBeforeOpenIsNotReady(t *testing.T) {
	h := start(t, time.Hour)

	_, err := h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)

	h.run(t)
	h.provider.waitConn(t, 0)
	require.Eventually(t, func() bool { return h.ctrl.State() == StateConnecting }, waitFor, tick)

	_, err = h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, h.provider.conn(0).sentMessages())
}

func TestPairingScenario(t *testing.T) {
	h := start(t, time.Hour)
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventQR, QR: "ABC123"}
	require.Eventually(t, func() bool { return len(h.qr.published()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"ABC123"}, h.qr.published())
	assert.Equal(t, "ABC123", h.qr.latest())

	conn.events <- Event{Kind: EventCredentials, Credentials: []byte(`{"jid":"1555:1@s.whatsapp.net"}`)}
	conn.events <- Event{Kind: EventOpen}
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, waitFor, tick)
	// The scanned code is withdrawn once the session is open.
	require.Eventually(t, func() bool { return h.qr.latest() == "" }, waitFor, tick)

	blob, saves, _ := h.creds.snapshot()
	assert.Equal(t, `{"jid":"1555:1@s.whatsapp.net"}`, blob)
	assert.Equal(t, 1, saves)

	id, err := h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "MSG-1", id)

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "1555@s.whatsapp.net", sent[0].address)
	assert.Equal(t, "hi", sent[0].content.Text)
}

func TestSendFailureIsNotRetried(t *testing.T) {
	providerErr := errors.New("recipient not on whatsapp")
	h := start(t, time.Hour)
	h.provider.newConn = func() *fakeConn {
		c := newFakeConn()
		c.sendErr = providerErr
		return c
	}
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventOpen}
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, waitFor, tick)

	_, err := h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "hi"})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, "1555@s.whatsapp.net", sendErr.Address)
	assert.Len(t, conn.sentMessages(), 1)
}

func TestLoggedOutDeletesCredentialsAndStops(t *testing.T) {
	h := start(t, 10*time.Millisecond)
	h.creds.blob = []byte("paired")
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventOpen}
	conn.events <- Event{Kind: EventClosed, Reason: CloseLoggedOut, Err: errors.New("device removed")}

	assert.ErrorIs(t, h.result(t), ErrLoggedOut)

	blob, _, deletes := h.creds.snapshot()
	assert.Empty(t, blob)
	assert.Equal(t, 1, deletes)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateClosed, h.ctrl.State())
	assert.Equal(t, 2, h.qr.clearCount(), "cleared on open and again on logout")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.provider.connects(), "logout must not reconnect")
}

func TestTransientCloseReconnectsOnceAfterDelay(t *testing.T) {
	delay := 80 * time.Millisecond
	h := start(t, delay)
	h.creds.blob = []byte("paired")
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventOpen}
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, waitFor, tick)

	closedAt := time.Now()
	conn.events <- Event{Kind: EventClosed, Reason: CloseTransient, Err: errors.New("stream error")}
	require.Eventually(t, func() bool { return h.ctrl.State() == StateClosed }, waitFor, tick)

	_, err := h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, h.provider.connects())

	h.provider.waitConn(t, 1)
	assert.GreaterOrEqual(t, time.Since(closedAt), delay)

	time.Sleep(2 * delay)
	assert.Equal(t, 2, h.provider.connects(), "exactly one reconnect per close")

	_, _, deletes := h.creds.snapshot()
	assert.Zero(t, deletes)
	h.provider.mu.Lock()
	assert.Equal(t, "paired", string(h.provider.creds[1]))
	h.provider.mu.Unlock()
	assert.True(t, conn.isClosed())
}

func TestConnectErrorIsRetried(t *testing.T) {
	h := start(t, 10*time.Millisecond)
	h.provider.connectErr = errors.New("dial tcp: timeout")
	h.run(t)

	require.Eventually(t, func() bool { return h.provider.connects() >= 3 }, waitFor, tick)
	assert.Contains(t, h.ctrl.Status().LastError, "dial tcp")
	assert.Nil(t, h.provider.conn(0))
}

func TestEventStreamEndTriggersReconnect(t *testing.T) {
	h := start(t, 10*time.Millisecond)
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	close(conn.events)

	h.provider.waitConn(t, 1)
}

func TestEventsAppliedInOrder(t *testing.T) {
	h := start(t, time.Hour)
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventQR, QR: "first"}
	conn.events <- Event{Kind: EventCredentials, Credentials: []byte("c1")}
	conn.events <- Event{Kind: EventQR, QR: "second"}
	conn.events <- Event{Kind: EventCredentials, Credentials: []byte("c2")}

	require.Eventually(t, func() bool {
		_, saves, _ := h.creds.snapshot()
		return saves == 2
	}, waitFor, tick)
	blob, _, _ := h.creds.snapshot()
	assert.Equal(t, "c2", blob)
	assert.Equal(t, []string{"first", "second"}, h.qr.published())
}

func TestQRIgnoredOnceOpen(t *testing.T) {
	h := start(t, time.Hour)
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventOpen}
	conn.events <- Event{Kind: EventQR, QR: "late"}
	conn.events <- Event{Kind: EventCredentials, Credentials: []byte("after")}

	require.Eventually(t, func() bool {
		blob, _, _ := h.creds.snapshot()
		return blob == "after"
	}, waitFor, tick)
	assert.Empty(t, h.qr.published())
}

func TestCredentialSaveFailureIsRetried(t *testing.T) {
	h := start(t, time.Hour, WithSaveRetry(NewBackoff(5*time.Millisecond, 5*time.Millisecond)))
	h.creds.saveErr = errors.New("disk full")
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventCredentials, Credentials: []byte("paired")}
	conn.events <- Event{Kind: EventOpen}

	require.Eventually(t, func() bool { return h.ctrl.Status().LastError == "disk full" }, waitFor, tick)
	// The open event waits behind the pending save.
	assert.Equal(t, StateConnecting, h.ctrl.State())

	h.creds.setSaveErr(nil)
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, waitFor, tick)
	blob, saves, _ := h.creds.snapshot()
	assert.Equal(t, "paired", blob)
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, h.provider.connects())
}

func TestCredentialRetryStopsOnCancel(t *testing.T) {
	h := start(t, time.Hour, WithSaveRetry(NewBackoff(time.Hour, time.Hour)))
	h.creds.saveErr = errors.New("disk full")
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventCredentials, Credentials: []byte("paired")}
	require.Eventually(t, func() bool { return h.ctrl.Status().LastError == "disk full" }, waitFor, tick)

	h.cancel()
	assert.ErrorIs(t, h.result(t), context.Canceled)
	assert.Equal(t, StateClosed, h.ctrl.State())
	assert.True(t, conn.isClosed())
}

func TestTeardownWaitsForInFlightSend(t *testing.T) {
	h := start(t, time.Hour)
	release := make(chan struct{})
	h.provider.newConn = func() *fakeConn {
		c := newFakeConn()
		c.release = release
		return c
	}
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventOpen}
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, waitFor, tick)

	sendDone := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "1555@s.whatsapp.net", Content{Text: "slow"})
		sendDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	conn.events <- Event{Kind: EventClosed, Reason: CloseTransient}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, conn.isClosed(), "connection closed while a send was in flight")

	close(release)
	require.NoError(t, <-sendDone)
	require.Eventually(t, conn.isClosed, waitFor, tick)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := start(t, time.Hour)
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	h.cancel()

	assert.ErrorIs(t, h.result(t), context.Canceled)
	assert.True(t, conn.isClosed())
}

func TestListenerSeesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	h := start(t, time.Hour, WithListener(ListenerFunc(func(change Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, change.Kind)
	})))
	h.run(t)

	conn := h.provider.waitConn(t, 0)
	conn.events <- Event{Kind: EventQR, QR: "q"}
	conn.events <- Event{Kind: EventOpen}
	conn.events <- Event{Kind: EventClosed, Reason: CloseLoggedOut}
	require.ErrorIs(t, h.result(t), ErrLoggedOut)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventQR, EventOpen, EventClosed}, kinds)
}
