package mongostore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/autocache-mongo/pkg/cache"
	"github.com/nimburion/autocache-mongo/pkg/testutil"
)

const waitTimeout = 2 * time.Second

// fakeConnector fails the first `failures` dials and records the monitor it was given.
type fakeConnector struct {
	mu       sync.Mutex
	coll     Collection
	failures int
	err      error
	calls    int
	monitor  Monitor
	closed   bool
	gate     chan struct{}
}

func newFakeConnector(coll Collection) *fakeConnector {
	if coll == nil {
		coll = NewMemoryCollection()
	}
	return &fakeConnector{coll: coll}
}

func (c *fakeConnector) Connect(ctx context.Context, monitor Monitor) (Collection, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	c.monitor = monitor
	return c.coll, nil
}

func (c *fakeConnector) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeConnector) Monitor() Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

func (c *fakeConnector) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// faultyCollection fails every operation with err, and Ping with pingErr.
type faultyCollection struct {
	*MemoryCollection
	mu      sync.Mutex
	err     error
	pingErr error
}

func (c *faultyCollection) fail() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *faultyCollection) setPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *faultyCollection) FindValue(ctx context.Context, id string) (string, bool, error) {
	if err := c.fail(); err != nil {
		return "", false, err
	}
	return c.MemoryCollection.FindValue(ctx, id)
}

func (c *faultyCollection) UpsertValue(ctx context.Context, id, value string) error {
	if err := c.fail(); err != nil {
		return err
	}
	return c.MemoryCollection.UpsertValue(ctx, id, value)
}

func (c *faultyCollection) Delete(ctx context.Context, id string) (int64, error) {
	if err := c.fail(); err != nil {
		return 0, err
	}
	return c.MemoryCollection.Delete(ctx, id)
}

func (c *faultyCollection) DeleteAll(ctx context.Context) (int64, error) {
	if err := c.fail(); err != nil {
		return 0, err
	}
	return c.MemoryCollection.DeleteAll(ctx)
}

func (c *faultyCollection) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

// recordingObserver records notifications in arrival order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
	errs   []error
	ch     chan string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ch: make(chan string, 32)}
}

func (o *recordingObserver) OnConnect() {
	o.mu.Lock()
	o.events = append(o.events, "connect")
	o.mu.Unlock()
	o.ch <- "connect"
}

func (o *recordingObserver) OnDisconnect(err error) {
	o.mu.Lock()
	o.events = append(o.events, "disconnect")
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.ch <- "disconnect"
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *recordingObserver) LastErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) == 0 {
		return nil
	}
	return o.errs[len(o.errs)-1]
}

func (o *recordingObserver) waitFor(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-o.ch:
		if got != want {
			t.Fatalf("expected %s notification, got %s", want, got)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s notification", want)
	}
}

func (o *recordingObserver) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-o.ch:
		t.Fatalf("unexpected %s notification", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeOwner is a cache that accepts a store.
type fakeOwner struct {
	*recordingObserver
	mu    sync.Mutex
	store cache.Store
}

func (o *fakeOwner) Configure(store cache.Store) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
}

func (o *fakeOwner) Store() cache.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store
}

func fastReconnect() ReconnectConfig {
	return ReconnectConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

// newReadyStore returns a connected store over connector.
func newReadyStore(t *testing.T, cfg Config, connector Connector) *Store {
	t.Helper()
	cfg.Connector = connector
	if cfg.Reconnect == (ReconnectConfig{}) {
		cfg.Reconnect = fastReconnect()
	}
	s, err := New(cfg, &testutil.MockLogger{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	return s
}

func waitState(t *testing.T, s *Store, want cache.State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("State() = %s, want %s", s.State(), want)
}
