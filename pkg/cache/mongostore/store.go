// Package mongostore persists cache entries in a MongoDB collection.
//
// Each entry is a document {_id: prefix+key, value: <JSON text>}. A Store
// connects in the background, reports connectivity to its owner through
// cache.Observer and fails fast with *cache.ConnectionError while it has no
// usable connection.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nimburion/autocache-mongo/pkg/cache"
	"github.com/nimburion/autocache-mongo/pkg/observability/logger"
	"github.com/nimburion/autocache-mongo/pkg/store"
)

var errConnectionLost = errors.New("mongodb connection lost")

// Store is a cache.Store backed by a document collection.
type Store struct {
	cfg       Config
	log       logger.Logger
	connector Connector

	mu          sync.RWMutex
	state       cache.State
	coll        Collection
	lastErr     error
	owner       cache.Observer
	observers   map[uint64]cache.Observer
	nextID      uint64
	changed     chan struct{}
	dialing     bool
	established bool
	recovering  bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ cache.Store   = (*Store)(nil)
	_ store.Adapter = (*Store)(nil)
)

// Cosa fa: crea uno store e avvia la connessione in background.
// Cosa NON fa: non attende la connessione (vedi WaitReady).
// Esempio minimo: s, err := mongostore.New(mongostore.Config{URL: url}, log)
//
// With Config.Client set the store is connected when New returns.
func New(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		return nil, errors.New("mongostore logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = normalizeConfig(cfg)

	connector := cfg.Connector
	immediate := false
	if connector == nil {
		if cfg.Client != nil {
			connector = &clientConnector{cfg: cfg, client: cfg.Client, log: log}
			immediate = true
		} else {
			connector = newDialConnector(cfg, log)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:       cfg,
		log:       log.With("store", "mongostore", "collection", cfg.Collection),
		connector: connector,
		state:     cache.StateDisconnected,
		observers: make(map[uint64]cache.Observer),
		changed:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.log.Debug("new store", "prefix", cfg.Prefix)
	s.setConnectionState(cache.StateDisconnected)

	if immediate {
		if err := s.connectOnce(); err != nil {
			cancel()
			return nil, err
		}
		return s, nil
	}

	s.dialing = true
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// AttachNewAdapterTo builds a store, hands it to owner and attaches owner to
// its connectivity notifications.
func AttachNewAdapterTo(owner cache.Owner, cfg Config, log logger.Logger) (*Store, error) {
	if owner == nil {
		return nil, errors.New("mongostore owner is required")
	}
	s, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	owner.Configure(s)
	s.Attach(owner)
	return s, nil
}

func (s *Store) String() string {
	return "MongoStore()"
}

// Prefix returns the key prefix.
func (s *Store) Prefix() string {
	return s.cfg.Prefix
}

// State returns the current connection state.
func (s *Store) State() cache.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the error behind the latest failed dial or connection loss.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Attach binds the owning cache. If the store is already connected the owner
// is notified immediately.
func (s *Store) Attach(owner cache.Observer) {
	s.mu.Lock()
	s.owner = owner
	connected := s.state == cache.StateConnected
	s.mu.Unlock()

	if connected && owner != nil {
		s.log.Debug("emitted connect to late attached cache")
		owner.OnConnect()
	}
}

// Subscribe registers an additional observer and returns a function removing it.
// Unlike Attach it does not replay the current state.
func (s *Store) Subscribe(obs cache.Observer) func() {
	if obs == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = obs
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// WaitReady blocks until the store is connected, can no longer connect, or ctx ends.
func (s *Store) WaitReady(ctx context.Context) error {
	for {
		s.mu.RLock()
		state := s.state
		closed := s.closed
		final := !s.dialing && !s.recovering && (s.cfg.Reconnect.Disabled || !s.established)
		lastErr := s.lastErr
		changed := s.changed
		s.mu.RUnlock()

		switch {
		case closed:
			return &cache.ConnectionError{State: state, Err: cache.ErrClosed}
		case state == cache.StateConnected:
			return nil
		case state == cache.StateDisconnected && final:
			return &cache.ConnectionError{State: state, Err: notConnected(lastErr)}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return &cache.ConnectionError{State: state, Err: ctx.Err()}
		}
	}
}

// Get returns the decoded value stored under key.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	var value any
	found, err := s.Load(ctx, key, &value)
	if err != nil || !found {
		return nil, found, err
	}
	return value, true, nil
}

// Load decodes the value stored under key into dst.
func (s *Store) Load(ctx context.Context, key string, dst any) (bool, error) {
	start := time.Now()
	id := s.key(key)
	coll, err := s.collection()
	if err != nil {
		observeOperation("get", resultNotConnected, start)
		return false, err
	}

	s.log.Debug("-> get", "key", id)
	raw, found, err := coll.FindValue(ctx, id)
	if err != nil {
		observeOperation("get", resultError, start)
		return false, &cache.StoreError{Op: "get", Key: id, Err: err}
	}
	if !found || raw == "" {
		observeOperation("get", resultMiss, start)
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		observeOperation("get", resultError, start)
		return false, &cache.DeserializeError{Key: id, Err: err}
	}
	observeOperation("get", resultHit, start)
	return true, nil
}

// Set stores value as JSON text under key, replacing any previous entry.
// Values that cannot be encoded are rejected before any write.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	start := time.Now()
	id := s.key(key)
	encoded, err := json.Marshal(value)
	if err != nil {
		observeOperation("set", resultError, start)
		return &cache.SerializeError{Key: id, Err: err}
	}

	coll, err := s.collection()
	if err != nil {
		observeOperation("set", resultNotConnected, start)
		return err
	}

	s.log.Debug("-> set", "key", id)
	if err := coll.UpsertValue(ctx, id, string(encoded)); err != nil {
		observeOperation("set", resultError, start)
		return &cache.StoreError{Op: "set", Key: id, Err: err}
	}
	observeOperation("set", resultOK, start)
	return nil
}

// Destroy removes the entry under key and reports whether one existed.
func (s *Store) Destroy(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	id := s.key(key)
	coll, err := s.collection()
	if err != nil {
		observeOperation("destroy", resultNotConnected, start)
		return false, err
	}

	n, err := coll.Delete(ctx, id)
	if err != nil {
		observeOperation("destroy", resultError, start)
		return false, &cache.StoreError{Op: "destroy", Key: id, Err: err}
	}
	s.log.Debug("<- destroy", "key", id, "removed", n)
	if n == 0 {
		observeOperation("destroy", resultMiss, start)
		return false, nil
	}
	observeOperation("destroy", resultHit, start)
	return true, nil
}

// Clear removes every document in the collection, whatever its prefix.
func (s *Store) Clear(ctx context.Context) error {
	start := time.Now()
	coll, err := s.collection()
	if err != nil {
		observeOperation("clear", resultNotConnected, start)
		return err
	}

	n, err := coll.DeleteAll(ctx)
	if err != nil {
		observeOperation("clear", resultError, start)
		return &cache.StoreError{Op: "clear", Err: err}
	}
	s.log.Debug("<- clear", "removed", n)
	observeOperation("clear", resultOK, start)
	return nil
}

// HealthCheck pings the backing collection.
func (s *Store) HealthCheck(ctx context.Context) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}
	if err := coll.Ping(ctx); err != nil {
		return fmt.Errorf("mongostore health check failed: %w", err)
	}
	return nil
}

// Close stops pending connection attempts and releases the connection.
// A client passed through Config.Client is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	wasConnected := s.state == cache.StateConnected
	observers := s.observersLocked()
	s.closed = true
	s.state = cache.StateDisconnected
	s.lastErr = cache.ErrClosed
	s.coll = nil
	s.broadcastLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.setConnectionState(cache.StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.connector.Close(ctx)

	if wasConnected {
		notify(observers, &cache.ConnectionError{State: cache.StateDisconnected, Err: cache.ErrClosed})
	}
	if err != nil {
		return fmt.Errorf("close mongostore: %w", err)
	}
	return nil
}

func (s *Store) key(key string) string {
	return s.cfg.Prefix + key
}

// collection returns the handle only while connected.
func (s *Store) collection() (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &cache.ConnectionError{State: cache.StateDisconnected, Err: cache.ErrClosed}
	}
	if s.state != cache.StateConnected || s.coll == nil {
		return nil, &cache.ConnectionError{State: s.state, Err: notConnected(s.lastErr)}
	}
	return s.coll, nil
}

func (s *Store) run() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.broadcastLocked()
		s.mu.Unlock()
	}()

	err := backoff.RetryNotify(
		s.connectOnce,
		backoff.WithContext(s.cfg.Reconnect.backOff(), s.ctx),
		func(err error, next time.Duration) {
			s.log.Warn("MongoDB connection attempt failed", "error", err, "retry_in", next)
		},
	)
	if err != nil && s.ctx.Err() == nil {
		s.log.Error("MongoDB connection failed", "error", err)
	}
}

// connectOnce performs one dial: disconnected -> connecting -> connected|disconnected.
func (s *Store) connectOnce() error {
	if !s.setState(cache.StateConnecting, nil) {
		return backoff.Permanent(cache.ErrClosed)
	}

	coll, err := s.connector.Connect(s.ctx, storeMonitor{s: s})
	if err != nil {
		s.setState(cache.StateDisconnected, err)
		if s.ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return backoff.Permanent(cache.ErrClosed)
	}
	s.coll = coll
	s.established = true
	s.state = cache.StateConnected
	s.lastErr = nil
	s.broadcastLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	s.setConnectionState(cache.StateConnected)
	s.log.Info("connected")
	for _, o := range observers {
		o.OnConnect()
	}
	return nil
}

// setState records a transition unless the store is closed.
func (s *Store) setState(state cache.State, err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.state = state
	if err != nil {
		s.lastErr = err
	}
	s.broadcastLocked()
	s.mu.Unlock()
	s.setConnectionState(state)
	return true
}

func (s *Store) connectionLost(err error) {
	if err == nil {
		err = errConnectionLost
	}
	s.mu.Lock()
	if s.closed || s.state != cache.StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = cache.StateDisconnected
	s.lastErr = err
	s.broadcastLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	s.setConnectionState(cache.StateDisconnected)
	s.log.Warn("MongoDB connection lost", "error", err)
	notify(observers, &cache.ConnectionError{State: cache.StateDisconnected, Err: err})
}

func (s *Store) connectionRestored() {
	s.mu.Lock()
	if s.closed || s.cfg.Reconnect.Disabled || !s.established || s.recovering || s.state != cache.StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.recovering = true
	s.state = cache.StateConnecting
	coll := s.coll
	s.broadcastLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.setConnectionState(cache.StateConnecting)
	go s.recover(coll)
}

// recover confirms a restored connection before handing the collection out again.
func (s *Store) recover(coll Collection) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
	defer cancel()
	err := coll.Ping(ctx)

	s.mu.Lock()
	s.recovering = false
	if s.closed {
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state = cache.StateDisconnected
		s.lastErr = err
		s.broadcastLocked()
		s.mu.Unlock()
		s.setConnectionState(cache.StateDisconnected)
		s.log.Warn("MongoDB reconnect check failed", "error", err)
		return
	}
	s.state = cache.StateConnected
	s.lastErr = nil
	s.broadcastLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	s.setConnectionState(cache.StateConnected)
	s.log.Info("MongoDB connection restored")
	for _, o := range observers {
		o.OnConnect()
	}
}

// observersLocked snapshots the owner followed by subscribers in subscription order.
func (s *Store) observersLocked() []cache.Observer {
	out := make([]cache.Observer, 0, len(s.observers)+1)
	if s.owner != nil {
		out = append(out, s.owner)
	}
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

func (s *Store) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func notify(observers []cache.Observer, err error) {
	for _, o := range observers {
		o.OnDisconnect(err)
	}
}

func notConnected(cause error) error {
	if cause == nil || errors.Is(cause, cache.ErrNotConnected) {
		return cache.ErrNotConnected
	}
	return fmt.Errorf("%w: %w", cache.ErrNotConnected, cause)
}

// storeMonitor keeps the Monitor methods off the Store's exported surface.
type storeMonitor struct {
	s *Store
}

func (m storeMonitor) ConnectionLost(err error) { m.s.connectionLost(err) }

func (m storeMonitor) ConnectionRestored() { m.s.connectionRestored() }
