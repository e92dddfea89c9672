package health

import (
	"context"
	"time"

	"github.com/nimburion/autocache-mongo/pkg/cache"
)

const defaultCheckTimeout = 3 * time.Second

// Checkable is implemented by adapters that can ping their backend.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// StoreStatus is the view of a cache store the StoreChecker needs.
type StoreStatus interface {
	Checkable
	State() cache.State
	LastError() error
}

// AdapterChecker reports healthy when the adapter's HealthCheck succeeds within timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for adapter. A zero timeout uses a 3s default.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := CheckResult{Name: c.name, Status: StatusHealthy, Message: "OK"}
	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		res.Status = StatusUnhealthy
		res.Message = ""
		res.Error = err.Error()
	}
	res.Timestamp = time.Now()
	res.Duration = time.Since(start)
	return res
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// StoreChecker maps a cache store's connection state onto a health status.
//
// Cosa fa:
//   - connected: esegue HealthCheck sul backend, healthy se il ping riesce
//   - connecting: degraded, senza toccare il backend
//   - disconnected: unhealthy, riportando l'ultimo errore di connessione
//
// Cosa NON fa:
//   - non forza una riconnessione
type StoreChecker struct {
	name    string
	store   StoreStatus
	timeout time.Duration
}

// NewStoreChecker creates a checker for store. A zero timeout uses a 3s default.
func NewStoreChecker(name string, store StoreStatus, timeout time.Duration) *StoreChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &StoreChecker{name: name, store: store, timeout: timeout}
}

// Check reports the store state and, when connected, the backend ping result.
func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.store.State()
	res := CheckResult{
		Name:     c.name,
		Metadata: map[string]any{"state": state.String()},
	}

	switch state {
	case cache.StateConnected:
		ping := NewAdapterChecker(c.name, c.store, c.timeout).Check(ctx)
		res.Status, res.Message, res.Error = ping.Status, ping.Message, ping.Error
	case cache.StateConnecting:
		res.Status = StatusDegraded
		res.Message = "connecting"
	default:
		res.Status = StatusUnhealthy
		res.Message = "disconnected"
	}
	if state != cache.StateConnected {
		if err := c.store.LastError(); err != nil {
			res.Error = err.Error()
		}
	}

	res.Timestamp = time.Now()
	res.Duration = time.Since(start)
	return res
}

// Name returns the name of the health check
func (c *StoreChecker) Name() string {
	return c.name
}
