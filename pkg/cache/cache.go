// Package cache defines the contract between an owning cache library and the
// storage adapters that persist its entries.
package cache

import "context"

// Store is the persistence contract an owning cache drives.
type Store interface {
	// Get returns the decoded value for key. found is false when no entry exists.
	Get(ctx context.Context, key string) (value any, found bool, err error)
	// Set persists value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value any) error
	// Destroy removes the entry for key and reports whether one existed.
	Destroy(ctx context.Context, key string) (bool, error)
	// Clear removes every entry in the backing collection.
	Clear(ctx context.Context) error
}

// Observer receives connectivity notifications from a Store.
type Observer interface {
	OnConnect()
	OnDisconnect(err error)
}

// Owner is a cache that can be handed a store and listens to its lifecycle.
type Owner interface {
	Observer
	Configure(store Store)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Connect    func()
	Disconnect func(err error)
}

// OnConnect implements Observer.
func (f ObserverFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

// OnDisconnect implements Observer.
func (f ObserverFuncs) OnDisconnect(err error) {
	if f.Disconnect != nil {
		f.Disconnect(err)
	}
}

// State is the connection state of a Store.
type State int

const (
	// StateDisconnected means no usable connection exists.
	StateDisconnected State = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateConnected means the collection handle is usable.
	StateConnected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
