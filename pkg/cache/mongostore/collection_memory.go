package mongostore

import (
	"context"
	"sync"
)

// MemoryCollection is an in-process Collection for tests and local development.
type MemoryCollection struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryCollection creates an empty in-memory collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{
		items: make(map[string]string),
	}
}

// FindValue loads a document.
func (c *MemoryCollection) FindValue(_ context.Context, id string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.items[id]
	return value, ok, nil
}

// UpsertValue stores a document.
func (c *MemoryCollection) UpsertValue(_ context.Context, id, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = value
	return nil
}

// Delete removes a document.
func (c *MemoryCollection) Delete(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return 0, nil
	}
	delete(c.items, id)
	return 1, nil
}

// DeleteAll empties the collection.
func (c *MemoryCollection) DeleteAll(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.items))
	c.items = make(map[string]string)
	return n, nil
}

// Ping always succeeds.
func (c *MemoryCollection) Ping(context.Context) error {
	return nil
}

// Len returns the number of documents.
func (c *MemoryCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MemoryConnector hands out the same MemoryCollection to every store that uses it.
type MemoryConnector struct {
	collection *MemoryCollection
}

// NewMemoryConnector wraps coll. A nil coll gets a fresh collection.
func NewMemoryConnector(coll *MemoryCollection) *MemoryConnector {
	if coll == nil {
		coll = NewMemoryCollection()
	}
	return &MemoryConnector{collection: coll}
}

// Collection returns the backing collection.
func (c *MemoryConnector) Collection() *MemoryCollection {
	return c.collection
}

// Connect returns the shared collection.
func (c *MemoryConnector) Connect(context.Context, Monitor) (Collection, error) {
	return c.collection, nil
}

// Close is a no-op for the in-memory connector.
func (c *MemoryConnector) Close(context.Context) error {
	return nil
}
