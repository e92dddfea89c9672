package mongostore

import "context"

// Collection is the document surface a Store needs from its backend.
// Entries are documents of the form {_id: id, value: text}.
type Collection interface {
	// FindValue returns the stored text for id. found is false when no document exists.
	FindValue(ctx context.Context, id string) (value string, found bool, err error)
	// UpsertValue inserts or replaces the document for id.
	UpsertValue(ctx context.Context, id, value string) error
	// Delete removes the document for id and returns how many were removed.
	Delete(ctx context.Context, id string) (int64, error)
	// DeleteAll removes every document.
	DeleteAll(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Monitor receives connectivity events from a Connector after Connect succeeded.
type Monitor interface {
	ConnectionLost(err error)
	ConnectionRestored()
}

// Connector opens the backing collection.
type Connector interface {
	Connect(ctx context.Context, monitor Monitor) (Collection, error)
	Close(ctx context.Context) error
}
