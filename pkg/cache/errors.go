package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations issued while the store has no connection.
	ErrNotConnected = errors.New("store is not connected")
	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("store is closed")
)

// ConnectionError reports a failure to establish or keep the backing connection.
type ConnectionError struct {
	State State
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache store connection (%s): %v", e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// SerializeError reports a value that cannot be encoded as JSON text.
type SerializeError struct {
	Key string
	Err error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("serialize value for %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializeError) Unwrap() error { return e.Err }

// DeserializeError reports stored text that cannot be decoded back into a value.
type DeserializeError struct {
	Key string
	Err error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserialize value for %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeserializeError) Unwrap() error { return e.Err }

// StoreError reports a failure of the backing store for a single operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// IsNotConnected reports whether err means the store had no usable connection.
func IsNotConnected(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
