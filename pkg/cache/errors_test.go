package cache

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrors_UnwrapAndAs(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name   string
		err    error
		target func(error) bool
		text   string
	}{
		{
			name: "connection",
			err:  &ConnectionError{State: StateDisconnected, Err: ErrNotConnected},
			target: func(err error) bool {
				var e *ConnectionError
				return errors.As(err, &e)
			},
			text: "disconnected",
		},
		{
			name: "serialize",
			err:  &SerializeError{Key: "autocache:a", Err: base},
			target: func(err error) bool {
				var e *SerializeError
				return errors.As(err, &e)
			},
			text: `"autocache:a"`,
		},
		{
			name: "deserialize",
			err:  &DeserializeError{Key: "autocache:b", Err: base},
			target: func(err error) bool {
				var e *DeserializeError
				return errors.As(err, &e)
			},
			text: "deserialize",
		},
		{
			name: "store",
			err:  &StoreError{Op: "get", Key: "autocache:c", Err: base},
			target: func(err error) bool {
				var e *StoreError
				return errors.As(err, &e)
			},
			text: "cache store get",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.target(wrapped) {
				t.Fatalf("errors.As failed for %T", tt.err)
			}
			if !strings.Contains(tt.err.Error(), tt.text) {
				t.Fatalf("expected %q in %q", tt.text, tt.err.Error())
			}
		})
	}
}

func TestStoreError_WithoutKey(t *testing.T) {
	err := &StoreError{Op: "clear", Err: errors.New("boom")}
	if got := err.Error(); got != "cache store clear: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsNotConnected(t *testing.T) {
	if !IsNotConnected(&ConnectionError{Err: ErrClosed}) {
		t.Fatal("expected connection error to match")
	}
	if IsNotConnected(&StoreError{Op: "get", Err: ErrNotConnected}) {
		t.Fatal("store error must not match")
	}
	if !errors.Is(&ConnectionError{Err: ErrClosed}, ErrClosed) {
		t.Fatal("expected ErrClosed to unwrap")
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		State(42):         "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestObserverFuncs_NilSafe(t *testing.T) {
	var o ObserverFuncs
	o.OnConnect()
	o.OnDisconnect(errors.New("x"))

	connected := false
	var gotErr error
	o = ObserverFuncs{
		Connect:    func() { connected = true },
		Disconnect: func(err error) { gotErr = err },
	}
	o.OnConnect()
	o.OnDisconnect(ErrClosed)
	if !connected || !errors.Is(gotErr, ErrClosed) {
		t.Fatalf("callbacks not invoked: connected=%v err=%v", connected, gotErr)
	}
}
