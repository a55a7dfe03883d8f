package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"thesis_messaging/internal/domain"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case frame := <-t.in:
		return frame, nil
	case <-t.closed:
		return nil, errTransportClosed
	}
}

func (t *fakeTransport) WriteMessage(frame []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	t.out <- frame
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// push delivers a server frame to the client.
func (t *fakeTransport) push(tb testing.TB, eventType string, payload any) {
	tb.Helper()
	frame, err := domain.Encode(eventType, payload)
	if err != nil {
		tb.Fatalf("encode: %v", err)
	}
	t.in <- frame
}

// next returns the next frame the client wrote.
func (t *fakeTransport) next(tb testing.TB) domain.Envelope {
	tb.Helper()
	select {
	case frame := <-t.out:
		var env domain.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			tb.Fatalf("decode written frame: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		tb.Fatalf("timed out waiting for client frame")
		return domain.Envelope{}
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	made     chan *fakeTransport
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, made: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.made <- t
	return t, nil
}

func (d *fakeDialer) nextTransport(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-d.made:
		return t
	case <-time.After(2 * time.Second):
		tb.Fatalf("timed out waiting for dial")
		return nil
	}
}

func fastOptions() ConnectionOptions {
	return ConnectionOptions{
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		Jitter:     0.2,
		QueueLimit: 4,
	}
}

func waitFor[T any](tb testing.TB, ch chan T) T {
	tb.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		tb.Fatalf("timed out waiting for event")
		var zero T
		return zero
	}
}
