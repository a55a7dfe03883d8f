package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

func TestJoinAfterEveryConnect(t *testing.T) {
	userID := uuid.New()
	dialer := newFakeDialer(0)
	m := NewConnectionManager(userID, dialer, fastOptions(), logger.NewNop())
	m.Connect(context.Background())
	defer m.Disconnect()

	for i := 0; i < 3; i++ {
		tr := dialer.nextTransport(t)
		env := tr.next(t)
		if env.Type != domain.EventJoin {
			t.Fatalf("connect %d: expected join, got %s", i, env.Type)
		}
		var join domain.JoinPayload
		if err := env.Decode(&join); err != nil || join.UserID != userID {
			t.Fatalf("connect %d: unexpected join payload %+v (%v)", i, join, err)
		}
		// simulate the channel dropping
		_ = tr.Close()
	}
}

func TestReconnectsAfterFailedDials(t *testing.T) {
	dialer := newFakeDialer(3)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())

	states := make(chan string, 32)
	m.OnStateChange(func(state string, err error) { states <- state })
	m.Connect(context.Background())
	defer m.Disconnect()

	dialer.nextTransport(t)
	reconnecting := 0
	for {
		state := waitFor(t, states)
		if state == StateReconnecting {
			reconnecting++
		}
		if state == StateConnected {
			break
		}
	}
	if reconnecting != 3 {
		t.Fatalf("expected 3 reconnecting transitions, got %d", reconnecting)
	}
}

func TestFramesQueuedUntilHandlerRegisters(t *testing.T) {
	dialer := newFakeDialer(0)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	probe := make(chan struct{}, 1)
	m.On("probe", func(domain.Envelope) { probe <- struct{}{} })
	m.Connect(context.Background())
	defer m.Disconnect()

	tr := dialer.nextTransport(t)
	tr.next(t)
	for i := 0; i < 6; i++ {
		tr.push(t, domain.EventNotificationsCleared, domain.NotificationsClearedPayload{Cleared: i})
	}
	tr.push(t, "probe", struct{}{})
	waitFor(t, probe)

	got := make(chan int, 16)
	m.On(domain.EventNotificationsCleared, func(env domain.Envelope) {
		var p domain.NotificationsClearedPayload
		_ = env.Decode(&p)
		got <- p.Cleared
	})

	// QueueLimit is 4, so the two oldest frames were dropped
	for want := 2; want < 6; want++ {
		if v := waitFor(t, got); v != want {
			t.Fatalf("expected queued frame %d, got %d", want, v)
		}
	}

	tr.push(t, domain.EventNotificationsCleared, domain.NotificationsClearedPayload{Cleared: 99})
	if v := waitFor(t, got); v != 99 {
		t.Fatalf("expected live frame after flush, got %d", v)
	}
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	dialer := newFakeDialer(0)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	delivered := make(chan struct{}, 2)
	m.On(domain.EventTyping, func(domain.Envelope) { panic("handler bug") })
	m.On(domain.EventTyping, func(domain.Envelope) { delivered <- struct{}{} })
	m.Connect(context.Background())
	defer m.Disconnect()

	tr := dialer.nextTransport(t)
	tr.push(t, domain.EventTyping, domain.TypingPayload{IsTyping: true})
	tr.push(t, domain.EventTyping, domain.TypingPayload{IsTyping: true})
	waitFor(t, delivered)
	waitFor(t, delivered)
}

func TestEndpointIDFromConnectedFrame(t *testing.T) {
	dialer := newFakeDialer(0)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	connected := make(chan struct{}, 1)
	m.On(domain.EventConnected, func(domain.Envelope) { connected <- struct{}{} })
	m.Connect(context.Background())
	defer m.Disconnect()

	tr := dialer.nextTransport(t)
	tr.push(t, domain.EventConnected, domain.ConnectedPayload{EndpointID: "endpoint-1"})
	waitFor(t, connected)
	if got := m.EndpointID(); got != "endpoint-1" {
		t.Fatalf("expected endpoint-1, got %q", got)
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	m := NewConnectionManager(uuid.New(), newFakeDialer(0), fastOptions(), logger.NewNop())
	defer m.Disconnect()
	err := m.Emit(domain.EventTyping, domain.TypingPayload{IsTyping: true})
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	dialer := newFakeDialer(0)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	m.Connect(context.Background())
	dialer.nextTransport(t)

	m.Disconnect()
	if m.State() != StateClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}
	select {
	case <-dialer.made:
		t.Fatalf("no dial expected after Disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackoffDelay(t *testing.T) {
	min, max := 500*time.Millisecond, 30*time.Second
	tests := []struct {
		name    string
		attempt int
		r       float64
		want    time.Duration
	}{
		{"first attempt no jitter", 0, 0.5, 500 * time.Millisecond},
		{"doubles", 1, 0.5, time.Second},
		{"doubles again", 3, 0.5, 4 * time.Second},
		{"capped", 12, 0.5, 30 * time.Second},
		{"low jitter", 0, 0, 400 * time.Millisecond},
		{"high jitter", 1, 1, 1200 * time.Millisecond},
		{"jitter never exceeds cap", 20, 1, 30 * time.Second},
		{"jitter below cap", 20, 0, 24 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(tt.attempt, min, max, 0.2, tt.r); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCancelledContextClosesChannel(t *testing.T) {
	dialer := newFakeDialer(0)
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	defer m.Disconnect()

	frames := make(chan domain.Envelope, 4)
	m.On(domain.EventTyping, func(env domain.Envelope) { frames <- env })

	ctx, cancel := context.WithCancel(context.Background())
	m.Connect(ctx)
	tr := dialer.nextTransport(t)
	tr.next(t) // join

	cancel()
	select {
	case <-tr.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("transport still open after the context was cancelled")
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("expected closed, got %s", m.State())
		}
		time.Sleep(time.Millisecond)
	}

	tr.push(t, domain.EventTyping, domain.TypingPayload{IsTyping: true})
	select {
	case env := <-frames:
		t.Fatalf("frame dispatched after cancel: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-dialer.made:
		t.Fatalf("no dial expected after cancel")
	default:
	}
}

// lateDialer completes the dial only after its context was cancelled.
type lateDialer struct {
	entered chan struct{}
	made    chan *fakeTransport
}

func (d *lateDialer) Dial(ctx context.Context) (Transport, error) {
	close(d.entered)
	<-ctx.Done()
	t := newFakeTransport()
	d.made <- t
	return t, nil
}

func TestDisconnectDuringDialReturns(t *testing.T) {
	dialer := &lateDialer{entered: make(chan struct{}), made: make(chan *fakeTransport, 1)}
	m := NewConnectionManager(uuid.New(), dialer, fastOptions(), logger.NewNop())
	m.Connect(context.Background())
	waitFor(t, dialer.entered)

	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Disconnect blocked on a dial that completed after cancel")
	}

	tr := waitFor(t, dialer.made)
	select {
	case <-tr.closed:
	default:
		t.Fatalf("late transport must be closed")
	}
	if m.State() != StateClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}
}
