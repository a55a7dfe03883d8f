package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

const (
	StateIdle         = "idle"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateClosed       = "closed"
)

var ErrNotConnected = fmt.Errorf("channel not connected: %w", apperrors.ErrTransport)

type ConnectionOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Jitter is the relative spread applied to each delay, 0.2 means ±20%.
	Jitter float64
	// QueueLimit bounds frames held per type until a handler registers.
	QueueLimit int
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Jitter:     0.2,
		QueueLimit: 100,
	}
}

// ConnectionManager keeps one channel to the server alive for a user. Every
// handler and state callback runs on a single dispatcher goroutine in the
// order frames arrived.
type ConnectionManager struct {
	userID uuid.UUID
	dialer Dialer
	opts   ConnectionOptions
	log    logger.Logger

	mu            sync.Mutex
	transport     Transport
	endpointID    string
	state         string
	handlers      map[string][]func(domain.Envelope)
	pending       map[string][]domain.Envelope
	stateHandlers []func(string, error)
	rnd           *rand.Rand
	cancel        context.CancelFunc
	runDone       chan struct{}

	work     chan func()
	quit     chan struct{}
	quitOnce sync.Once
}

func NewConnectionManager(userID uuid.UUID, dialer Dialer, opts ConnectionOptions, log logger.Logger) *ConnectionManager {
	defaults := DefaultConnectionOptions()
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaults.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = defaults.QueueLimit
	}

	m := &ConnectionManager{
		userID:   userID,
		dialer:   dialer,
		opts:     opts,
		log:      log,
		state:    StateIdle,
		handlers: make(map[string][]func(domain.Envelope)),
		pending:  make(map[string][]domain.Envelope),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		work:     make(chan func(), 256),
		quit:     make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// Connect starts the connect loop in the background. It keeps retrying until
// ctx is cancelled or Disconnect is called; either one closes the live
// channel and leaves the manager in the closed state.
func (m *ConnectionManager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.runDone = make(chan struct{})
	done := m.runDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx)
		cancel()

		m.mu.Lock()
		if m.runDone == done {
			m.cancel = nil
			m.runDone = nil
		}
		m.mu.Unlock()
		m.setState(StateClosed, nil)
	}()
}

// On registers handler for eventType. Frames of that type that arrived
// before any handler existed are delivered to it first.
func (m *ConnectionManager) On(eventType string, handler func(domain.Envelope)) {
	m.post(func() {
		m.mu.Lock()
		m.handlers[eventType] = append(m.handlers[eventType], handler)
		queued := m.pending[eventType]
		delete(m.pending, eventType)
		m.mu.Unlock()

		for _, env := range queued {
			m.call(handler, env)
		}
	})
}

func (m *ConnectionManager) OnStateChange(handler func(state string, err error)) {
	m.post(func() {
		m.mu.Lock()
		m.stateHandlers = append(m.stateHandlers, handler)
		m.mu.Unlock()
	})
}

// Emit sends one frame. It fails fast while disconnected; callers decide
// whether to retry.
func (m *ConnectionManager) Emit(eventType string, payload any) error {
	frame, err := domain.Encode(eventType, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	if err := t.WriteMessage(frame); err != nil {
		return fmt.Errorf("emit %s: %w: %v", eventType, apperrors.ErrTransport, err)
	}
	return nil
}

// EndpointID is the id the server assigned to the current channel, empty
// while disconnected.
func (m *ConnectionManager) EndpointID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpointID
}

func (m *ConnectionManager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disconnect stops reconnecting, closes the channel and stops dispatching
// after queued events are delivered. It must not be called from a handler.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	cancel, done, t := m.cancel, m.runDone, m.transport
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		_ = t.Close()
	}
	if done != nil {
		<-done
	}
	m.setState(StateClosed, nil)

	// дожидаемся доставки уже поставленных событий
	flushed := make(chan struct{})
	if m.post(func() { close(flushed) }) {
		<-flushed
	}
	m.quitOnce.Do(func() { close(m.quit) })
}

func (m *ConnectionManager) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting, nil)
		t, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := m.backoff(attempt)
			attempt++
			m.log.Warn("Channel connect failed", "error", err, "attempt", attempt, "retry_in", delay)
			m.setState(StateReconnecting, err)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			// дозвон завершился уже после отмены
			_ = t.Close()
			return
		}
		attempt = 0

		m.mu.Lock()
		m.transport = t
		m.mu.Unlock()
		m.setState(StateConnected, nil)

		if err := m.Emit(domain.EventJoin, domain.JoinPayload{UserID: m.userID}); err != nil {
			m.log.Warn("Failed to send join", "error", err)
		}

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = t.Close()
			case <-stop:
			}
		}()
		err = m.readLoop(ctx, t)
		close(stop)

		m.mu.Lock()
		m.transport = nil
		m.endpointID = ""
		m.mu.Unlock()
		_ = t.Close()

		if ctx.Err() != nil {
			return
		}
		delay := m.backoff(attempt)
		attempt++
		m.log.Warn("Channel lost", "error", err, "retry_in", delay)
		m.setState(StateReconnecting, err)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (m *ConnectionManager) readLoop(ctx context.Context, t Transport) error {
	for {
		frame, err := t.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var env domain.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			m.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if env.Type == domain.EventConnected {
			var p domain.ConnectedPayload
			if err := env.Decode(&p); err == nil {
				m.mu.Lock()
				m.endpointID = p.EndpointID
				m.mu.Unlock()
			}
		}
		m.post(func() { m.dispatch(env) })
	}
}

func (m *ConnectionManager) dispatch(env domain.Envelope) {
	m.mu.Lock()
	handlers := m.handlers[env.Type]
	if len(handlers) == 0 {
		queue := append(m.pending[env.Type], env)
		if len(queue) > m.opts.QueueLimit {
			queue = queue[len(queue)-m.opts.QueueLimit:]
		}
		m.pending[env.Type] = queue
		m.mu.Unlock()
		return
	}
	handlers = slices.Clone(handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		m.call(h, env)
	}
}

func (m *ConnectionManager) call(h func(domain.Envelope), env domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Channel handler panicked", "type", env.Type, "panic", fmt.Sprint(r))
		}
	}()
	h(env)
}

func (m *ConnectionManager) setState(state string, err error) {
	m.mu.Lock()
	if m.state == state && err == nil {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.post(func() {
		m.mu.Lock()
		handlers := slices.Clone(m.stateHandlers)
		m.mu.Unlock()
		for _, h := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("State handler panicked", "panic", fmt.Sprint(r))
					}
				}()
				h(state, err)
			}()
		}
	})
}

// post queues fn for the dispatcher. It reports false once dispatching stopped.
func (m *ConnectionManager) post(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.work <- fn:
		return true
	case <-m.quit:
		return false
	}
}

func (m *ConnectionManager) dispatchLoop() {
	for {
		select {
		case fn := <-m.work:
			fn()
		case <-m.quit:
			return
		}
	}
}

func (m *ConnectionManager) backoff(attempt int) time.Duration {
	m.mu.Lock()
	r := m.rnd.Float64()
	m.mu.Unlock()
	return backoffDelay(attempt, m.opts.MinBackoff, m.opts.MaxBackoff, m.opts.Jitter, r)
}

// backoffDelay doubles min per attempt up to max, then spreads the result by
// ±jitter using r in [0,1). The result never exceeds max.
func backoffDelay(attempt int, min, max time.Duration, jitter, r float64) time.Duration {
	d := min
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if jitter > 0 {
		d = time.Duration(float64(d) * (1 + jitter*(2*r-1)))
	}
	if d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
