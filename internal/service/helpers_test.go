package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	"thesis_messaging/pkg/logger"
)

// recordingEndpoint captures frames pushed to one simulated browser tab.
type recordingEndpoint struct {
	id     string
	mu     sync.Mutex
	frames []domain.Envelope
}

func newRecordingEndpoint() *recordingEndpoint {
	return &recordingEndpoint{id: uuid.NewString()}
}

func (e *recordingEndpoint) ID() string { return e.id }

func (e *recordingEndpoint) Send(payload []byte) error {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	e.mu.Lock()
	e.frames = append(e.frames, env)
	e.mu.Unlock()
	return nil
}

func (e *recordingEndpoint) ofType(eventType string) []domain.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Envelope
	for _, f := range e.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

type fixture struct {
	repos    *repository.Repositories
	users    *repository.MemoryUserRepository
	registry *realtime.Registry
	services *Services
}

func newFixture(t *testing.T, users ...*domain.User) *fixture {
	t.Helper()
	dir := repository.NewMemoryUserRepository(users...)
	repos := repository.NewMemoryRepositories(dir)
	registry := realtime.NewRegistry()
	cfg := &config.Config{
		Messaging: config.MessagingConfig{
			MaxMessageLength: 1000,
			PageSize:         50,
			RejectOwnName:    true,
			SendRateLimit:    100,
			SendRateWindow:   time.Minute,
		},
	}
	return &fixture{
		repos:    repos,
		users:    dir,
		registry: registry,
		services: NewServices(repos, realtime.NewLocalBroadcaster(registry), cfg, logger.NewNop()),
	}
}

func newUser(name string) *domain.User {
	return &domain.User{ID: uuid.New(), DisplayName: name, Role: domain.RoleStudent}
}

func (f *fixture) connect(userID uuid.UUID) *recordingEndpoint {
	ep := newRecordingEndpoint()
	f.registry.Join(userID, ep)
	return ep
}
