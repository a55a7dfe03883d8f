package realtime

import (
	"sync"

	"github.com/google/uuid"
	"thesis_messaging/internal/metrics"
)

// Registry maps a user to every endpoint currently joined for that user.
// Endpoints are additive: a second tab does not replace the first.
type Registry struct {
	mu        sync.RWMutex
	owners    map[string]uuid.UUID              // endpointID -> userID
	endpoints map[uuid.UUID]map[string]Endpoint // userID -> endpointID -> endpoint
}

func NewRegistry() *Registry {
	return &Registry{
		owners:    make(map[string]uuid.UUID),
		endpoints: make(map[uuid.UUID]map[string]Endpoint),
	}
}

// Join admits an endpoint for userID. Re-joining with the same endpoint is a
// no-op; joining it under another user moves it.
func (r *Registry) Join(userID uuid.UUID, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[ep.ID()]; ok {
		if owner == userID {
			return
		}
		r.leaveLocked(ep.ID())
	}

	set := r.endpoints[userID]
	if set == nil {
		set = make(map[string]Endpoint)
		r.endpoints[userID] = set
	}
	set[ep.ID()] = ep
	r.owners[ep.ID()] = userID
	metrics.ActiveEndpoints.Inc()
}

// Leave removes only the given endpoint. It reports whether it was joined.
func (r *Registry) Leave(ep Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(ep.ID())
}

func (r *Registry) leaveLocked(endpointID string) bool {
	userID, ok := r.owners[endpointID]
	if !ok {
		return false
	}
	delete(r.owners, endpointID)
	if set := r.endpoints[userID]; set != nil {
		delete(set, endpointID)
		if len(set) == 0 {
			delete(r.endpoints, userID)
		}
	}
	metrics.ActiveEndpoints.Dec()
	return true
}

// EndpointsFor returns a snapshot of the user's endpoints.
func (r *Registry) EndpointsFor(userID uuid.UUID) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.endpoints[userID]
	out := make([]Endpoint, 0, len(set))
	for _, ep := range set {
		out = append(out, ep)
	}
	return out
}

// IsJoined reports whether the endpoint is registered for userID.
func (r *Registry) IsJoined(userID uuid.UUID, endpointID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[endpointID]
	return ok && owner == userID
}

// DeliverToUser writes payload to every endpoint of userID except
// exceptEndpointID and returns how many accepted it. Sends happen outside
// the lock so a slow endpoint closing itself cannot deadlock the registry.
func (r *Registry) DeliverToUser(userID uuid.UUID, payload []byte, exceptEndpointID string) int {
	delivered := 0
	for _, ep := range r.EndpointsFor(userID) {
		if exceptEndpointID != "" && ep.ID() == exceptEndpointID {
			continue
		}
		if err := ep.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of joined endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
