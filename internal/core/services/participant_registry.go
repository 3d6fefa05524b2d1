package services

import (
	"sync"

	"greenearth/internal/core/domain"
)

// ParticipantRegistry holds the remote participants of one call session.
// It has no side effects beyond its own state.
type ParticipantRegistry struct {
	mu           sync.RWMutex
	participants map[domain.UserID]*domain.Participant
	order        []domain.UserID
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: make(map[domain.UserID]*domain.Participant),
	}
}

// Add inserts p. It returns false without changing anything when the user
// is already present; the caller decides whether to log the duplicate join.
func (r *ParticipantRegistry) Add(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.UserID]; exists {
		return false
	}
	r.participants[p.UserID] = &p
	r.order = append(r.order, p.UserID)
	return true
}

// Remove returns false when the user was not present.
func (r *ParticipantRegistry) Remove(userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[userID]; !exists {
		return false
	}
	delete(r.participants, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Update applies a partial update. Updates for absent users are stale and
// ignored so that a late state event never brings back a departed user.
func (r *ParticipantRegistry) Update(userID domain.UserID, update domain.ParticipantUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[userID]
	if !exists {
		return false
	}
	update.Apply(p)
	return true
}

func (r *ParticipantRegistry) Get(userID domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.participants[userID]
	if !exists {
		return domain.Participant{}, false
	}
	return *p, true
}

// List returns participants in join order.
func (r *ParticipantRegistry) List() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

// Streams returns the current stream of every participant that has one.
func (r *ParticipantRegistry) Streams() []*domain.MediaStream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.MediaStream
	for _, id := range r.order {
		if s := r.participants[id].Stream; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Count includes the local user.
func (r *ParticipantRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) + 1
}
