// Package roster tracks the students connected to the room and whether each
// has answered the current poll.
package roster

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livepoll/go/internal/classroom"
	"github.com/mcdev12/livepoll/go/internal/models"
)

// Roster maps participant ids to their join metadata. It is not safe for
// concurrent use; the coordinator goroutine owns it.
type Roster struct {
	participants map[uuid.UUID]*models.Participant
	byConnection map[string]uuid.UUID
	newID        func() uuid.UUID
	now          func() time.Time
}

// Option customises a Roster.
type Option func(*Roster)

// WithIDGenerator replaces uuid.New for participant ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(r *Roster) { r.newID = fn }
}

// WithNow replaces time.Now for join timestamps.
func WithNow(fn func() time.Time) Option {
	return func(r *Roster) { r.now = fn }
}

// New returns an empty roster.
func New(opts ...Option) *Roster {
	r := &Roster{
		participants: make(map[uuid.UUID]*models.Participant),
		byConnection: make(map[string]uuid.UUID),
		newID:        uuid.New,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join validates the display name and adds a fresh participant bound to
// connectionID.
func (r *Roster) Join(connectionID, displayName string) (models.Participant, error) {
	name, err := classroom.NormalizeName(displayName)
	if err != nil {
		return models.Participant{}, err
	}

	p := &models.Participant{
		ID:           r.newID(),
		ConnectionID: connectionID,
		Name:         name,
		JoinedAt:     r.now(),
	}
	r.participants[p.ID] = p
	if connectionID != "" {
		r.byConnection[connectionID] = p.ID
	}
	return *p, nil
}

// Remove deletes the participant and returns what was removed. Removing an
// unknown id is a no-op.
func (r *Roster) Remove(id uuid.UUID) (models.Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return models.Participant{}, false
	}
	delete(r.participants, id)
	if p.ConnectionID != "" && r.byConnection[p.ConnectionID] == id {
		delete(r.byConnection, p.ConnectionID)
	}
	return *p, true
}

// Get returns a copy of the participant.
func (r *Roster) Get(id uuid.UUID) (models.Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// ByConnection resolves the participant bound to a transport connection.
func (r *Roster) ByConnection(connectionID string) (models.Participant, bool) {
	id, ok := r.byConnection[connectionID]
	if !ok {
		return models.Participant{}, false
	}
	return r.Get(id)
}

// MarkAnswered flips the answered flag. It reports false when the
// participant is unknown or had already answered.
func (r *Roster) MarkAnswered(id uuid.UUID) bool {
	p, ok := r.participants[id]
	if !ok || p.HasAnswered {
		return false
	}
	p.HasAnswered = true
	return true
}

// ResetAllAnswered clears every answered flag. Called once per new poll.
func (r *Roster) ResetAllAnswered() {
	for _, p := range r.participants {
		p.HasAnswered = false
	}
}

// ConnectedCount is the number of participants currently connected.
func (r *Roster) ConnectedCount() int {
	n := 0
	for _, p := range r.participants {
		if p.ConnectionID != "" {
			n++
		}
	}
	return n
}

// AllAnswered reports whether every connected participant has answered.
// An empty roster counts as all answered so a poll with no students can
// still conclude.
func (r *Roster) AllAnswered() bool {
	for _, p := range r.participants {
		if p.ConnectionID != "" && !p.HasAnswered {
			return false
		}
	}
	return true
}

// List returns the participants ordered by join time.
func (r *Roster) List() []models.Participant {
	out := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
