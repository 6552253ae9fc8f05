// Package poll holds the state machine for the current poll and its tally.
package poll

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livepoll/go/internal/classroom"
	"github.com/mcdev12/livepoll/go/internal/models"
)

// State is the lifecycle position of the session.
type State string

const (
	StateNoPoll State = "NO_POLL"
	StateActive State = "ACTIVE"
	StateEnded  State = "ENDED"
)

// CompletionChecker answers whether everyone still connected has answered.
type CompletionChecker interface {
	AllAnswered() bool
}

// Session is the current poll plus its tally. A new poll replaces the
// previous instance; Ended is terminal for that instance.
type Session struct {
	current *models.Poll
	tally   models.Tally
	newID   func() uuid.UUID
}

// NewSession returns a session in StateNoPoll.
func NewSession() *Session {
	return &Session{newID: uuid.New}
}

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	switch {
	case s.current == nil:
		return StateNoPoll
	case s.current.IsActive:
		return StateActive
	default:
		return StateEnded
	}
}

// IsActive is shorthand for State() == StateActive.
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// Current returns a copy of the current poll, or nil when none was ever created.
func (s *Session) Current() *models.Poll {
	if s.current == nil {
		return nil
	}
	p := *s.current
	p.Options = append([]string(nil), s.current.Options...)
	if s.current.EndedAt != nil {
		t := *s.current.EndedAt
		p.EndedAt = &t
	}
	if p.TimeRemainingSeconds < 0 {
		p.TimeRemainingSeconds = 0
	}
	return &p
}

// Tally returns a copy of the current tally.
func (s *Session) Tally() models.Tally {
	return s.tally.Clone()
}

// TimeRemaining is the countdown clamped at zero; zero when no poll is active.
func (s *Session) TimeRemaining() int {
	if s.current == nil || s.current.TimeRemainingSeconds < 0 {
		return 0
	}
	return s.current.TimeRemainingSeconds
}

// Admit applies the admission guard: a new poll may start when there is no
// active poll, or when the active one has run out of time or every
// connected student has answered.
func (s *Session) Admit(c CompletionChecker) error {
	if !s.IsActive() {
		return nil
	}
	if s.current.TimeRemainingSeconds <= 0 || c.AllAnswered() {
		return nil
	}
	return fmt.Errorf("%w: %d seconds remaining", classroom.ErrPollInProgress, s.current.TimeRemainingSeconds)
}

// Create installs a fresh active poll with an all-zero tally. Inputs must
// already be normalized; the caller is responsible for archiving the
// previous poll and resetting answered flags.
func (s *Session) Create(question string, options []string, timeLimit int, now time.Time) models.Poll {
	s.current = &models.Poll{
		ID:                   s.newID(),
		Question:             question,
		Options:              append([]string(nil), options...),
		TimeLimitSeconds:     timeLimit,
		TimeRemainingSeconds: timeLimit,
		IsActive:             true,
		CreatedAt:            now,
	}
	s.tally = models.NewTally(len(options))
	return *s.Current()
}

// Record adds one vote for optionIndex. It does not know about participants;
// the caller enforces first-answer-wins.
func (s *Session) Record(optionIndex int) error {
	if !s.IsActive() {
		return classroom.ErrNoActivePoll
	}
	if optionIndex < 0 || optionIndex >= len(s.tally) {
		return fmt.Errorf("%w: option index %d out of range", classroom.ErrValidation, optionIndex)
	}
	s.tally[optionIndex]++
	return nil
}

// Tick decrements the countdown of the poll identified by pollID. It returns
// the new remaining time and whether the tick applied; ticks for any other
// poll, or after the poll ended, are ignored.
func (s *Session) Tick(pollID uuid.UUID) (remaining int, applied bool) {
	if !s.IsActive() || s.current.ID != pollID {
		return 0, false
	}
	s.current.TimeRemainingSeconds--
	if s.current.TimeRemainingSeconds < 0 {
		s.current.TimeRemainingSeconds = 0
	}
	return s.current.TimeRemainingSeconds, true
}

// End deactivates the current poll. It reports false when there is nothing
// to end.
func (s *Session) End(now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	s.current.IsActive = false
	s.current.TimeRemainingSeconds = 0
	s.current.EndedAt = &now
	return true
}

// Snapshot builds the archive record for the current poll.
func (s *Session) Snapshot(studentsCount int, endedAt time.Time) (models.HistoryRecord, bool) {
	if s.current == nil {
		return models.HistoryRecord{}, false
	}
	if s.current.EndedAt != nil {
		endedAt = *s.current.EndedAt
	}
	return models.HistoryRecord{
		ID:            s.current.ID,
		Question:      s.current.Question,
		Options:       append([]string(nil), s.current.Options...),
		TimeLimit:     s.current.TimeLimitSeconds,
		Results:       s.tally.Clone(),
		TotalAnswers:  s.tally.Total(),
		StudentsCount: studentsCount,
		CreatedAt:     s.current.CreatedAt,
		EndedAt:       endedAt,
	}, true
}
