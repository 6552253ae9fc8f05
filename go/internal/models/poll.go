package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Poll is one question with its options and countdown.
type Poll struct {
	ID                   uuid.UUID  `json:"id"`
	Question             string     `json:"question"`
	Options              []string   `json:"options"`
	TimeLimitSeconds     int        `json:"timeLimit"`
	TimeRemainingSeconds int        `json:"timeRemaining"`
	IsActive             bool       `json:"isActive"`
	CreatedAt            time.Time  `json:"createdAt"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
}

// Tally holds the vote count per option index.
type Tally []int

// NewTally returns an all-zero tally for n options.
func NewTally(n int) Tally {
	return make(Tally, n)
}

// Total is the sum of every bucket.
func (t Tally) Total() int {
	total := 0
	for _, c := range t {
		total += c
	}
	return total
}

// Clone returns an independent copy.
func (t Tally) Clone() Tally {
	if t == nil {
		return nil
	}
	out := make(Tally, len(t))
	copy(out, t)
	return out
}

// MarshalJSON encodes the tally as an object keyed by option index,
// e.g. {"0":1,"1":3}.
func (t Tally) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(t))
	for i, c := range t {
		m[strconv.Itoa(i)] = c
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the object form written by MarshalJSON. Keys must
// be the dense indices 0..n-1 in canonical form.
func (t *Tally) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Tally, len(m))
	for k, c := range m {
		i, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("tally index %q: %w", k, err)
		}
		if i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return fmt.Errorf("tally index %q out of range for %d options", k, len(m))
		}
		out[i] = c
	}
	*t = out
	return nil
}

// HistoryRecord is an immutable snapshot of a concluded poll.
type HistoryRecord struct {
	ID            uuid.UUID `json:"id"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	TimeLimit     int       `json:"timeLimit"`
	Results       Tally     `json:"results"`
	TotalAnswers  int       `json:"totalAnswers"`
	StudentsCount int       `json:"studentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
	EndedAt       time.Time `json:"endedAt"`
}

// PollStatus is the read-only view of the room served to teachers and
// the HTTP query surface.
type PollStatus struct {
	Poll          *Poll         `json:"poll"`
	Results       Tally         `json:"results"`
	TotalAnswers  int           `json:"totalAnswers"`
	StudentsCount int           `json:"studentsCount"`
	TimeRemaining int           `json:"timeRemaining"`
	Students      []Participant `json:"students,omitempty"`
}
