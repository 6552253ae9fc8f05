// Package history keeps the bounded, newest-first record of concluded polls.
package history

import (
	"github.com/google/uuid"
	"github.com/mcdev12/livepoll/go/internal/models"
)

// DefaultLimit is the number of concluded polls retained.
const DefaultLimit = 50

// Log is an append-only list of history records, most recent first.
type Log struct {
	records []models.HistoryRecord
	limit   int
}

// NewLog returns an empty log holding at most limit records.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Append inserts rec at the front, evicting the oldest record on overflow.
// A record whose poll id is already present is ignored.
func (l *Log) Append(rec models.HistoryRecord) bool {
	if l.Contains(rec.ID) {
		return false
	}
	l.records = append([]models.HistoryRecord{rec}, l.records...)
	if len(l.records) > l.limit {
		l.records = l.records[:l.limit]
	}
	return true
}

// Contains reports whether pollID has been archived.
func (l *Log) Contains(pollID uuid.UUID) bool {
	for _, r := range l.records {
		if r.ID == pollID {
			return true
		}
	}
	return false
}

// List returns a copy of the records, most recent first.
func (l *Log) List() []models.HistoryRecord {
	out := make([]models.HistoryRecord, len(l.records))
	copy(out, l.records)
	return out
}
