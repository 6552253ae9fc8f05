// Package chat keeps the bounded chronological chat feed.
package chat

import (
	"github.com/mcdev12/livepoll/go/internal/models"
)

// DefaultLimit is the number of messages retained.
const DefaultLimit = 100

// Log is an append-only list of chat messages, oldest first.
type Log struct {
	messages []models.ChatMessage
	limit    int
}

// NewLog returns an empty log holding at most limit messages.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Append adds msg at the end and drops from the front on overflow.
func (l *Log) Append(msg models.ChatMessage) {
	l.messages = append(l.messages, msg)
	if over := len(l.messages) - l.limit; over > 0 {
		l.messages = append(l.messages[:0:0], l.messages[over:]...)
	}
}

// List returns a copy of the messages, oldest first.
func (l *Log) List() []models.ChatMessage {
	out := make([]models.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}
