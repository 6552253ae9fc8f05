package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies what a connection is allowed to do in the room.
type Role string

const (
	RoleNone    Role = ""
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Participant is a student on the roster. Teachers are not rostered.
type Participant struct {
	ID           uuid.UUID `json:"id"`
	ConnectionID string    `json:"-"`
	Name         string    `json:"name"`
	HasAnswered  bool      `json:"hasAnswered"`
	JoinedAt     time.Time `json:"joinedAt"`
}
