package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one entry of the room chat feed.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	Message    string    `json:"message"`
	SenderName string    `json:"senderName"`
	SenderType Role      `json:"senderType"`
	Timestamp  time.Time `json:"timestamp"`
}
