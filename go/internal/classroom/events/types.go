// Package events defines the frames exchanged between participants and the
// room: inbound actions and outbound events.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType names an inbound participant action.
type ActionType string

const (
	ActionStudentJoin   ActionType = "student-join"
	ActionTeacherJoin   ActionType = "teacher-join"
	ActionCreatePoll    ActionType = "create-poll"
	ActionSubmitAnswer  ActionType = "submit-answer"
	ActionSendMessage   ActionType = "send-message"
	ActionRemoveStudent ActionType = "remove-student"
)

// EventType names an outbound event.
type EventType string

const (
	EventStudentJoined    EventType = "student-joined"
	EventTeacherJoined    EventType = "teacher-joined"
	EventPollStatus       EventType = "poll-status"
	EventPollStarted      EventType = "poll-started"
	EventPollCreated      EventType = "poll-created"
	EventTallyUpdated     EventType = "tally-updated"
	EventTimerTick        EventType = "timer-tick"
	EventPollEnded        EventType = "poll-ended"
	EventAnswerSubmitted  EventType = "answer-submitted"
	EventChatHistory      EventType = "chat-history"
	EventChatMessage      EventType = "chat-message"
	EventRosterUpdated    EventType = "roster-updated"
	EventPollHistory      EventType = "poll-history"
	EventRemovedByTeacher EventType = "removed-by-teacher"
	EventActionRejected   EventType = "action-rejected"
)

// Action is an inbound frame: {"type": "...", "data": {...}}.
type Action struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound event before it is stamped for the wire.
type Event struct {
	Type EventType
	Data interface{}
}

// Envelope is the outbound wire frame.
type Envelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Seal stamps evt with a fresh id and timestamp and encodes its payload.
func Seal(evt Event, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      evt.Type,
		Timestamp: now,
		Data:      data,
	}, nil
}
