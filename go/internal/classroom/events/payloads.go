package events

import (
	"github.com/mcdev12/livepoll/go/internal/models"
)

// Inbound payloads.

// StudentJoinPayload is the data of a student-join action.
type StudentJoinPayload struct {
	Name string `json:"name"`
}

// CreatePollPayload is the data of a create-poll action. A zero TimeLimit
// means the configured default.
type CreatePollPayload struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"timeLimit"`
}

// SubmitAnswerPayload is the data of a submit-answer action.
type SubmitAnswerPayload struct {
	OptionIndex *int `json:"optionIndex"`
}

// SendMessagePayload is the data of a send-message action.
type SendMessagePayload struct {
	Message string `json:"message"`
}

// RemoveStudentPayload is the data of a remove-student action.
type RemoveStudentPayload struct {
	StudentID string `json:"studentId"`
}

// Outbound payloads.

// StudentJoinedPayload acknowledges a student join.
type StudentJoinedPayload struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

// PollStartedPayload announces a new active poll.
type PollStartedPayload struct {
	Poll          models.Poll `json:"poll"`
	TimeRemaining int         `json:"timeRemaining"`
}

// TallyUpdatedPayload carries the live results after an answer.
type TallyUpdatedPayload struct {
	Results       models.Tally `json:"results"`
	TotalAnswers  int          `json:"totalAnswers"`
	StudentsCount int          `json:"studentsCount"`
}

// TimerTickPayload carries the countdown after a tick.
type TimerTickPayload struct {
	PollID        string `json:"pollId"`
	TimeRemaining int    `json:"timeRemaining"`
}

// PollEndedPayload carries the final results of a concluded poll.
type PollEndedPayload struct {
	Poll          models.Poll  `json:"poll"`
	Results       models.Tally `json:"results"`
	TotalAnswers  int          `json:"totalAnswers"`
	StudentsCount int          `json:"studentsCount"`
}

// AnswerSubmittedPayload acknowledges a student's accepted answer.
type AnswerSubmittedPayload struct {
	OptionIndex int `json:"optionIndex"`
}

// ActionRejectedPayload tells the sender why an action was refused.
type ActionRejectedPayload struct {
	Action ActionType `json:"action"`
	Reason string     `json:"reason"`
}
