package classroom

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is returned for malformed names, questions, options or messages.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization is returned when a connection's role does not permit the action.
	ErrAuthorization = errors.New("not authorized")
	// ErrPollInProgress is returned when a new poll cannot supersede the active one.
	ErrPollInProgress = errors.New("poll in progress")
	// ErrDuplicateAnswer marks a second answer from the same participant. Never surfaced.
	ErrDuplicateAnswer = errors.New("already answered")
	// ErrNoActivePoll marks an answer that arrived while no poll was accepting answers. Never surfaced.
	ErrNoActivePoll = errors.New("no active poll")
	// ErrUnknownParticipant marks an action from a participant that is not on the roster.
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Silent reports whether err belongs to the class of failures that are
// dropped without telling the sender.
func Silent(err error) bool {
	return errors.Is(err, ErrDuplicateAnswer) ||
		errors.Is(err, ErrNoActivePoll) ||
		errors.Is(err, ErrUnknownParticipant)
}

// Reason renders err as the text sent back in an action-rejected event.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrPollInProgress):
		return "Cannot create new poll. Students are still answering."
	case errors.Is(err, ErrAuthorization):
		return strings.TrimPrefix(err.Error(), ErrAuthorization.Error()+": ")
	case errors.Is(err, ErrValidation):
		return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
	}
	return err.Error()
}
