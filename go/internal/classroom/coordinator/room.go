package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom"
	"github.com/mcdev12/livepoll/go/internal/classroom/chat"
	"github.com/mcdev12/livepoll/go/internal/classroom/events"
	"github.com/mcdev12/livepoll/go/internal/classroom/history"
	"github.com/mcdev12/livepoll/go/internal/classroom/poll"
	"github.com/mcdev12/livepoll/go/internal/classroom/roster"
	"github.com/mcdev12/livepoll/go/internal/models"
	"github.com/rs/zerolog/log"
)

// teacherSenderName is the chat sender name shown for every teacher.
const teacherSenderName = "Teacher"

// Broadcaster delivers room events to connections.
type Broadcaster interface {
	// Broadcast sends evt to every open connection.
	Broadcast(evt events.Event)
	// Send sends evt to a single connection.
	Send(connectionID string, evt events.Event)
	// Disconnect closes a connection after its queued events are flushed.
	Disconnect(connectionID string)
}

// Ticker starts and stops the countdown for a poll.
type Ticker interface {
	Start(pollID uuid.UUID)
	Stop()
}

// RoomConfig holds the tunables of a room.
type RoomConfig struct {
	DefaultTimeLimit int
	MaxTimeLimit     int
	HistoryLimit     int
	ChatLimit        int
}

// DefaultRoomConfig returns the stock limits.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		DefaultTimeLimit: 60,
		MaxTimeLimit:     300,
		HistoryLimit:     history.DefaultLimit,
		ChatLimit:        chat.DefaultLimit,
	}
}

// Room is the single owner of all mutable classroom state. Every method
// runs to completion and either applies its whole effect or none of it.
// Room is not safe for concurrent use; Coordinator serializes access.
type Room struct {
	config  RoomConfig
	roster  *roster.Roster
	session *poll.Session
	history *history.Log
	chat    *chat.Log
	ticker  Ticker
	out     Broadcaster
	clock   clockwork.Clock

	// roles of joined connections; teachers is the indexed subset.
	roles    map[string]models.Role
	teachers map[string]struct{}
}

// NewRoom wires a room to its ticker and broadcaster.
func NewRoom(config RoomConfig, ticker Ticker, out Broadcaster, clock clockwork.Clock) *Room {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Room{
		config:   config,
		roster:   roster.New(roster.WithNow(clock.Now)),
		session:  poll.NewSession(),
		history:  history.NewLog(config.HistoryLimit),
		chat:     chat.NewLog(config.ChatLimit),
		ticker:   ticker,
		out:      out,
		clock:    clock,
		roles:    make(map[string]models.Role),
		teachers: make(map[string]struct{}),
	}
}

// Handle decodes an inbound action and applies it. Rejections the sender
// should hear about are sent back as action-rejected; silent failures and
// malformed payloads are only logged. The returned error is informational.
func (r *Room) Handle(connectionID string, action events.Action) error {
	err := r.dispatch(connectionID, action)
	if err == nil {
		return nil
	}

	logger := log.With().
		Str("connection_id", connectionID).
		Str("action", string(action.Type)).
		Logger()

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, errUnknownAction):
		logger.Warn().Err(err).Msg("dropping malformed action")
	case classroom.Silent(err):
		logger.Debug().Err(err).Msg("ignoring action")
	default:
		logger.Warn().Err(err).Msg("action rejected")
		r.out.Send(connectionID, events.Event{
			Type: events.EventActionRejected,
			Data: events.ActionRejectedPayload{Action: action.Type, Reason: classroom.Reason(err)},
		})
	}
	return err
}

var errUnknownAction = errors.New("unknown action type")

func (r *Room) dispatch(connectionID string, action events.Action) error {
	switch action.Type {
	case events.ActionStudentJoin:
		var p events.StudentJoinPayload
		if err := decode(action.Data, &p); err != nil {
			return err
		}
		_, err := r.JoinStudent(connectionID, p.Name)
		return err

	case events.ActionTeacherJoin:
		return r.JoinTeacher(connectionID)

	case events.ActionCreatePoll:
		var p events.CreatePollPayload
		if err := decode(action.Data, &p); err != nil {
			return err
		}
		_, err := r.CreatePoll(connectionID, p.Question, p.Options, p.TimeLimit)
		return err

	case events.ActionSubmitAnswer:
		var p events.SubmitAnswerPayload
		if err := decode(action.Data, &p); err != nil {
			return err
		}
		if p.OptionIndex == nil {
			return fmt.Errorf("%w: optionIndex is required", classroom.ErrValidation)
		}
		return r.SubmitAnswer(connectionID, *p.OptionIndex)

	case events.ActionSendMessage:
		var p events.SendMessagePayload
		if err := decode(action.Data, &p); err != nil {
			return err
		}
		return r.SendMessage(connectionID, p.Message)

	case events.ActionRemoveStudent:
		var p events.RemoveStudentPayload
		if err := decode(action.Data, &p); err != nil {
			return err
		}
		return r.RemoveStudent(connectionID, p.StudentID)

	default:
		return fmt.Errorf("%w: %q", errUnknownAction, action.Type)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// JoinStudent adds a student to the roster and brings the connection up to
// date with the current poll and chat.
func (r *Room) JoinStudent(connectionID, name string) (models.Participant, error) {
	if role := r.roles[connectionID]; role != models.RoleNone {
		return models.Participant{}, fmt.Errorf("%w: connection already joined as %s", classroom.ErrAuthorization, role)
	}

	p, err := r.roster.Join(connectionID, name)
	if err != nil {
		return models.Participant{}, err
	}
	r.roles[connectionID] = models.RoleStudent

	r.out.Send(connectionID, events.Event{
		Type: events.EventStudentJoined,
		Data: events.StudentJoinedPayload{StudentID: p.ID.String(), Name: p.Name},
	})
	if current := r.session.Current(); current != nil {
		if current.IsActive {
			r.out.Send(connectionID, r.pollStartedEvent(*current))
		} else {
			r.out.Send(connectionID, r.pollEndedEvent(*current))
		}
	}
	r.out.Send(connectionID, events.Event{Type: events.EventChatHistory, Data: r.ChatHistory()})
	r.notifyRoster()

	log.Info().
		Str("connection_id", connectionID).
		Str("participant_id", p.ID.String()).
		Str("name", p.Name).
		Msg("student joined")
	return p, nil
}

// JoinTeacher registers a teacher connection and pushes the full status.
func (r *Room) JoinTeacher(connectionID string) error {
	if role := r.roles[connectionID]; role != models.RoleNone {
		return fmt.Errorf("%w: connection already joined as %s", classroom.ErrAuthorization, role)
	}
	r.roles[connectionID] = models.RoleTeacher
	r.teachers[connectionID] = struct{}{}

	r.out.Send(connectionID, events.Event{Type: events.EventTeacherJoined, Data: struct{}{}})
	r.out.Send(connectionID, events.Event{Type: events.EventPollStatus, Data: r.TeacherStatus()})
	r.out.Send(connectionID, events.Event{Type: events.EventChatHistory, Data: r.ChatHistory()})
	r.out.Send(connectionID, events.Event{Type: events.EventPollHistory, Data: r.history.List()})

	log.Info().Str("connection_id", connectionID).Msg("teacher joined")
	return nil
}

// CreatePoll starts a new poll if the admission guard allows it. A previous
// poll that was never archived is archived first.
func (r *Room) CreatePoll(connectionID, question string, options []string, timeLimit int) (models.Poll, error) {
	if r.roles[connectionID] != models.RoleTeacher {
		return models.Poll{}, fmt.Errorf("%w: only a teacher can create polls", classroom.ErrAuthorization)
	}

	question, options, err := classroom.NormalizeQuestion(question, options)
	if err != nil {
		return models.Poll{}, err
	}
	if timeLimit == 0 {
		timeLimit = r.config.DefaultTimeLimit
	}
	if timeLimit < 1 || timeLimit > r.config.MaxTimeLimit {
		return models.Poll{}, fmt.Errorf("%w: time limit must be between 1 and %d seconds", classroom.ErrValidation, r.config.MaxTimeLimit)
	}
	if err := r.session.Admit(r.roster); err != nil {
		return models.Poll{}, err
	}

	now := r.clock.Now()
	if r.session.IsActive() {
		r.session.End(now)
		log.Info().Str("poll_id", r.session.Current().ID.String()).Msg("active poll superseded")
	}
	if r.archive(now) {
		r.notifyTeachers(events.Event{Type: events.EventPollHistory, Data: r.history.List()})
	}

	r.roster.ResetAllAnswered()
	created := r.session.Create(question, options, timeLimit, now)
	r.ticker.Start(created.ID)

	r.out.Broadcast(r.pollStartedEvent(created))
	r.notifyTeachers(events.Event{Type: events.EventPollCreated, Data: created})
	r.notifyRoster()

	log.Info().
		Str("poll_id", created.ID.String()).
		Str("question", created.Question).
		Int("options", len(created.Options)).
		Int("time_limit", created.TimeLimitSeconds).
		Msg("poll created")
	return created, nil
}

// SubmitAnswer records a student's first answer to the active poll. Later
// answers from the same student are dropped.
func (r *Room) SubmitAnswer(connectionID string, optionIndex int) error {
	if r.roles[connectionID] != models.RoleStudent {
		return fmt.Errorf("%w: only a student can answer", classroom.ErrAuthorization)
	}
	p, ok := r.roster.ByConnection(connectionID)
	if !ok {
		return classroom.ErrUnknownParticipant
	}
	if !r.session.IsActive() {
		return classroom.ErrNoActivePoll
	}
	if p.HasAnswered {
		return classroom.ErrDuplicateAnswer
	}
	if err := r.session.Record(optionIndex); err != nil {
		return err
	}
	r.roster.MarkAnswered(p.ID)

	r.out.Send(connectionID, events.Event{
		Type: events.EventAnswerSubmitted,
		Data: events.AnswerSubmittedPayload{OptionIndex: optionIndex},
	})
	tally := r.session.Tally()
	r.out.Broadcast(events.Event{
		Type: events.EventTallyUpdated,
		Data: events.TallyUpdatedPayload{
			Results:       tally,
			TotalAnswers:  tally.Total(),
			StudentsCount: r.roster.ConnectedCount(),
		},
	})
	r.notifyRoster()

	log.Info().
		Str("participant_id", p.ID.String()).
		Int("option_index", optionIndex).
		Msg("answer recorded")

	if r.roster.AllAnswered() {
		r.EndPoll()
	}
	return nil
}

// Tick advances the countdown of pollID by one second. Ticks for a poll
// that is no longer active are ignored.
func (r *Room) Tick(pollID uuid.UUID) {
	remaining, applied := r.session.Tick(pollID)
	if !applied {
		log.Debug().Str("poll_id", pollID.String()).Msg("discarding stale tick")
		return
	}
	r.out.Broadcast(events.Event{
		Type: events.EventTimerTick,
		Data: events.TimerTickPayload{PollID: pollID.String(), TimeRemaining: remaining},
	})
	if remaining <= 0 {
		r.EndPoll()
	}
}

// EndPoll concludes the active poll: stops the ticker, archives it and
// broadcasts the final results. It is a no-op when no poll is active.
func (r *Room) EndPoll() bool {
	now := r.clock.Now()
	if !r.session.End(now) {
		return false
	}
	r.ticker.Stop()
	r.archive(now)

	ended := r.session.Current()
	r.out.Broadcast(r.pollEndedEvent(*ended))
	r.notifyTeachers(events.Event{Type: events.EventPollHistory, Data: r.history.List()})

	tally := r.session.Tally()
	log.Info().
		Str("poll_id", ended.ID.String()).
		Int("total_answers", tally.Total()).
		Int("students", r.roster.ConnectedCount()).
		Msg("poll ended")
	return true
}

// SendMessage appends a chat message from any joined connection.
func (r *Room) SendMessage(connectionID, text string) error {
	var senderName string
	switch r.roles[connectionID] {
	case models.RoleTeacher:
		senderName = teacherSenderName
	case models.RoleStudent:
		p, ok := r.roster.ByConnection(connectionID)
		if !ok {
			return classroom.ErrUnknownParticipant
		}
		senderName = p.Name
	default:
		return fmt.Errorf("%w: join before chatting", classroom.ErrAuthorization)
	}

	text, err := classroom.NormalizeMessage(text)
	if err != nil {
		return err
	}

	msg := models.ChatMessage{
		ID:         uuid.New(),
		Message:    text,
		SenderName: senderName,
		SenderType: r.roles[connectionID],
		Timestamp:  r.clock.Now(),
	}
	r.chat.Append(msg)
	r.out.Broadcast(events.Event{Type: events.EventChatMessage, Data: msg})
	return nil
}

// RemoveStudent evicts a student on a teacher's request and disconnects
// them. Removing an unknown student is a no-op.
func (r *Room) RemoveStudent(connectionID, studentID string) error {
	if r.roles[connectionID] != models.RoleTeacher {
		return fmt.Errorf("%w: only a teacher can remove students", classroom.ErrAuthorization)
	}
	id, err := uuid.Parse(studentID)
	if err != nil {
		return fmt.Errorf("%w: invalid student id", classroom.ErrValidation)
	}

	p, ok := r.roster.Remove(id)
	if !ok {
		return nil
	}
	if p.ConnectionID != "" {
		delete(r.roles, p.ConnectionID)
		r.out.Send(p.ConnectionID, events.Event{Type: events.EventRemovedByTeacher, Data: struct{}{}})
		r.out.Disconnect(p.ConnectionID)
	}

	log.Info().
		Str("participant_id", p.ID.String()).
		Str("name", p.Name).
		Msg("student removed by teacher")

	r.concludeIfAllAnswered()
	r.notifyRoster()
	return nil
}

// Disconnect cleans up after a closed connection. A departing student can
// complete the poll if everyone left has already answered.
func (r *Room) Disconnect(connectionID string) {
	role, ok := r.roles[connectionID]
	if !ok {
		return
	}
	delete(r.roles, connectionID)

	switch role {
	case models.RoleTeacher:
		delete(r.teachers, connectionID)
		log.Info().Str("connection_id", connectionID).Msg("teacher disconnected")

	case models.RoleStudent:
		p, ok := r.roster.ByConnection(connectionID)
		if !ok {
			return
		}
		r.roster.Remove(p.ID)
		log.Info().
			Str("connection_id", connectionID).
			Str("participant_id", p.ID.String()).
			Msg("student disconnected")

		r.concludeIfAllAnswered()
		r.notifyRoster()
	}
}

// Status is the public read-only view: poll, tally and counts.
func (r *Room) Status() models.PollStatus {
	tally := r.session.Tally()
	if tally == nil {
		tally = models.Tally{}
	}
	return models.PollStatus{
		Poll:          r.session.Current(),
		Results:       tally,
		TotalAnswers:  tally.Total(),
		StudentsCount: r.roster.ConnectedCount(),
		TimeRemaining: r.session.TimeRemaining(),
	}
}

// TeacherStatus is Status plus the roster.
func (r *Room) TeacherStatus() models.PollStatus {
	status := r.Status()
	status.Students = r.Roster()
	return status
}

// History returns the archived polls, most recent first.
func (r *Room) History() []models.HistoryRecord {
	return r.history.List()
}

// ChatHistory returns the chat feed, oldest first.
func (r *Room) ChatHistory() []models.ChatMessage {
	return r.chat.List()
}

// Roster returns the connected students ordered by join time.
func (r *Room) Roster() []models.Participant {
	return r.roster.List()
}

func (r *Room) concludeIfAllAnswered() {
	if r.session.IsActive() && r.roster.AllAnswered() {
		r.EndPoll()
	}
}

// archive appends the current poll to history unless it is already there.
func (r *Room) archive(now time.Time) bool {
	current := r.session.Current()
	if current == nil || r.history.Contains(current.ID) {
		return false
	}
	rec, ok := r.session.Snapshot(r.roster.ConnectedCount(), now)
	if !ok {
		return false
	}
	return r.history.Append(rec)
}

func (r *Room) notifyTeachers(evt events.Event) {
	for connectionID := range r.teachers {
		r.out.Send(connectionID, evt)
	}
}

func (r *Room) notifyRoster() {
	if len(r.teachers) == 0 {
		return
	}
	r.notifyTeachers(events.Event{Type: events.EventRosterUpdated, Data: r.Roster()})
}

func (r *Room) pollStartedEvent(p models.Poll) events.Event {
	return events.Event{
		Type: events.EventPollStarted,
		Data: events.PollStartedPayload{Poll: p, TimeRemaining: p.TimeRemainingSeconds},
	}
}

func (r *Room) pollEndedEvent(p models.Poll) events.Event {
	tally := r.session.Tally()
	return events.Event{
		Type: events.EventPollEnded,
		Data: events.PollEndedPayload{
			Poll:          p,
			Results:       tally,
			TotalAnswers:  tally.Total(),
			StudentsCount: r.roster.ConnectedCount(),
		},
	}
}
