package coordinator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom"
	"github.com/mcdev12/livepoll/go/internal/classroom/events"
	"github.com/mcdev12/livepoll/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const everyone = "*"

type delivery struct {
	to  string
	evt events.Event
}

// recorder is a Broadcaster that keeps everything it was asked to deliver.
type recorder struct {
	deliveries   []delivery
	disconnected []string
}

func (r *recorder) Broadcast(evt events.Event) {
	r.deliveries = append(r.deliveries, delivery{to: everyone, evt: evt})
}

func (r *recorder) Send(connectionID string, evt events.Event) {
	r.deliveries = append(r.deliveries, delivery{to: connectionID, evt: evt})
}

func (r *recorder) Disconnect(connectionID string) {
	r.disconnected = append(r.disconnected, connectionID)
}

// received lists the event types connectionID would see, in order.
func (r *recorder) received(connectionID string) []events.EventType {
	var out []events.EventType
	for _, d := range r.deliveries {
		if d.to == everyone || d.to == connectionID {
			out = append(out, d.evt.Type)
		}
	}
	return out
}

func (r *recorder) broadcasts(typ events.EventType) []events.Event {
	var out []events.Event
	for _, d := range r.deliveries {
		if d.to == everyone && d.evt.Type == typ {
			out = append(out, d.evt)
		}
	}
	return out
}

func (r *recorder) last(connectionID string, typ events.EventType) (events.Event, bool) {
	for i := len(r.deliveries) - 1; i >= 0; i-- {
		d := r.deliveries[i]
		if (d.to == everyone || d.to == connectionID) && d.evt.Type == typ {
			return d.evt, true
		}
	}
	return events.Event{}, false
}

func (r *recorder) reset() {
	r.deliveries = nil
	r.disconnected = nil
}

type fakeTicker struct {
	started []uuid.UUID
	stops   int
	running bool
}

func (f *fakeTicker) Start(pollID uuid.UUID) {
	f.started = append(f.started, pollID)
	f.running = true
}

func (f *fakeTicker) Stop() {
	f.stops++
	f.running = false
}

type roomFixture struct {
	room   *Room
	out    *recorder
	ticker *fakeTicker
	clock  *clockwork.FakeClock
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	f := &roomFixture{
		out:    &recorder{},
		ticker: &fakeTicker{},
		clock:  clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.room = NewRoom(DefaultRoomConfig(), f.ticker, f.out, f.clock)
	return f
}

func (f *roomFixture) teacher(t *testing.T, conn string) {
	t.Helper()
	require.NoError(t, f.room.JoinTeacher(conn))
}

func (f *roomFixture) student(t *testing.T, conn, name string) models.Participant {
	t.Helper()
	p, err := f.room.JoinStudent(conn, name)
	require.NoError(t, err)
	return p
}

func (f *roomFixture) poll(t *testing.T, conn string, timeLimit int) models.Poll {
	t.Helper()
	p, err := f.room.CreatePoll(conn, "Color?", []string{"Red", "Blue"}, timeLimit)
	require.NoError(t, err)
	return p
}

func (f *roomFixture) tickN(pollID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Second)
		f.room.Tick(pollID)
	}
}

func action(t *testing.T, typ events.ActionType, data interface{}) events.Action {
	t.Helper()
	a := events.Action{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		a.Data = raw
	}
	return a
}

// tallySumMatchesAnswered checks that the tally total equals the students
// still connected who have answered plus departed, the votes left behind by
// students who answered the current poll and then left.
func tallySumMatchesAnswered(t *testing.T, r *Room, departed int) {
	t.Helper()
	answered := 0
	for _, p := range r.Roster() {
		if p.HasAnswered {
			answered++
		}
	}
	status := r.Status()
	assert.Equal(t, answered+departed, status.TotalAnswers)
	assert.Equal(t, status.Results.Total(), status.TotalAnswers)
}

func TestTwoStudentsAnsweringAutoConcludes(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")

	p := f.poll(t, "teacher", 60)
	assert.Equal(t, []uuid.UUID{p.ID}, f.ticker.started)
	assert.Len(t, f.out.broadcasts(events.EventPollStarted), 1)

	tallySumMatchesAnswered(t, f.room, 0)

	require.NoError(t, f.room.SubmitAnswer("a", 0))
	tallySumMatchesAnswered(t, f.room, 0)
	assert.True(t, f.room.Status().Poll.IsActive)

	require.NoError(t, f.room.SubmitAnswer("b", 1))
	tallySumMatchesAnswered(t, f.room, 0)

	status := f.room.Status()
	assert.False(t, status.Poll.IsActive)
	assert.Equal(t, 0, status.TimeRemaining)
	assert.Equal(t, models.Tally{1, 1}, status.Results)
	assert.False(t, f.ticker.running)

	history := f.room.History()
	require.Len(t, history, 1)
	assert.Equal(t, p.ID, history[0].ID)
	assert.Equal(t, 2, history[0].TotalAnswers)
	assert.Equal(t, 2, history[0].StudentsCount)

	ended := f.out.broadcasts(events.EventPollEnded)
	require.Len(t, ended, 1)
	payload := ended[0].Data.(events.PollEndedPayload)
	assert.Equal(t, models.Tally{1, 1}, payload.Results)
	assert.Equal(t, 2, payload.TotalAnswers)

	_, ok := f.out.last("teacher", events.EventPollHistory)
	assert.True(t, ok, "teachers receive the updated history")
}

func TestCreateWhileInProgressIsRejected(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")

	p := f.poll(t, "teacher", 60)
	f.tickN(p.ID, 15)
	require.NoError(t, f.room.SubmitAnswer("a", 0))
	before := f.room.Status()
	f.out.reset()

	err := f.room.Handle("teacher", action(t, events.ActionCreatePoll, events.CreatePollPayload{
		Question: "Next?", Options: []string{"x", "y"}, TimeLimit: 30,
	}))
	assert.ErrorIs(t, err, classroom.ErrPollInProgress)

	after := f.room.Status()
	assert.Equal(t, before, after, "state is unchanged")
	assert.Equal(t, 45, after.TimeRemaining)
	assert.Len(t, f.ticker.started, 1)

	rejected, ok := f.out.last("teacher", events.EventActionRejected)
	require.True(t, ok)
	payload := rejected.Data.(events.ActionRejectedPayload)
	assert.Equal(t, events.ActionCreatePoll, payload.Action)
	assert.Equal(t, "Cannot create new poll. Students are still answering.", payload.Reason)
	assert.Empty(t, f.out.broadcasts(events.EventPollStarted))
}

func TestSoleStudentDisconnectAutoConcludes(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.poll(t, "teacher", 60)

	f.room.Disconnect("a")

	status := f.room.Status()
	assert.False(t, status.Poll.IsActive)
	assert.Equal(t, 0, status.StudentsCount)
	assert.Equal(t, 0, status.TotalAnswers)
	require.Len(t, f.room.History(), 1)
	assert.Len(t, f.out.broadcasts(events.EventPollEnded), 1)
}

func TestTimerRunsOutWithNoAnswers(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	p := f.poll(t, "teacher", 60)

	f.tickN(p.ID, 59)
	assert.True(t, f.room.Status().Poll.IsActive)
	assert.Equal(t, 1, f.room.Status().TimeRemaining)

	f.tickN(p.ID, 1)
	status := f.room.Status()
	assert.False(t, status.Poll.IsActive)
	assert.Equal(t, models.Tally{0, 0}, status.Results)

	history := f.room.History()
	require.Len(t, history, 1)
	assert.Equal(t, 0, history[0].TotalAnswers)

	ticks := f.out.broadcasts(events.EventTimerTick)
	require.Len(t, ticks, 60)
	assert.Equal(t, 59, ticks[0].Data.(events.TimerTickPayload).TimeRemaining)
	assert.Equal(t, 0, ticks[59].Data.(events.TimerTickPayload).TimeRemaining)

	f.tickN(p.ID, 3)
	assert.Len(t, f.out.broadcasts(events.EventTimerTick), 60, "stale ticks are discarded")
	assert.Len(t, f.room.History(), 1)
}

func TestDuplicateAnswerIsSilentlyDropped(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")
	f.poll(t, "teacher", 60)

	require.NoError(t, f.room.SubmitAnswer("a", 0))
	tallySumMatchesAnswered(t, f.room, 0)
	f.out.reset()

	err := f.room.Handle("a", action(t, events.ActionSubmitAnswer, map[string]int{"optionIndex": 1}))
	assert.ErrorIs(t, err, classroom.ErrDuplicateAnswer)
	assert.Equal(t, models.Tally{1, 0}, f.room.Status().Results)
	assert.Empty(t, f.out.deliveries, "nothing is sent for a duplicate")
	tallySumMatchesAnswered(t, f.room, 0)

	f.room.Disconnect("a")
	tallySumMatchesAnswered(t, f.room, 1)
	assert.True(t, f.room.Status().Poll.IsActive, "Bob has not answered yet")
}

func TestAnswerWithoutActivePollIsSilent(t *testing.T) {
	f := newRoomFixture(t)
	f.student(t, "a", "Alice")

	err := f.room.Handle("a", action(t, events.ActionSubmitAnswer, map[string]int{"optionIndex": 0}))
	assert.ErrorIs(t, err, classroom.ErrNoActivePoll)
	_, rejected := f.out.last("a", events.EventActionRejected)
	assert.False(t, rejected)
}

func TestOutOfRangeAnswerIsRejected(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.poll(t, "teacher", 60)

	err := f.room.Handle("a", action(t, events.ActionSubmitAnswer, map[string]int{"optionIndex": 5}))
	assert.ErrorIs(t, err, classroom.ErrValidation)
	assert.Equal(t, 0, f.room.Status().TotalAnswers)
	assert.False(t, f.room.Roster()[0].HasAnswered, "a rejected answer does not mark the student")
	tallySumMatchesAnswered(t, f.room, 0)

	_, rejected := f.out.last("a", events.EventActionRejected)
	assert.True(t, rejected)
}

func TestCreatePollResetsTallyAndAnswered(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")

	first := f.poll(t, "teacher", 60)
	require.NoError(t, f.room.SubmitAnswer("a", 1))
	tallySumMatchesAnswered(t, f.room, 0)
	f.tickN(first.ID, 60)
	require.False(t, f.room.Status().Poll.IsActive)
	tallySumMatchesAnswered(t, f.room, 0)

	second, err := f.room.CreatePoll("teacher", "Shape?", []string{"Circle", "Square", "Star"}, 20)
	require.NoError(t, err)
	tallySumMatchesAnswered(t, f.room, 0)

	status := f.room.Status()
	assert.Equal(t, second.ID, status.Poll.ID)
	assert.Equal(t, models.Tally{0, 0, 0}, status.Results)
	for _, p := range f.room.Roster() {
		assert.False(t, p.HasAnswered, p.Name)
	}
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, f.ticker.started)
	assert.Len(t, f.room.History(), 1, "the first poll is archived once")

	require.NoError(t, f.room.SubmitAnswer("b", 2))
	tallySumMatchesAnswered(t, f.room, 0)
	assert.Equal(t, models.Tally{0, 0, 1}, f.room.Status().Results)
}

func TestSupersedeArchivesActivePollWithoutEndBroadcast(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")

	f.student(t, "b", "Bob")

	first := f.poll(t, "teacher", 5)
	require.NoError(t, f.room.SubmitAnswer("a", 1))
	tallySumMatchesAnswered(t, f.room, 0)
	f.tickN(first.ID, 4)
	tallySumMatchesAnswered(t, f.room, 0)
	// Drive the countdown to zero without letting the tick conclude the poll.
	f.room.session.Tick(first.ID)
	require.True(t, f.room.session.IsActive())

	second := f.poll(t, "teacher", 30)
	assert.NotEqual(t, first.ID, second.ID)
	tallySumMatchesAnswered(t, f.room, 0)
	assert.Equal(t, models.Tally{0, 0}, f.room.Status().Results)

	history := f.room.History()
	require.Len(t, history, 1)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, models.Tally{0, 1}, history[0].Results)
	assert.Empty(t, f.out.broadcasts(events.EventPollEnded))

	f.room.Tick(first.ID)
	assert.True(t, f.room.Status().Poll.IsActive, "ticks for the superseded poll are ignored")
	assert.Equal(t, 30, f.room.Status().TimeRemaining)
}

func TestZeroStudentPollCanBeSuperseded(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")

	first := f.poll(t, "teacher", 60)
	assert.True(t, f.room.Status().Poll.IsActive, "a poll with no students stays open")

	second := f.poll(t, "teacher", 60)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.room.History(), 1)
}

func TestAuthorization(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")

	_, err := f.room.CreatePoll("a", "Q?", []string{"x", "y"}, 10)
	assert.ErrorIs(t, err, classroom.ErrAuthorization)

	_, err = f.room.CreatePoll("stranger", "Q?", []string{"x", "y"}, 10)
	assert.ErrorIs(t, err, classroom.ErrAuthorization)

	f.poll(t, "teacher", 10)
	assert.ErrorIs(t, f.room.SubmitAnswer("teacher", 0), classroom.ErrAuthorization)

	assert.ErrorIs(t, f.room.RemoveStudent("a", uuid.New().String()), classroom.ErrAuthorization)
	assert.ErrorIs(t, f.room.SendMessage("stranger", "hi"), classroom.ErrAuthorization)

	_, err = f.room.JoinStudent("teacher", "Sneaky")
	assert.ErrorIs(t, err, classroom.ErrAuthorization)
	assert.ErrorIs(t, f.room.JoinTeacher("a"), classroom.ErrAuthorization)
	assert.Len(t, f.room.Roster(), 1)
}

func TestCreatePollValidation(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")

	tests := []struct {
		name      string
		question  string
		options   []string
		timeLimit int
	}{
		{name: "blank question", question: " ", options: []string{"a", "b"}, timeLimit: 10},
		{name: "one option", question: "Q?", options: []string{"a"}, timeLimit: 10},
		{name: "negative time", question: "Q?", options: []string{"a", "b"}, timeLimit: -1},
		{name: "time over max", question: "Q?", options: []string{"a", "b"}, timeLimit: 301},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.room.CreatePoll("teacher", tc.question, tc.options, tc.timeLimit)
			assert.ErrorIs(t, err, classroom.ErrValidation)
			assert.Nil(t, f.room.Status().Poll)
			assert.Empty(t, f.ticker.started)
		})
	}

	p, err := f.room.CreatePoll("teacher", "Q?", []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 60, p.TimeLimitSeconds, "zero means the default time limit")
}

func TestStudentJoinPushesState(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	require.NoError(t, f.room.SendMessage("teacher", "Welcome"))
	f.poll(t, "teacher", 60)
	f.out.reset()

	p := f.student(t, "late", "Latecomer")

	assert.Equal(t, []events.EventType{
		events.EventStudentJoined,
		events.EventPollStarted,
		events.EventChatHistory,
	}, f.out.received("late"))

	ack, _ := f.out.last("late", events.EventStudentJoined)
	assert.Equal(t, p.ID.String(), ack.Data.(events.StudentJoinedPayload).StudentID)

	chatHistory, _ := f.out.last("late", events.EventChatHistory)
	msgs := chatHistory.Data.([]models.ChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Teacher", msgs[0].SenderName)

	roster, ok := f.out.last("teacher", events.EventRosterUpdated)
	require.True(t, ok)
	assert.Len(t, roster.Data.([]models.Participant), 1)
}

func TestStudentJoinAfterPollEndedSeesResults(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	p := f.poll(t, "teacher", 2)
	f.tickN(p.ID, 2)
	f.out.reset()

	f.student(t, "late", "Latecomer")
	assert.Contains(t, f.out.received("late"), events.EventPollEnded)
	assert.NotContains(t, f.out.received("late"), events.EventPollStarted)
}

func TestTeacherJoinPushesFullStatus(t *testing.T) {
	f := newRoomFixture(t)
	f.student(t, "a", "Alice")
	f.out.reset()

	f.teacher(t, "teacher")
	assert.Equal(t, []events.EventType{
		events.EventTeacherJoined,
		events.EventPollStatus,
		events.EventChatHistory,
		events.EventPollHistory,
	}, f.out.received("teacher"))

	status, _ := f.out.last("teacher", events.EventPollStatus)
	payload := status.Data.(models.PollStatus)
	assert.Nil(t, payload.Poll)
	assert.Equal(t, 1, payload.StudentsCount)
	require.Len(t, payload.Students, 1)
	assert.Equal(t, "Alice", payload.Students[0].Name)
}

func TestRemoveStudent(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	a := f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")
	f.poll(t, "teacher", 60)
	require.NoError(t, f.room.SubmitAnswer("b", 1))
	f.out.reset()

	err := f.room.Handle("teacher", action(t, events.ActionRemoveStudent, events.RemoveStudentPayload{StudentID: a.ID.String()}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, f.out.disconnected)
	assert.Contains(t, f.out.received("a"), events.EventRemovedByTeacher)
	assert.Len(t, f.room.Roster(), 1)
	assert.False(t, f.room.Status().Poll.IsActive, "remaining student already answered")
	assert.Equal(t, models.Tally{0, 1}, f.room.Status().Results)

	// The socket closing afterwards is a no-op for the room.
	f.room.Disconnect("a")
	assert.Len(t, f.room.Roster(), 1)

	require.NoError(t, f.room.RemoveStudent("teacher", a.ID.String()), "removing twice is a no-op")
	assert.ErrorIs(t, f.room.RemoveStudent("teacher", "not-a-uuid"), classroom.ErrValidation)
}

func TestDisconnectKeepsPastVotes(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")
	f.student(t, "b", "Bob")
	f.student(t, "c", "Cat")
	f.poll(t, "teacher", 60)

	require.NoError(t, f.room.SubmitAnswer("a", 0))
	f.room.Disconnect("a")

	status := f.room.Status()
	assert.True(t, status.Poll.IsActive)
	assert.Equal(t, 1, status.TotalAnswers)
	assert.Equal(t, 2, status.StudentsCount)

	require.NoError(t, f.room.SubmitAnswer("b", 1))
	require.NoError(t, f.room.SubmitAnswer("c", 1))
	assert.Equal(t, models.Tally{1, 2}, f.room.History()[0].Results)
}

func TestTeacherDisconnectDropsFromIndex(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.room.Disconnect("teacher")
	f.out.reset()

	f.student(t, "a", "Alice")
	_, ok := f.out.last("teacher", events.EventRosterUpdated)
	assert.False(t, ok)
	assert.Equal(t, models.RoleNone, f.room.roles["teacher"])
}

func TestRosterSizeTracksJoinsRemovalsAndDisconnects(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		ids = append(ids, f.student(t, fmt.Sprintf("s%d", i), fmt.Sprintf("Student %d", i)).ID)
	}
	require.NoError(t, f.room.RemoveStudent("teacher", ids[0].String()))
	f.room.Disconnect("s1")
	f.room.Disconnect("s1")
	f.room.Disconnect("unknown")

	assert.Len(t, f.room.Roster(), 4)
	assert.Equal(t, 4, f.room.Status().StudentsCount)
}

func TestChat(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.student(t, "a", "Alice")

	require.NoError(t, f.room.Handle("a", action(t, events.ActionSendMessage, events.SendMessagePayload{Message: "  hi  "})))
	require.NoError(t, f.room.SendMessage("teacher", "hello"))

	msgs := f.room.ChatHistory()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Message)
	assert.Equal(t, "Alice", msgs[0].SenderName)
	assert.Equal(t, models.RoleStudent, msgs[0].SenderType)
	assert.Equal(t, "Teacher", msgs[1].SenderName)
	assert.Equal(t, models.RoleTeacher, msgs[1].SenderType)
	assert.Len(t, f.out.broadcasts(events.EventChatMessage), 2)

	assert.ErrorIs(t, f.room.SendMessage("a", "   "), classroom.ErrValidation)
	assert.Len(t, f.room.ChatHistory(), 2)
}

func TestMalformedActionsAreDropped(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	f.out.reset()

	assert.Error(t, f.room.Handle("teacher", events.Action{Type: events.ActionCreatePoll, Data: json.RawMessage(`{"options": 3}`)}))
	assert.Error(t, f.room.Handle("teacher", events.Action{Type: "launch-rockets"}))
	assert.Error(t, f.room.Handle("teacher", events.Action{Type: events.ActionSendMessage, Data: json.RawMessage(`{not json`)}))

	assert.Nil(t, f.room.Status().Poll)
	_, rejected := f.out.last("teacher", events.EventActionRejected)
	assert.False(t, rejected, "malformed payloads are logged, not answered")
}

func TestHistoryIsBounded(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")

	for i := 0; i < DefaultRoomConfig().HistoryLimit+5; i++ {
		p := f.poll(t, "teacher", 1)
		f.room.Tick(p.ID)
	}
	assert.Len(t, f.room.History(), DefaultRoomConfig().HistoryLimit)
}

func TestRandomActionsKeepTallyConsistent(t *testing.T) {
	f := newRoomFixture(t)
	f.teacher(t, "teacher")
	rng := rand.New(rand.NewSource(7))

	expected := models.Tally{}
	departed := 0
	joined := 0

	connected := func() []models.Participant { return f.room.Roster() }
	pick := func() (models.Participant, bool) {
		students := connected()
		if len(students) == 0 {
			return models.Participant{}, false
		}
		return students[rng.Intn(len(students))], true
	}
	active := func() bool {
		poll := f.room.Status().Poll
		return poll != nil && poll.IsActive
	}

	for step := 0; step < 500; step++ {
		switch rng.Intn(6) {
		case 0:
			joined++
			f.student(t, fmt.Sprintf("s%d", joined), fmt.Sprintf("Student %d", joined))

		case 1:
			p, ok := pick()
			if !ok {
				continue
			}
			idx := rng.Intn(len(expected) + 1)
			wasActive := active()
			err := f.room.SubmitAnswer(p.ConnectionID, idx)
			if wasActive && !p.HasAnswered && idx < len(expected) {
				require.NoError(t, err, "step %d", step)
				expected[idx]++
			} else {
				require.Error(t, err, "step %d", step)
			}

		case 2:
			p, ok := pick()
			if !ok {
				continue
			}
			if p.HasAnswered {
				departed++
			}
			if rng.Intn(2) == 0 {
				f.room.Disconnect(p.ConnectionID)
			} else {
				require.NoError(t, f.room.RemoveStudent("teacher", p.ID.String()))
			}

		case 3:
			n := classroom.MinOptions + rng.Intn(3)
			options := make([]string, n)
			for i := range options {
				options[i] = fmt.Sprintf("Option %d", i+1)
			}
			if _, err := f.room.CreatePoll("teacher", "Pick one", options, 1+rng.Intn(5)); err == nil {
				expected = models.NewTally(n)
				departed = 0
			} else {
				require.ErrorIs(t, err, classroom.ErrPollInProgress, "step %d", step)
			}

		default:
			if poll := f.room.Status().Poll; poll != nil {
				f.tickN(poll.ID, 1)
			}
		}

		tallySumMatchesAnswered(t, f.room, departed)
		require.Equal(t, expected, f.room.Status().Results, "step %d", step)
		if students := connected(); active() && len(students) > 0 {
			allAnswered := true
			for _, p := range students {
				allAnswered = allAnswered && p.HasAnswered
			}
			require.False(t, allAnswered, "step %d: poll still active after every connected student answered", step)
		}
	}
}
