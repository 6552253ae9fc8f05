// Package coordinator serializes every classroom state transition through a
// single goroutine that owns the Room.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom/events"
	"github.com/mcdev12/livepoll/go/internal/classroom/timer"
	"github.com/mcdev12/livepoll/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by queries made after the coordinator has exited.
var ErrStopped = errors.New("coordinator stopped")

const defaultInboxSize = 256

// Config configures a Coordinator.
type Config struct {
	Room         RoomConfig
	TickInterval time.Duration
	InboxSize    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Room:         DefaultRoomConfig(),
		TickInterval: timer.DefaultInterval,
		InboxSize:    defaultInboxSize,
	}
}

// Coordinator runs the room on one goroutine. Gateway actions, timer ticks
// and queries are all queued onto the same inbox and applied in order.
type Coordinator struct {
	room   *Room
	driver *timer.Driver
	inbox  chan func(*Room)
	done   chan struct{}
}

// New builds a coordinator. Run must be called before events are applied.
func New(config Config, out Broadcaster, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.InboxSize <= 0 {
		config.InboxSize = defaultInboxSize
	}

	c := &Coordinator{
		inbox: make(chan func(*Room), config.InboxSize),
		done:  make(chan struct{}),
	}
	c.driver = timer.NewDriver(clock, config.TickInterval, func(pollID uuid.UUID) {
		c.submit(func(r *Room) { r.Tick(pollID) })
	})
	c.room = NewRoom(config.Room, c.driver, out, clock)
	return c
}

// Run processes the inbox until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Msg("classroom coordinator started")
	defer func() {
		c.driver.Stop()
		close(c.done)
		log.Info().Msg("classroom coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.inbox:
			c.apply(fn)
		}
	}
}

// apply runs one event, recovering from panics so a single bad event cannot
// take the room down.
func (c *Coordinator) apply(fn func(*Room)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic while applying classroom event")
		}
	}()
	fn(c.room)
}

// submit queues fn. It reports false once the coordinator has stopped.
func (c *Coordinator) submit(fn func(*Room)) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// Dispatch queues an inbound action from a connection.
func (c *Coordinator) Dispatch(connectionID string, action events.Action) {
	if !c.submit(func(r *Room) { _ = r.Handle(connectionID, action) }) {
		log.Warn().
			Str("connection_id", connectionID).
			Str("action", string(action.Type)).
			Msg("coordinator stopped, dropping action")
	}
}

// Disconnect queues cleanup for a closed connection.
func (c *Coordinator) Disconnect(connectionID string) {
	c.submit(func(r *Room) { r.Disconnect(connectionID) })
}

// query runs fn on the coordinator goroutine and waits for its result.
func query[T any](ctx context.Context, c *Coordinator, fn func(*Room) T) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case c.inbox <- func(r *Room) { reply <- fn(r) }:
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetPollStatus returns the public status of the current poll.
func (c *Coordinator) GetPollStatus(ctx context.Context) (models.PollStatus, error) {
	status, err := query(ctx, c, (*Room).Status)
	if err != nil {
		return models.PollStatus{}, fmt.Errorf("failed to get poll status: %w", err)
	}
	return status, nil
}

// GetPollHistory returns archived polls, most recent first.
func (c *Coordinator) GetPollHistory(ctx context.Context) ([]models.HistoryRecord, error) {
	records, err := query(ctx, c, (*Room).History)
	if err != nil {
		return nil, fmt.Errorf("failed to get poll history: %w", err)
	}
	return records, nil
}
