// Package relay mirrors room-wide classroom events onto an external bus so
// other processes can observe the room. Delivery is best effort.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom/events"
	"github.com/rs/zerolog/log"
)

// Driver names accepted by NewPublisher.
const (
	DriverNone  = "none"
	DriverNATS  = "nats"
	DriverRedis = "redis"
)

// Publisher ships one sealed event to the bus.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Close() error
}

// Downstream is the local fan-out the mirror wraps.
type Downstream interface {
	Broadcast(evt events.Event)
	Send(connectionID string, evt events.Event)
	Disconnect(connectionID string)
}

// Config selects and configures the bus.
type Config struct {
	Driver         string
	NATS           JetStreamConfig
	Redis          RedisConfig
	QueueSize      int
	PublishTimeout time.Duration
}

// DefaultConfig disables the relay.
func DefaultConfig() Config {
	return Config{
		Driver:         DriverNone,
		NATS:           DefaultJetStreamConfig(),
		Redis:          DefaultRedisConfig(),
		QueueSize:      512,
		PublishTimeout: 5 * time.Second,
	}
}

// NewPublisher connects to the configured bus. DriverNone returns nil.
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverNATS:
		return NewJetStreamPublisher(ctx, cfg.NATS)
	case DriverRedis:
		return NewRedisPublisher(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
}

// Mirror forwards every call to the downstream and additionally publishes
// broadcasts. Targeted sends stay local.
type Mirror struct {
	downstream Downstream
	publisher  Publisher
	clock      clockwork.Clock
	timeout    time.Duration
	queue      chan *events.Envelope
}

// NewMirror wraps downstream. Run must be started for publishes to flow.
func NewMirror(downstream Downstream, publisher Publisher, cfg Config, clock clockwork.Clock) *Mirror {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Mirror{
		downstream: downstream,
		publisher:  publisher,
		clock:      clock,
		timeout:    cfg.PublishTimeout,
		queue:      make(chan *events.Envelope, cfg.QueueSize),
	}
}

// Broadcast delivers locally and queues the event for the bus.
func (m *Mirror) Broadcast(evt events.Event) {
	m.downstream.Broadcast(evt)

	env, err := events.Seal(evt, m.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to seal event for relay")
		return
	}
	select {
	case m.queue <- env:
	default:
		log.Warn().Str("event_type", string(evt.Type)).Msg("relay queue full, dropping event")
	}
}

// Send is local only.
func (m *Mirror) Send(connectionID string, evt events.Event) {
	m.downstream.Send(connectionID, evt)
}

// Disconnect is local only.
func (m *Mirror) Disconnect(connectionID string) {
	m.downstream.Disconnect(connectionID)
}

// Run publishes queued events in order until ctx is cancelled, then closes
// the publisher.
func (m *Mirror) Run(ctx context.Context) {
	log.Info().Msg("event relay started")
	defer func() {
		if err := m.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close relay publisher")
		}
		log.Info().Msg("event relay stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-m.queue:
			m.publish(ctx, env)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, env *events.Envelope) {
	pubCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.publisher.Publish(pubCtx, env); err != nil {
		log.Error().
			Err(err).
			Str("event_id", env.ID).
			Str("event_type", string(env.Type)).
			Msg("failed to relay event")
		return
	}
	log.Debug().
		Str("event_id", env.ID).
		Str("event_type", string(env.Type)).
		Msg("event relayed")
}
