// Package timer drives the once-per-second countdown of the active poll.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the countdown resolution.
const DefaultInterval = time.Second

// TickFunc receives a tick for the poll the ticker was started for. It must
// not block for long; the driver's goroutine calls it inline.
type TickFunc func(pollID uuid.UUID)

// Driver owns at most one running ticker. Starting it always cancels the
// previous ticker first so two tickers can never run at once.
type Driver struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   TickFunc

	mu      sync.Mutex
	ticker  clockwork.Ticker
	stopCh  chan struct{}
	pollID  uuid.UUID
	running bool
}

// NewDriver returns a stopped driver. A nil clock means the real clock.
func NewDriver(clock clockwork.Clock, interval time.Duration, onTick TickFunc) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}
}

// Start cancels any running ticker and begins ticking for pollID.
func (d *Driver) Start(pollID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		d.stopLocked()
		log.Debug().Str("poll_id", d.pollID.String()).Msg("replaced existing poll ticker")
	}

	ticker := d.clock.NewTicker(d.interval)
	stopCh := make(chan struct{})
	d.ticker = ticker
	d.stopCh = stopCh
	d.pollID = pollID
	d.running = true

	go func(id uuid.UUID, t clockwork.Ticker, stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			case <-t.Chan():
				// A stop may race with a pending tick; prefer the stop.
				select {
				case <-stop:
					return
				default:
				}
				d.onTick(id)
			}
		}
	}(pollID, ticker, stopCh)

	log.Debug().
		Str("poll_id", pollID.String()).
		Dur("interval", d.interval).
		Msg("started poll ticker")
}

// Stop cancels the running ticker. Stopping a stopped driver is a no-op.
// It does not wait for an in-flight tick callback to return.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.stopLocked()
	log.Debug().Str("poll_id", d.pollID.String()).Msg("stopped poll ticker")
}

func (d *Driver) stopLocked() {
	d.ticker.Stop()
	close(d.stopCh)
	d.ticker = nil
	d.stopCh = nil
	d.running = false
}
