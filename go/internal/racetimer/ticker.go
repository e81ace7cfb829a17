package racetimer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTickInterval is the publish cadence for smooth display updates.
const DefaultTickInterval = 50 * time.Millisecond

// TickerState is the lifecycle of the background publisher
type TickerState int

const (
	TickerIdle TickerState = iota
	TickerRunning
	TickerStopped
)

func (s TickerState) String() string {
	switch s {
	case TickerIdle:
		return "idle"
	case TickerRunning:
		return "running"
	case TickerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Ticker periodically integrates the engine and publishes a snapshot.
// At most one loop is active at a time.
type Ticker struct {
	engine     *Engine
	publisher  Publisher
	clock      Clock
	interval   time.Duration
	instanceID string

	mu      sync.Mutex
	state   TickerState
	running *atomic.Bool // flag of the active loop
	done    chan struct{}

	skipped atomic.Uint64
}

// NewTicker creates an idle ticker. A zero interval uses DefaultTickInterval.
func NewTicker(engine *Engine, publisher Publisher, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if publisher == nil {
		publisher = MultiPublisher(nil)
	}
	return &Ticker{
		engine:     engine,
		publisher:  publisher,
		clock:      engine.clock,
		interval:   interval,
		instanceID: uuid.New().String()[:8], // short ID for logging
		state:      TickerIdle,
	}
}

// Start spawns the tick loop. It returns false if a loop is already running.
func (t *Ticker) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TickerRunning && t.running != nil && t.running.Load() {
		return false
	}

	// Create the ticker before returning so a fake clock sees it immediately.
	ticker := t.clock.NewTicker(t.interval)
	flag := &atomic.Bool{}
	flag.Store(true)
	done := make(chan struct{})

	t.running = flag
	t.done = done
	t.state = TickerRunning

	go t.loop(ctx, ticker.Chan(), ticker.Stop, flag, done)

	log.Info().
		Str("instance", t.instanceID).
		Dur("interval", t.interval).
		Msg("race timer ticker started")
	return true
}

// Stop asks the loop to exit at the next tick boundary. It does not wait.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running != nil {
		t.running.Store(false)
	}
}

// State returns the current lifecycle state
func (t *Ticker) State() TickerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Skipped returns how many ticks were dropped because integrating them would
// have overflowed the state.
func (t *Ticker) Skipped() uint64 {
	return t.skipped.Load()
}

// Done returns a channel closed when the most recently started loop exits.
// It returns nil for an idle ticker.
func (t *Ticker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Ticker) loop(ctx context.Context, ch <-chan time.Time, stopTicker func(), flag *atomic.Bool, done chan struct{}) {
	defer func() {
		stopTicker()
		t.mu.Lock()
		if t.running == flag {
			t.state = TickerStopped
		}
		t.mu.Unlock()
		close(done)
		log.Info().Str("instance", t.instanceID).Msg("race timer ticker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			flag.Store(false)
			return
		case <-ch:
		}

		if !flag.Load() {
			return
		}

		snap, err := t.engine.Tick()
		if errors.Is(err, ErrNonFiniteState) {
			// The state was rolled back; a reset or a saner speed recovers.
			t.skipped.Add(1)
			log.Warn().
				Err(err).
				Str("instance", t.instanceID).
				Msg("skipping race timer tick")
			continue
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("instance", t.instanceID).
				Msg("race timer tick failed, halting updates")
			t.publisher.Publish(NewFaultEvent(err, t.clock.Now()))
			flag.Store(false)
			return
		}

		t.publisher.Publish(NewUpdateEvent(snap, t.clock.Now()))
	}
}
