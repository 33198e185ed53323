// Package celebration runs the time-boxed confetti burst and message
// reveal that follow the last candle going out.
package celebration

import (
	"sync"
	"time"

	"github.com/ayusman/blowout/internal/clock"
)

// State is the lifecycle of a celebration.
type State string

const (
	StateIdle      State = "idle"
	StateTriggered State = "triggered"
	StateExpired   State = "expired"
)

// Palette is the neon color set of every burst.
var Palette = []string{"#ff00de", "#00ffff", "#ffd700"}

// Origin is a burst origin relative to the viewport (0..1 on both axes).
type Origin struct {
	X float64 `json:"x"`
	Y float64 `json:"y,omitempty"`
}

// Burst is one fire-and-forget particle burst.
type Burst struct {
	ParticleCount int      `json:"particle_count"`
	Angle         float64  `json:"angle"`
	Spread        float64  `json:"spread"`
	Origin        Origin   `json:"origin"`
	Colors        []string `json:"colors"`
}

// Firing is a group of bursts emitted together.
type Firing struct {
	Index  int           `json:"index"`
	Offset time.Duration `json:"-"`
	Bursts []Burst       `json:"bursts"`
}

// Schedule controls the cadence of the celebration.
type Schedule struct {
	// Interval between firings; the first fires at trigger time.
	Interval time.Duration
	// Duration after which the celebration expires.
	Duration time.Duration
	// MessageDelay is when the greeting is revealed, relative to trigger.
	MessageDelay time.Duration
	// Bursts emitted on every firing.
	Bursts []Burst
}

// DefaultSchedule fires two mirrored bursts from the left and right edges
// every 200ms for one second and reveals the message after 500ms.
func DefaultSchedule() Schedule {
	return Schedule{
		Interval:     200 * time.Millisecond,
		Duration:     1000 * time.Millisecond,
		MessageDelay: 500 * time.Millisecond,
		Bursts: []Burst{
			{ParticleCount: 3, Angle: 60, Spread: 45, Origin: Origin{X: 0}, Colors: Palette},
			{ParticleCount: 3, Angle: 120, Spread: 45, Origin: Origin{X: 1}, Colors: Palette},
		},
	}
}

// Effect is the Idle → Triggered → Expired state machine. It triggers at
// most once until Reset.
type Effect struct {
	// notifyMu is held while callbacks run. Reset and Stop take it first,
	// so no callback of an earlier celebration is delivered after they
	// return.
	notifyMu sync.Mutex

	mu           sync.Mutex
	clock        clock.Clock
	schedule     Schedule
	state        State
	celebrated   bool
	messageShown bool
	triggeredAt  time.Time
	generation   int
	timers       []clock.Timer

	onBurst   []func(Firing)
	onMessage []func()
	onState   []func(State)
}

// New creates an idle effect.
func New(c clock.Clock, s Schedule) *Effect {
	if c == nil {
		c = clock.Real()
	}
	return &Effect{
		clock:    c,
		schedule: s,
		state:    StateIdle,
	}
}

// OnBurst registers a callback for every firing.
func (e *Effect) OnBurst(fn func(Firing)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBurst = append(e.onBurst, fn)
}

// OnMessage registers a callback for the message reveal.
func (e *Effect) OnMessage(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = append(e.onMessage, fn)
}

// OnStateChange registers a callback for state transitions.
func (e *Effect) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = append(e.onState, fn)
}

// Trigger starts the celebration. It returns false, doing nothing, if
// the celebration already ran since the last Reset.
func (e *Effect) Trigger() bool {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.celebrated || e.state != StateIdle {
		e.mu.Unlock()
		return false
	}

	e.celebrated = true
	e.state = StateTriggered
	e.triggeredAt = e.clock.Now()
	e.generation++
	gen := e.generation

	index := 1
	for at := e.schedule.Interval; e.schedule.Interval > 0 && at < e.schedule.Duration; at += e.schedule.Interval {
		i, offset := index, at
		e.timers = append(e.timers, e.clock.AfterFunc(at, func() { e.fire(gen, i, offset) }))
		index++
	}
	e.timers = append(e.timers,
		e.clock.AfterFunc(e.schedule.MessageDelay, func() { e.reveal(gen) }),
		e.clock.AfterFunc(e.schedule.Duration, func() { e.expire(gen) }),
	)

	stateFns, burstFns := e.onState, e.onBurst
	first := e.firingLocked(0, 0)
	e.mu.Unlock()

	for _, fn := range stateFns {
		fn(StateTriggered)
	}
	for _, fn := range burstFns {
		fn(first)
	}
	return true
}

// Reset cancels pending bursts and returns to Idle, re-arming Trigger.
func (e *Effect) Reset() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	e.stopTimersLocked()
	e.generation++
	e.celebrated = false
	e.messageShown = false
	changed := e.state != StateIdle
	e.state = StateIdle
	stateFns := e.onState
	e.mu.Unlock()

	if changed {
		for _, fn := range stateFns {
			fn(StateIdle)
		}
	}
}

// Stop cancels pending timers without changing state. Used when the
// owning session goes away.
func (e *Effect) Stop() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimersLocked()
	e.generation++
}

// State returns the current state.
func (e *Effect) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Celebrated reports whether the celebration has fired since the last Reset.
func (e *Effect) Celebrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.celebrated
}

// TriggeredAt returns when the current celebration started, or the zero
// time if it never did.
func (e *Effect) TriggeredAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.celebrated {
		return time.Time{}
	}
	return e.triggeredAt
}

// MessageShown reports whether the greeting has been revealed.
func (e *Effect) MessageShown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messageShown
}

func (e *Effect) fire(gen, index int, offset time.Duration) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if gen != e.generation || e.state != StateTriggered {
		e.mu.Unlock()
		return
	}
	firing := e.firingLocked(index, offset)
	fns := e.onBurst
	e.mu.Unlock()

	for _, fn := range fns {
		fn(firing)
	}
}

func (e *Effect) reveal(gen int) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if gen != e.generation || e.messageShown {
		e.mu.Unlock()
		return
	}
	e.messageShown = true
	fns := e.onMessage
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (e *Effect) expire(gen int) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if gen != e.generation || e.state != StateTriggered {
		e.mu.Unlock()
		return
	}
	e.state = StateExpired
	fns := e.onState
	e.mu.Unlock()

	for _, fn := range fns {
		fn(StateExpired)
	}
}

func (e *Effect) firingLocked(index int, offset time.Duration) Firing {
	bursts := make([]Burst, len(e.schedule.Bursts))
	copy(bursts, e.schedule.Bursts)
	return Firing{Index: index, Offset: offset, Bursts: bursts}
}

func (e *Effect) stopTimersLocked() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}
