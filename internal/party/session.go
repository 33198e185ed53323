// Package party ties a birthday session together: the greeting, the blow
// detector, the candles and the celebration that follows.
package party

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/blowout/internal/cake"
	"github.com/ayusman/blowout/internal/celebration"
	"github.com/ayusman/blowout/internal/clock"
	"github.com/ayusman/blowout/internal/detector"
	"github.com/ayusman/blowout/internal/gesture"
)

// MaxNameLength is the longest accepted name, in characters.
const MaxNameLength = 15

var (
	ErrBlankName          = errors.New("name is blank")
	ErrNameTooLong        = errors.New("name is longer than 15 characters")
	ErrAlreadyCelebrating = errors.New("session already has a name")
	ErrSessionClosed      = errors.New("session is closed")
)

// State is the top-level phase of a session.
type State string

const (
	StateAwaitingName State = "awaiting_name"
	StateCelebrating  State = "celebrating"
)

// FaceSource pushes faces into a session from outside the browser, such as
// a local camera. Start must not call onFace synchronously.
type FaceSource interface {
	Start(onFace func(*detector.FaceLandmarks)) error
	Stop() error
}

// Options configures a new session.
type Options struct {
	Tuning    gesture.Tuning
	Schedule  celebration.Schedule
	Candles   []cake.Candle
	Signature string
	Clock     clock.Clock
	Source    FaceSource
}

// DefaultOptions returns the stock tuning and schedule on the real clock.
func DefaultOptions() Options {
	return Options{
		Tuning:   gesture.DefaultTuning(),
		Schedule: celebration.DefaultSchedule(),
		Clock:    clock.Real(),
	}
}

// Session is one guest's birthday. Operations are serialized; subscribers
// are called from whichever goroutine caused the change and must not call
// back into the session's mutating methods.
type Session struct {
	id        string
	signature string
	clock     clock.Clock
	source    FaceSource

	blow    *gesture.BlowDetector
	candles *cake.Cake
	effect  *celebration.Effect

	// opMu serializes SubmitName, ObserveFace, Reset and Close.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	name    string
	closed  bool
	started bool

	lmu       sync.Mutex
	nextSub   int
	listeners map[int]func(Event)
}

// NewSession creates a session awaiting a name.
func NewSession(id string, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	s := &Session{
		id:        id,
		signature: strings.TrimSpace(opts.Signature),
		clock:     opts.Clock,
		source:    opts.Source,
		blow:      gesture.NewBlowDetector(opts.Tuning),
		candles:   cake.New(opts.Candles...),
		effect:    celebration.New(opts.Clock, opts.Schedule),
		state:     StateAwaitingName,
		listeners: make(map[int]func(Event)),
	}

	s.candles.OnChange(func(c []cake.Candle) {
		s.emit(Event{Type: EventCandles, Candles: c})
	})
	s.effect.OnBurst(func(f celebration.Firing) {
		s.emit(Event{
			Type:     EventBurst,
			Firing:   f.Index,
			OffsetMs: f.Offset.Milliseconds(),
			Bursts:   f.Bursts,
		})
	})
	s.effect.OnMessage(func() {
		s.emit(Event{Type: EventMessage, Message: s.Greeting()})
	})
	s.effect.OnStateChange(func(st celebration.State) {
		log.Debug().Str("session", s.id).Str("celebration", string(st)).Msg("Celebration state changed")
		s.emit(Event{Type: EventCelebration, Celebration: st})
	})

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers fn for every event and returns a function that
// removes it.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.lmu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// SubmitName validates the name and moves the session to Celebrating. The
// name is trimmed; blank names and names over MaxNameLength are rejected.
func (s *Session) SubmitName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}

	s.opMu.Lock()
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		s.opMu.Unlock()
		return ErrSessionClosed
	case s.state != StateAwaitingName:
		s.mu.Unlock()
		s.opMu.Unlock()
		return ErrAlreadyCelebrating
	}
	s.name = name
	s.state = StateCelebrating
	s.mu.Unlock()
	s.opMu.Unlock()

	log.Info().Str("session", s.id).Str("name", name).Msg("Party started")
	s.emitSnapshot()
	s.startSource()
	return nil
}

// ObserveFace feeds one frame's face to the blow detector. Faces are only
// considered while celebrating. It returns the reading and whether the
// face carried a usable mouth.
func (s *Session) ObserveFace(f *detector.FaceLandmarks) (gesture.Reading, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	active := s.state == StateCelebrating && !s.closed
	s.mu.RUnlock()
	if !active {
		return gesture.Reading{}, false
	}

	reading, ok := s.blow.ObserveFace(f, s.clock.Now())
	if !ok || !reading.Fired {
		return reading, ok
	}

	log.Debug().
		Str("session", s.id).
		Float64("open", reading.Open).
		Float64("baseline", reading.Baseline).
		Float64("width", reading.Width).
		Msg("Blow detected")
	r := reading
	s.emit(Event{Type: EventBlow, Reading: &r})

	s.candles.ApplyBlow()
	if s.candles.AllBlownOut() && s.effect.Trigger() {
		log.Info().Str("session", s.id).Msg("All candles out, celebrating")
	}
	return reading, true
}

// Reset relights the candles, clears the detector history and re-arms
// the celebration. The name is kept.
func (s *Session) Reset() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	s.effect.Reset()
	s.blow.Clear()
	s.candles.Reset()
	log.Info().Str("session", s.id).Msg("Party reset")
	s.emitSnapshot()
}

// Close stops the face source and any pending celebration timers. Close
// is idempotent.
func (s *Session) Close() {
	s.opMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.opMu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.started = false
	s.mu.Unlock()
	s.effect.Stop()
	s.opMu.Unlock()

	if started && s.source != nil {
		if err := s.source.Stop(); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("Failed to stop face source")
		}
	}

	s.lmu.Lock()
	s.listeners = make(map[int]func(Event))
	s.lmu.Unlock()
}

// Greeting returns the celebration message, or "" before a name is set.
func (s *Session) Greeting() string {
	s.mu.RLock()
	name := s.name
	s.mu.RUnlock()
	return greeting(name, s.signature)
}

// Snapshot returns the full visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	state, name := s.state, s.name
	s.mu.RUnlock()

	return Snapshot{
		ID:           s.id,
		State:        state,
		Name:         strings.ToUpper(name),
		Candles:      s.candles.Candles(),
		AllBlownOut:  s.candles.AllBlownOut(),
		Celebration:  s.effect.State(),
		MessageShown: s.effect.MessageShown(),
		Message:      greeting(name, s.signature),
		Signature:    s.signature,
	}
}

func (s *Session) startSource() {
	if s.source == nil {
		return
	}
	if err := s.source.Start(func(f *detector.FaceLandmarks) { s.ObserveFace(f) }); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("Face source unavailable, waiting for browser landmarks")
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.started = !closed
	s.mu.Unlock()

	if closed {
		_ = s.source.Stop()
	}
}

func (s *Session) emitSnapshot() {
	snap := s.Snapshot()
	s.emit(Event{Type: EventSnapshot, Snapshot: &snap})
}

func (s *Session) emit(e Event) {
	e.SessionID = s.id

	s.lmu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

func greeting(name, signature string) string {
	if name == "" {
		return ""
	}
	msg := "HAPPY BIRTHDAY " + strings.ToUpper(name) + "!"
	if signature != "" {
		msg += "\nFROM " + strings.ToUpper(signature)
	}
	return msg
}
