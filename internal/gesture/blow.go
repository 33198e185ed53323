// Package gesture decides when a stream of mouth landmarks amounts to a
// "blow" at the candles.
package gesture

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ayusman/blowout/internal/detector"
)

// Upper bounds of a Tuning. Normalize clamps to them and Validate rejects
// values beyond them.
const (
	MaxHistorySize = 120
	MaxDebounce    = 10 * time.Second
)

// ErrInvalidTuning is returned by Validate.
var ErrInvalidTuning = errors.New("invalid tuning")

// Tuning holds the empirically tuned thresholds of the blow heuristic.
type Tuning struct {
	// HistorySize is the number of mouth-opening samples kept.
	HistorySize int
	// BaselineWindow is the number of trailing samples averaged into the baseline.
	BaselineWindow int
	// RiseFactor is how far above the baseline the opening must be.
	RiseFactor float64
	// MinOpen is the absolute minimum lip gap, in normalized units.
	MinOpen float64
	// MinWidth is the minimum corner-to-corner mouth width.
	MinWidth float64
	// Debounce suppresses further blows after one fires.
	Debounce time.Duration
}

type tuningJSON struct {
	HistorySize    int     `json:"history_size"`
	BaselineWindow int     `json:"baseline_window"`
	RiseFactor     float64 `json:"rise_factor"`
	MinOpen        float64 `json:"min_open"`
	MinWidth       float64 `json:"min_width"`
	DebounceMs     int64   `json:"debounce_ms"`
}

// MarshalJSON encodes the debounce window in milliseconds.
func (t Tuning) MarshalJSON() ([]byte, error) {
	return json.Marshal(tuningJSON{
		HistorySize:    t.HistorySize,
		BaselineWindow: t.BaselineWindow,
		RiseFactor:     t.RiseFactor,
		MinOpen:        t.MinOpen,
		MinWidth:       t.MinWidth,
		DebounceMs:     t.Debounce.Milliseconds(),
	})
}

// UnmarshalJSON decodes a tuning written by MarshalJSON.
func (t *Tuning) UnmarshalJSON(data []byte) error {
	var v tuningJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.DebounceMs < 0 || v.DebounceMs > math.MaxInt64/int64(time.Millisecond) {
		return fmt.Errorf("%w: debounce_ms out of range", ErrInvalidTuning)
	}
	*t = Tuning{
		HistorySize:    v.HistorySize,
		BaselineWindow: v.BaselineWindow,
		RiseFactor:     v.RiseFactor,
		MinOpen:        v.MinOpen,
		MinWidth:       v.MinWidth,
		Debounce:       time.Duration(v.DebounceMs) * time.Millisecond,
	}
	return nil
}

// DefaultTuning returns the thresholds the greeting ships with.
func DefaultTuning() Tuning {
	return Tuning{
		HistorySize:    15,
		BaselineWindow: 5,
		RiseFactor:     1.3,
		MinOpen:        0.02,
		MinWidth:       0.025,
		Debounce:       300 * time.Millisecond,
	}
}

// Validate checks a tuning supplied by an operator. Zero fields are
// accepted and mean "use the default".
func (t Tuning) Validate() error {
	switch {
	case t.HistorySize < 0 || t.HistorySize > MaxHistorySize:
		return fmt.Errorf("%w: history_size must be between 1 and %d", ErrInvalidTuning, MaxHistorySize)
	case t.BaselineWindow < 0 || t.BaselineWindow > MaxHistorySize:
		return fmt.Errorf("%w: baseline_window must be between 1 and %d", ErrInvalidTuning, MaxHistorySize)
	case t.HistorySize > 0 && t.BaselineWindow > t.HistorySize:
		return fmt.Errorf("%w: baseline_window must not exceed history_size", ErrInvalidTuning)
	case t.RiseFactor != 0 && t.RiseFactor < 1:
		return fmt.Errorf("%w: rise_factor must be at least 1", ErrInvalidTuning)
	case t.MinOpen < 0 || t.MinOpen > 1:
		return fmt.Errorf("%w: min_open must be between 0 and 1", ErrInvalidTuning)
	case t.MinWidth < 0 || t.MinWidth > 1:
		return fmt.Errorf("%w: min_width must be between 0 and 1", ErrInvalidTuning)
	case t.Debounce < 0 || t.Debounce > MaxDebounce:
		return fmt.Errorf("%w: debounce_ms must be between 1 and %d", ErrInvalidTuning, MaxDebounce.Milliseconds())
	}
	return nil
}

// Normalize fills zero or negative fields from DefaultTuning and clamps
// the history and debounce to their upper bounds.
func (t Tuning) Normalize() Tuning {
	d := DefaultTuning()
	if t.HistorySize <= 0 {
		t.HistorySize = d.HistorySize
	}
	if t.HistorySize > MaxHistorySize {
		t.HistorySize = MaxHistorySize
	}
	if t.BaselineWindow <= 0 {
		t.BaselineWindow = d.BaselineWindow
	}
	if t.BaselineWindow > t.HistorySize {
		t.BaselineWindow = t.HistorySize
	}
	if t.RiseFactor <= 0 {
		t.RiseFactor = d.RiseFactor
	}
	if t.MinOpen <= 0 {
		t.MinOpen = d.MinOpen
	}
	if t.MinWidth <= 0 {
		t.MinWidth = d.MinWidth
	}
	if t.Debounce <= 0 {
		t.Debounce = d.Debounce
	}
	if t.Debounce > MaxDebounce {
		t.Debounce = MaxDebounce
	}
	return t
}

// Reading describes what the detector measured for one frame.
type Reading struct {
	Open     float64 `json:"open"`
	Width    float64 `json:"width"`
	Baseline float64 `json:"baseline"`
	Blowing  bool    `json:"blowing"`
	Fired    bool    `json:"fired"`
}

// BlowDetector keeps a rolling history of mouth openings and reports a
// blow when the mouth opens sharply above its recent baseline.
type BlowDetector struct {
	tuning   Tuning
	history  []float64
	lastBlow time.Time
	mu       sync.Mutex
}

// NewBlowDetector creates a detector with the given tuning.
func NewBlowDetector(t Tuning) *BlowDetector {
	t = t.Normalize()
	return &BlowDetector{
		tuning:  t,
		history: make([]float64, 0, t.HistorySize),
	}
}

// Tuning returns the thresholds in use.
func (d *BlowDetector) Tuning() Tuning {
	return d.tuning
}

// Observe records one frame's mouth and reports whether it fires a blow.
// Frames need not arrive at a uniform rate; now is the frame's time.
func (d *BlowDetector) Observe(m detector.Mouth, now time.Time) Reading {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := Reading{
		Open:  math.Abs(m.TopLip.Y - m.BottomLip.Y),
		Width: math.Abs(m.LeftCorner.X - m.RightCorner.X),
	}

	if len(d.history) >= d.tuning.HistorySize {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.tuning.HistorySize-1]
	}
	d.history = append(d.history, r.Open)

	r.Baseline = r.Open
	if len(d.history) > d.tuning.BaselineWindow {
		var sum float64
		for _, v := range d.history[len(d.history)-d.tuning.BaselineWindow:] {
			sum += v
		}
		r.Baseline = sum / float64(d.tuning.BaselineWindow)
	}

	r.Blowing = r.Open > r.Baseline*d.tuning.RiseFactor &&
		r.Open > d.tuning.MinOpen &&
		r.Width > d.tuning.MinWidth

	if r.Blowing && (d.lastBlow.IsZero() || now.Sub(d.lastBlow) > d.tuning.Debounce) {
		d.lastBlow = now
		r.Fired = true
	}

	return r
}

// ObserveFace is Observe for a whole face. A nil face, or one missing any
// mouth landmark, leaves the detector untouched.
func (d *BlowDetector) ObserveFace(f *detector.FaceLandmarks, now time.Time) (Reading, bool) {
	m, ok := detector.MouthOf(f)
	if !ok {
		return Reading{}, false
	}
	return d.Observe(m, now), true
}

// History returns a copy of the recorded openings, oldest first.
func (d *BlowDetector) History() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]float64, len(d.history))
	copy(out, d.history)
	return out
}

// Clear drops the history and the debounce window.
func (d *BlowDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = d.history[:0]
	d.lastBlow = time.Time{}
}
