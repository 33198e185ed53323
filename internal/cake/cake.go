// Package cake holds the lit/unlit state of the birthday candles.
package cake

import "sync"

// Candle is a single candle on the cake. X and Y are percentages of the
// cake box, measured from its top-left corner.
type Candle struct {
	ID             int     `json:"id"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Lit            bool    `json:"lit"`
	FlameIntensity float64 `json:"flame_intensity"`
}

// DefaultCandles returns the five candles every session starts with.
func DefaultCandles() []Candle {
	return []Candle{
		{ID: 1, X: 20, Y: 10, Lit: true, FlameIntensity: 1},
		{ID: 2, X: 40, Y: 5, Lit: true, FlameIntensity: 1},
		{ID: 3, X: 60, Y: 5, Lit: true, FlameIntensity: 1},
		{ID: 4, X: 80, Y: 10, Lit: true, FlameIntensity: 1},
		{ID: 5, X: 50, Y: 15, Lit: true, FlameIntensity: 1},
	}
}

// Cake is a fixed, ordered set of candles. A blow puts out every candle
// at once; there is no per-candle extinguishing.
type Cake struct {
	mu       sync.RWMutex
	candles  []Candle
	onChange []func([]Candle)
}

// New creates a cake with the given candles, all of which are relit.
// With no candles it uses DefaultCandles.
func New(candles ...Candle) *Cake {
	if len(candles) == 0 {
		candles = DefaultCandles()
	}

	c := &Cake{candles: make([]Candle, len(candles))}
	copy(c.candles, candles)
	for i := range c.candles {
		c.candles[i].Lit = true
	}
	return c
}

// OnChange registers a callback invoked with a copy of the candles after
// every mutation that changed at least one candle.
func (c *Cake) OnChange(fn func([]Candle)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// ApplyBlow puts out every candle. It is idempotent and reports whether
// this call made the cake go from having a lit candle to all blown out.
func (c *Cake) ApplyBlow() bool {
	return c.setAll(false)
}

// Reset relights every candle.
func (c *Cake) Reset() {
	c.setAll(true)
}

// AllBlownOut reports whether every candle is unlit.
func (c *Cake) AllBlownOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return allOut(c.candles)
}

// LitCount returns the number of candles still burning.
func (c *Cake) LitCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, cd := range c.candles {
		if cd.Lit {
			n++
		}
	}
	return n
}

// Candles returns a copy of the candles in their fixed order.
func (c *Cake) Candles() []Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cake) setAll(lit bool) bool {
	c.mu.Lock()
	wasOut := allOut(c.candles)
	changed := false
	for i := range c.candles {
		if c.candles[i].Lit != lit {
			c.candles[i].Lit = lit
			changed = true
		}
	}
	becameOut := !wasOut && allOut(c.candles)
	snapshot, listeners := c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	if changed {
		notify(listeners, snapshot)
	}
	return becameOut
}

func (c *Cake) snapshotLocked() []Candle {
	out := make([]Candle, len(c.candles))
	copy(out, c.candles)
	return out
}

// allOut is vacuously false for a cake without candles.
func allOut(candles []Candle) bool {
	if len(candles) == 0 {
		return false
	}
	for _, cd := range candles {
		if cd.Lit {
			return false
		}
	}
	return true
}

func notify(listeners []func([]Candle), candles []Candle) {
	for _, fn := range listeners {
		fn(candles)
	}
}
