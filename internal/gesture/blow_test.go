package gesture

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/blowout/internal/detector"
)

var t0 = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

// mouth builds a mouth whose opening and width are exactly open and width.
func mouth(open, width float64) detector.Mouth {
	return detector.Mouth{
		TopLip:      detector.Point3D{X: 0.5, Y: 0},
		BottomLip:   detector.Point3D{X: 0.5, Y: open},
		LeftCorner:  detector.Point3D{X: 0, Y: 0.5},
		RightCorner: detector.Point3D{X: width, Y: 0.5},
	}
}

// warmUp feeds n resting frames 30ms apart and returns the next frame time.
func warmUp(t *testing.T, d *BlowDetector, n int, open float64) time.Time {
	t.Helper()
	now := t0
	for i := 0; i < n; i++ {
		r := d.Observe(mouth(open, 0.03), now)
		require.False(t, r.Fired, "warm-up frame %d fired", i)
		now = now.Add(30 * time.Millisecond)
	}
	return now
}

func TestBlowDetector_History(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())

	for i := 1; i <= 40; i++ {
		open := float64(i) / 1000
		d.Observe(mouth(open, 0.01), t0.Add(time.Duration(i)*time.Millisecond))

		h := d.History()
		assert.LessOrEqual(t, len(h), 15)
		assert.Equal(t, open, h[len(h)-1], "most recent sample should be last")
	}

	h := d.History()
	require.Len(t, h, 15)
	assert.Equal(t, 0.026, h[0], "oldest samples should be evicted first")
}

func TestBlowDetector_Baseline(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())

	t.Run("uses the current sample until history exceeds the window", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			r := d.Observe(mouth(0.01*float64(i+1), 0.03), t0)
			assert.Equal(t, r.Open, r.Baseline)
		}
	})

	t.Run("averages the last five samples afterwards", func(t *testing.T) {
		r := d.Observe(mouth(0.06, 0.03), t0)
		// last five: 0.02 0.03 0.04 0.05 0.06
		assert.InDelta(t, 0.04, r.Baseline, 1e-12)
	})
}

func TestBlowDetector_TriggerConditions(t *testing.T) {
	tests := []struct {
		name    string
		resting float64
		open    float64
		width   float64
		want    bool
	}{
		{
			name:    "all three conditions hold",
			resting: 0.0125,
			open:    0.05,
			width:   0.03,
			want:    true,
		},
		{
			name:    "mouth too narrow",
			resting: 0.0125,
			open:    0.05,
			width:   0.02,
			want:    false,
		},
		{
			name:    "opening below absolute threshold",
			resting: 0.005,
			open:    0.015,
			width:   0.03,
			want:    false,
		},
		{
			name:    "no rise above baseline",
			resting: 0.04,
			open:    0.05,
			width:   0.03,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBlowDetector(DefaultTuning())
			now := warmUp(t, d, 5, tt.resting)

			r := d.Observe(mouth(tt.open, tt.width), now)

			assert.Equal(t, tt.want, r.Fired)
			assert.Equal(t, tt.want, r.Blowing)
		})
	}
}

func TestBlowDetector_ScenarioReading(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())
	now := warmUp(t, d, 5, 0.0125)

	r := d.Observe(mouth(0.05, 0.03), now)

	assert.InDelta(t, 0.05, r.Open, 1e-12)
	assert.InDelta(t, 0.02, r.Baseline, 1e-12)
	assert.InDelta(t, 0.03, r.Width, 1e-12)
	assert.True(t, r.Fired)
}

func TestBlowDetector_NoSpuriousFireWhileWarmingUp(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())

	now := t0
	for _, open := range []float64{0.03, 0.06, 0.09, 0.12, 0.15} {
		r := d.Observe(mouth(open, 0.03), now)
		assert.False(t, r.Fired, "open=%v fired before the baseline existed", open)
		now = now.Add(time.Second)
	}

	r := d.Observe(mouth(0.5, 0.03), now)
	assert.True(t, r.Fired)
}

func TestBlowDetector_Debounce(t *testing.T) {
	t.Run("qualifying frames within the window fire once", func(t *testing.T) {
		d := NewBlowDetector(DefaultTuning())
		now := warmUp(t, d, 5, 0.0125)

		fires := 0
		for i, open := range []float64{0.05, 0.08} {
			r := d.Observe(mouth(open, 0.03), now.Add(time.Duration(i)*150*time.Millisecond))
			require.True(t, r.Blowing)
			if r.Fired {
				fires++
			}
		}
		assert.Equal(t, 1, fires)

		r := d.Observe(mouth(0.12, 0.03), now.Add(450*time.Millisecond))
		assert.True(t, r.Fired, "blow after the window should fire again")
	})

	t.Run("window is exclusive of its end", func(t *testing.T) {
		d := NewBlowDetector(DefaultTuning())
		now := warmUp(t, d, 5, 0.0125)

		first := d.Observe(mouth(0.05, 0.03), now)
		require.True(t, first.Fired)

		second := d.Observe(mouth(0.08, 0.03), now.Add(300*time.Millisecond))
		assert.True(t, second.Blowing)
		assert.False(t, second.Fired)
	})
}

func TestBlowDetector_ObserveFace(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())

	t.Run("no face", func(t *testing.T) {
		_, ok := d.ObserveFace(nil, t0)
		assert.False(t, ok)
		assert.Empty(t, d.History())
	})

	t.Run("missing landmark", func(t *testing.T) {
		face := detector.MouthFace(mouth(0.05, 0.03))
		delete(face.Points, detector.MouthRightCorner)

		_, ok := d.ObserveFace(&face, t0)
		assert.False(t, ok)
		assert.Empty(t, d.History())
	})

	t.Run("complete face", func(t *testing.T) {
		face := detector.MouthFace(mouth(0.05, 0.03))

		r, ok := d.ObserveFace(&face, t0)
		require.True(t, ok)
		assert.InDelta(t, 0.05, r.Open, 1e-12)
		assert.Len(t, d.History(), 1)
	})
}

func TestBlowDetector_Clear(t *testing.T) {
	d := NewBlowDetector(DefaultTuning())
	now := warmUp(t, d, 5, 0.0125)
	require.True(t, d.Observe(mouth(0.05, 0.03), now).Fired)

	d.Clear()
	assert.Empty(t, d.History())

	now = warmUp(t, d, 5, 0.0125)
	assert.True(t, d.Observe(mouth(0.05, 0.03), now).Fired)
}

func TestTuning_Normalize(t *testing.T) {
	assert.Equal(t, DefaultTuning(), Tuning{}.Normalize())

	custom := Tuning{HistorySize: 3, BaselineWindow: 5, RiseFactor: 2}.Normalize()
	assert.Equal(t, 3, custom.HistorySize)
	assert.Equal(t, 3, custom.BaselineWindow, "window should not exceed history")
	assert.Equal(t, 2.0, custom.RiseFactor)
	assert.Equal(t, 300*time.Millisecond, custom.Debounce)
}

func TestTuning_NormalizeClampsUpperBounds(t *testing.T) {
	got := Tuning{HistorySize: 4_000_000_000, BaselineWindow: 4_000_000_000, Debounce: time.Hour}.Normalize()

	assert.Equal(t, MaxHistorySize, got.HistorySize)
	assert.Equal(t, MaxHistorySize, got.BaselineWindow)
	assert.Equal(t, MaxDebounce, got.Debounce)

	d := NewBlowDetector(Tuning{HistorySize: 4_000_000_000})
	assert.Equal(t, MaxHistorySize, cap(d.history))
}

func TestTuning_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tuning  Tuning
		wantErr bool
	}{
		{name: "zero means defaults", tuning: Tuning{}},
		{name: "defaults", tuning: DefaultTuning()},
		{name: "largest history", tuning: Tuning{HistorySize: MaxHistorySize, BaselineWindow: MaxHistorySize}},
		{name: "history too large", tuning: Tuning{HistorySize: 4_000_000_000}, wantErr: true},
		{name: "negative history", tuning: Tuning{HistorySize: -1}, wantErr: true},
		{name: "window too large", tuning: Tuning{BaselineWindow: MaxHistorySize + 1}, wantErr: true},
		{name: "window over history", tuning: Tuning{HistorySize: 5, BaselineWindow: 6}, wantErr: true},
		{name: "rise factor below one", tuning: Tuning{RiseFactor: 0.5}, wantErr: true},
		{name: "min open out of range", tuning: Tuning{MinOpen: 2}, wantErr: true},
		{name: "negative min width", tuning: Tuning{MinWidth: -0.1}, wantErr: true},
		{name: "debounce too long", tuning: Tuning{Debounce: time.Hour}, wantErr: true},
		{name: "longest debounce", tuning: Tuning{Debounce: MaxDebounce}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tuning.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTuning)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTuning_UnmarshalRejectsOverflowingDebounce(t *testing.T) {
	var decoded Tuning
	err := json.Unmarshal([]byte(`{"debounce_ms": 9223372036854775807}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidTuning)
}

func TestTuning_JSON(t *testing.T) {
	data, err := json.Marshal(DefaultTuning())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"history_size": 15,
		"baseline_window": 5,
		"rise_factor": 1.3,
		"min_open": 0.02,
		"min_width": 0.025,
		"debounce_ms": 300
	}`, string(data))

	var decoded Tuning
	require.NoError(t, json.Unmarshal([]byte(`{"debounce_ms": 450, "min_open": 0.03}`), &decoded))
	assert.Equal(t, 450*time.Millisecond, decoded.Debounce)
	assert.Equal(t, 0.03, decoded.MinOpen)
}
