package party

import (
	"github.com/ayusman/blowout/internal/cake"
	"github.com/ayusman/blowout/internal/celebration"
	"github.com/ayusman/blowout/internal/gesture"
)

// EventType names a session event.
type EventType string

const (
	EventSnapshot    EventType = "snapshot"
	EventCandles     EventType = "candles"
	EventBlow        EventType = "blow"
	EventBurst       EventType = "burst"
	EventMessage     EventType = "message"
	EventCelebration EventType = "celebration"
)

// Event is pushed to session subscribers whenever something visible changes.
type Event struct {
	Type        EventType           `json:"type"`
	SessionID   string              `json:"session_id"`
	Snapshot    *Snapshot           `json:"snapshot,omitempty"`
	Candles     []cake.Candle       `json:"candles,omitempty"`
	Reading     *gesture.Reading    `json:"reading,omitempty"`
	Firing      int                 `json:"firing,omitempty"`
	OffsetMs    int64               `json:"offset_ms,omitempty"`
	Bursts      []celebration.Burst `json:"bursts,omitempty"`
	Message     string              `json:"text,omitempty"`
	Celebration celebration.State   `json:"celebration,omitempty"`
}

// Snapshot is the full visible state of a session.
type Snapshot struct {
	ID           string            `json:"id"`
	State        State             `json:"state"`
	Name         string            `json:"name,omitempty"`
	Candles      []cake.Candle     `json:"candles"`
	AllBlownOut  bool              `json:"all_blown_out"`
	Celebration  celebration.State `json:"celebration"`
	MessageShown bool              `json:"message_shown"`
	Message      string            `json:"message,omitempty"`
	Signature    string            `json:"signature,omitempty"`
}
