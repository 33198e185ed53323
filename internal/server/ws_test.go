package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/blowout/internal/detector"
	"github.com/ayusman/blowout/internal/party"
)

type wsEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Snapshot  *party.Snapshot `json:"snapshot"`
	Candles   []struct {
		Lit bool `json:"lit"`
	} `json:"candles"`
	Firing      int    `json:"firing"`
	Text        string `json:"text"`
	Celebration string `json:"celebration"`
	Message     string `json:"message"`
}

func dialSession(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until one of type typ arrives, returning it and
// the types seen on the way.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) (wsEvent, []string) {
	t.Helper()

	var seen []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e wsEvent
		require.NoError(t, conn.ReadJSON(&e), "waiting for %q after %v", typ, seen)
		seen = append(seen, e.Type)
		if e.Type == typ {
			return e, seen
		}
	}
}

func mouthMessage(m detector.Mouth) map[string]any {
	point := func(p detector.Point3D) map[string]float64 {
		return map[string]float64{"x": p.X, "y": p.Y}
	}
	return map[string]any{
		"type": "landmarks",
		"faces": []map[string]any{{
			"points": map[string]any{
				"13":  point(m.TopLip),
				"14":  point(m.BottomLip),
				"61":  point(m.LeftCorner),
				"291": point(m.RightCorner),
			},
		}},
	}
}

func TestSessionHandler_BirthdayFlow(t *testing.T) {
	sessions := party.NewManager(nil)
	conn := dialSession(t, New(Config{Sessions: sessions}))

	initial, _ := readUntil(t, conn, "snapshot")
	require.NotNil(t, initial.Snapshot)
	assert.NotEmpty(t, initial.SessionID)
	assert.Equal(t, party.StateAwaitingName, initial.Snapshot.State)
	assert.Len(t, initial.Snapshot.Candles, 5)
	assert.Equal(t, 1, sessions.Len())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "  Ada "}))
	joined, _ := readUntil(t, conn, "snapshot")
	require.NotNil(t, joined.Snapshot)
	assert.Equal(t, party.StateCelebrating, joined.Snapshot.State)
	assert.Equal(t, "ADA", joined.Snapshot.Name)

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(mouthMessage(detector.RestingMouth(0.0125))))
	}
	require.NoError(t, conn.WriteJSON(mouthMessage(detector.BlowingMouth())))

	_, seen := readUntil(t, conn, "blow")
	assert.NotContains(t, seen, "candles", "resting frames must not blow anything out")

	candles, _ := readUntil(t, conn, "candles")
	require.Len(t, candles.Candles, 5)
	for _, c := range candles.Candles {
		assert.False(t, c.Lit)
	}

	msg, seen := readUntil(t, conn, "message")
	assert.Equal(t, "HAPPY BIRTHDAY ADA!", msg.Text)
	assert.Contains(t, seen, "burst")

	for {
		e, _ := readUntil(t, conn, "celebration")
		if e.Celebration == "expired" {
			break
		}
	}
}

func TestSessionHandler_RejectsBlankName(t *testing.T) {
	conn := dialSession(t, New(Config{}))
	readUntil(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "   "}))

	e, _ := readUntil(t, conn, "error")
	assert.Equal(t, party.ErrBlankName.Error(), e.Message)
}

func TestSessionHandler_RejectsLongName(t *testing.T) {
	conn := dialSession(t, New(Config{}))
	readUntil(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "ABCDEFGHIJKLMNOP"}))

	e, _ := readUntil(t, conn, "error")
	assert.Equal(t, party.ErrNameTooLong.Error(), e.Message)
}

func TestSessionHandler_RateLimit(t *testing.T) {
	conn := dialSession(t, New(Config{MaxFrameRate: 1}))
	readUntil(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "ADA"}))
	readUntil(t, conn, "snapshot")

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(mouthMessage(detector.RestingMouth(0.0125))))
	}
	require.NoError(t, conn.WriteJSON(mouthMessage(detector.BlowingMouth())))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "reset"}))

	// Messages are handled in order, so the reset snapshot marks the end
	// of the burst of frames.
	_, seen := readUntil(t, conn, "snapshot")
	assert.NotContains(t, seen, "blow")
}

func TestSessionHandler_DisconnectRemovesSession(t *testing.T) {
	sessions := party.NewManager(nil)
	conn := dialSession(t, New(Config{Sessions: sessions}))
	readUntil(t, conn, "snapshot")
	require.Equal(t, 1, sessions.Len())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWireFace_ToFaceLandmarks(t *testing.T) {
	f := wireFace{
		Points: map[string]wirePoint{
			"13":   {X: 0.5, Y: 0.6},
			"477":  {X: 0.1, Y: 0.2, Z: -0.01},
			"478":  {X: 1, Y: 1},
			"-1":   {X: 1, Y: 1},
			"lips": {X: 1, Y: 1},
		},
		Score: 0.9,
	}

	got := f.toFaceLandmarks()

	assert.Len(t, got.Points, 2)
	assert.Equal(t, detector.Point3D{X: 0.5, Y: 0.6}, got.Points[13])
	assert.Equal(t, detector.Point3D{X: 0.1, Y: 0.2, Z: -0.01}, got.Points[477])
	assert.Equal(t, 0.9, got.Score)

	_, ok := detector.MouthOf(&got)
	assert.False(t, ok, "a partial mouth is not usable")
}
