package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/blowout/internal/app"
	"github.com/ayusman/blowout/internal/capture"
	"github.com/ayusman/blowout/internal/detector"
	"github.com/ayusman/blowout/internal/party"
	"github.com/ayusman/blowout/internal/server"
	"github.com/ayusman/blowout/internal/store"
	"github.com/ayusman/blowout/web"
)

type event struct {
	Type     string          `json:"type"`
	Snapshot *party.Snapshot `json:"snapshot"`
	Text     string          `json:"text"`
	Message  string          `json:"message"`
}

// optionsFrom reads the stored settings for every new party.
func optionsFrom(t *testing.T, st *store.Store, a *app.App) func() party.Options {
	return func() party.Options {
		opts := party.DefaultOptions()
		tuning, err := st.Settings().Tuning()
		assert.NoError(t, err)
		opts.Tuning = tuning
		sig, err := st.Settings().Signature()
		assert.NoError(t, err)
		opts.Signature = sig
		if a != nil {
			opts.Source = a.Source()
		}
		return opts
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func await(t *testing.T, conn *websocket.Conn, typ string) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e event
		require.NoError(t, conn.ReadJSON(&e), "waiting for %q", typ)
		if e.Type == typ {
			return e
		}
	}
}

func landmarks(m detector.Mouth) map[string]any {
	f := detector.MouthFace(m)
	points := make(map[string]detector.Point3D, len(f.Points))
	for i, p := range f.Points {
		points[strconv.Itoa(i)] = p
	}
	return map[string]any{"type": "landmarks", "faces": []any{map[string]any{"points": points}}}
}

func TestE2E_BrowserParty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	st := newStore(t)
	sessions := party.NewManager(optionsFrom(t, st, nil))
	defer sessions.CloseAll()

	ts := httptest.NewServer(server.New(server.Config{
		Version:  "test",
		Assets:   web.FS,
		Store:    st,
		Sessions: sessions,
	}))
	defer ts.Close()
	client := ts.Client()

	t.Run("ServesPage", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("SignsGreeting", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", strings.NewReader(`{"signature": "Younus"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("BlowsOutCandles", func(t *testing.T) {
		conn := dial(t, ts)
		await(t, conn, "snapshot")

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "Ada"}))
		joined := await(t, conn, "snapshot")
		require.NotNil(t, joined.Snapshot)
		assert.Equal(t, "Younus", joined.Snapshot.Signature)

		for i := 0; i < 5; i++ {
			require.NoError(t, conn.WriteJSON(landmarks(detector.RestingMouth(0.0125))))
		}
		require.NoError(t, conn.WriteJSON(landmarks(detector.BlowingMouth())))

		await(t, conn, "blow")
		msg := await(t, conn, "message")
		assert.Equal(t, "HAPPY BIRTHDAY ADA!\nFROM YOUNUS", msg.Text)
	})

	t.Run("HealthCountsGuests", func(t *testing.T) {
		conn := dial(t, ts)
		await(t, conn, "snapshot")

		resp, err := client.Get(ts.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var health map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.GreaterOrEqual(t, health["sessions"], 1.0)
	})
}

func TestE2E_LocalCamera(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frame := capture.BlankFrame()
	defer frame.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{frame}, true)

	det := detector.NewMockDetector()
	var script [][]detector.FaceLandmarks
	for i := 0; i < 5; i++ {
		script = append(script, []detector.FaceLandmarks{detector.MouthFace(detector.RestingMouth(0.0125))})
	}
	script = append(script, []detector.FaceLandmarks{detector.MouthFace(detector.BlowingMouth())})
	det.SetScript(script)

	a := app.New(app.Config{Camera: cam, Detector: det, FrameRate: 100})
	defer a.Close()

	st := newStore(t)
	sessions := party.NewManager(optionsFrom(t, st, a))
	defer sessions.CloseAll()

	ts := httptest.NewServer(server.New(server.Config{Store: st, Sessions: sessions, App: a}))
	defer ts.Close()

	first := dial(t, ts)
	await(t, first, "snapshot")
	require.NoError(t, first.WriteJSON(map[string]string{"type": "join", "name": "Ada"}))

	// The camera feeds the session without the page sending landmarks.
	await(t, first, "blow")
	msg := await(t, first, "message")
	assert.Equal(t, "HAPPY BIRTHDAY ADA!", msg.Text)
	assert.True(t, cam.IsOpen())

	second := dial(t, ts)
	await(t, second, "snapshot")
	require.NoError(t, second.WriteJSON(map[string]string{"type": "join", "name": "Grace"}))
	await(t, second, "snapshot")
	assert.True(t, a.Stats().Running, "the first guest keeps the camera")

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return !cam.IsOpen() }, 2*time.Second, 10*time.Millisecond,
		"the camera is released when its guest leaves")
}
