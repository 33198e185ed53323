package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ayusman/blowout/internal/detector"
	"github.com/ayusman/blowout/internal/party"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the page may be opened through a LAN address or tunnel
	},
}

// Messages from the page.
const (
	msgJoin      = "join"
	msgLandmarks = "landmarks"
	msgReset     = "reset"
)

type clientMessage struct {
	Type  string     `json:"type"`
	Name  string     `json:"name,omitempty"`
	Faces []wireFace `json:"faces,omitempty"`
}

// wireFace carries landmarks keyed by their mesh index. The page only
// sends the indices it needs.
type wireFace struct {
	Points map[string]wirePoint `json:"points"`
	Score  float64              `json:"score,omitempty"`
}

type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// toFaceLandmarks drops keys that are not landmark indices.
func (f wireFace) toFaceLandmarks() detector.FaceLandmarks {
	out := detector.FaceLandmarks{
		Points: make(map[int]detector.Point3D, len(f.Points)),
		Score:  f.Score,
	}
	for k, p := range f.Points {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= detector.NumRefinedLandmarks {
			continue
		}
		out.Points[i] = detector.Point3D{X: p.X, Y: p.Y, Z: p.Z}
	}
	return out
}

// SessionHandler gives every WebSocket connection its own party session.
type SessionHandler struct {
	sessions     *party.Manager
	maxFrameRate int
}

// NewSessionHandler creates a handler accepting at most maxFrameRate
// landmark frames per second per connection.
func NewSessionHandler(sessions *party.Manager, maxFrameRate int) *SessionHandler {
	return &SessionHandler{sessions: sessions, maxFrameRate: maxFrameRate}
}

// ServeHTTP upgrades the connection and runs the session until the page
// goes away.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sess := h.sessions.Create()
	c := &client{
		conn:    conn,
		send:    make(chan any, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.maxFrameRate), h.maxFrameRate),
	}

	unsubscribe := sess.Subscribe(func(e party.Event) { c.enqueue(e) })
	snap := sess.Snapshot()
	c.enqueue(party.Event{Type: party.EventSnapshot, SessionID: sess.ID(), Snapshot: &snap})

	log.Info().Str("session", sess.ID()).Str("remote", r.RemoteAddr).Msg("Guest connected")

	go c.writePump()
	c.readPump(sess)

	unsubscribe()
	h.sessions.Remove(sess.ID())
	c.close()
	log.Info().Str("session", sess.ID()).Msg("Guest disconnected")
}

type client struct {
	conn    *websocket.Conn
	send    chan any
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// enqueue never blocks; a client too slow to drain its buffer loses
// messages rather than stalling the session.
func (c *client) enqueue(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Debug().Msg("Dropping message for slow client")
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump(sess *party.Session) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session", sess.ID()).Msg("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case msgJoin:
			if err := sess.SubmitName(msg.Name); err != nil {
				c.enqueue(errorMessage{Type: "error", Message: err.Error()})
			}
		case msgLandmarks:
			if !c.limiter.Allow() || len(msg.Faces) == 0 {
				continue
			}
			face := msg.Faces[0].toFaceLandmarks()
			sess.ObserveFace(&face)
		case msgReset:
			sess.Reset()
		default:
			// ignore unknown types
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
