package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Forwarded lists the bus events pushed to watchers.
var Forwarded = []events.EventType{
	events.EventSessionOpened,
	events.EventSessionClosed,
	events.EventGoalRecorded,
	events.EventGoalRemoved,
	events.EventCardIssued,
	events.EventPlayerToggled,
	events.EventSyncCompleted,
	events.EventSyncFailed,
	events.EventScoreVerified,
	events.EventBatchSaved,
}

type watcher struct {
	fixtureID string // empty watches every fixture
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
}

// Server fans out bus events to connected scoreboard WebSocket clients.
type Server struct {
	mu      sync.Mutex
	clients map[*watcher]struct{}
}

func NewServer(bus *events.Bus) *Server {
	s := &Server{
		clients: make(map[*watcher]struct{}),
	}
	bus.Subscribe(s.forward, Forwarded...)
	return s
}

// forward is called on the publisher's goroutine. It serializes the event
// and enqueues it to matching clients' send channels (non-blocking).
func (s *Server) forward(evt events.Event) error {
	data, err := MarshalEvent(evt)
	if err != nil {
		telemetry.Warnf("fanout: marshal error: %v", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if c.fixtureID != "" && c.fixtureID != evt.FixtureID {
			continue
		}
		select {
		case c.send <- data:
		default:
			telemetry.Warnf("fanout: dropping %s for slow watcher fixture=%s", evt.Type, c.fixtureID)
		}
	}
	return nil
}

// Clients returns the number of connected watchers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HandleWS upgrades a watcher. ?fixture=<id> narrows the feed to one match.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &watcher{
		fixtureID: r.URL.Query().Get("fixture"),
		conn:      conn,
		send:      make(chan []byte, clientSendBuf),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	telemetry.Plainf("Fanout: Watcher Connected [%s]", label(c.fixtureID))

	go s.writePump(c)
	go s.readPump(c)
}

// writePump owns the watcher lifecycle: on exit it removes the watcher so
// forward never sends to a stale channel, then closes the connection.
func (s *Server) writePump(c *watcher) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error fixture=%s: %v", c.fixtureID, err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles pongs and close frames; watchers send nothing.
func (s *Server) readPump(c *watcher) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *watcher) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	telemetry.Plainf("Fanout: Watcher Disconnected [%s]", label(c.fixtureID))
}

func label(fixtureID string) string {
	if fixtureID == "" {
		return "all"
	}
	return fixtureID
}
