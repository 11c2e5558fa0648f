package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentpilot/agentpilot/internal/events"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var ackFrame = map[string]string{"type": "ack"}

// hub fans agent events out to WebSocket clients.
type hub struct {
	bus     *events.Bus
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan any
	once sync.Once
	done chan struct{}
}

func newHub(b *events.Bus) *hub {
	return &hub{bus: b, clients: make(map[*client]struct{})}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// push queues v without blocking. A full buffer drops the frame.
func (c *client) push(v any) bool {
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan any, clientBuffer), done: make(chan struct{})}

	var unsubscribe func()
	if h.bus != nil {
		unsubscribe = h.bus.Subscribe(func(ev events.Event) {
			if !c.push(ev) {
				slog.Debug("WebSocket client slow, event dropped", "type", ev.Type)
			}
		})
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()

	if unsubscribe != nil {
		unsubscribe()
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	_ = conn.Close()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// readLoop acknowledges client text frames until the connection drops.
func (c *client) readLoop() {
	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if mt == websocket.TextMessage {
			select {
			case c.send <- ackFrame:
			case <-c.done:
				return
			}
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			return
		case v := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
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
