package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aqilrvsb/UNMASK-TIK/internal/bus"
	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Buffered events per client before slow consumers start dropping.
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Event stream carries no credentials; the extension connects from an
	// arbitrary origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub relays bus events to every connected WebSocket client. Each client gets
// a greeting with the current run snapshot, then the live event stream.
type hub struct {
	bus      *bus.Bus
	greeting func() events.Event

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newHub(b *bus.Bus, greeting func() events.Event) *hub {
	return &hub{
		bus:      b,
		greeting: greeting,
		clients:  make(map[*wsClient]struct{}),
	}
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan events.Event
	cancel func()
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade failed: %v", err)
		return
	}

	ch, cancel := h.bus.Subscribe(clientBuffer)
	client := &wsClient{
		conn:   conn,
		send:   make(chan events.Event, clientBuffer),
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	log.Printf("🔌 WebSocket client connected: %s", r.RemoteAddr)
	client.send <- h.greeting()

	go client.writePump()
	go client.readPump(func() { h.drop(client) })
	go client.relay(ch)
}

// relay moves bus events onto the client's send queue, dropping events for
// slow consumers rather than stalling the run.
func (c *wsClient) relay(ch <-chan events.Event) {
	for evt := range ch {
		select {
		case c.send <- evt:
		default:
		}
	}
	close(c.send)
}

// readPump discards inbound frames; the socket is one-way. It exists to
// service control messages and detect the peer going away.
func (c *wsClient) readPump(onClose func()) {
	defer onClose()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				log.Printf("⚠️ Event marshal failed: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *hub) drop(client *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		client.cancel()
		client.conn.Close()
	}
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.cancel()
		c.conn.Close()
	}
}
