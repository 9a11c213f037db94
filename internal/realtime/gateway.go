package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"snapclone/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Gateway wires the core together: it owns the live clients, implements
// Sender over their websockets, and runs the connect/disconnect transaction
// across the session directory and the room router.
type Gateway struct {
	sessions   *SessionDirectory
	rooms      *RoomRouter
	dispatcher *Dispatcher
	publisher  *Publisher

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewGateway(store LastSeenWriter, lastSeenTTL time.Duration) *Gateway {
	g := &Gateway{
		sessions: NewSessionDirectory(),
		rooms:    NewRoomRouter(),
		clients:  make(map[string]*Client),
	}
	g.dispatcher = NewDispatcher(g.sessions, g.rooms, g)
	g.publisher = NewPublisher(g, store, lastSeenTTL)
	return g
}

// Sessions exposes the directory for read-only presence queries.
func (g *Gateway) Sessions() *SessionDirectory {
	return g.sessions
}

// HandleConnection admits an authenticated websocket into the realtime layer
// and starts its pumps. The connection id is a fresh server-assigned opaque
// identifier, never reused.
func (g *Gateway) HandleConnection(conn *websocket.Conn, id Identity) {
	client := &Client{
		id:       uuid.NewString(),
		identity: id,
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}

	if err := g.connect(client); err != nil {
		logger.Error("Error admitting connection for user %s: %v", id.Username, err)
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (g *Gateway) connect(c *Client) error {
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	wentOnline, err := g.sessions.Register(c.id, c.identity)
	if err != nil {
		g.mu.Lock()
		delete(g.clients, c.id)
		g.mu.Unlock()
		return err
	}

	// Personal-room membership is automatic for the connection's lifetime.
	g.rooms.Register(c.id, c.identity.UserID)

	logger.Info("User connected: %s (%s)", c.identity.Username, c.id)

	if wentOnline {
		g.publisher.OnConnect(c.id, c.identity)
	}
	return nil
}

// disconnect tears down a connection across every structure. Idempotent, and
// each cleanup step proceeds even if an earlier one failed, so a partial
// teardown never leaks room or session entries.
func (g *Gateway) disconnect(c *Client) {
	c.closeOnce.Do(func() {
		g.mu.Lock()
		delete(g.clients, c.id)
		g.mu.Unlock()
		close(c.done)

		safely("room cleanup", func() {
			g.rooms.LeaveAll(c.id)
		})

		var transition PresenceTransition
		var registered bool
		safely("session cleanup", func() {
			transition, registered = g.sessions.Deregister(c.id)
		})

		if registered {
			logger.Info("User disconnected: %s (%s)", transition.Identity.Username, c.id)
			g.publisher.OnDisconnect(c.id, transition)
		}
	})
}

// Send implements Sender for a single connection. Unknown ids are routing
// misses and silently ignored.
func (g *Gateway) Send(connID string, ev Outbound) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", ev.Type, err)
		return
	}

	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	client.enqueue(data)
}

// Broadcast implements Sender for global fan-out, excluding one connection
// (normally the originator).
func (g *Gateway) Broadcast(excludeConnID string, ev Outbound) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", ev.Type, err)
		return
	}

	g.mu.RLock()
	targets := make([]*Client, 0, len(g.clients))
	for id, client := range g.clients {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, client)
	}
	g.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(data)
	}
}

// safely runs one cleanup step, logging instead of propagating a panic so the
// remaining steps still run.
func safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during %s: %v", step, r)
		}
	}()
	fn()
}
