package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"

	"github.com/devmate/devmate/pkg/bus"
	"github.com/devmate/devmate/pkg/logging"
)

// wsConn is the subset of the WebSocket connection the hub needs.
type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// Hub fans events out to the participants of each project room. Events
// published by one participant reach every other participant in the same
// room, locally and, through the bus, on other relay nodes. Publishers do
// not receive their own events back.
type Hub struct {
	nodeID string
	bus    bus.MessageBus
	logger *logging.Logger

	// subCtx bounds bus subscriptions to the hub's lifetime. Rooms outlive
	// any single connection, so subscribing with a joiner's context would
	// tear the relay down when that joiner leaves.
	subCtx    context.Context
	subCancel context.CancelFunc

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	clients map[*Client]struct{}
	sub     bus.Subscription
}

// NewHub creates a Hub bridged over the given bus.
func NewHub(b bus.MessageBus, logger *logging.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		nodeID:    ulid.Make().String(),
		bus:       b,
		logger:    logger,
		subCtx:    ctx,
		subCancel: cancel,
		rooms:     make(map[string]*room),
	}
}

// Close tears down all bus subscriptions. Joined clients are not closed;
// they drain on their own connection lifecycle.
func (h *Hub) Close() {
	h.subCancel()

	h.mu.Lock()
	subs := make([]bus.Subscription, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.sub != nil {
			subs = append(subs, r.sub)
			r.sub = nil
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// Join adds a connection to the project's room, subscribing the room to the
// relay subject on first join.
func (h *Hub) Join(ctx context.Context, projectID string, conn wsConn, who Sender) (*Client, error) {
	c := &Client{
		hub:       h,
		conn:      conn,
		projectID: projectID,
		who:       who,
		send:      make(chan Event, 64),
	}

	h.mu.Lock()
	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{clients: make(map[*Client]struct{})}
		h.rooms[projectID] = r
	}
	r.clients[c] = struct{}{}
	needSub := r.sub == nil && h.bus != nil
	h.mu.Unlock()

	if needSub {
		sub, err := h.bus.Subscribe(h.subCtx, bus.ProjectSubject(projectID), func(msg *bus.Message) {
			h.handleBusMessage(msg)
		})
		if err != nil {
			h.removeClient(c)
			return nil, err
		}
		h.mu.Lock()
		if h.rooms[projectID] != nil && h.rooms[projectID].sub == nil {
			h.rooms[projectID].sub = sub
		} else {
			_ = sub.Unsubscribe()
		}
		h.mu.Unlock()
	}

	if h.logger != nil {
		_ = h.logger.Info(logging.CategoryChannel, "client_joined", "participant joined project room",
			map[string]any{"project": projectID, "user": who.ID})
	}

	h.Publish(ctx, Event{
		Type:      EventPresence,
		ProjectID: projectID,
		Sender:    &who,
		Presence:  "join",
	}, c)

	return c, nil
}

// Publish stamps and fans out an event. The publishing client, when given,
// is skipped locally; its own UI already rendered the optimistic copy.
func (h *Hub) Publish(ctx context.Context, ev Event, from *Client) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Origin = h.nodeID

	h.broadcastLocal(ev, from)

	if h.bus != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := h.bus.Publish(ctx, bus.ProjectSubject(ev.ProjectID), data); err != nil && h.logger != nil {
			_ = h.logger.Warn(logging.CategoryChannel, "bus_publish_failed", "relay publish failed",
				map[string]any{"project": ev.ProjectID, "error": err.Error()})
		}
	}
}

// handleBusMessage delivers events relayed from other nodes. Events this
// node published come back on the subject and are dropped by origin.
func (h *Hub) handleBusMessage(msg *bus.Message) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}
	if ev.Origin == h.nodeID {
		return
	}
	h.broadcastLocal(ev, nil)
}

func (h *Hub) broadcastLocal(ev Event, except *Client) {
	h.mu.RLock()
	r := h.rooms[ev.ProjectID]
	if r == nil {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(ev) {
			// Slow consumer: drop the connection rather than block the room.
			go h.removeClient(c)
		}
	}
}

// removeClient detaches a client and tears down the room subscription when
// the room empties.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	r := h.rooms[c.projectID]
	var sub bus.Subscription
	if r != nil {
		if _, ok := r.clients[c]; ok {
			delete(r.clients, c)
			// Mark closed before closing the channel so a concurrent
			// enqueue can't send on it.
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			close(c.send)
		}
		if len(r.clients) == 0 {
			sub = r.sub
			delete(h.rooms, c.projectID)
		}
	}
	h.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// RoomSize returns the number of participants currently joined to a project.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[projectID]; r != nil {
		return len(r.clients)
	}
	return 0
}

// Client is one participant's membership in a project room.
type Client struct {
	hub       *Hub
	conn      wsConn
	projectID string
	who       Sender

	mu     sync.Mutex
	closed bool
	send   chan Event
}

// ProjectID returns the room this client is joined to.
func (c *Client) ProjectID() string { return c.projectID }

// Sender returns the participant identity behind the connection.
func (c *Client) Sender() Sender { return c.who }

func (c *Client) enqueue(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// WriteLoop pumps queued events to the connection until the context ends or
// the send queue is closed.
func (c *Client) WriteLoop(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Read blocks for the next inbound frame from the connection.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Leave publishes a presence departure and removes the client from its room.
func (c *Client) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	who := c.who
	c.hub.Publish(ctx, Event{
		Type:      EventPresence,
		ProjectID: c.projectID,
		Sender:    &who,
		Presence:  "leave",
	}, c)
	c.hub.removeClient(c)
	_ = c.conn.Close(websocket.StatusNormalClosure, "leaving")
}
