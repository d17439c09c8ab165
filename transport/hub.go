package transport

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/synchronizer"
	"github.com/mogaika/shared_scene/utils"
)

// Arbiter holds the authoritative copy of the scene. It is implemented by
// *session.Session.
type Arbiter interface {
	ID() string
	Arbitrate(ctx context.Context, c protocol.Command) (synchronizer.Verdict, error)
	Snapshot(ctx context.Context) ([]protocol.Command, error)
	Deliver(c protocol.Command) bool
}

type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 40 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	return c
}

type PlayerInfo struct {
	Session string `json:"session"`
	Name    string `json:"name"`
}

type client struct {
	hub  *Hub
	id   string
	name string
	conn *websocket.Conn
	send chan []byte
	// guarded by hub.order, like every push
	closed bool
}

func (c *client) logger() *log.Entry {
	return log.WithFields(log.Fields{"session": c.id, "player": c.name})
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger().WithError(err).Warn("[hub] ws write msg error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("[hub] ws write ping error")
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger().WithError(err).Warn("[hub] ws read error")
			}
			return
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			c.logger().WithError(err).Warn("[hub] dropping message")
			continue
		}
		// the relay is the only source of session ids and revocations
		cmd.Session = c.id
		cmd.Revoke = false
		c.hub.handle(ctx, c, cmd)
	}
}

// push queues msg without blocking. A client that cannot keep up is
// disconnected.
func (c *client) push(msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger().Warn("[hub] send buffer full, dropping client")
		c.close()
	}
}

func (c *client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub relays commands between websocket clients. With an arbiter every
// ownership command is checked against the authoritative scene before it is
// relayed; without one the hub is a plain broadcast relay.
type Hub struct {
	cfg      HubConfig
	arbiter  Arbiter
	upgrader websocket.Upgrader
	names    utils.NameGenerator
	observer Handler

	// order serializes arbitration with fan-out so every client sees
	// commands in the order the arbiter accepted them.
	order   sync.Mutex
	clients map[string]*client
}

func NewHub(cfg HubConfig, arbiter Arbiter) *Hub {
	return &Hub{
		cfg:     cfg.withDefaults(),
		arbiter: arbiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// SetObserver installs a handler that sees every relayed command and every
// join and leave. Without an arbiter it lets a local session follow the
// scene; with one the arbiter already sees everything. Call before serving.
func (h *Hub) SetObserver(fn Handler) { h.observer = fn }

func (h *Hub) notify(cmd protocol.Command) {
	if h.arbiter != nil {
		h.arbiter.Deliver(cmd)
	} else if h.observer != nil {
		h.observer(cmd)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("[hub] upgrade failed")
		return
	}
	c := &client{
		hub:  h,
		id:   uuid.New().String(),
		name: h.names.RandomName(),
		conn: conn,
	}

	ctx := context.Background()
	if err := h.register(ctx, c); err != nil {
		c.logger().WithError(err).Error("[hub] join failed")
		h.names.Release(c.name)
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump(ctx)
	h.unregister(c)
}

func (h *Hub) encode(cmd protocol.Command) []byte {
	data, err := protocol.Encode(cmd)
	if err != nil {
		log.WithError(err).Error("[hub] encode failed")
		return nil
	}
	return data
}

// register greets the newcomer with its identity, the roster and the
// current scene state, then announces it to everyone else.
func (h *Hub) register(ctx context.Context, c *client) error {
	h.order.Lock()
	defer h.order.Unlock()

	greeting := []protocol.Command{{Kind: protocol.SetPlayer, Session: c.id, Player: c.name}}
	for _, other := range h.sortedClients() {
		greeting = append(greeting, protocol.Command{Kind: protocol.NewPlayer, Session: other.id, Player: other.name})
	}
	if h.arbiter != nil {
		snapshot, err := h.arbiter.Snapshot(ctx)
		if err != nil {
			return err
		}
		greeting = append(greeting, snapshot...)
	}
	// the greeting always fits, relayed traffic gets the configured headroom
	c.send = make(chan []byte, len(greeting)+h.cfg.SendBuffer)
	for _, cmd := range greeting {
		if data := h.encode(cmd); data != nil {
			c.push(data)
		}
	}

	joined := protocol.Command{Kind: protocol.NewPlayer, Session: c.id, Player: c.name}
	h.broadcast(c.id, joined)
	h.clients[c.id] = c
	h.notify(joined)
	c.logger().Info("[hub] player joined")
	return nil
}

func (h *Hub) unregister(c *client) {
	h.order.Lock()
	defer h.order.Unlock()

	delete(h.clients, c.id)
	c.close()
	h.names.Release(c.name)

	left := protocol.Command{Kind: protocol.RemovePlayer, Session: c.id, Player: c.name}
	h.broadcast(c.id, left)
	h.notify(left)
	c.logger().Info("[hub] player left")
}

func (h *Hub) handle(ctx context.Context, from *client, cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.NewPlayer, protocol.SetPlayer, protocol.RemovePlayer:
		from.logger().WithField("kind", cmd.Kind).Warn("[hub] clients may not send presence identity")
		return
	}

	h.order.Lock()
	defer h.order.Unlock()

	if h.arbiter == nil {
		if err := cmd.Validate(); err != nil {
			from.logger().WithError(err).Warn("[hub] dropping command")
			return
		}
		h.broadcast(from.id, cmd)
		h.notify(cmd)
		return
	}

	verdict, err := h.arbiter.Arbitrate(ctx, cmd)
	if err != nil {
		from.logger().WithError(err).WithField("command", cmd.String()).Warn("[hub] arbitration")
	}
	for _, reply := range verdict.Replies {
		if data := h.encode(reply); data != nil {
			from.push(data)
		}
	}
	if verdict.Relay {
		h.broadcast(from.id, cmd)
	}
}

// broadcast sends cmd to every registered client except the one with id
// except. Callers hold h.order.
func (h *Hub) broadcast(except string, cmd protocol.Command) {
	data := h.encode(cmd)
	if data == nil {
		return
	}
	for id, c := range h.clients {
		if id != except {
			c.push(data)
		}
	}
}

func (h *Hub) sortedClients() []*client {
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Players lists the connected clients.
func (h *Hub) Players() []PlayerInfo {
	h.order.Lock()
	defer h.order.Unlock()
	out := make([]PlayerInfo, 0, len(h.clients))
	for _, c := range h.sortedClients() {
		out = append(out, PlayerInfo{Session: c.id, Name: c.name})
	}
	return out
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.order.Lock()
	defer h.order.Unlock()
	for _, c := range h.clients {
		c.close()
	}
}
