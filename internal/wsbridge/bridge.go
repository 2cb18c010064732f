// Package wsbridge projects internal events to subscribed remote
// clients over WebSocket. It is the only path from events to the
// network; no other component writes to a client socket.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/eventbus"
)

const (
	writeDeadline  = 5 * time.Second
	clientSendSize = 64
)

// frame is the JSON envelope written to every client.
type frame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      map[string]any `json:"-"`
}

func (f frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Data)+2)
	for k, v := range f.Data {
		out[k] = v
	}
	out["type"] = f.Type
	out["timestamp"] = f.Timestamp
	return json.Marshal(out)
}

// clientCommand is the shape of an inbound client->server message.
type clientCommand struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MinionID  string `json:"minion_id"`
}

// client is one connected remote subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan frame

	mu                 sync.Mutex
	subscribedChannels map[string]struct{}
	subscribedMinions  map[string]struct{}
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:                 id,
		conn:               conn,
		send:               make(chan frame, clientSendSize),
		subscribedChannels: make(map[string]struct{}),
		subscribedMinions:  make(map[string]struct{}),
	}
}

func (c *client) subscribesToChannel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribedChannels[id]
	return ok
}

func (c *client) subscribesToMinion(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribedMinions[id]
	return ok
}

// Bridge is the server-side WebSocket gateway. Grounded on the
// teacher's Home Assistant WSClient: a per-connection read/write pump
// pair, JSON frames, and a non-blocking send queue mirroring the event
// bus's own drop-on-full fan-out policy.
type Bridge struct {
	bus      *eventbus.Bus
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	nextID atomic.Uint64
	subs   []eventbus.SubscriptionID
	now    func() time.Time
}

// New constructs a Bridge subscribed to no events yet; call Start to
// wire it to the bus.
func New(bus *eventbus.Bus, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		bus:      bus,
		log:      log,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		clients:  make(map[string]*client),
		now:      time.Now,
	}
}

// allowedEventTypes is the curated allow-list the bridge subscribes
// to at startup: channel.*, minion.*, and every task.* type.
func allowedEventTypes() []coremodel.EventType {
	var out []coremodel.EventType
	for _, t := range coremodel.KnownEventTypes {
		s := string(t)
		if strings.HasPrefix(s, "channel.") || strings.HasPrefix(s, "minion.") || strings.HasPrefix(s, "task.") {
			out = append(out, t)
		}
	}
	return out
}

// Start subscribes to the allow-listed event types.
func (b *Bridge) Start(ctx context.Context) error {
	for _, t := range allowedEventTypes() {
		id, err := b.bus.Subscribe(t, func(_ context.Context, e coremodel.Event) { b.onEvent(e) })
		if err != nil {
			return fmt.Errorf("wsbridge: subscribe %s: %w", t, err)
		}
		b.subs = append(b.subs, id)
	}
	return nil
}

// Stop unsubscribes from the bus and closes every connected client.
func (b *Bridge) Stop() {
	for _, id := range b.subs {
		b.bus.Unsubscribe(id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		close(c.send)
		c.conn.Close()
		delete(b.clients, id)
	}
}

// ServeHTTP upgrades the connection and runs its read/write pumps
// until the client disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("wsbridge: upgrade failed", "error", err)
		return
	}
	id := fmt.Sprintf("client-%d", b.nextID.Add(1))
	c := newClient(id, conn)

	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()

	b.log.Info("wsbridge: client connected", "client_id", id)

	c.send <- frame{Type: "connected", Timestamp: b.now(), Data: map[string]any{"client_id": id}}

	done := make(chan struct{})
	go b.writePump(c, done)
	b.readPump(c)
	close(done)

	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
	b.log.Info("wsbridge: client disconnected", "client_id", id)
}

func (b *Bridge) writePump(c *client, done chan struct{}) {
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(b.now().Add(writeDeadline))
			if err := c.conn.WriteJSON(f); err != nil {
				b.log.Warn("wsbridge: write failed, disconnecting client", "client_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (b *Bridge) readPump(c *client) {
	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		b.handleCommand(c, cmd)
	}
}

func (b *Bridge) handleCommand(c *client, cmd clientCommand) {
	switch cmd.Type {
	case "subscribe_channel":
		c.mu.Lock()
		c.subscribedChannels[cmd.ChannelID] = struct{}{}
		c.mu.Unlock()
		b.deliver(c, frame{Type: "subscribed", Timestamp: b.now(), Data: map[string]any{"channel_id": cmd.ChannelID}})
	case "unsubscribe_channel":
		c.mu.Lock()
		delete(c.subscribedChannels, cmd.ChannelID)
		c.mu.Unlock()
		b.deliver(c, frame{Type: "unsubscribed", Timestamp: b.now(), Data: map[string]any{"channel_id": cmd.ChannelID}})
	case "subscribe_minion":
		c.mu.Lock()
		c.subscribedMinions[cmd.MinionID] = struct{}{}
		c.mu.Unlock()
		b.deliver(c, frame{Type: "subscribed", Timestamp: b.now(), Data: map[string]any{"minion_id": cmd.MinionID}})
	case "unsubscribe_minion":
		c.mu.Lock()
		delete(c.subscribedMinions, cmd.MinionID)
		c.mu.Unlock()
		b.deliver(c, frame{Type: "unsubscribed", Timestamp: b.now(), Data: map[string]any{"minion_id": cmd.MinionID}})
	case "get_subscriptions":
		c.mu.Lock()
		channels := keys(c.subscribedChannels)
		minions := keys(c.subscribedMinions)
		c.mu.Unlock()
		b.deliver(c, frame{Type: "subscriptions", Timestamp: b.now(), Data: map[string]any{"channels": channels, "minions": minions}})
	case "ping":
		b.deliver(c, frame{Type: "pong", Timestamp: b.now(), Data: map[string]any{}})
	default:
		b.deliver(c, frame{Type: "error", Timestamp: b.now(), Data: map[string]any{"message": fmt.Sprintf("unknown command %q", cmd.Type)}})
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// onEvent implements the delivery rules from the spec's §4.5: per-type
// targeting against each client's subscription sets, with task.*
// events collapsed onto a single unified frontend event name.
func (b *Bridge) onEvent(e coremodel.Event) {
	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if f, ok := b.frameFor(e, c); ok {
			b.deliver(c, f)
		}
	}
}

func (b *Bridge) frameFor(e coremodel.Event, c *client) (frame, bool) {
	s := string(e.Type)
	switch {
	case e.Type == coremodel.EventChannelMessage:
		channelID, _ := e.Data["channel_id"].(string)
		if !c.subscribesToChannel(channelID) {
			return frame{}, false
		}
		return b.eventFrame(e), true
	case e.Type == coremodel.EventMinionSpawned || e.Type == coremodel.EventMinionDespawned:
		return b.eventFrame(e), true
	case strings.HasPrefix(s, "minion."):
		minionID, _ := e.Data["minion_id"].(string)
		if !c.subscribesToMinion(minionID) {
			return frame{}, false
		}
		return b.eventFrame(e), true
	case strings.HasPrefix(s, "channel."):
		return b.eventFrame(e), true
	case strings.HasPrefix(s, "task."):
		data := make(map[string]any, len(e.Data)+1)
		for k, v := range e.Data {
			data[k] = v
		}
		data["event_type"] = s
		return frame{Type: "task_event", Timestamp: e.Timestamp, Data: data}, true
	default:
		return frame{}, false
	}
}

func (b *Bridge) eventFrame(e coremodel.Event) frame {
	return frame{Type: e.Type.WireName(), Timestamp: e.Timestamp, Data: e.Data}
}

// deliver is a non-blocking send mirroring the event bus's own
// drop-on-full policy: a slow client loses frames rather than stalling
// fan-out for everyone else.
func (b *Bridge) deliver(c *client, f frame) {
	select {
	case c.send <- f:
	default:
		b.log.Warn("wsbridge: client send queue full, dropping frame", "client_id", c.id, "frame_type", f.Type)
	}
}

// ClientCount reports the number of currently connected clients, for
// health/diagnostic endpoints.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
