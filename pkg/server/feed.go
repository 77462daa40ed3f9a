package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/pkg/pizza"
)

// feedClient is one websocket subscriber on the order feed. Frames are
// queued on send; a full queue marks the client too slow to keep.
type feedClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// close is idempotent. Closing the connection unblocks the read pump.
func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue hands a frame to the client's writer without blocking.
func (c *feedClient) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

// ClientRegistry tracks connected feed clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*feedClient
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*feedClient)}
}

// Add adds a client to the registry.
func (r *ClientRegistry) Add(client *feedClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.id] = client
}

// Remove removes a client from the registry.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *ClientRegistry) snapshot() []*feedClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*feedClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// EventBroadcaster fans events out to every connected feed client.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     int64
}

// NewEventBroadcaster creates a broadcaster over the given registry.
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

// Broadcast sends an event to all connected clients. Clients whose send
// queue is full are dropped.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.nextSeq(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	clients := b.clients.snapshot()
	if len(clients) == 0 {
		return
	}

	sent := 0
	dropped := 0
	for _, client := range clients {
		if client.enqueue(jsonData) {
			sent++
			continue
		}
		b.logger.Warn().
			Str("client_id", client.id).
			Str("event", event).
			Msg("Dropping slow feed client")
		b.clients.Remove(client.id)
		client.close()
		dropped++
	}

	if dropped > 0 {
		observability.SetWSClients(b.clients.Count())
	}
	observability.RecordWSEvent(event)

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("sent", sent).
		Int("dropped", dropped).
		Msg("Event broadcast complete")
}

func (b *EventBroadcaster) nextSeq() int64 {
	return atomic.AddInt64(&b.seq, 1)
}

// OrderFeed upgrades /ws/orders connections and streams order status
// transitions plus a periodic heartbeat.
type OrderFeed struct {
	registry    *ClientRegistry
	broadcaster *EventBroadcaster
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	heartbeat   time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func newOrderFeed() *OrderFeed {
	registry := NewClientRegistry()
	f := &OrderFeed{
		registry:  registry,
		logger:    zerolog.Nop(),
		heartbeat: 30 * time.Second,
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	f.broadcaster = NewEventBroadcaster(registry, f.logger)
	return f
}

func (f *OrderFeed) setLogger(logger zerolog.Logger) {
	f.logger = logger
	f.broadcaster.logger = logger
}

// start begins pumping order events to clients. Safe to call once.
func (f *OrderFeed) start(events <-chan pizza.OrderEvent) {
	f.startOnce.Do(func() {
		f.wg.Add(1)
		go f.pump(events)
	})
}

func (f *OrderFeed) pump(events <-chan pizza.OrderEvent) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			name := "order.status"
			if event.Status == pizza.StatusReceived {
				name = "order.placed"
			}
			f.broadcaster.Broadcast(name, event)

		case <-ticker.C:
			f.broadcaster.Broadcast("heartbeat", map[string]interface{}{
				"status":  "alive",
				"clients": f.registry.Count(),
			})

		case <-f.done:
			return
		}
	}
}

// stop ends the pump and closes every client.
func (f *OrderFeed) stop() {
	f.stopOnce.Do(func() { close(f.done) })
	f.wg.Wait()

	for _, client := range f.registry.snapshot() {
		f.registry.Remove(client.id)
		client.close()
	}
	observability.SetWSClients(0)
}

func (f *OrderFeed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to upgrade feed connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to generate feed client id")
		conn.Close()
		return
	}

	client := &feedClient{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	f.registry.Add(client)
	observability.SetWSClients(f.registry.Count())

	f.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Feed client connected")

	go f.writePump(client)
	go f.readPump(client)
}

func (f *OrderFeed) writePump(client *feedClient) {
	for {
		select {
		case data := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.disconnect(client)
				return
			}
		case <-client.closed:
			return
		}
	}
}

// readPump discards inbound frames; the feed is one-way. A read error
// means the peer is gone.
func (f *OrderFeed) readPump(client *feedClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	f.disconnect(client)
}

func (f *OrderFeed) disconnect(client *feedClient) {
	select {
	case <-client.closed:
		return
	default:
	}

	client.close()
	f.registry.Remove(client.id)
	observability.SetWSClients(f.registry.Count())
	f.logger.Info().Str("client_id", client.id).Msg("Feed client disconnected")
}
