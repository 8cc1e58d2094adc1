package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/instance"
)

// eventStreamTypes lists the Event Bus types relayed to dashboards
// (spec §6, event stream).
var eventStreamTypes = []events.Type{
	events.TypeInstanceStates,
	events.TypeInstanceStateChanged,
	events.TypeInstanceSignal,
	events.TypeInstanceLog,
	events.TypeInstanceDataUpdate,
	events.TypeInstanceCreated,
	events.TypeInstanceDeleted,
	events.TypeBacktestUpdate,
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON frame shape sent over the socket.
type wireEvent struct {
	Type      events.Type `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   events.Event `json:"payload"`
}

// wsHub relays Event Bus events to every connected dashboard client:
// one goroutine pair per connection, a buffered per-connection send
// channel so a slow client drops its own frames instead of blocking the
// Event Bus or other clients, and a fan-out loop reading every
// subscribed event type from the shared Bus.
type wsHub struct {
	bus       *events.Bus
	instances *instance.Manager
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan wireEvent
}

func newWSHub(bus *events.Bus, instances *instance.Manager, logger zerolog.Logger) *wsHub {
	return &wsHub{
		bus:       bus,
		instances: instances,
		logger:    logger.With().Str("component", "ws_hub").Logger(),
		clients:   make(map[*wsClient]struct{}),
	}
}

// instanceStatesSnapshot builds the initial instanceStates frame a
// newly-connected client receives, converting each polled State into
// the []any shape InstanceStatesEvent carries.
func (h *wsHub) instanceStatesSnapshot() wireEvent {
	states := h.instances.GetAllInstanceStates()
	boxed := make([]any, len(states))
	for i, st := range states {
		boxed[i] = st
	}
	ev := events.NewInstanceStatesEvent(boxed)
	return wireEvent{Type: ev.Type(), Timestamp: ev.Timestamp(), Payload: ev}
}

// run fans every subscribed Event Bus type into every connected
// client's send channel until ctx is canceled.
func (h *wsHub) run(ctx context.Context) {
	subs := make([]<-chan events.Event, len(eventStreamTypes))
	for i, t := range eventStreamTypes {
		subs[i] = h.bus.Subscribe(t)
	}
	defer func() {
		for i, t := range eventStreamTypes {
			h.bus.Unsubscribe(t, subs[i])
		}
	}()

	var wg sync.WaitGroup
	for _, ch := range subs {
		wg.Add(1)
		go func(ch <-chan events.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					h.broadcast(wireEvent{Type: ev.Type(), Timestamp: ev.Timestamp(), Payload: ev})
				}
			}
		}(ch)
	}
	wg.Wait()
}

func (h *wsHub) broadcast(ev wireEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn().Msg("dashboard client send buffer full, dropping frame")
		}
	}
}

func (h *wsHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// handleConnection upgrades the request and spins up the per-connection
// writePump/readPump goroutine pair.
func (h *wsHub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan wireEvent, wsSendBuffer)}
	h.register(client)
	client.send <- h.instanceStatesSnapshot()

	go h.writePump(client)
	go h.readPump(client)
}

// writePump drains the client's send channel to the socket and pings
// on an idle timer.
func (h *wsHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Msg("marshal event for websocket frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (the stream is one-way, server to
// dashboard) and exists only to detect the connection closing.
func (h *wsHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
