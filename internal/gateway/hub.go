package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// AllowedOrigins restricts the websocket upgrade. Empty allows every origin.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// Handler consumes inbound frames and learns about closed connections.
type Handler interface {
	Handle(ctx context.Context, conn domain.ConnID, frame []byte)
	Disconnected(ctx context.Context, conn domain.ConnID)
}

// Hub owns every websocket connection. It implements room.Sender: sends never block, and a client
// whose buffer is full loses the message.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	metrics  *telemetry.Metrics

	mu      sync.RWMutex
	handler Handler
	conns   map[domain.ConnID]*connection
}

type connection struct {
	id   domain.ConnID
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	once sync.Once
}

func NewHub(c Config, metrics *telemetry.Metrics) *Hub {
	c = c.withDefaults()

	h := &Hub{
		config:  c,
		metrics: metrics,
		conns:   make(map[domain.ConnID]*connection),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(c.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(c.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	return h
}

// SetHandler wires the inbound side. It must be called before serving.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handler = handler
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "gateway: upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:   domain.ConnID(uuid.NewString()),
		ws:   ws,
		send: make(chan []byte, h.config.SendBuffer),
		hub:  h,
	}
	h.register(c)

	slog.DebugContext(r.Context(), fmt.Sprintf("gateway: connection %s opened from %s", c.id, r.RemoteAddr))

	go c.writePump()
	c.readPump(context.WithoutCancel(r.Context()))
}

func (h *Hub) Send(to domain.ConnID, msg domain.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error(fmt.Sprintf("gateway: encode %s", msg.Event), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[to]
	if !ok {
		return
	}

	select {
	case c.send <- b:
	default:
		h.metrics.MessageDropped()
		slog.Warn(fmt.Sprintf("gateway: connection %s is too slow, dropped %s", to, msg.Event))
	}
}

// Len is the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Close disconnects every client once its pending messages are written.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	// Closing the send buffer lets the write pump flush what is queued before the close frame.
	for _, c := range conns {
		h.unregister(c)
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.id] = c
	h.metrics.ConnectionOpened()
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}

	delete(h.conns, c.id)
	close(c.send)
	h.metrics.ConnectionClosed()
}

func (h *Hub) currentHandler() Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.handler
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug(fmt.Sprintf("gateway: write to %s failed", c.id), "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) readPump(ctx context.Context) {
	defer c.close(ctx)

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, fmt.Sprintf("gateway: connection %s closed unexpectedly", c.id), "error", err)
			}
			return
		}

		if h := c.hub.currentHandler(); h != nil {
			h.Handle(ctx, c.id, frame)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}

func (c *connection) close(ctx context.Context) {
	c.once.Do(func() {
		if h := c.hub.currentHandler(); h != nil {
			h.Disconnected(ctx, c.id)
		}
		c.hub.unregister(c)
		_ = c.ws.Close()

		slog.DebugContext(ctx, fmt.Sprintf("gateway: connection %s closed", c.id))
	})
}
