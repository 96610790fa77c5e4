package engine

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"
)

type StreamOptions struct {
	ClientBuffer int
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
}

// StreamHub fans delivery log entries out to live subscribers. Publishing
// never blocks: a subscriber whose buffer is full is dropped.
type StreamHub struct {
	opts StreamOptions

	mu      sync.Mutex
	clients map[*Subscriber]struct{}
}

// Subscriber receives serialized log entries on C. An empty event filter
// receives every entry.
type Subscriber struct {
	C     chan []byte
	event string

	closeOnce sync.Once
}

func NewStreamHub(opts StreamOptions) *StreamHub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &StreamHub{opts: opts, clients: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber filtered by event ("" = all).
func (h *StreamHub) Subscribe(event string) *Subscriber {
	s := &Subscriber{C: make(chan []byte, h.opts.ClientBuffer), event: strings.TrimSpace(event)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel.
func (h *StreamHub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.clients, s)
	h.mu.Unlock()
	s.close()
}

// Len returns the number of live subscribers.
func (h *StreamHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends entry to every matching subscriber.
func (h *StreamHub) Publish(entry *LogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("Failed to encode log entry for stream: %v", err)
		return
	}

	var slow []*Subscriber
	h.mu.Lock()
	for s := range h.clients {
		if s.event != "" && s.event != entry.Event {
			continue
		}
		select {
		case s.C <- payload:
		default:
			delete(h.clients, s)
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		s.close()
		log.Warn("Dropped slow webhook log subscriber")
	}
}

// Close drops every subscriber.
func (h *StreamHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Subscriber]struct{})
	h.mu.Unlock()
	for s := range clients {
		s.close()
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.C) })
}

// Serve pumps entries to a websocket connection until either side closes.
func (h *StreamHub) Serve(conn *websocket.Conn, event string) {
	sub := h.Subscribe(event)
	defer h.Unsubscribe(sub)

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.writePump(conn, sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case payload, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// UpgradeOnly rejects non-websocket requests on the stream routes.
func UpgradeOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
