package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
)

// Hub owns the set of subscribers. Only the Run goroutine mutates it.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu    sync.RWMutex
	count int

	running  atomic.Bool
	dropped  atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a hub; call Run in its own goroutine.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	h.running.Store(true)
	defer func() {
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.setCount(0)
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-h.stop:
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Info("client connected", "client", c.ID, "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))
			h.logger.Info("client disconnected", "client", c.ID, "remaining", len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow to keep up; the write pump sends a close frame.
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow client", "client", c.ID)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

// Stop ends Run and closes every client's send queue. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.running.Load() {
		<-h.done
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Broadcast queues msg for every client, dropping it if the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it as a text frame.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Errorf("hub %s: encode: %w", h.name, err)
	}
	h.Broadcast(NewTextMessage(data))
	return nil
}

// BroadcastBinary broadcasts raw bytes.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many broadcasts were discarded on a full queue.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool { return h.running.Load() }
