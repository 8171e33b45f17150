package websocket

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"spectra/types"
)

// TopicAll receives every event regardless of topic.
const TopicAll = "all"

// Hub interface defines the methods for managing WebSocket connections
type Hub interface {
	Run()
	Stop()
	Publish(msg types.EventMessage)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub maintains the set of active clients and broadcasts events to them
type hub struct {
	// Registered clients mapped by topic
	clients map[string]map[*Client]bool

	broadcast  chan types.EventMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.EventMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's main event loop
func (h *hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]bool)
			}
			h.clients[client.topic][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("topic", client.topic))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.String("topic", client.topic))

		case message := <-h.broadcast:
			h.mu.Lock()
			h.deliver(message.Topic, message)
			if message.Topic != TopicAll {
				h.deliver(TopicAll, message)
			}
			h.mu.Unlock()
		}
	}
}

// deliver sends to one topic's clients, dropping clients whose buffers are full.
func (h *hub) deliver(topic string, message types.EventMessage) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

func (h *hub) remove(client *Client) {
	clients, ok := h.clients[client.topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.send)
		if len(clients) == 0 {
			delete(h.clients, client.topic)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
		delete(h.clients, topic)
	}
}

// Stop ends the event loop and closes every client.
func (h *hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues an event for delivery. Events are dropped when the hub is
// saturated so publishers never block.
func (h *hub) Publish(msg types.EventMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event",
			zap.String("type", msg.Type), zap.String("topic", msg.Topic))
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients across topics.
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
