package ws

import "sync"

// AllTopics subscribes a client to every topic.
const AllTopics = "*"

const defaultBuffer = 256

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out payloads to subscribers grouped by topic (event source).
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped int64
}

// message couples payload with its topic.
type message struct {
	topic   string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	topic  string
	client Subscriber
}

// NewHub creates an initialized Hub. buffer bounds the number of pending
// broadcasts; Publish drops payloads once it is full.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]struct{})
			}
			h.clients[sub.topic][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.topic]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.topic)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllTopics {
				h.deliver(AllTopics, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Publish queues payload for topic subscribers without blocking. It reports
// false when the payload was dropped.
func (h *Hub) Publish(topic string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return true
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return false
	}
}

// Dropped returns how many payloads Publish discarded.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
