package ws

import (
	"sync"
	"sync/atomic"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to the subscribers of a named stream.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

type message struct {
	stream  string
	payload []byte
}

type subscription struct {
	stream string
	client Subscriber
}

type countRequest struct {
	stream string
	reply  chan int
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan countRequest),
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
			if _, ok := h.clients[sub.stream]; !ok {
				h.clients[sub.stream] = make(map[Subscriber]struct{})
			}
			h.clients[sub.stream][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.stream]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.stream)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.stream]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.stream)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.stream])
		}
	}
}

// Register adds a client to a stream.
func (h *Hub) Register(stream string, client Subscriber) {
	select {
	case h.register <- subscription{stream: stream, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(stream string, client Subscriber) {
	select {
	case h.unreg <- subscription{stream: stream, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every client of stream. It never blocks: when
// the hub is backed up the payload is dropped and counted.
func (h *Hub) Broadcast(stream string, payload []byte) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- message{stream: stream, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many broadcasts were discarded because the hub was
// backed up.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the number of clients on stream.
func (h *Hub) Subscribers(stream string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{stream: stream, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
