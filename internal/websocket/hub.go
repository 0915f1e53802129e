package websocket

import (
	"chatrelay/pkg/logger"
)

// Hub owns the set of every live client in the process. It is the only
// goroutine that touches that set, and it serves system-wide broadcasts
// such as presence changes.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	shutdown   chan struct{}
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			logger.Debug("Client %s attached (%d live)", client.ID(), len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				logger.Debug("Client %s detached (%d live)", client.ID(), len(h.clients))
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				client.Push(frame)
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Register hands a client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// BroadcastAll queues frame for every client, including ones that have not
// identified yet.
func (h *Hub) BroadcastAll(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Shutdown closes every client and stops Run. Safe to call more than once.
func (h *Hub) Shutdown() {
	select {
	case h.shutdown <- struct{}{}:
		<-h.done
	case <-h.done:
	}
}
