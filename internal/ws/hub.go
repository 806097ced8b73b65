package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to the subscribers of a deployment.
type Hub struct {
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	deploymentID string
	payload      []byte
}

type subscription struct {
	deploymentID string
	client       Subscriber
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[string]map[Subscriber]struct{})
	for {
		select {
		case <-h.done:
			for _, subs := range clients {
				for c := range subs {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := clients[sub.deploymentID]; !ok {
				clients[sub.deploymentID] = make(map[Subscriber]struct{})
			}
			clients[sub.deploymentID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if subs, ok := clients[sub.deploymentID]; ok {
				delete(subs, sub.client)
				if len(subs) == 0 {
					delete(clients, sub.deploymentID)
				}
			}
		case msg := <-h.broadcast:
			subs, ok := clients[msg.deploymentID]
			if !ok {
				continue
			}
			for c := range subs {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(subs, c)
				}
			}
			if len(subs) == 0 {
				delete(clients, msg.deploymentID)
			}
		}
	}
}

// Register adds a client to a deployment stream.
func (h *Hub) Register(deploymentID string, client Subscriber) {
	select {
	case h.register <- subscription{deploymentID: deploymentID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(deploymentID string, client Subscriber) {
	select {
	case h.unreg <- subscription{deploymentID: deploymentID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to every client of a deployment.
func (h *Hub) Broadcast(deploymentID string, payload []byte) {
	select {
	case h.broadcast <- message{deploymentID: deploymentID, payload: payload}:
	case <-h.done:
	}
}

// Close stops the dispatch loop and closes every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
