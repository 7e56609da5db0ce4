// Package server coordinates client registration, room membership, and event
// fan-out for the chat relay via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// Delivery describes one outgoing payload and its audience. Exactly one of
// Target, TargetID, or Room narrows the audience; with none set the payload
// goes to every connected client. Exclude skips the originating client, used
// by typing indicators which must not echo to the sender.
type Delivery struct {
	Payload  []byte
	Room     string
	Target   *Client
	TargetID string
	Exclude  *Client
}

// Hub manages all WebSocket client connections, their room memberships, and
// event delivery. Membership and the client set are mutex-protected; all
// fan-out flows through a single channel so payloads reach clients in the
// order they were submitted.
type Hub struct {
	clients    map[*Client]bool
	byID       map[string]*Client
	rooms      map[string]map[*Client]struct{}
	broadcast  chan Delivery
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance. The returned Hub is ready
// to manage connections once Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Delivery),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetBroadcastChan returns the channel used for submitting deliveries.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetBroadcastChan() chan<- Delivery {
	return h.broadcast
}

// SendToAll delivers a payload to every connected client.
func (h *Hub) SendToAll(payload []byte) {
	h.deliver(Delivery{Payload: payload})
}

// SendToRoom delivers a payload to every member of a room.
func (h *Hub) SendToRoom(room string, payload []byte) {
	h.deliver(Delivery{Room: room, Payload: payload})
}

// SendToRoomExcept delivers a payload to every member of a room except one.
func (h *Hub) SendToRoomExcept(room string, except *Client, payload []byte) {
	h.deliver(Delivery{Room: room, Exclude: except, Payload: payload})
}

// SendToClient delivers a payload to a single client.
func (h *Hub) SendToClient(c *Client, payload []byte) {
	h.deliver(Delivery{Target: c, Payload: payload})
}

// SendToConn delivers a payload to the client with the given connection id.
// An unknown or already-disconnected id is dropped silently.
func (h *Hub) SendToConn(connID string, payload []byte) {
	h.deliver(Delivery{TargetID: connID, Payload: payload})
}

func (h *Hub) deliver(d Delivery) {
	select {
	case h.broadcast <- d:
	case <-h.ctx.Done():
	}
}

// JoinRoom adds a registered client to a room's delivery group.
func (h *Hub) JoinRoom(c *Client, room string) {
	if c == nil || room == "" {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// LeaveRoom removes a client from a room's delivery group. Empty rooms are
// dropped from the map.
func (h *Hub) LeaveRoom(c *Client, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leaveRoomLocked(c, room)
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomCount returns the number of clients currently joined to a room.
func (h *Hub) RoomCount(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and delivery fan-out. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			h.byID[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)

		case delivery := <-h.broadcast:
			h.handleDelivery(delivery)
		}
	}
}

// removeClient drops a client from the client set, the id index, and every
// room it joined, then closes its send channel.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.byID, client.id)
	for room := range h.rooms {
		h.leaveRoomLocked(client, room)
	}
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)
}

// handleDelivery resolves a delivery's audience, sends the payload, and drops
// clients whose send buffers are full.
func (h *Hub) handleDelivery(d Delivery) {
	targets := h.resolveTargets(d)

	var failed []*Client
	for _, client := range targets {
		if d.Exclude != nil && client == d.Exclude {
			continue
		}
		if !h.safeSend(client, d.Payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// resolveTargets returns a thread-safe snapshot of the delivery's audience.
func (h *Hub) resolveTargets(d Delivery) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	switch {
	case d.Target != nil:
		return []*Client{d.Target}
	case d.TargetID != "":
		if client, ok := h.byID[d.TargetID]; ok {
			return []*Client{client}
		}
		return nil
	case d.Room != "":
		members := h.rooms[d.Room]
		targets := make([]*Client, 0, len(members))
		for client := range members {
			targets = append(targets, client)
		}
		return targets
	default:
		targets := make([]*Client, 0, len(h.clients))
		for client := range h.clients {
			targets = append(targets, client)
		}
		return targets
	}
}

// removeFailedClients removes clients that failed to receive payloads and
// closes their channels.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range failed {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			delete(h.byID, client.id)
			for room := range h.rooms {
				h.leaveRoomLocked(client, room)
			}
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all client connections are closed and
// goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
