// Package server drives the chat protocol state machine: login, room
// membership, message exchange, typing indicators, reactions, and read
// receipts for each client connection.
package server

import (
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pmSeparator joins the sorted username pair forming the synthetic room key a
// direct-message conversation is stored under, and tags direct-message ids.
const pmSeparator = "::pm::"

// anonymousUser is the sender attributed to connections that emit messages
// without logging in first.
const anonymousUser = "Anonymous"

// ChatHandler is the protocol state machine driving client connections. It
// validates events against the session registry, mutates the message store,
// and fans resulting events out through the hub. A single mutex serializes
// event handling, so a room's members observe messages in the order the store
// appended them.
type ChatHandler struct {
	mu       sync.Mutex
	hub      *Hub
	store    *MessageStore
	registry *Registry
}

// NewChatHandler wires the hub, message store, and session registry into a
// chat protocol handler.
func NewChatHandler(hub *Hub, store *MessageStore, registry *Registry) *ChatHandler {
	return &ChatHandler{
		hub:      hub,
		store:    store,
		registry: registry,
	}
}

// Hub returns the hub this handler fans events out through.
func (h *ChatHandler) Hub() *Hub {
	return h.hub
}

// Dispatch routes one decoded client envelope to its event handler. Unknown
// events are acknowledged as failures when the client asked for an ack and
// dropped otherwise.
func (h *ChatHandler) Dispatch(c *Client, env Envelope) {
	switch env.Event {
	case "login":
		h.handleLogin(c, env)
	case "join_room":
		h.handleJoinRoom(c, env)
	case "leave_room":
		h.handleLeaveRoom(c, env)
	case "message":
		h.handleMessage(c, env)
	case "private_message":
		h.handlePrivateMessage(c, env)
	case "typing":
		h.handleTyping(c, env)
	case "reaction":
		h.handleReaction(c, env)
	case "read_messages":
		h.handleReadMessages(c, env)
	case "get_users":
		h.handleGetUsers(c, env)
	default:
		log.Printf("Unknown event %q from %s", env.Event, c.addr)
		h.ack(c, env, ackResult{Error: "unknown event"})
	}
}

func (h *ChatHandler) handleLogin(c *Client, env Envelope) {
	var req loginRequest
	decodePayload(env.Data, &req)

	h.mu.Lock()
	defer h.mu.Unlock()

	sess, err := h.registry.Register(c.id, req.Username)
	if err != nil {
		h.ack(c, env, ackResult{Error: err.Error()})
		return
	}

	h.pushUserList()
	h.pushNotification(Notification{Type: NotifyUserJoin, Username: sess.Username, TS: time.Now().UTC()})
	log.Printf("%s logged in (%s)", sess.Username, c.id)
	h.ack(c, env, ackResult{Success: true, User: &sess})
}

func (h *ChatHandler) handleJoinRoom(c *Client, env Envelope) {
	var req roomRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.hub.JoinRoom(c, room)
	h.registry.SetRoom(c.id, room)

	cfg := currentConfig()
	history := h.store.List(room, 1, cfg.PageSize)
	h.pushToClient(c, "room_history", roomHistoryEvent{Room: room, Messages: history})

	h.pushRoomNotification(room, Notification{
		Type:     NotifyJoinRoom,
		Username: h.usernameFor(c, "Unknown"),
		Room:     room,
		TS:       time.Now().UTC(),
	})
	h.ack(c, env, ackResult{Success: true, Room: room})
}

func (h *ChatHandler) handleLeaveRoom(c *Client, env Envelope) {
	var req roomRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.hub.LeaveRoom(c, room)
	h.registry.SetRoom(c.id, "")

	h.pushRoomNotification(room, Notification{
		Type:     NotifyLeaveRoom,
		Username: h.usernameFor(c, "Unknown"),
		Room:     room,
		TS:       time.Now().UTC(),
	})
	h.ack(c, env, ackResult{Success: true, Room: room})
}

func (h *ChatHandler) handleMessage(c *Client, env Envelope) {
	var req messageRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := &Message{
		ID:        c.id + "::" + strconv.FormatInt(time.Now().UnixMilli(), 10),
		Room:      room,
		From:      h.usernameFor(c, anonymousUser),
		Text:      req.Text,
		TS:        time.Now().UTC(),
		ReadBy:    []string{},
		Reactions: map[string]int{},
	}
	h.store.Add(room, msg)

	h.pushToRoom(room, "new_message", msg)
	h.ack(c, env, ackResult{Success: true, ID: msg.ID})
}

func (h *ChatHandler) handlePrivateMessage(c *Client, env Envelope) {
	var req privateMessageRequest
	decodePayload(env.Data, &req)

	h.mu.Lock()
	defer h.mu.Unlock()

	from := h.usernameFor(c, anonymousUser)
	pm := &Message{
		ID:        c.id + pmSeparator + strconv.FormatInt(time.Now().UnixMilli(), 10),
		From:      from,
		To:        req.To,
		Text:      req.Text,
		TS:        time.Now().UTC(),
		ReadBy:    []string{},
		Reactions: map[string]int{},
	}
	h.store.Add(directRoomKey(from, req.To), pm)

	payload, err := encodeEvent("private_message", pm)
	if err != nil {
		log.Printf("Error encoding private message: %v", err)
		h.ack(c, env, ackResult{Error: "internal error"})
		return
	}

	// Echo to the sender; deliver to the recipient only while online.
	h.hub.SendToClient(c, payload)
	if connID, ok := h.registry.LookupByUsername(req.To); ok {
		h.hub.SendToConn(connID, payload)
	}
	h.ack(c, env, ackResult{Success: true})
}

func (h *ChatHandler) handleTyping(c *Client, env Envelope) {
	var req typingRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)

	// Stateless: no registry or store mutation, never acknowledged, and the
	// sender must not see its own indicator.
	payload, err := encodeEvent("user_typing", typingEvent{
		Room:     room,
		Username: h.usernameFor(c, anonymousUser),
		Typing:   req.Typing,
	})
	if err != nil {
		log.Printf("Error encoding typing indicator: %v", err)
		return
	}
	h.hub.SendToRoomExcept(room, c, payload)
}

func (h *ChatHandler) handleReaction(c *Client, env Envelope) {
	var req reactionRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)

	h.mu.Lock()
	defer h.mu.Unlock()

	reactions, err := h.store.AttachReaction(room, req.MessageID, req.Reaction)
	if err != nil {
		h.ack(c, env, ackResult{Error: err.Error()})
		return
	}

	h.pushToRoom(room, "message_reaction", reactionEvent{
		Room:      room,
		MessageID: req.MessageID,
		Reactions: reactions,
	})
	h.ack(c, env, ackResult{Success: true})
}

func (h *ChatHandler) handleReadMessages(c *Client, env Envelope) {
	var req readMessagesRequest
	decodePayload(env.Data, &req)
	room := h.roomOrDefault(req.Room)
	if req.MessageIDs == nil {
		req.MessageIDs = []string{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	reader := anonymousUser
	if sess, ok := h.registry.Lookup(c.id); ok {
		reader = sess.Username
		for _, id := range req.MessageIDs {
			// Evicted or unknown ids are skipped, not reported.
			h.store.MarkRead(room, id, sess.Username)
		}
	}

	// The receipt echoes the submitted ids, not the subset that was found.
	h.pushToRoom(room, "read_receipts", readReceiptsEvent{
		Room:       room,
		Username:   reader,
		MessageIDs: req.MessageIDs,
	})
	h.ack(c, env, ackResult{Success: true})
}

func (h *ChatHandler) handleGetUsers(c *Client, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ack(c, env, usersResult{Users: h.registry.ListOnline()})
}

// HandleDisconnect removes the connection's session and, if one existed,
// announces the departure to every connected client.
func (h *ChatHandler) HandleDisconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.registry.Remove(c.id)
	if !ok {
		return
	}

	h.pushUserList()
	h.pushNotification(Notification{Type: NotifyUserLeft, Username: sess.Username, TS: time.Now().UTC()})
	log.Printf("%s disconnected (%s)", sess.Username, c.id)
}

// ack sends the acknowledgment payload back to the requesting connection.
// Requests submitted without a correlation id are not acknowledged.
func (h *ChatHandler) ack(c *Client, env Envelope, result any) {
	if env.ID == 0 {
		return
	}
	payload, err := encodeAck(env.ID, result)
	if err != nil {
		log.Printf("Error encoding ack for %s: %v", c.addr, err)
		return
	}
	h.hub.SendToClient(c, payload)
}

func (h *ChatHandler) pushUserList() {
	payload, err := encodeEvent("user_list", h.registry.ListOnline())
	if err != nil {
		log.Printf("Error encoding user list: %v", err)
		return
	}
	h.hub.SendToAll(payload)
}

func (h *ChatHandler) pushNotification(n Notification) {
	payload, err := encodeEvent("notification", n)
	if err != nil {
		log.Printf("Error encoding notification: %v", err)
		return
	}
	h.hub.SendToAll(payload)
}

func (h *ChatHandler) pushRoomNotification(room string, n Notification) {
	payload, err := encodeEvent("notification", n)
	if err != nil {
		log.Printf("Error encoding notification: %v", err)
		return
	}
	h.hub.SendToRoom(room, payload)
}

func (h *ChatHandler) pushToRoom(room, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	h.hub.SendToRoom(room, payload)
}

func (h *ChatHandler) pushToClient(c *Client, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return
	}
	h.hub.SendToClient(c, payload)
}

// usernameFor resolves the username bound to a connection, falling back for
// connections that never logged in.
func (h *ChatHandler) usernameFor(c *Client, fallback string) string {
	if sess, ok := h.registry.Lookup(c.id); ok {
		return sess.Username
	}
	return fallback
}

// roomOrDefault substitutes the configured default room for blank room names.
func (h *ChatHandler) roomOrDefault(room string) string {
	if strings.TrimSpace(room) == "" {
		return currentConfig().DefaultRoom
	}
	return room
}

// directRoomKey derives the synthetic room a direct-message conversation is
// stored under: both usernames sorted lexicographically and joined with the
// direct-message separator.
func directRoomKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, pmSeparator)
}

// decodePayload fills a request struct from an event's data object. Missing or
// malformed payloads are tolerated; fields keep their zero values and the
// handlers apply defaults.
func decodePayload(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("Ignoring malformed event payload: %v", err)
	}
}
