// Package server defines the wire envelope and event payload types exchanged
// between chat clients and the relay, plus shared utility helpers.
package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the JSON frame exchanged over a WebSocket connection. Client
// frames carry an event name, an optional acknowledgment correlation id, and
// an event-specific data object. Server pushes reuse the same shape; direct
// responses to a request use the reserved "ack" event with the id echoed back.
type Envelope struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a chat message stored in a room log. Reactions and ReadBy are the
// only fields mutated after creation, and both only ever grow.
type Message struct {
	ID        string         `json:"id"`
	Room      string         `json:"room,omitempty"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Text      string         `json:"text"`
	TS        time.Time      `json:"ts"`
	ReadBy    []string       `json:"readBy"`
	Reactions map[string]int `json:"reactions"`
}

// clone returns a value copy safe to hand out while the original keeps being
// mutated under the store lock.
func (m *Message) clone() Message {
	cp := *m
	cp.ReadBy = make([]string, len(m.ReadBy))
	copy(cp.ReadBy, m.ReadBy)
	cp.Reactions = make(map[string]int, len(m.Reactions))
	for k, v := range m.Reactions {
		cp.Reactions[k] = v
	}
	return cp
}

// Notification is the payload of the "notification" server push announcing
// presence and room membership changes.
type Notification struct {
	Type     string    `json:"type"`
	Username string    `json:"username"`
	Room     string    `json:"room,omitempty"`
	TS       time.Time `json:"ts"`
}

// Notification types.
const (
	NotifyUserJoin  = "user_join"
	NotifyUserLeft  = "user_left"
	NotifyJoinRoom  = "join_room"
	NotifyLeaveRoom = "leave_room"
)

// Client-to-server event payloads. Decoding is permissive: a missing or
// malformed field keeps its zero value and the handler applies defaults.
type loginRequest struct {
	Username string `json:"username"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type messageRequest struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

type privateMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type typingRequest struct {
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

type reactionRequest struct {
	Room      string `json:"room"`
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

type readMessagesRequest struct {
	Room       string   `json:"room"`
	MessageIDs []string `json:"messageIds"`
}

// ackResult is the acknowledgment payload returned to the requesting
// connection for mutating events.
type ackResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Room    string   `json:"room,omitempty"`
	ID      string   `json:"id,omitempty"`
	User    *Session `json:"user,omitempty"`
}

// usersResult is the acknowledgment payload for the get_users request.
type usersResult struct {
	Users []OnlineUser `json:"users"`
}

// Server push payloads.
type roomHistoryEvent struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

type typingEvent struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

type reactionEvent struct {
	Room      string         `json:"room"`
	MessageID string         `json:"messageId"`
	Reactions map[string]int `json:"reactions"`
}

type readReceiptsEvent struct {
	Room       string   `json:"room"`
	Username   string   `json:"username"`
	MessageIDs []string `json:"messageIds"`
}

// encodeEvent wraps an event payload in an Envelope and marshals the frame.
func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// encodeAck marshals an acknowledgment frame correlated to a request id.
func encodeAck(id int64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode ack payload: %w", err)
	}
	return json.Marshal(Envelope{Event: "ack", ID: id, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
