// Package server implements the in-memory message store backing room history,
// reactions, and read receipts.
package server

import (
	"errors"
	"sync"
)

// ErrMessageNotFound is returned when a message id is absent from a room's
// log, either because it never existed or because it was evicted.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore keeps a bounded append-only message log per room. Once a room's
// log exceeds the capacity the oldest messages are dropped. All methods are
// safe for concurrent use.
type MessageStore struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[string][]*Message
}

// NewMessageStore creates a MessageStore holding at most capacity messages per
// room. A non-positive capacity falls back to the default history limit.
func NewMessageStore(capacity int) *MessageStore {
	if capacity <= 0 {
		capacity = defaultHistoryLimit
	}
	return &MessageStore{
		capacity: capacity,
		rooms:    make(map[string][]*Message),
	}
}

// Add appends a message to the room's log, evicting the oldest entries if the
// log would exceed the store capacity.
func (s *MessageStore) Add(room string, msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string]int{}
	}

	entries := append(s.rooms[room], msg)
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}
	s.rooms[room] = entries
}

// List returns a page of messages in insertion order, newest page first:
// page 1 holds the most recent pageSize messages, page 2 the pageSize before
// those, and so on. Pages past the available history yield an empty slice.
func (s *MessageStore) List(room string, page, pageSize int) []Message {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rooms[room]
	start := len(entries) - page*pageSize
	if start < 0 {
		start = 0
	}
	end := len(entries) - (page-1)*pageSize
	if end < 0 {
		end = 0
	}

	out := make([]Message, 0, end-start)
	for _, m := range entries[start:end] {
		out = append(out, m.clone())
	}
	return out
}

// Find returns a copy of the message with the given id, if it is still in the
// room's log. Absence is an expected outcome, not an error.
func (s *MessageStore) Find(room, id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m := s.findLocked(room, id); m != nil {
		return m.clone(), true
	}
	return Message{}, false
}

// Len returns the number of messages currently retained for a room.
func (s *MessageStore) Len(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// AttachReaction increments the count for a reaction key on a message and
// returns the updated reaction counts. It fails with ErrMessageNotFound if the
// message is absent from the room's log.
func (s *MessageStore) AttachReaction(room, id, reaction string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findLocked(room, id)
	if m == nil {
		return nil, ErrMessageNotFound
	}
	m.Reactions[reaction]++

	out := make(map[string]int, len(m.Reactions))
	for k, v := range m.Reactions {
		out[k] = v
	}
	return out, nil
}

// MarkRead records that a user has read a message. Marking the same message
// twice is a no-op, as is marking a message that is no longer in the log.
// It reports whether the message was found.
func (s *MessageStore) MarkRead(room, id, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findLocked(room, id)
	if m == nil {
		return false
	}
	for _, u := range m.ReadBy {
		if u == username {
			return true
		}
	}
	m.ReadBy = append(m.ReadBy, username)
	return true
}

// findLocked scans a room's log for a message id. Linear scan is fine at the
// bounded log sizes this store holds.
func (s *MessageStore) findLocked(room, id string) *Message {
	for _, m := range s.rooms[room] {
		if m.ID == id {
			return m
		}
	}
	return nil
}
