// Package server tracks the binding between live connections and usernames in
// the session registry.
package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidUsername is returned when a login username is empty after trimming.
var ErrInvalidUsername = errors.New("username required")

// Session binds a connection to a username for as long as the connection lives.
type Session struct {
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
	CurrentRoom  string `json:"currentRoom,omitempty"`
}

// OnlineUser is one entry of the online user list pushed to clients.
type OnlineUser struct {
	Username string `json:"username"`
}

// UserStatus describes an online user for the read-only HTTP API.
type UserStatus struct {
	Username    string `json:"username"`
	Online      bool   `json:"online"`
	CurrentRoom string `json:"currentRoom,omitempty"`
}

// Registry owns the connection-to-session and username-to-connection mappings.
// A username maps to at most one connection: a second login with the same name
// overwrites the mapping and the previous connection's session entry is left
// behind until that connection disconnects. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byName   map[string]string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byName:   make(map[string]string),
	}
}

// Register binds a username to a connection and returns the created session.
// It fails with ErrInvalidUsername if the username is blank after trimming.
// An existing mapping for the username is silently overwritten, last login
// wins.
func (r *Registry) Register(connID, username string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, ErrInvalidUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{Username: username, ConnectionID: connID}
	r.sessions[connID] = sess
	r.byName[username] = connID
	return *sess, nil
}

// SetRoom records the connection's current room for bookkeeping. Unknown
// connections are ignored. An empty room clears the field.
func (r *Registry) SetRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[connID]; ok {
		sess.CurrentRoom = room
	}
}

// Lookup returns the session bound to a connection, if any.
func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// LookupByUsername returns the connection currently bound to a username.
func (r *Registry) LookupByUsername(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byName[username]
	return connID, ok
}

// Remove deletes a connection's session along with the username mapping and
// returns the removed session so the caller can announce the departure. The
// username mapping is deleted even if a later login rebound the name to a
// different connection, matching the relay's observed last-login-wins
// semantics.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	delete(r.byName, sess.Username)
	return *sess, true
}

// ListOnline returns a point-in-time copy of the online user list, one entry
// per username regardless of how many stale connection entries remain.
func (r *Registry) ListOnline() []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]OnlineUser, 0, len(r.byName))
	for username := range r.byName {
		users = append(users, OnlineUser{Username: username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// Snapshot returns the online users with their current rooms for the HTTP API.
func (r *Registry) Snapshot() []UserStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]UserStatus, 0, len(r.byName))
	for username, connID := range r.byName {
		status := UserStatus{Username: username, Online: true}
		if sess, ok := r.sessions[connID]; ok {
			status.CurrentRoom = sess.CurrentRoom
		}
		users = append(users, status)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}
