// Package server exposes the read-only HTTP API: online users, paginated room
// history, and a JSON liveness probe.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// messagesResponse is the JSON body of GET /api/messages/{room}.
type messagesResponse struct {
	Room     string    `json:"room"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Messages []Message `json:"messages"`
}

// APIHealthHandler reports liveness as JSON for probes that expect a
// structured body.
func APIHealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// UsersHandler returns the online users with their current rooms.
func (h *ChatHandler) UsersHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.registry.Snapshot())
}

// MessagesHandler returns one page of a room's history, newest page first,
// using the same pagination semantics as the room_history replay.
func (h *ChatHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		room = currentConfig().DefaultRoom
	}

	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	pageSize := parsePositiveInt(r.URL.Query().Get("pageSize"), currentConfig().PageSize)

	writeJSON(w, messagesResponse{
		Room:     room,
		Page:     page,
		PageSize: pageSize,
		Messages: h.store.List(room, page, pageSize),
	})
}

func parsePositiveInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
