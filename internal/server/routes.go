// Package server wires HTTP handlers into a ServeMux for the chat relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health checks, the WebSocket endpoint, the read-only API, and the
// test page.
func SetupRoutes(chat *ChatHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", chat.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.HandleFunc("GET /api/health", APIHealthHandler)
	mux.HandleFunc("GET /api/users", chat.UsersHandler)
	mux.HandleFunc("GET /api/messages/{room}", chat.MessagesHandler)
	return mux
}
