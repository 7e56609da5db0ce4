// Package testhelpers provides common utilities and helper functions for
// testing the chat relay.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: building a fully wired relay on an httptest server,
// dialing WebSocket clients, emitting protocol events, and waiting for acks
// and server pushes.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/server"
)

var ackID atomic.Int64

// NextID returns a fresh ack correlation id.
func NextID() int64 {
	return ackID.Add(1)
}

// ChatServer bundles a fully wired relay running on an httptest server.
type ChatServer struct {
	HTTP     *httptest.Server
	Hub      *server.Hub
	Store    *server.MessageStore
	Registry *server.Registry
	Chat     *server.ChatHandler
}

// WSURL returns the ws:// URL of the relay's WebSocket endpoint.
func (cs *ChatServer) WSURL() string {
	return strings.Replace(cs.HTTP.URL, "http", "ws", 1) + "/ws"
}

// StartChatServer builds a hub, store, registry, and chat handler, starts the
// hub, and serves the full route set on an httptest server. The configuration
// allows the test server's own origin; customize may adjust it further.
// Everything is torn down via t.Cleanup.
func StartChatServer(t *testing.T, customize func(cfg *server.Config)) *ChatServer {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}

	hub := server.NewHub()
	store := server.NewMessageStore(cfg.HistoryLimit)
	registry := server.NewRegistry()
	chat := server.NewChatHandler(hub, store, registry)

	ts := httptest.NewServer(server.SetupRoutes(chat))

	cfg.AllowedOrigins = append([]string{ts.URL}, cfg.AllowedOrigins...)
	server.SetConfig(cfg)

	go hub.Run()

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		server.SetConfig(nil)
	})

	return &ChatServer{HTTP: ts, Hub: hub, Store: store, Registry: registry, Chat: chat}
}

// Connect dials the relay's WebSocket endpoint with the test server's own
// origin and fails the test if the handshake does not complete.
func Connect(t *testing.T, cs *ChatServer) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", cs.HTTP.URL)

	conn, resp, err := dialer.Dial(cs.WSURL(), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent emits one protocol frame. An id of zero sends the event without
// requesting an acknowledgment.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, id int64, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	frame := server.Envelope{Event: event, ID: id, Data: raw}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send %s event: %v", event, err)
	}
}

// ReceiveEnvelope reads the next frame, failing the test on error or when the
// timeout elapses first.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) server.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var env server.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return env
}

// WaitForEvent reads frames until one carrying the named event arrives,
// skipping unrelated pushes, and returns its decoded data object.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := ReceiveEnvelope(t, conn, time.Until(deadline))
		if env.Event == event {
			return DecodeData(t, env)
		}
	}
	t.Fatalf("Timed out waiting for %q event", event)
	return nil
}

// WaitForAck reads frames until the acknowledgment with the given correlation
// id arrives and returns its decoded payload.
func WaitForAck(t *testing.T, conn *websocket.Conn, id int64) map[string]any {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := ReceiveEnvelope(t, conn, time.Until(deadline))
		if env.Event == "ack" && env.ID == id {
			return DecodeData(t, env)
		}
	}
	t.Fatalf("Timed out waiting for ack %d", id)
	return nil
}

// DecodeData unmarshals an envelope's data object into a generic map.
func DecodeData(t *testing.T, env server.Envelope) map[string]any {
	t.Helper()

	if len(env.Data) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("Failed to decode %s data: %v", env.Event, err)
	}
	return data
}

// ExpectNoEvent asserts that the named event does not arrive within the
// timeout. Unrelated pushes received in the meantime are ignored.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(time.Now().Add(time.Until(deadline))); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var env server.Envelope
		err := conn.ReadJSON(&env)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %q: %v", event, err)
		}
		if env.Event == event {
			t.Fatalf("Expected no %q event, but received one", event)
		}
	}
}

// Login authenticates a connection and fails the test unless the relay
// acknowledges success.
func Login(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()

	id := NextID()
	SendEvent(t, conn, "login", id, map[string]string{"username": username})
	ack := WaitForAck(t, conn, id)
	if success, _ := ack["success"].(bool); !success {
		t.Fatalf("Login as %q failed: %v", username, ack["error"])
	}
}

// JoinRoom joins a room and fails the test unless the relay acknowledges
// success. The room_history push is consumed and returned.
func JoinRoom(t *testing.T, conn *websocket.Conn, room string) map[string]any {
	t.Helper()

	id := NextID()
	SendEvent(t, conn, "join_room", id, map[string]string{"room": room})
	history := WaitForEvent(t, conn, "room_history")
	ack := WaitForAck(t, conn, id)
	if success, _ := ack["success"].(bool); !success {
		t.Fatalf("Joining room %q failed: %v", room, ack["error"])
	}
	return history
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// DecodeJSONBody decodes an HTTP response body into the provided destination.
func DecodeJSONBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}
