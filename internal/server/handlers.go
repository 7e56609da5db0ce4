// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler handles WebSocket upgrade requests and hands connections to
// the chat handler. It validates that the request uses the GET method,
// upgrades the HTTP connection, creates a Client, and registers it with the
// hub, which launches the read/write pumps.
func (h *ChatHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	h.hub.GetRegisterChan() <- client
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the relay is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

// TestPageHandler serves an HTML page for exercising the chat protocol by
// hand: login, join a room, send messages, and watch the event stream.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] { padding: 5px; margin-right: 5px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div>
        <input type="text" id="username" placeholder="Username">
        <button onclick="login()">Login</button>
        <input type="text" id="room" placeholder="Room" value="global">
        <button onclick="joinRoom()">Join</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="text" placeholder="Type a message..." style="width: 300px;">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="events"></div>

    <script>
        const eventsDiv = document.getElementById('events');
        let nextId = 1;
        const ws = new WebSocket('ws://' + location.host + '/ws');

        function logEvent(direction, frame) {
            const el = document.createElement('div');
            el.textContent = direction + ' ' + JSON.stringify(frame);
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        ws.onmessage = function(e) { logEvent('<<', JSON.parse(e.data)); };
        ws.onclose = function() { logEvent('--', {event: 'closed'}); };

        function emit(event, data) {
            const frame = {event: event, id: nextId++, data: data};
            ws.send(JSON.stringify(frame));
            logEvent('>>', frame);
        }

        function login() {
            emit('login', {username: document.getElementById('username').value});
        }

        function joinRoom() {
            emit('join_room', {room: document.getElementById('room').value});
        }

        function sendMessage() {
            emit('message', {
                room: document.getElementById('room').value,
                text: document.getElementById('text').value
            });
            document.getElementById('text').value = '';
        }

        document.getElementById('text').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
