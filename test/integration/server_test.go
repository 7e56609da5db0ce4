package integration

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

// TestHealthEndpointIntegration tests the health endpoint with the actual
// server configuration.
func TestHealthEndpointIntegration(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, "GET", cs.HTTP.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	contentType := resp.Header.Get("Content-Type")
	if contentType != "text/plain" {
		t.Errorf("Expected content type text/plain, got %s", contentType)
	}
}

// TestAPIHealthEndpointIntegration tests the JSON health endpoint of the
// read-only API.
func TestAPIHealthEndpointIntegration(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, "GET", cs.HTTP.URL+"/api/health")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var body map[string]string
	testhelpers.DecodeJSONBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body)
	}
}

// TestWebSocketEndpointRejectsNonGET verifies that the WebSocket endpoint only
// accepts GET requests.
func TestWebSocketEndpointRejectsNonGET(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, "POST", cs.HTTP.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

// TestWebSocketEndpointRequiresUpgrade verifies that a plain GET without the
// upgrade handshake headers is rejected.
func TestWebSocketEndpointRequiresUpgrade(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, "GET", cs.HTTP.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
}

// TestAPIMessagesRequiresGET verifies the history endpoint is read-only.
func TestAPIMessagesRequiresGET(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, "POST", cs.HTTP.URL+"/api/messages/general")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

// TestServerTimeouts tests that the server has proper timeout configurations.
func TestServerTimeouts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	})

	srv := server.CreateServer(":0", mux)

	if srv.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", srv.ReadTimeout)
	}
	if srv.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", srv.IdleTimeout)
	}

	testServer := httptest.NewUnstartedServer(mux)
	testServer.Config = srv
	testServer.Start()
	defer testServer.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(testServer.URL + "/slow")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
}
