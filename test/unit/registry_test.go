package unit

import (
	"errors"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/server"
)

// TestRegisterRejectsBlankUsername verifies that registration fails for
// usernames that are empty after trimming.
func TestRegisterRejectsBlankUsername(t *testing.T) {
	registry := server.NewRegistry()

	for _, username := range []string{"", "   ", "\t\n"} {
		if _, err := registry.Register("conn-1", username); !errors.Is(err, server.ErrInvalidUsername) {
			t.Errorf("Expected ErrInvalidUsername for %q, got %v", username, err)
		}
	}

	if online := registry.ListOnline(); len(online) != 0 {
		t.Errorf("Expected empty online list after failed registrations, got %v", online)
	}
}

// TestRegisterTrimsUsername verifies that surrounding whitespace is stripped
// before the username becomes the session key.
func TestRegisterTrimsUsername(t *testing.T) {
	registry := server.NewRegistry()

	sess, err := registry.Register("conn-1", "  alice  ")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if sess.Username != "alice" {
		t.Errorf("Expected trimmed username alice, got %q", sess.Username)
	}
}

// TestLastLoginWins verifies that a second login with the same username
// rebinds the name to the newest connection while the prior connection's
// session entry is left behind until it disconnects.
func TestLastLoginWins(t *testing.T) {
	registry := server.NewRegistry()

	if _, err := registry.Register("conn-1", "alice"); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	if _, err := registry.Register("conn-2", "alice"); err != nil {
		t.Fatalf("Second register failed: %v", err)
	}

	online := registry.ListOnline()
	if len(online) != 1 || online[0].Username != "alice" {
		t.Fatalf("Expected online list [alice], got %v", online)
	}

	connID, ok := registry.LookupByUsername("alice")
	if !ok || connID != "conn-2" {
		t.Errorf("Expected alice bound to conn-2, got %q (found: %v)", connID, ok)
	}

	// The orphaned session under the first connection id survives.
	if _, ok := registry.Lookup("conn-1"); !ok {
		t.Error("Expected stale session for conn-1 to remain")
	}
}

// TestRemoveDropsBothMappings verifies that removing a connection deletes the
// session and the username binding and returns the removed session.
func TestRemoveDropsBothMappings(t *testing.T) {
	registry := server.NewRegistry()

	if _, err := registry.Register("conn-1", "alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sess, ok := registry.Remove("conn-1")
	if !ok {
		t.Fatal("Expected Remove to return the session")
	}
	if sess.Username != "alice" {
		t.Errorf("Expected removed session for alice, got %q", sess.Username)
	}

	if _, ok := registry.Lookup("conn-1"); ok {
		t.Error("Expected session to be gone after Remove")
	}
	if _, ok := registry.LookupByUsername("alice"); ok {
		t.Error("Expected username mapping to be gone after Remove")
	}
	if _, ok := registry.Remove("conn-1"); ok {
		t.Error("Expected second Remove to report absence")
	}
}

// TestRemoveStaleConnectionDropsRebindedUsername documents the last-login-wins
// cleanup semantics: when the orphaned first connection finally disconnects,
// its Remove also tears down the username binding that by then points at the
// newer connection.
func TestRemoveStaleConnectionDropsRebindedUsername(t *testing.T) {
	registry := server.NewRegistry()

	if _, err := registry.Register("conn-1", "alice"); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	if _, err := registry.Register("conn-2", "alice"); err != nil {
		t.Fatalf("Second register failed: %v", err)
	}

	if _, ok := registry.Remove("conn-1"); !ok {
		t.Fatal("Expected stale session removal to succeed")
	}

	if _, ok := registry.LookupByUsername("alice"); ok {
		t.Error("Expected username mapping to be dropped by the stale connection's removal")
	}
	if _, ok := registry.Lookup("conn-2"); !ok {
		t.Error("Expected the newer connection's session to survive")
	}
}

// TestSetRoomBookkeeping verifies that current-room tracking updates known
// connections, ignores unknown ones, and shows up in the API snapshot.
func TestSetRoomBookkeeping(t *testing.T) {
	registry := server.NewRegistry()

	registry.SetRoom("ghost", "general")

	if _, err := registry.Register("conn-1", "alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	registry.SetRoom("conn-1", "general")

	sess, ok := registry.Lookup("conn-1")
	if !ok || sess.CurrentRoom != "general" {
		t.Fatalf("Expected current room general, got %+v (found: %v)", sess, ok)
	}

	snapshot := registry.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("Expected one snapshot entry, got %d", len(snapshot))
	}
	if snapshot[0].Username != "alice" || !snapshot[0].Online || snapshot[0].CurrentRoom != "general" {
		t.Errorf("Unexpected snapshot entry: %+v", snapshot[0])
	}

	registry.SetRoom("conn-1", "")
	sess, _ = registry.Lookup("conn-1")
	if sess.CurrentRoom != "" {
		t.Errorf("Expected cleared current room, got %q", sess.CurrentRoom)
	}
}
