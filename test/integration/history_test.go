package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

func seedMessages(cs *testhelpers.ChatServer, room string, count int) {
	for i := 0; i < count; i++ {
		cs.Store.Add(room, &server.Message{
			ID:   fmt.Sprintf("seed-%d", i),
			Room: room,
			From: "seeder",
			Text: fmt.Sprintf("text-%d", i),
			TS:   time.Now().UTC(),
		})
	}
}

// TestRoomHistoryOnJoin verifies that joining a room replays its recent
// history before the join ack.
func TestRoomHistoryOnJoin(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)
	seedMessages(cs, "archive", 3)

	conn := testhelpers.Connect(t, cs)
	testhelpers.Login(t, conn, "alice")
	history := testhelpers.JoinRoom(t, conn, "archive")

	messages, _ := history["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("Expected 3 history messages, got %d", len(messages))
	}
	for i, raw := range messages {
		msg, _ := raw.(map[string]any)
		expected := fmt.Sprintf("seed-%d", i)
		if msg["id"] != expected {
			t.Errorf("History position %d: expected id %q, got %v", i, expected, msg["id"])
		}
	}
}

// TestRoomHistoryEviction verifies that the bounded history only replays the
// most recent messages once a room exceeds its capacity.
func TestRoomHistoryEviction(t *testing.T) {
	cs := testhelpers.StartChatServer(t, func(cfg *server.Config) {
		cfg.HistoryLimit = 4
		cfg.PageSize = 10
	})
	seedMessages(cs, "busy", 7)

	conn := testhelpers.Connect(t, cs)
	testhelpers.Login(t, conn, "alice")
	history := testhelpers.JoinRoom(t, conn, "busy")

	messages, _ := history["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("Expected capped history of 4, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["id"] != "seed-3" {
		t.Errorf("Expected oldest surviving message seed-3, got %v", first["id"])
	}
}

// TestRESTMessagePagination verifies the read-only HTTP history endpoint,
// including the page-from-the-end slicing.
func TestRESTMessagePagination(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)
	seedMessages(cs, "paged", 120)

	var page struct {
		Room     string           `json:"room"`
		Page     int              `json:"page"`
		PageSize int              `json:"pageSize"`
		Messages []server.Message `json:"messages"`
	}
	resp := testhelpers.MakeRequest(t, "GET", cs.HTTP.URL+"/api/messages/paged?page=2&pageSize=50")
	testhelpers.AssertStatusCode(t, resp, 200)
	testhelpers.DecodeJSONBody(t, resp, &page)

	if page.Room != "paged" || page.Page != 2 || page.PageSize != 50 {
		t.Errorf("Unexpected page metadata: %+v", page)
	}
	if len(page.Messages) != 50 {
		t.Fatalf("Expected 50 messages on page 2, got %d", len(page.Messages))
	}
	if page.Messages[0].ID != "seed-20" || page.Messages[49].ID != "seed-69" {
		t.Errorf("Page 2 should span seed-20..seed-69, got %s..%s",
			page.Messages[0].ID, page.Messages[49].ID)
	}
}

// TestPrivateMessageFlow verifies direct messages: both parties receive the
// payload, it is stored under the synthetic direct-conversation key, and the
// room field stays empty on the wire.
func TestPrivateMessageFlow(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	alice := testhelpers.Connect(t, cs)
	bob := testhelpers.Connect(t, cs)
	testhelpers.Login(t, alice, "alice")
	testhelpers.Login(t, bob, "bob")

	id := testhelpers.NextID()
	testhelpers.SendEvent(t, alice, "private_message", id, map[string]string{"to": "bob", "text": "psst"})

	echo := testhelpers.WaitForEvent(t, alice, "private_message")
	if echo["from"] != "alice" || echo["to"] != "bob" || echo["text"] != "psst" {
		t.Errorf("Unexpected sender echo: %v", echo)
	}
	if _, hasRoom := echo["room"]; hasRoom {
		t.Errorf("Direct message should not carry a room field: %v", echo)
	}

	received := testhelpers.WaitForEvent(t, bob, "private_message")
	if received["id"] != echo["id"] {
		t.Errorf("Recipient saw id %v, sender saw %v", received["id"], echo["id"])
	}

	ack := testhelpers.WaitForAck(t, alice, id)
	if success, _ := ack["success"].(bool); !success {
		t.Fatalf("Expected successful ack, got %v", ack)
	}

	if got := cs.Store.Len("alice::pm::bob"); got != 1 {
		t.Errorf("Expected 1 stored direct message, got %d", got)
	}
}

// TestPrivateMessageOfflineRecipient verifies that messaging an offline user
// still succeeds for the sender and is stored, with nothing delivered to
// anyone else.
func TestPrivateMessageOfflineRecipient(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	alice := testhelpers.Connect(t, cs)
	bob := testhelpers.Connect(t, cs)
	testhelpers.Login(t, alice, "alice")
	testhelpers.Login(t, bob, "bob")

	id := testhelpers.NextID()
	testhelpers.SendEvent(t, alice, "private_message", id, map[string]string{"to": "carol", "text": "hello?"})

	testhelpers.WaitForEvent(t, alice, "private_message")
	ack := testhelpers.WaitForAck(t, alice, id)
	if success, _ := ack["success"].(bool); !success {
		t.Fatalf("Expected success even for offline recipient, got %v", ack)
	}

	testhelpers.ExpectNoEvent(t, bob, "private_message", 300*time.Millisecond)
	if got := cs.Store.Len("alice::pm::carol"); got != 1 {
		t.Errorf("Expected offline direct message to be stored, got %d", got)
	}
}

// TestReactionFlow verifies that a reaction to a stored message is broadcast
// to the room with updated counts.
func TestReactionFlow(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	alice := testhelpers.Connect(t, cs)
	bob := testhelpers.Connect(t, cs)
	testhelpers.Login(t, alice, "alice")
	testhelpers.Login(t, bob, "bob")
	testhelpers.JoinRoom(t, alice, "general")
	testhelpers.JoinRoom(t, bob, "general")

	msgID := testhelpers.NextID()
	testhelpers.SendEvent(t, alice, "message", msgID, map[string]string{"room": "general", "text": "react to me"})
	ack := testhelpers.WaitForAck(t, alice, msgID)
	storedID, _ := ack["id"].(string)
	if storedID == "" {
		t.Fatalf("Expected a message id in the ack, got %v", ack)
	}
	testhelpers.WaitForEvent(t, bob, "new_message")

	reactID := testhelpers.NextID()
	testhelpers.SendEvent(t, bob, "reaction", reactID, map[string]string{
		"room": "general", "messageId": storedID, "reaction": "👍",
	})

	update := testhelpers.WaitForEvent(t, alice, "message_reaction")
	if update["messageId"] != storedID {
		t.Errorf("Reaction update for wrong message: %v", update)
	}
	counts, _ := update["reactions"].(map[string]any)
	if counts["👍"] != float64(1) {
		t.Errorf("Expected thumbs-up count 1, got %v", counts)
	}

	reactAck := testhelpers.WaitForAck(t, bob, reactID)
	if success, _ := reactAck["success"].(bool); !success {
		t.Errorf("Expected successful reaction ack, got %v", reactAck)
	}
}

// TestReactionUnknownMessage verifies that reacting to a missing message
// fails through the ack and produces no broadcast.
func TestReactionUnknownMessage(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	conn := testhelpers.Connect(t, cs)
	testhelpers.Login(t, conn, "alice")
	testhelpers.JoinRoom(t, conn, "general")

	id := testhelpers.NextID()
	testhelpers.SendEvent(t, conn, "reaction", id, map[string]string{
		"room": "general", "messageId": "no-such-message", "reaction": "👍",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := testhelpers.ReceiveEnvelope(t, conn, time.Until(deadline))
		if env.Event == "message_reaction" {
			t.Fatal("Failed reaction must not be broadcast")
		}
		if env.Event == "ack" && env.ID == id {
			data := testhelpers.DecodeData(t, env)
			if success, _ := data["success"].(bool); success {
				t.Error("Expected reaction to an unknown message to fail")
			}
			return
		}
	}
	t.Fatal("Timed out waiting for reaction ack")
}

// TestReadReceipts verifies that read receipts echo the submitted ids to the
// room and record readers idempotently on stored messages.
func TestReadReceipts(t *testing.T) {
	cs := testhelpers.StartChatServer(t, nil)

	alice := testhelpers.Connect(t, cs)
	bob := testhelpers.Connect(t, cs)
	testhelpers.Login(t, alice, "alice")
	testhelpers.Login(t, bob, "bob")
	testhelpers.JoinRoom(t, alice, "general")
	testhelpers.JoinRoom(t, bob, "general")

	msgID := testhelpers.NextID()
	testhelpers.SendEvent(t, alice, "message", msgID, map[string]string{"room": "general", "text": "read me"})
	ack := testhelpers.WaitForAck(t, alice, msgID)
	storedID, _ := ack["id"].(string)
	testhelpers.WaitForEvent(t, bob, "new_message")

	// Read the same message twice plus one id that does not exist.
	for i := 0; i < 2; i++ {
		readID := testhelpers.NextID()
		testhelpers.SendEvent(t, bob, "read_messages", readID, map[string]any{
			"room": "general", "messageIds": []string{storedID, "ghost"},
		})
		testhelpers.WaitForAck(t, bob, readID)
	}

	receipt := testhelpers.WaitForEvent(t, alice, "read_receipts")
	if receipt["username"] != "bob" || receipt["room"] != "general" {
		t.Errorf("Unexpected receipt payload: %v", receipt)
	}
	ids, _ := receipt["messageIds"].([]any)
	if len(ids) != 2 || ids[0] != storedID || ids[1] != "ghost" {
		t.Errorf("Receipt should echo the submitted ids unfiltered, got %v", ids)
	}

	msg, ok := cs.Store.Find("general", storedID)
	if !ok {
		t.Fatal("Stored message disappeared")
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0] != "bob" {
		t.Errorf("Expected readBy [bob] after duplicate reads, got %v", msg.ReadBy)
	}
}
