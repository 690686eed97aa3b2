package client

import (
	"encoding/json"
	"testing"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDirectoryMembership(t *testing.T) {
	d := NewDirectory()

	d.handleJoined(mustJSON(t, protocol.PeerJoinedEvent{PeerID: "a", Username: "ali"}))
	d.handleJoined(mustJSON(t, protocol.PeerJoinedEvent{PeerID: "b", Username: "banu"}))
	d.handleJoined(mustJSON(t, protocol.PeerJoinedEvent{PeerID: "a", Username: "ali2"}))

	peers := d.Peers()
	if len(peers) != 2 {
		t.Fatalf("peers = %d, want 2 (re-join must upsert)", len(peers))
	}
	if peers[0].ID != "a" || peers[0].Username != "ali2" {
		t.Fatalf("upsert must keep the slot and update the name, got %+v", peers[0])
	}

	d.handleLeft(mustJSON(t, protocol.PeerLeftEvent{PeerID: "a"}))
	peers = d.Peers()
	if len(peers) != 1 || peers[0].ID != "b" {
		t.Fatalf("after leave = %+v", peers)
	}

	// Leaving twice is harmless.
	d.handleLeft(mustJSON(t, protocol.PeerLeftEvent{PeerID: "a"}))
	if len(d.Peers()) != 1 {
		t.Fatal("duplicate leave must be a no-op")
	}
}

func TestDirectoryStatusPatch(t *testing.T) {
	d := NewDirectory()
	d.handleJoined(mustJSON(t, protocol.PeerJoinedEvent{PeerID: "a", Username: "ali"}))

	muted := true
	d.handleStatus(mustJSON(t, protocol.PeerStatusEvent{PeerID: "a", Status: domain.Status{IsMicMuted: &muted}}))

	p := d.Peers()[0]
	if !p.IsMicMuted || p.IsDeafened {
		t.Fatalf("partial patch applied wrong: %+v", p)
	}

	deaf := true
	d.handleStatus(mustJSON(t, protocol.PeerStatusEvent{PeerID: "a", Status: domain.Status{IsDeafened: &deaf}}))
	p = d.Peers()[0]
	if !p.IsMicMuted || !p.IsDeafened {
		t.Fatalf("second patch must keep the first field: %+v", p)
	}

	// Unknown peers are ignored.
	d.handleStatus(mustJSON(t, protocol.PeerStatusEvent{PeerID: "ghost", Status: domain.Status{IsMicMuted: &muted}}))
}

func TestDirectoryChatDedup(t *testing.T) {
	d := NewDirectory()
	var delivered []string
	d.OnChat(func(msg domain.ChatMessage) { delivered = append(delivered, msg.ID) })

	msg := domain.ChatMessage{ID: "m1", SenderID: "a", SenderName: "ali", Message: "selam"}
	d.handleChat(mustJSON(t, msg))
	d.handleChat(mustJSON(t, msg))
	d.handleChat(mustJSON(t, domain.ChatMessage{ID: "m2", SenderID: "a", Message: "tekrar"}))

	if len(delivered) != 2 || delivered[0] != "m1" || delivered[1] != "m2" {
		t.Fatalf("delivered = %v, want [m1 m2]", delivered)
	}
	if got := d.Messages(); len(got) != 2 {
		t.Fatalf("log holds %d messages, want 2", len(got))
	}
}

func TestDirectorySeed(t *testing.T) {
	d := NewDirectory()
	d.handleJoined(mustJSON(t, protocol.PeerJoinedEvent{PeerID: "stale", Username: "eski"}))

	d.Seed([]domain.Summary{
		{ID: "a", Username: "ali", IsMicMuted: true},
		{ID: "b", Username: "banu"},
	})

	peers := d.Peers()
	if len(peers) != 2 || peers[0].ID != "a" || !peers[0].IsMicMuted || peers[1].ID != "b" {
		t.Fatalf("seeded peers = %+v", peers)
	}
}
