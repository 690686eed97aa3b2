package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSetUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"ok", "ayse", nil},
		{"empty", "", ErrUsernameEmpty},
		{"at limit", strings.Repeat("a", MaxUsernameLen), nil},
		{"over limit", strings.Repeat("a", MaxUsernameLen+1), ErrUsernameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPeer("p1")
			err := p.SetUsername(tt.input)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !p.Identified() {
				t.Fatal("peer with a username must be identified")
			}
			if tt.wantErr != nil && p.Identified() {
				t.Fatal("rejected username must not identify the peer")
			}
		})
	}
}

func TestOwnsTransport(t *testing.T) {
	p := NewPeer("p1")
	if p.OwnsTransport("") {
		t.Fatal("empty transport id never matches")
	}
	p.SendTransport = "t1"
	p.RecvTransport = "t2"
	if !p.OwnsTransport("t1") || !p.OwnsTransport("t2") {
		t.Fatal("peer must own both recorded transports")
	}
	if p.OwnsTransport("t3") {
		t.Fatal("foreign transport must not match")
	}
}

func TestNewChatMessage(t *testing.T) {
	msg, err := NewChatMessage("p1", "ali", "selam", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" || msg.SenderID != "p1" || msg.SenderName != "ali" {
		t.Fatalf("message = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", msg.Timestamp, err)
	}

	other, _ := NewChatMessage("p1", "ali", "selam", nil)
	if other.ID == msg.ID {
		t.Fatal("message ids must be unique")
	}

	if _, err := NewChatMessage("p1", "ali", "", nil); err != ErrMessageEmpty {
		t.Fatalf("empty message err = %v", err)
	}
	if _, err := NewChatMessage("p1", "ali", "", &FileAttachment{Name: "a.png"}); err != nil {
		t.Fatalf("file-only message must be allowed: %v", err)
	}

	long, _ := NewChatMessage("p1", "ali", strings.Repeat("x", MaxMessageLen+10), nil)
	if len(long.Message) != MaxMessageLen {
		t.Fatalf("long message must be truncated to %d, got %d", MaxMessageLen, len(long.Message))
	}

	// Truncation lands on a rune boundary even when the limit falls inside
	// a multi-byte character.
	mixed, _ := NewChatMessage("p1", "ali", strings.Repeat("x", MaxMessageLen-1)+"şşş", nil)
	if !utf8.ValidString(mixed.Message) {
		t.Fatal("truncated message must stay valid UTF-8")
	}
	if len(mixed.Message) > MaxMessageLen {
		t.Fatalf("truncated message is %d bytes, limit is %d", len(mixed.Message), MaxMessageLen)
	}
}

func TestMediaKindValid(t *testing.T) {
	if !KindAudio.Valid() || !KindVideo.Valid() {
		t.Fatal("audio and video are valid kinds")
	}
	if MediaKind("subtitles").Valid() {
		t.Fatal("unknown kind must be invalid")
	}
}
