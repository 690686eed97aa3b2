package domain

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var ErrMessageEmpty = errors.New("message empty")

// FileAttachment rides along with a chat message. The server relays the
// payload verbatim; it never decodes Data.
type FileAttachment struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Data string `json:"data"`
}

// ChatMessage is stamped by the server so every client observes the same
// id, sender and timestamp regardless of delivery order.
type ChatMessage struct {
	ID         string          `json:"id"`
	SenderID   PeerID          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Message    string          `json:"message"`
	File       *FileAttachment `json:"file,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// NewChatMessage stamps a message with a unique id and the current time.
func NewChatMessage(sender PeerID, senderName, text string, file *FileAttachment) (*ChatMessage, error) {
	if text == "" && file == nil {
		return nil, ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		// Never cut inside a multi-byte rune.
		cut := MaxMessageLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return &ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   sender,
		SenderName: senderName,
		Message:    text,
		File:       file,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
