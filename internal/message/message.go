package message

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
)

type ID string

// Message is one chat line. Messages are never edited after Append.
type Message struct {
	ID         ID
	Room       room.ID
	SenderID   user.ID
	SenderName string
	// ReceiverID is only set for direct messages.
	ReceiverID user.ID
	Body       string
	SentAt     time.Time
	Read       bool
}

func (m Message) IsDirect() bool {
	return m.Room.Kind() == room.KindDM
}

// Conversation summarizes one DM partner from a user's point of view.
type Conversation struct {
	Partner     user.ID
	LastMessage Message
	Unread      int64
}

// Store is the persistence contract of the chat layer. Every call is atomic
// on its own; callers never need multi-message transactions.
type Store interface {
	Append(ctx context.Context, msg Message) (ID, error)
	// ListByRoom returns the most recent limit messages, oldest first.
	ListByRoom(ctx context.Context, id room.ID, limit int) ([]Message, error)
	// ListByPair returns the most recent limit direct messages between a
	// and b, oldest first.
	ListByPair(ctx context.Context, a, b user.ID, limit int) ([]Message, error)
	// CountUnread counts unread direct messages to receiver. A zero sender
	// counts across all senders.
	CountUnread(ctx context.Context, receiver, sender user.ID) (int64, error)
	// MarkRead flags every unread message from sender to receiver as read
	// and returns how many changed.
	MarkRead(ctx context.Context, sender, receiver user.ID) (int64, error)
	// Conversations lists the user's DM partners, most recent first.
	Conversations(ctx context.Context, userID user.ID) ([]Conversation, error)
}

const previewRunes = 30

// Preview shortens body for notification badges.
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= previewRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:previewRunes]) + "..."
}
