package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
)

// Outbound event names. Room and DM message events carry ids in the name,
// see RoomEventName and DirectEventName.
const (
	EventIdentified    = "identified"
	EventLoungeMessage = "receive_lounge_message"
	EventNotification  = "new_message_notification"
	EventRoomNotice    = "room_notice"
	EventUnreadCount   = "unread_count"
	EventError         = "error"

	NoticeJoined = "joined"
	NoticeLeft   = "left"

	roomMessageEventPrefix   = "receive_message_"
	directMessageEventPrefix = "receive_direct_message_"
)

// MaxBodyRunes caps the length of a message body.
const MaxBodyRunes = 2000

const timestampLayout = time.RFC3339Nano

// Frame is the JSON envelope of every WebSocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals data into a frame named name.
func Encode(name string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return json.Marshal(Frame{Event: name, Data: payload})
}

func RoomEventName(id room.ID) string {
	if id.Kind() == room.KindLounge {
		return EventLoungeMessage
	}
	return roomMessageEventPrefix + event.ID(id.EventID()).String()
}

func DirectEventName(from, to user.ID) string {
	return directMessageEventPrefix + from.String() + "_" + to.String()
}

// ChatMessage is the wire shape of a room, lounge or direct message, both
// when broadcast and in history responses.
type ChatMessage struct {
	ID         message.ID `json:"id"`
	RoomID     room.ID    `json:"room_id"`
	SenderID   user.ID    `json:"sender_id"`
	Username   string     `json:"username"`
	ReceiverID user.ID    `json:"receiver_id,omitempty"`
	Message    string     `json:"message"`
	Timestamp  string     `json:"timestamp"`
}

func NewChatMessage(msg message.Message) ChatMessage {
	return ChatMessage{
		ID:         msg.ID,
		RoomID:     msg.Room,
		SenderID:   msg.SenderID,
		Username:   msg.SenderName,
		ReceiverID: msg.ReceiverID,
		Message:    msg.Body,
		Timestamp:  formatTime(msg.SentAt),
	}
}

type Notification struct {
	MessageID      message.ID `json:"message_id"`
	SenderID       user.ID    `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	Preview        string     `json:"preview"`
	Timestamp      string     `json:"timestamp"`
}

type RoomNotice struct {
	RoomID    room.ID `json:"room_id"`
	Kind      string  `json:"kind"`
	UserID    user.ID `json:"user_id"`
	Username  string  `json:"username"`
	Timestamp string  `json:"timestamp"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

type Identified struct {
	UserID   user.ID `json:"user_id"`
	Username string  `json:"username"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Request   string `json:"request,omitempty"`
	Retryable bool   `json:"retryable"`
}

// NewErrorPayload describes err for the connection that sent request. The
// message never echoes user input.
func NewErrorPayload(request string, err error) ErrorPayload {
	code := Code(err)
	var text string
	switch code {
	case "unauthenticated":
		text = "identify before sending"
	case "not_found":
		text = "target does not exist"
	case "blocked":
		text = "messaging between these users is blocked"
	case "invalid_input":
		text = "request is invalid"
	case "forbidden":
		text = "not allowed in this room"
	case "persistence_failure":
		text = "message could not be stored"
	default:
		text = "internal error"
	}
	return ErrorPayload{Code: code, Message: text, Request: request, Retryable: Retryable(err)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
