package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/user"
)

// RoomHistory returns the most recent messages of an event room or the
// lounge, oldest first. Closed event chats stay readable.
func (r *Router) RoomHistory(ctx context.Context, viewer user.ID, id room.ID, limit int) ([]message.Message, error) {
	if viewer <= 0 {
		return nil, fmt.Errorf("%w: viewer is required", ErrUnauthenticated)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	switch id.Kind() {
	case room.KindEvent:
		if _, err := r.events.GetByID(ctx, event.ID(id.EventID())); err != nil {
			return nil, translate(err)
		}
	case room.KindLounge:
	default:
		return nil, fmt.Errorf("%w: not a broadcast room", ErrInvalidInput)
	}
	msgs, err := r.messages.ListByRoom(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list room history: %w", err)
	}
	return msgs, nil
}

// PairHistory returns the direct messages between viewer and other.
func (r *Router) PairHistory(ctx context.Context, viewer, other user.ID, limit int) ([]message.Message, error) {
	if viewer <= 0 {
		return nil, fmt.Errorf("%w: viewer is required", ErrUnauthenticated)
	}
	if limit <= 0 || viewer == other {
		return nil, fmt.Errorf("%w: limit and distinct partner required", ErrInvalidInput)
	}
	if _, err := r.users.GetByID(ctx, other); err != nil {
		return nil, translate(err)
	}
	msgs, err := r.messages.ListByPair(ctx, viewer, other, limit)
	if err != nil {
		return nil, fmt.Errorf("list pair history: %w", err)
	}
	return msgs, nil
}

// UnreadCount counts unread direct messages to receiver; a zero sender
// counts all senders.
func (r *Router) UnreadCount(ctx context.Context, receiver, sender user.ID) (int64, error) {
	if receiver <= 0 {
		return 0, fmt.Errorf("%w: receiver is required", ErrUnauthenticated)
	}
	if sender < 0 {
		return 0, fmt.Errorf("%w: sender id", ErrInvalidInput)
	}
	n, err := r.messages.CountUnread(ctx, receiver, sender)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead flags everything sender sent to receiver as read and pushes the
// remaining unread total to the receiver's personal channel.
func (r *Router) MarkRead(ctx context.Context, receiver, sender user.ID) (int64, error) {
	if receiver <= 0 {
		return 0, fmt.Errorf("%w: receiver is required", ErrUnauthenticated)
	}
	if sender <= 0 || sender == receiver {
		return 0, fmt.Errorf("%w: sender id", ErrInvalidInput)
	}
	updated, err := r.messages.MarkRead(ctx, sender, receiver)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	remaining, err := r.messages.CountUnread(ctx, receiver, 0)
	if err != nil {
		securelog.Warn("chat.mark_read.count", err)
		return updated, nil
	}
	frame, err := Encode(EventUnreadCount, UnreadCount{Count: remaining})
	if err != nil {
		return updated, nil
	}
	inbox := room.Inbox(receiver)
	r.fanOut(inbox, r.rooms.Members(inbox), frame)
	return updated, nil
}

// MarkReadFrom is MarkRead for the user bound to conn.
func (r *Router) MarkReadFrom(ctx context.Context, conn room.ConnID, sender user.ID) (int64, error) {
	me, err := r.Identity(conn, 0)
	if err != nil {
		return 0, err
	}
	return r.MarkRead(ctx, me, sender)
}

// Conversation is one row of a user's DM list.
type Conversation struct {
	Partner     user.User
	LastMessage message.Message
	Unread      int64
}

// Conversations lists DM partners, most recent first. Partners that no
// longer exist are left out.
func (r *Router) Conversations(ctx context.Context, viewer user.ID) ([]Conversation, error) {
	if viewer <= 0 {
		return nil, fmt.Errorf("%w: viewer is required", ErrUnauthenticated)
	}
	convs, err := r.messages.Conversations(ctx, viewer)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]Conversation, 0, len(convs))
	for _, conv := range convs {
		partner, err := r.users.GetByID(ctx, conv.Partner)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				continue
			}
			return nil, translate(err)
		}
		out = append(out, Conversation{Partner: partner, LastMessage: conv.LastMessage, Unread: conv.Unread})
	}
	return out, nil
}

func (r *Router) BlockStatus(ctx context.Context, viewer, other user.ID) (user.BlockStatus, error) {
	if viewer <= 0 {
		return user.BlockStatus{}, fmt.Errorf("%w: viewer is required", ErrUnauthenticated)
	}
	status, err := r.users.BlockStatus(ctx, viewer, other)
	return status, translate(err)
}

func (r *Router) Block(ctx context.Context, blocker, blocked user.ID) error {
	if blocker <= 0 {
		return fmt.Errorf("%w: blocker is required", ErrUnauthenticated)
	}
	return translate(r.users.Block(ctx, blocker, blocked))
}

func (r *Router) Unblock(ctx context.Context, blocker, blocked user.ID) error {
	if blocker <= 0 {
		return fmt.Errorf("%w: blocker is required", ErrUnauthenticated)
	}
	return translate(r.users.Unblock(ctx, blocker, blocked))
}

// RSVPStatus tells the chat UI whether the viewer may post in the event room.
func (r *Router) RSVPStatus(ctx context.Context, viewer user.ID, id event.ID) (event.RSVPStatus, error) {
	if viewer <= 0 {
		return event.RSVPStatus{}, fmt.Errorf("%w: viewer is required", ErrUnauthenticated)
	}
	status, err := r.events.RSVPStatus(ctx, id, viewer)
	return status, translate(err)
}
