package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/presence"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/google/uuid"
)

// Publisher receives every frame after it has been delivered locally.
type Publisher interface {
	PublishRoom(ctx context.Context, id room.ID, frame []byte) error
	PublishNotify(ctx context.Context, to user.ID, frame []byte) error
}

// DeliveryRecorder counts frames handed to connections.
type DeliveryRecorder interface {
	RecordDelivery(ok bool)
}

type nopPublisher struct{}

func (nopPublisher) PublishRoom(context.Context, room.ID, []byte) error   { return nil }
func (nopPublisher) PublishNotify(context.Context, user.ID, []byte) error { return nil }

// Router validates, persists and fans out chat traffic. Sends to the same
// room are serialized so that delivery order matches timestamp order.
type Router struct {
	users    *user.Service
	events   *event.Service
	messages message.Store
	conns    *presence.Manager
	rooms    *room.Registry
	relay    Publisher
	recorder DeliveryRecorder
	seq      *sequencer
	clock    *clock
	newID    func() string
}

func NewRouter(users *user.Service, events *event.Service, messages message.Store, conns *presence.Manager, rooms *room.Registry, relay Publisher) *Router {
	if relay == nil {
		relay = nopPublisher{}
	}
	return &Router{
		users:    users,
		events:   events,
		messages: messages,
		conns:    conns,
		rooms:    rooms,
		relay:    relay,
		seq:      newSequencer(),
		clock:    &clock{now: time.Now},
		newID:    uuid.NewString,
	}
}

func (r *Router) SetRecorder(rec DeliveryRecorder) {
	r.recorder = rec
}

// Identify binds conn to the user after checking the user exists.
func (r *Router) Identify(ctx context.Context, conn room.ConnID, id user.ID) (user.User, error) {
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return user.User{}, translate(err)
	}
	previous, bound := r.conns.Identity(conn)
	if err := r.conns.BindIdentity(ctx, conn, u.ID); err != nil {
		if errors.Is(err, presence.ErrUnknownConnection) {
			return user.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return user.User{}, translate(err)
	}
	if bound && previous != u.ID {
		r.dropPrivateRooms(conn, u.ID)
	}
	return u, nil
}

// dropPrivateRooms silently removes conn from inboxes and DM rooms that me
// is not part of. Event and lounge memberships stay.
func (r *Router) dropPrivateRooms(conn room.ConnID, me user.ID) {
	for _, id := range r.rooms.Rooms(conn) {
		switch id.Kind() {
		case room.KindInbox:
			if id.UserID() == me {
				continue
			}
		case room.KindDM:
			if id.Includes(me) {
				continue
			}
		default:
			continue
		}
		unlock := r.seq.lock(id)
		r.rooms.Leave(conn, id)
		unlock()
	}
}

// Identity returns the user bound to conn. A non-zero claimed id must match.
func (r *Router) Identity(conn room.ConnID, claimed user.ID) (user.ID, error) {
	id, ok := r.conns.Identity(conn)
	if !ok {
		return 0, fmt.Errorf("%w: connection has no identity", ErrUnauthenticated)
	}
	if claimed != 0 && claimed != id {
		return 0, fmt.Errorf("%w: payload user does not match connection", ErrUnauthenticated)
	}
	return id, nil
}

// Join subscribes conn to the room and tells the other members.
func (r *Router) Join(ctx context.Context, conn room.ConnID, id room.ID, claimed user.ID) error {
	me, err := r.Identity(conn, claimed)
	if err != nil {
		return err
	}
	if err := r.checkJoin(ctx, me, id); err != nil {
		return err
	}
	u, err := r.users.GetByID(ctx, me)
	if err != nil {
		return translate(err)
	}

	unlock := r.seq.lock(id)
	defer unlock()
	joined, others := r.rooms.Join(conn, id)
	if !joined || len(others) == 0 {
		return nil
	}
	r.notice(id, NoticeJoined, u, others)
	return nil
}

func (r *Router) checkJoin(ctx context.Context, me user.ID, id room.ID) error {
	switch id.Kind() {
	case room.KindLounge:
		return nil
	case room.KindEvent:
		if _, err := r.events.GetByID(ctx, event.ID(id.EventID())); err != nil {
			return translate(err)
		}
		return nil
	case room.KindDM:
		if !id.Includes(me) {
			return fmt.Errorf("%w: not a participant of %s", ErrForbidden, id)
		}
		a, b, _ := id.Participants()
		other := a
		if other == me {
			other = b
		}
		return r.checkNotBlocked(ctx, me, other)
	case room.KindInbox:
		if id.UserID() != me {
			return fmt.Errorf("%w: inbox of another user", ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown room", ErrInvalidInput)
	}
}

// JoinInbox subscribes conn to the personal channel of its user and pushes
// the current unread total to it.
func (r *Router) JoinInbox(ctx context.Context, conn room.ConnID, claimed user.ID) error {
	me, err := r.Identity(conn, claimed)
	if err != nil {
		return err
	}
	if err := r.Join(ctx, conn, room.Inbox(me), me); err != nil {
		return err
	}
	count, err := r.messages.CountUnread(ctx, me, 0)
	if err != nil {
		securelog.Warn("chat.join_inbox.count", err)
		return nil
	}
	if frame, err := Encode(EventUnreadCount, UnreadCount{Count: count}); err == nil {
		r.conns.Deliver(conn, frame)
	}
	return nil
}

// Leave unsubscribes conn. Remaining members are told only when conn was
// actually a member.
func (r *Router) Leave(ctx context.Context, conn room.ConnID, id room.ID, claimed user.ID) error {
	me, err := r.Identity(conn, claimed)
	if err != nil {
		return err
	}
	if id.IsZero() {
		return fmt.Errorf("%w: room is required", ErrInvalidInput)
	}

	u, err := r.users.GetByID(ctx, me)
	if err != nil {
		u = user.User{ID: me}
	}

	unlock := r.seq.lock(id)
	defer unlock()
	left, remaining := r.rooms.Leave(conn, id)
	if !left || len(remaining) == 0 {
		return nil
	}
	r.notice(id, NoticeLeft, u, remaining)
	return nil
}

func (r *Router) notice(id room.ID, kind string, u user.User, to []room.ConnID) {
	frame, err := Encode(EventRoomNotice, RoomNotice{
		RoomID:    id,
		Kind:      kind,
		UserID:    u.ID,
		Username:  u.Username,
		Timestamp: formatTime(r.clock.next()),
	})
	if err != nil {
		securelog.Error("chat.notice.encode", err)
		return
	}
	r.fanOut(id, to, frame)
}

// SendToRoom posts body to an event room or the lounge.
func (r *Router) SendToRoom(ctx context.Context, conn room.ConnID, id room.ID, claimed user.ID, body string) (message.Message, error) {
	me, err := r.Identity(conn, claimed)
	if err != nil {
		return message.Message{}, err
	}

	sender, err := r.users.GetByID(ctx, me)
	if err != nil {
		return message.Message{}, translate(err)
	}
	switch id.Kind() {
	case room.KindEvent:
		status, err := r.events.RSVPStatus(ctx, event.ID(id.EventID()), me)
		if err != nil {
			return message.Message{}, translate(err)
		}
		if !status.Attending {
			return message.Message{}, fmt.Errorf("%w: sender does not attend the event", ErrForbidden)
		}
		if status.ChatClosed {
			return message.Message{}, fmt.Errorf("%w: event chat is closed", ErrForbidden)
		}
	case room.KindLounge:
	default:
		return message.Message{}, fmt.Errorf("%w: not a broadcast room", ErrInvalidInput)
	}
	body, err = cleanBody(body)
	if err != nil {
		return message.Message{}, err
	}

	unlock := r.seq.lock(id)
	defer unlock()

	msg := message.Message{
		ID:         message.ID(r.newID()),
		Room:       id,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Body:       body,
		SentAt:     r.clock.next(),
	}
	if err := r.persist(ctx, msg); err != nil {
		return message.Message{}, err
	}

	frame, err := Encode(RoomEventName(id), NewChatMessage(msg))
	if err != nil {
		return msg, err
	}
	r.fanOut(id, r.rooms.Members(id), frame)
	r.publishRoom(ctx, id, frame)
	return msg, nil
}

// SendLounge posts body to the global lounge.
func (r *Router) SendLounge(ctx context.Context, conn room.ConnID, claimed user.ID, body string) (message.Message, error) {
	return r.SendToRoom(ctx, conn, room.Lounge(), claimed, body)
}

// SendDirect stores a direct message and delivers it to the DM room and to
// the personal channels of both users. The receiver's channel also gets a
// notification.
func (r *Router) SendDirect(ctx context.Context, conn room.ConnID, claimed, receiverID user.ID, body string) (message.Message, error) {
	me, err := r.Identity(conn, claimed)
	if err != nil {
		return message.Message{}, err
	}

	sender, err := r.users.GetByID(ctx, me)
	if err != nil {
		return message.Message{}, translate(err)
	}
	receiver, err := r.users.GetByID(ctx, receiverID)
	if err != nil {
		return message.Message{}, translate(err)
	}
	if err := r.checkNotBlocked(ctx, sender.ID, receiver.ID); err != nil {
		return message.Message{}, err
	}
	if sender.ID == receiver.ID {
		return message.Message{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	}
	body, err = cleanBody(body)
	if err != nil {
		return message.Message{}, err
	}

	dm := room.DM(sender.ID, receiver.ID)
	unlock := r.seq.lock(dm)
	defer unlock()

	msg := message.Message{
		ID:         message.ID(r.newID()),
		Room:       dm,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		ReceiverID: receiver.ID,
		Body:       body,
		SentAt:     r.clock.next(),
	}
	if err := r.persist(ctx, msg); err != nil {
		return message.Message{}, err
	}

	payload := NewChatMessage(msg)
	forward, err := Encode(DirectEventName(sender.ID, receiver.ID), payload)
	if err != nil {
		return msg, err
	}
	backward, err := Encode(DirectEventName(receiver.ID, sender.ID), payload)
	if err != nil {
		return msg, err
	}
	recipients := union(r.rooms.Members(dm), r.rooms.Members(room.Inbox(sender.ID)), r.rooms.Members(room.Inbox(receiver.ID)))
	r.fanOut(dm, recipients, forward)
	r.fanOut(dm, recipients, backward)
	r.publishRoom(ctx, dm, forward)

	notification, err := Encode(EventNotification, Notification{
		MessageID:      msg.ID,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Preview:        message.Preview(body),
		Timestamp:      formatTime(msg.SentAt),
	})
	if err != nil {
		return msg, err
	}
	inbox := room.Inbox(receiver.ID)
	r.fanOut(inbox, r.rooms.Members(inbox), notification)
	if err := r.relay.PublishNotify(ctx, receiver.ID, notification); err != nil {
		securelog.Warn("chat.relay.notify", err)
	}
	return msg, nil
}

func (r *Router) checkNotBlocked(ctx context.Context, a, b user.ID) error {
	blocked, err := r.users.IsBlocked(ctx, a, b)
	if err != nil {
		return translate(err)
	}
	if blocked {
		return fmt.Errorf("%w: users %d and %d", ErrBlocked, a, b)
	}
	return nil
}

func (r *Router) persist(ctx context.Context, msg message.Message) error {
	if _, err := r.messages.Append(ctx, msg); err != nil {
		securelog.Error("chat.persist", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (r *Router) fanOut(id room.ID, to []room.ConnID, frame []byte) {
	dropped := 0
	for _, conn := range to {
		ok := r.conns.Deliver(conn, frame)
		if !ok {
			dropped++
		}
		if r.recorder != nil {
			r.recorder.RecordDelivery(ok)
		}
	}
	if dropped > 0 {
		log.Printf("chat: dropped %d of %d frames for %s", dropped, len(to), id)
	}
}

func (r *Router) publishRoom(ctx context.Context, id room.ID, frame []byte) {
	if err := r.relay.PublishRoom(ctx, id, frame); err != nil {
		securelog.Warn("chat.relay.room", err)
	}
}

func cleanBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: message body is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return "", fmt.Errorf("%w: message body exceeds %d characters", ErrInvalidInput, MaxBodyRunes)
	}
	return body, nil
}

func union(sets ...[]room.ConnID) []room.ConnID {
	seen := make(map[room.ConnID]struct{})
	var out []room.ConnID
	for _, set := range sets {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
