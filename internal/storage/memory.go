package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
)

// MemoryStore keeps everything in process memory. It is selected with
// CHAT_STORE=memory and loses all data on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[user.ID]user.User
	blocks    map[[2]user.ID]struct{}
	events    map[event.ID]event.Event
	attendees map[event.ID]map[user.ID]struct{}
	messages  []message.Message

	// FailAppend makes Append return this error, for exercising the
	// persistence failure path.
	FailAppend error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[user.ID]user.User),
		blocks:    make(map[[2]user.ID]struct{}),
		events:    make(map[event.ID]event.Event),
		attendees: make(map[event.ID]map[user.ID]struct{}),
	}
}

func (s *MemoryStore) Close(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *MemoryStore) Users() user.Repository {
	return memUsers{s}
}

func (s *MemoryStore) Events() event.Repository {
	return memEvents{s}
}

func (s *MemoryStore) Messages() message.Store {
	return memMessages{s}
}

func (s *MemoryStore) PutUser(_ context.Context, u user.User) error {
	if u.ID <= 0 || u.Username == "" {
		return fmt.Errorf("user id and username are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) PutEvent(_ context.Context, ev event.Event) error {
	if ev.ID <= 0 || ev.Name == "" {
		return fmt.Errorf("event id and name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
	return nil
}

func (s *MemoryStore) AddAttendee(_ context.Context, id event.ID, userID user.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return event.ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return user.ErrNotFound
	}
	if s.attendees[id] == nil {
		s.attendees[id] = make(map[user.ID]struct{})
	}
	s.attendees[id][userID] = struct{}{}
	return nil
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) GetByID(_ context.Context, id user.ID) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r memUsers) Block(_ context.Context, blocker, blocked user.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.blocks[[2]user.ID{blocker, blocked}] = struct{}{}
	return nil
}

func (r memUsers) Unblock(_ context.Context, blocker, blocked user.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.blocks, [2]user.ID{blocker, blocked})
	return nil
}

func (r memUsers) BlockStatus(_ context.Context, viewer, other user.ID) (user.BlockStatus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, byViewer := r.s.blocks[[2]user.ID{viewer, other}]
	_, byOther := r.s.blocks[[2]user.ID{other, viewer}]
	return user.BlockStatus{BlockedByViewer: byViewer, BlockedViewer: byOther}, nil
}

type memEvents struct{ s *MemoryStore }

func (r memEvents) GetByID(_ context.Context, id event.ID) (event.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ev, ok := r.s.events[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return ev, nil
}

func (r memEvents) IsAttending(_ context.Context, id event.ID, userID user.ID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.attendees[id][userID]
	return ok, nil
}

type memMessages struct{ s *MemoryStore }

func (r memMessages) Append(_ context.Context, msg message.Message) (message.ID, error) {
	if msg.ID == "" || msg.Room.IsZero() || msg.SenderID <= 0 || msg.SentAt.IsZero() || msg.Body == "" {
		return "", fmt.Errorf("message id, room, sender, body, and sent_at are required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailAppend != nil {
		return "", r.s.FailAppend
	}
	r.s.messages = append(r.s.messages, msg)
	return msg.ID, nil
}

func (r memMessages) ListByRoom(_ context.Context, id room.ID, limit int) ([]message.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []message.Message
	for _, msg := range r.s.messages {
		if msg.Room == id {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r memMessages) ListByPair(ctx context.Context, a, b user.ID, limit int) ([]message.Message, error) {
	if a <= 0 || b <= 0 || a == b {
		return nil, fmt.Errorf("two distinct user ids are required")
	}
	return r.ListByRoom(ctx, room.DM(a, b), limit)
}

func (r memMessages) CountUnread(_ context.Context, receiver, sender user.ID) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, msg := range r.s.messages {
		if msg.ReceiverID == receiver && !msg.Read && (sender == 0 || msg.SenderID == sender) {
			n++
		}
	}
	return n, nil
}

func (r memMessages) MarkRead(_ context.Context, sender, receiver user.ID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.messages {
		msg := &r.s.messages[i]
		if msg.SenderID == sender && msg.ReceiverID == receiver && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (r memMessages) Conversations(_ context.Context, userID user.ID) ([]message.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	byPartner := make(map[user.ID]*message.Conversation)
	for _, msg := range r.s.messages {
		if msg.ReceiverID == 0 {
			continue
		}
		var partner user.ID
		switch userID {
		case msg.SenderID:
			partner = msg.ReceiverID
		case msg.ReceiverID:
			partner = msg.SenderID
		default:
			continue
		}
		conv := byPartner[partner]
		if conv == nil {
			conv = &message.Conversation{Partner: partner}
			byPartner[partner] = conv
		}
		if !msg.SentAt.Before(conv.LastMessage.SentAt) {
			conv.LastMessage = msg
		}
		if msg.ReceiverID == userID && !msg.Read {
			conv.Unread++
		}
	}

	out := make([]message.Conversation, 0, len(byPartner))
	for _, conv := range byPartner {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out, nil
}
