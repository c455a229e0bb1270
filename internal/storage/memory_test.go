package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for _, u := range []user.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}} {
		if err := s.PutUser(ctx, u); err != nil {
			t.Fatalf("PutUser: %v", err)
		}
	}
	return s
}

func TestMemoryStoreListByRoomKeepsNewest(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := message.Message{
			ID:       message.ID(fmt.Sprintf("m%d", i)),
			Room:     room.Event(42),
			SenderID: 1,
			Body:     fmt.Sprintf("body %d", i),
			SentAt:   base.Add(time.Duration(i) * time.Second),
		}
		if _, err := s.Messages().Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := s.Messages().Append(ctx, message.Message{ID: "other", Room: room.Lounge(), SenderID: 1, Body: "x", SentAt: base}); err != nil {
		t.Fatalf("Append lounge: %v", err)
	}

	msgs, err := s.Messages().ListByRoom(ctx, room.Event(42), 3)
	if err != nil {
		t.Fatalf("ListByRoom: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "m2" || msgs[2].ID != "m4" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestMemoryStoreAppendFailure(t *testing.T) {
	s := seedMemory(t)
	s.FailAppend = errors.New("disk full")

	_, err := s.Messages().Append(context.Background(), message.Message{ID: "m", Room: room.Lounge(), SenderID: 1, Body: "x", SentAt: time.Now()})
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected injected failure, got %v", err)
	}
	msgs, _ := s.Messages().ListByRoom(context.Background(), room.Lounge(), 10)
	if len(msgs) != 0 {
		t.Fatalf("failed append must not be stored: %+v", msgs)
	}
}

func TestMemoryStoreUnreadAndConversations(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	direct := []message.Message{
		{ID: "d1", Room: room.DM(1, 2), SenderID: 2, ReceiverID: 1, Body: "hi", SentAt: base},
		{ID: "d2", Room: room.DM(1, 2), SenderID: 2, ReceiverID: 1, Body: "again", SentAt: base.Add(time.Second)},
		{ID: "d3", Room: room.DM(1, 3), SenderID: 3, ReceiverID: 1, Body: "hey", SentAt: base.Add(2 * time.Second)},
		{ID: "d4", Room: room.DM(1, 3), SenderID: 1, ReceiverID: 3, Body: "back", SentAt: base.Add(3 * time.Second)},
	}
	for _, msg := range direct {
		if _, err := s.Messages().Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if n, _ := s.Messages().CountUnread(ctx, 1, 0); n != 3 {
		t.Fatalf("total unread = %d, want 3", n)
	}
	if n, _ := s.Messages().CountUnread(ctx, 1, 2); n != 2 {
		t.Fatalf("unread from bob = %d, want 2", n)
	}

	convs, err := s.Messages().Conversations(ctx, 1)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 2 || convs[0].Partner != 3 || convs[0].LastMessage.ID != "d4" || convs[1].Unread != 2 {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	updated, err := s.Messages().MarkRead(ctx, 2, 1)
	if err != nil || updated != 2 {
		t.Fatalf("MarkRead = %d, %v", updated, err)
	}
	if updated, _ := s.Messages().MarkRead(ctx, 2, 1); updated != 0 {
		t.Fatalf("second MarkRead = %d, want 0", updated)
	}
	if n, _ := s.Messages().CountUnread(ctx, 1, 0); n != 1 {
		t.Fatalf("total unread after mark = %d, want 1", n)
	}

	pair, err := s.Messages().ListByPair(ctx, 2, 1, 10)
	if err != nil || len(pair) != 2 || !pair[0].Read {
		t.Fatalf("ListByPair = %+v, %v", pair, err)
	}
}

func TestMemoryStoreBlocksAndAttendance(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	if err := s.Users().Block(ctx, 1, 2); err != nil {
		t.Fatalf("Block: %v", err)
	}
	status, _ := s.Users().BlockStatus(ctx, 2, 1)
	if status.BlockedByViewer || !status.BlockedViewer {
		t.Fatalf("unexpected status from blocked side: %+v", status)
	}
	if err := s.Users().Unblock(ctx, 1, 2); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if status, _ := s.Users().BlockStatus(ctx, 1, 2); status.Blocked() {
		t.Fatalf("expected no block, got %+v", status)
	}

	if err := s.AddAttendee(ctx, 42, 1); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected missing event error, got %v", err)
	}
	if err := s.PutEvent(ctx, event.Event{ID: 42, Name: "Launch"}); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	if err := s.AddAttendee(ctx, 42, 99); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected missing user error, got %v", err)
	}
	if err := s.AddAttendee(ctx, 42, 1); err != nil {
		t.Fatalf("AddAttendee: %v", err)
	}
	if ok, _ := s.Events().IsAttending(ctx, 42, 1); !ok {
		t.Fatal("expected alice to attend")
	}
	if ok, _ := s.Events().IsAttending(ctx, 42, 2); ok {
		t.Fatal("expected bob not to attend")
	}
}
