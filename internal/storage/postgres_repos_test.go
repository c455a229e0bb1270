package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/DATA-DOG/go-sqlmock"
)

func newRepoSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

var messageRowColumns = []string{"id", "room_id", "sender_id", "sender_name", "receiver_id", "body", "sent_at", "is_read"}

func TestUserRepoGetByID(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &userRepo{db: db}
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, username FROM users WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(int64(1), "alice"))
	got, err := repo.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != 1 || got.Username != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}

	mock.ExpectQuery(`SELECT id, username FROM users`).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetByID(ctx, 2); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery(`SELECT id, username FROM users`).WithArgs(int64(3)).WillReturnError(errors.New("boom"))
	if _, err := repo.GetByID(ctx, 3); err == nil || !strings.Contains(err.Error(), "select user by id") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestUserRepoBlocks(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &userRepo{db: db}
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO user_blocks`).WithArgs(int64(1), int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Block(ctx, 1, 2); err != nil {
		t.Fatalf("Block: %v", err)
	}

	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"by_viewer", "by_other"}).AddRow(true, false))
	status, err := repo.BlockStatus(ctx, 1, 2)
	if err != nil {
		t.Fatalf("BlockStatus: %v", err)
	}
	if !status.BlockedByViewer || status.BlockedViewer || !status.Blocked() {
		t.Fatalf("unexpected status: %+v", status)
	}

	mock.ExpectExec(`DELETE FROM user_blocks`).WithArgs(int64(1), int64(2)).WillReturnError(errors.New("boom"))
	if err := repo.Unblock(ctx, 1, 2); err == nil || !strings.Contains(err.Error(), "delete block") {
		t.Fatalf("expected delete block error, got %v", err)
	}
}

func TestEventRepo(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &eventRepo{db: db}
	ctx := context.Background()
	date := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, name, venue_name, city, event_date FROM events`).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "venue_name", "city", "event_date"}).
			AddRow(int64(42), "Launch", "Hall", "Helsinki", date))
	ev, err := repo.GetByID(ctx, 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ev.Name != "Launch" || !ev.Date.Equal(date) {
		t.Fatalf("unexpected event: %+v", ev)
	}

	mock.ExpectQuery(`SELECT id, name, venue_name, city, event_date FROM events`).WithArgs(int64(43)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "venue_name", "city", "event_date"}).
			AddRow(int64(43), "Undated", "", "", nil))
	ev, err = repo.GetByID(ctx, 43)
	if err != nil {
		t.Fatalf("GetByID undated: %v", err)
	}
	if !ev.Date.IsZero() {
		t.Fatalf("expected zero date, got %v", ev.Date)
	}

	mock.ExpectQuery(`FROM events`).WithArgs(int64(44)).WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetByID(ctx, 44); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery(`FROM event_attendees`).WithArgs(int64(42), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	attending, err := repo.IsAttending(ctx, 42, 7)
	if err != nil || !attending {
		t.Fatalf("IsAttending = %v, %v", attending, err)
	}
}

func TestMessageRepoAppend(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &messageRepo{db: db}
	ctx := context.Background()
	sentAt := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO chat_messages`).
		WithArgs("m1", "event:42", int64(1), "alice", nil, "hi", sentAt, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	id, err := repo.Append(ctx, message.Message{ID: "m1", Room: room.Event(42), SenderID: 1, SenderName: "alice", Body: "hi", SentAt: sentAt})
	if err != nil || id != "m1" {
		t.Fatalf("Append = %q, %v", id, err)
	}

	mock.ExpectExec(`INSERT INTO chat_messages`).
		WithArgs("m2", "dm:1:2", int64(2), "bob", int64(1), "yo", sentAt, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if _, err := repo.Append(ctx, message.Message{ID: "m2", Room: room.DM(2, 1), SenderID: 2, SenderName: "bob", ReceiverID: 1, Body: "yo", SentAt: sentAt}); err != nil {
		t.Fatalf("Append direct: %v", err)
	}

	mock.ExpectExec(`INSERT INTO chat_messages`).WillReturnError(errors.New("disk full"))
	if _, err := repo.Append(ctx, message.Message{ID: "m3", Room: room.Lounge(), SenderID: 1, Body: "x", SentAt: sentAt}); err == nil || !strings.Contains(err.Error(), "insert chat message") {
		t.Fatalf("expected insert error, got %v", err)
	}

	if _, err := repo.Append(ctx, message.Message{ID: "m4", Room: room.Lounge(), SenderID: 1, SentAt: sentAt}); err == nil {
		t.Fatal("expected empty body to be rejected")
	}
}

func TestMessageRepoListByRoomReturnsOldestFirst(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &messageRepo{db: db}
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM chat_messages WHERE room_id = \$1 ORDER BY sent_at DESC, id DESC LIMIT \$2`).
		WithArgs("lounge", int64(2)).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow("m3", "lounge", int64(2), "bob", nil, "third", base.Add(2*time.Second), false).
			AddRow("m2", "lounge", int64(1), "alice", nil, "second", base.Add(time.Second), false))

	msgs, err := repo.ListByRoom(context.Background(), room.Lounge(), 2)
	if err != nil {
		t.Fatalf("ListByRoom: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if msgs[0].Room != room.Lounge() || msgs[0].ReceiverID != 0 {
		t.Fatalf("unexpected decoded message: %+v", msgs[0])
	}

	if _, err := repo.ListByRoom(context.Background(), room.Lounge(), 0); err == nil {
		t.Fatal("expected non-positive limit to be rejected")
	}
}

func TestMessageRepoListByRoomRejectsBadRoomKey(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &messageRepo{db: db}

	mock.ExpectQuery(`FROM chat_messages`).WithArgs("dm:1:2", int64(10)).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow("m1", "not-a-room", int64(1), "alice", int64(2), "hi", time.Now(), false))

	if _, err := repo.ListByPair(context.Background(), 2, 1, 10); err == nil || !strings.Contains(err.Error(), "parse room") {
		t.Fatalf("expected parse room error, got %v", err)
	}
}

func TestMessageRepoUnreadAndMarkRead(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &messageRepo{db: db}
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM chat_messages\s+WHERE receiver_id = \$1 AND sender_id = \$2`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	n, err := repo.CountUnread(ctx, 1, 2)
	if err != nil || n != 3 {
		t.Fatalf("CountUnread(sender) = %d, %v", n, err)
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM chat_messages\s+WHERE receiver_id = \$1 AND NOT is_read`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	n, err = repo.CountUnread(ctx, 1, 0)
	if err != nil || n != 5 {
		t.Fatalf("CountUnread(all) = %d, %v", n, err)
	}

	mock.ExpectExec(`UPDATE chat_messages SET is_read = TRUE`).WithArgs(int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	updated, err := repo.MarkRead(ctx, 2, 1)
	if err != nil || updated != 3 {
		t.Fatalf("MarkRead = %d, %v", updated, err)
	}
}

func TestMessageRepoConversationsSortedByRecency(t *testing.T) {
	db, mock := newRepoSQLMock(t)
	repo := &messageRepo{db: db}
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	cols := append([]string{"partner"}, messageRowColumns...)
	cols = append(cols, "unread")
	mock.ExpectQuery(`SELECT DISTINCT ON \(partner\)`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(2), "m1", "dm:1:2", int64(2), "bob", int64(1), "old", base, false, int64(1)).
			AddRow(int64(3), "m2", "dm:1:3", int64(1), "alice", int64(3), "new", base.Add(time.Minute), false, int64(0)))

	convs, err := repo.Conversations(context.Background(), 1)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 2 || convs[0].Partner != 3 || convs[1].Partner != 2 {
		t.Fatalf("unexpected order: %+v", convs)
	}
	if convs[1].Unread != 1 || convs[1].LastMessage.Body != "old" {
		t.Fatalf("unexpected conversation: %+v", convs[1])
	}
}
