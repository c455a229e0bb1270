package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
)

type userRepo struct {
	db *sql.DB
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, username FROM users WHERE id = $1`, id)
	var u user.User
	if err := row.Scan(&u.ID, &u.Username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("select user by id: %w", err)
	}
	return u, nil
}

func (r *userRepo) Block(ctx context.Context, blocker, blocked user.ID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_blocks (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, now()) ON CONFLICT DO NOTHING`, blocker, blocked)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (r *userRepo) Unblock(ctx context.Context, blocker, blocked user.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blocker, blocked)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

func (r *userRepo) BlockStatus(ctx context.Context, viewer, other user.ID) (user.BlockStatus, error) {
	row := r.db.QueryRowContext(ctx, `SELECT
		EXISTS (SELECT 1 FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2),
		EXISTS (SELECT 1 FROM user_blocks WHERE blocker_id = $2 AND blocked_id = $1)`, viewer, other)
	var status user.BlockStatus
	if err := row.Scan(&status.BlockedByViewer, &status.BlockedViewer); err != nil {
		return user.BlockStatus{}, fmt.Errorf("select block status: %w", err)
	}
	return status, nil
}

type eventRepo struct {
	db *sql.DB
}

func (r *eventRepo) GetByID(ctx context.Context, id event.ID) (event.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, venue_name, city, event_date FROM events WHERE id = $1`, id)
	var ev event.Event
	var date sql.NullTime
	if err := row.Scan(&ev.ID, &ev.Name, &ev.VenueName, &ev.City, &date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, fmt.Errorf("select event by id: %w", err)
	}
	if date.Valid {
		ev.Date = date.Time.UTC()
	}
	return ev, nil
}

func (r *eventRepo) IsAttending(ctx context.Context, id event.ID, userID user.ID) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM event_attendees WHERE event_id = $1 AND user_id = $2)`, id, userID)
	var attending bool
	if err := row.Scan(&attending); err != nil {
		return false, fmt.Errorf("select attendance: %w", err)
	}
	return attending, nil
}

type messageRepo struct {
	db *sql.DB
}

const messageColumns = `id, room_id, sender_id, sender_name, receiver_id, body, sent_at, is_read`

func (r *messageRepo) Append(ctx context.Context, msg message.Message) (message.ID, error) {
	if msg.ID == "" || msg.Room.IsZero() || msg.SenderID <= 0 || msg.SentAt.IsZero() {
		return "", fmt.Errorf("message id, room, sender, and sent_at are required")
	}
	if msg.Body == "" {
		return "", fmt.Errorf("message body is required")
	}
	var receiver any
	if msg.ReceiverID > 0 {
		receiver = msg.ReceiverID
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_messages
		(id, room_id, sender_id, sender_name, receiver_id, body, sent_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.Room.String(), msg.SenderID, msg.SenderName, receiver, msg.Body, msg.SentAt.UTC(), msg.Read)
	if err != nil {
		return "", fmt.Errorf("insert chat message: %w", err)
	}
	return msg.ID, nil
}

func (r *messageRepo) ListByRoom(ctx context.Context, id room.ID, limit int) ([]message.Message, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("room id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM chat_messages WHERE room_id = $1 ORDER BY sent_at DESC, id DESC LIMIT $2`, id.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list room messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query; callers want oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepo) ListByPair(ctx context.Context, a, b user.ID, limit int) ([]message.Message, error) {
	if a <= 0 || b <= 0 || a == b {
		return nil, fmt.Errorf("two distinct user ids are required")
	}
	return r.ListByRoom(ctx, room.DM(a, b), limit)
}

func (r *messageRepo) CountUnread(ctx context.Context, receiver, sender user.ID) (int64, error) {
	var row *sql.Row
	if sender > 0 {
		row = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages
			WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`, receiver, sender)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages
			WHERE receiver_id = $1 AND NOT is_read`, receiver)
	}
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, sender, receiver user.ID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET is_read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND NOT is_read`, sender, receiver)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *messageRepo) Conversations(ctx context.Context, userID user.ID) ([]message.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT ON (partner) partner, `+messageColumns+`,
		(SELECT COUNT(*) FROM chat_messages u
			WHERE u.receiver_id = $1 AND u.sender_id = t.partner AND NOT u.is_read) AS unread
		FROM (
			SELECT m.*, CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS partner
			FROM chat_messages m
			WHERE m.receiver_id IS NOT NULL AND (m.sender_id = $1 OR m.receiver_id = $1)
		) t
		ORDER BY partner, sent_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []message.Conversation
	for rows.Next() {
		var conv message.Conversation
		var roomKey string
		var receiver sql.NullInt64
		msg := &conv.LastMessage
		if err := rows.Scan(&conv.Partner, &msg.ID, &roomKey, &msg.SenderID, &msg.SenderName, &receiver,
			&msg.Body, &msg.SentAt, &msg.Read, &conv.Unread); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := fillMessage(msg, roomKey, receiver); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out, nil
}

func scanMessages(rows *sql.Rows) ([]message.Message, error) {
	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		var roomKey string
		var receiver sql.NullInt64
		if err := rows.Scan(&msg.ID, &roomKey, &msg.SenderID, &msg.SenderName, &receiver, &msg.Body, &msg.SentAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if err := fillMessage(&msg, roomKey, receiver); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return msgs, nil
}

func fillMessage(msg *message.Message, roomKey string, receiver sql.NullInt64) error {
	id, err := room.Parse(roomKey)
	if err != nil {
		return fmt.Errorf("parse room %q: %w", roomKey, err)
	}
	msg.Room = id
	if receiver.Valid {
		msg.ReceiverID = user.ID(receiver.Int64)
	}
	msg.SentAt = msg.SentAt.UTC()
	return nil
}
