package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/nats-io/nats.go"
)

const (
	roomSubjectPrefix   = "chat.room."
	notifySubjectPrefix = "chat.notify."
)

// RoomSubject maps a room to its NATS subject, e.g. chat.room.event.42 or
// chat.room.dm.3.9.
func RoomSubject(id room.ID) string {
	return roomSubjectPrefix + strings.ReplaceAll(id.String(), ":", ".")
}

func NotifySubject(to user.ID) string {
	return notifySubjectPrefix + to.String()
}

// Publisher forwards delivered chat frames to NATS so other services can
// react to them. Publishing is fire-and-forget.
type Publisher struct {
	conn *nats.Conn
}

func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	nc, err := nats.Connect(url, nats.Name("eventchat"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: nc}, nil
}

func (p *Publisher) PublishRoom(ctx context.Context, id room.ID, frame []byte) error {
	if id.IsZero() {
		return fmt.Errorf("room id is required")
	}
	return p.publish(ctx, RoomSubject(id), frame)
}

func (p *Publisher) PublishNotify(ctx context.Context, to user.ID, frame []byte) error {
	if to <= 0 {
		return fmt.Errorf("user id is required")
	}
	return p.publish(ctx, NotifySubject(to), frame)
}

func (p *Publisher) publish(ctx context.Context, subject string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(subject, frame); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending publishes before disconnecting.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
