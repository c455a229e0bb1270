package event

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Avicted/eventchat/internal/user"
)

// ChatRetention is how long after an event's date its chat stays open.
const ChatRetention = 48 * time.Hour

type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func ParseID(raw string) (ID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidInput
	}
	return ID(n), nil
}

type Event struct {
	ID        ID
	Name      string
	VenueName string
	City      string
	Date      time.Time
}

// ChatClosed reports whether the event is far enough in the past that its
// chat room is read-only.
func (e Event) ChatClosed(now time.Time) bool {
	if e.Date.IsZero() {
		return false
	}
	return now.Sub(e.Date) > ChatRetention
}

var (
	ErrNotFound     = errors.New("event not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Repository interface {
	GetByID(ctx context.Context, id ID) (Event, error)
	IsAttending(ctx context.Context, id ID, userID user.ID) (bool, error)
}
