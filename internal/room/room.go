package room

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Avicted/eventchat/internal/user"
)

type Kind int

const (
	KindEvent Kind = iota + 1
	KindLounge
	KindDM
	KindInbox
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindLounge:
		return "lounge"
	case KindDM:
		return "dm"
	case KindInbox:
		return "user"
	default:
		return "unknown"
	}
}

var ErrInvalidID = errors.New("invalid room id")

// ID names a broadcast group. The zero value is not a valid room.
//
// DM rooms always store the smaller user id first so both participants
// derive the same key.
type ID struct {
	kind Kind
	a    int64
	b    int64
}

func Event(eventID int64) ID {
	return ID{kind: KindEvent, a: eventID}
}

func Lounge() ID {
	return ID{kind: KindLounge}
}

func DM(u1, u2 user.ID) ID {
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	return ID{kind: KindDM, a: int64(u1), b: int64(u2)}
}

// Inbox is a user's personal notification channel.
func Inbox(userID user.ID) ID {
	return ID{kind: KindInbox, a: int64(userID)}
}

func (id ID) Kind() Kind {
	return id.kind
}

func (id ID) IsZero() bool {
	return id.kind == 0
}

// EventID returns the event of an event room, or zero.
func (id ID) EventID() int64 {
	if id.kind != KindEvent {
		return 0
	}
	return id.a
}

// UserID returns the owner of an inbox room, or zero.
func (id ID) UserID() user.ID {
	if id.kind != KindInbox {
		return 0
	}
	return user.ID(id.a)
}

// Participants returns both users of a DM room in canonical order.
func (id ID) Participants() (user.ID, user.ID, bool) {
	if id.kind != KindDM {
		return 0, 0, false
	}
	return user.ID(id.a), user.ID(id.b), true
}

// Includes reports whether u is a participant of a DM room.
func (id ID) Includes(u user.ID) bool {
	a, b, ok := id.Participants()
	return ok && (a == u || b == u)
}

func (id ID) String() string {
	switch id.kind {
	case KindEvent:
		return "event:" + strconv.FormatInt(id.a, 10)
	case KindLounge:
		return "lounge"
	case KindDM:
		return fmt.Sprintf("dm:%d:%d", id.a, id.b)
	case KindInbox:
		return "user:" + strconv.FormatInt(id.a, 10)
	default:
		return ""
	}
}

// Parse accepts the canonical keys produced by String. DM keys with the ids
// in either order are canonicalized; a bare number is read as an event id.
func Parse(key string) (ID, error) {
	key = strings.TrimSpace(key)
	if key == "lounge" {
		return Lounge(), nil
	}
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 1:
		n, err := parsePositive(parts[0])
		if err != nil {
			return ID{}, err
		}
		return Event(n), nil
	case len(parts) == 2 && parts[0] == "event":
		n, err := parsePositive(parts[1])
		if err != nil {
			return ID{}, err
		}
		return Event(n), nil
	case len(parts) == 2 && parts[0] == "user":
		n, err := parsePositive(parts[1])
		if err != nil {
			return ID{}, err
		}
		return Inbox(user.ID(n)), nil
	case len(parts) == 3 && parts[0] == "dm":
		a, err := parsePositive(parts[1])
		if err != nil {
			return ID{}, err
		}
		b, err := parsePositive(parts[2])
		if err != nil {
			return ID{}, err
		}
		if a == b {
			return ID{}, ErrInvalidID
		}
		return DM(user.ID(a), user.ID(b)), nil
	}
	return ID{}, ErrInvalidID
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func parsePositive(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidID
	}
	return n, nil
}
