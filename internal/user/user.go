package user

import (
	"context"
	"errors"
	"strconv"
)

// ID identifies a user of the events platform. Ids are assigned by the
// account service and never change.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal user id. Zero and negative values are rejected.
func ParseID(raw string) (ID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidInput
	}
	return ID(n), nil
}

type User struct {
	ID       ID
	Username string
}

// BlockStatus describes the blocking edges between a viewer and another user.
type BlockStatus struct {
	BlockedByViewer bool
	BlockedViewer   bool
}

// Blocked reports whether an edge exists in either direction.
func (s BlockStatus) Blocked() bool {
	return s.BlockedByViewer || s.BlockedViewer
}

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Repository interface {
	GetByID(ctx context.Context, id ID) (User, error)
	Block(ctx context.Context, blocker, blocked ID) error
	Unblock(ctx context.Context, blocker, blocked ID) error
	BlockStatus(ctx context.Context, viewer, other ID) (BlockStatus, error)
}
