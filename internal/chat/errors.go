package chat

import (
	"errors"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/user"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrBlocked         = errors.New("blocked")
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("forbidden")
	ErrPersistence     = errors.New("persistence failure")
)

func init() {
	securelog.RegisterKinds(ErrUnauthenticated, ErrNotFound, ErrBlocked, ErrInvalidInput, ErrForbidden, ErrPersistence)
}

// Code maps err to the code sent in error frames.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	default:
		return "server_error"
	}
}

// Retryable reports whether resending the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// translate folds the lookup errors of the user and event packages into the
// chat sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, user.ErrNotFound), errors.Is(err, event.ErrNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, user.ErrInvalidInput), errors.Is(err, event.ErrInvalidInput):
		return errors.Join(ErrInvalidInput, err)
	default:
		return err
	}
}
