package storage

import (
	"context"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/user"
)

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Users() user.Repository
	Events() event.Repository
	Messages() message.Store
	Seeder
}

// Seeder writes the account and event rows that the CRUD service normally
// owns. It backs local runs and integration tests.
type Seeder interface {
	PutUser(ctx context.Context, u user.User) error
	PutEvent(ctx context.Context, ev event.Event) error
	AddAttendee(ctx context.Context, id event.ID, userID user.ID) error
}
