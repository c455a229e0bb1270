package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/message"
	"github.com/Avicted/eventchat/internal/user"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	_ = ctx
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return NewMigrator(s.db, migrationsFS).Up(ctx)
}

func (s *PostgresStore) Users() user.Repository {
	return &userRepo{db: s.db}
}

func (s *PostgresStore) Events() event.Repository {
	return &eventRepo{db: s.db}
}

func (s *PostgresStore) Messages() message.Store {
	return &messageRepo{db: s.db}
}

func (s *PostgresStore) PutUser(ctx context.Context, u user.User) error {
	if u.ID <= 0 || u.Username == "" {
		return fmt.Errorf("user id and username are required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`, u.ID, u.Username)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutEvent(ctx context.Context, ev event.Event) error {
	if ev.ID <= 0 || ev.Name == "" {
		return fmt.Errorf("event id and name are required")
	}
	var date any
	if !ev.Date.IsZero() {
		date = ev.Date.UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events (id, name, venue_name, city, event_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, venue_name = EXCLUDED.venue_name,
			city = EXCLUDED.city, event_date = EXCLUDED.event_date`,
		ev.ID, ev.Name, ev.VenueName, ev.City, date)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddAttendee(ctx context.Context, id event.ID, userID user.ID) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO event_attendees (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, id, userID)
	if err != nil {
		return fmt.Errorf("insert attendee: %w", err)
	}
	return nil
}
