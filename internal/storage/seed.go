package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/user"
)

// SeedData is the JSON document accepted by LoadSeed.
type SeedData struct {
	Users []struct {
		ID       user.ID `json:"id"`
		Username string  `json:"username"`
	} `json:"users"`
	Events []struct {
		ID        event.ID  `json:"id"`
		Name      string    `json:"name"`
		VenueName string    `json:"venue_name"`
		City      string    `json:"city"`
		Date      time.Time `json:"date"`
		Attendees []user.ID `json:"attendees"`
	} `json:"events"`
	Blocks []struct {
		Blocker user.ID `json:"blocker"`
		Blocked user.ID `json:"blocked"`
	} `json:"blocks"`
}

// LoadSeed writes users, events, attendance and blocks from r. Rows that
// already exist are overwritten.
func LoadSeed(ctx context.Context, r io.Reader, seeder Seeder, users user.Repository) error {
	var data SeedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, u := range data.Users {
		if err := seeder.PutUser(ctx, user.User{ID: u.ID, Username: u.Username}); err != nil {
			return fmt.Errorf("seed user %d: %w", u.ID, err)
		}
	}
	for _, ev := range data.Events {
		record := event.Event{ID: ev.ID, Name: ev.Name, VenueName: ev.VenueName, City: ev.City, Date: ev.Date.UTC()}
		if err := seeder.PutEvent(ctx, record); err != nil {
			return fmt.Errorf("seed event %d: %w", ev.ID, err)
		}
		for _, attendee := range ev.Attendees {
			if err := seeder.AddAttendee(ctx, ev.ID, attendee); err != nil {
				return fmt.Errorf("seed attendee %d of event %d: %w", attendee, ev.ID, err)
			}
		}
	}
	for _, b := range data.Blocks {
		if err := users.Block(ctx, b.Blocker, b.Blocked); err != nil {
			return fmt.Errorf("seed block %d->%d: %w", b.Blocker, b.Blocked, err)
		}
	}
	return nil
}
