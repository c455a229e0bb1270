package event

import (
	"context"
	"errors"
	"time"

	"github.com/Avicted/eventchat/internal/user"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) GetByID(ctx context.Context, id ID) (Event, error) {
	if s.repo == nil {
		return Event{}, errors.New("repository is required")
	}
	if id <= 0 {
		return Event{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// IsAttending reports whether the event is in the user's RSVP list.
func (s *Service) IsAttending(ctx context.Context, id ID, userID user.ID) (bool, error) {
	if s.repo == nil {
		return false, errors.New("repository is required")
	}
	if id <= 0 || userID <= 0 {
		return false, ErrInvalidInput
	}
	return s.repo.IsAttending(ctx, id, userID)
}

// RSVPStatus is what the chat UI needs before it subscribes to an event room.
type RSVPStatus struct {
	Attending  bool
	ChatClosed bool
}

func (s *Service) RSVPStatus(ctx context.Context, id ID, userID user.ID) (RSVPStatus, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return RSVPStatus{}, err
	}
	attending, err := s.IsAttending(ctx, id, userID)
	if err != nil {
		return RSVPStatus{}, err
	}
	return RSVPStatus{Attending: attending, ChatClosed: ev.ChatClosed(s.now().UTC())}, nil
}
