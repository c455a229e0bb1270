package user

import (
	"context"
	"errors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, id ID) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}
	if id <= 0 {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// IsBlocked reports whether either user blocks the other.
func (s *Service) IsBlocked(ctx context.Context, a, b ID) (bool, error) {
	status, err := s.BlockStatus(ctx, a, b)
	if err != nil {
		return false, err
	}
	return status.Blocked(), nil
}

func (s *Service) BlockStatus(ctx context.Context, viewer, other ID) (BlockStatus, error) {
	if s.repo == nil {
		return BlockStatus{}, errors.New("repository is required")
	}
	if viewer <= 0 || other <= 0 {
		return BlockStatus{}, ErrInvalidInput
	}
	if viewer == other {
		return BlockStatus{}, nil
	}
	return s.repo.BlockStatus(ctx, viewer, other)
}

func (s *Service) Block(ctx context.Context, blocker, blocked ID) error {
	if err := s.checkPair(blocker, blocked); err != nil {
		return err
	}
	if _, err := s.repo.GetByID(ctx, blocked); err != nil {
		return err
	}
	return s.repo.Block(ctx, blocker, blocked)
}

func (s *Service) Unblock(ctx context.Context, blocker, blocked ID) error {
	if err := s.checkPair(blocker, blocked); err != nil {
		return err
	}
	return s.repo.Unblock(ctx, blocker, blocked)
}

func (s *Service) checkPair(blocker, blocked ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if blocker <= 0 || blocked <= 0 || blocker == blocked {
		return ErrInvalidInput
	}
	return nil
}
