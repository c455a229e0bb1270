package user

import (
	"context"
	"errors"
	"testing"
)

type fakeRepo struct {
	users  map[ID]User
	blocks map[[2]ID]bool
}

func newFakeRepo(users ...User) *fakeRepo {
	r := &fakeRepo{users: make(map[ID]User), blocks: make(map[[2]ID]bool)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeRepo) GetByID(_ context.Context, id ID) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) Block(_ context.Context, blocker, blocked ID) error {
	r.blocks[[2]ID{blocker, blocked}] = true
	return nil
}

func (r *fakeRepo) Unblock(_ context.Context, blocker, blocked ID) error {
	delete(r.blocks, [2]ID{blocker, blocked})
	return nil
}

func (r *fakeRepo) BlockStatus(_ context.Context, viewer, other ID) (BlockStatus, error) {
	return BlockStatus{
		BlockedByViewer: r.blocks[[2]ID{viewer, other}],
		BlockedViewer:   r.blocks[[2]ID{other, viewer}],
	}, nil
}

func TestParseID(t *testing.T) {
	id, err := ParseID("42")
	if err != nil {
		t.Fatalf("ParseID() error = %v", err)
	}
	if id != 42 {
		t.Fatalf("ParseID() = %d, want 42", id)
	}
	for _, raw := range []string{"", "0", "-3", "abc"} {
		if _, err := ParseID(raw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParseID(%q) error = %v, want ErrInvalidInput", raw, err)
		}
	}
}

func TestService_GetByID(t *testing.T) {
	svc := NewService(newFakeRepo(User{ID: 1, Username: "alice"}))

	u, err := svc.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("Username = %q, want alice", u.Username)
	}

	if _, err := svc.GetByID(context.Background(), 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetByID(context.Background(), 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_NilRepo(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.GetByID(context.Background(), 1); err == nil {
		t.Fatal("expected error with nil repository")
	}
	if err := svc.Block(context.Background(), 1, 2); err == nil {
		t.Fatal("expected error with nil repository")
	}
}

func TestService_IsBlockedEitherDirection(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeRepo(User{ID: 1, Username: "alice"}, User{ID: 2, Username: "bobby"}))

	blocked, err := svc.IsBlocked(ctx, 1, 2)
	if err != nil {
		t.Fatalf("IsBlocked() error = %v", err)
	}
	if blocked {
		t.Fatal("expected no block before Block()")
	}

	if err := svc.Block(ctx, 2, 1); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	for _, pair := range [][2]ID{{1, 2}, {2, 1}} {
		blocked, err := svc.IsBlocked(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsBlocked() error = %v", err)
		}
		if !blocked {
			t.Fatalf("IsBlocked(%d, %d) = false, want true", pair[0], pair[1])
		}
	}

	status, err := svc.BlockStatus(ctx, 1, 2)
	if err != nil {
		t.Fatalf("BlockStatus() error = %v", err)
	}
	if status.BlockedByViewer || !status.BlockedViewer {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := svc.Unblock(ctx, 2, 1); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	blocked, _ = svc.IsBlocked(ctx, 1, 2)
	if blocked {
		t.Fatal("expected block to be removed")
	}
}

func TestService_BlockValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeRepo(User{ID: 1, Username: "alice"}))

	if err := svc.Block(ctx, 1, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self block error = %v, want ErrInvalidInput", err)
	}
	if err := svc.Block(ctx, 1, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown target error = %v, want ErrNotFound", err)
	}
	status, err := svc.BlockStatus(ctx, 1, 1)
	if err != nil || status.Blocked() {
		t.Fatalf("self status = %+v, %v", status, err)
	}
}
