package chat

import (
	"sync"
	"time"

	"github.com/Avicted/eventchat/internal/room"
)

// sequencer hands out one mutex per room. Entries are dropped once no
// goroutine holds or waits for them.
type sequencer struct {
	mu    sync.Mutex
	rooms map[room.ID]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{rooms: make(map[room.ID]*roomLock)}
}

func (s *sequencer) lock(id room.ID) func() {
	s.mu.Lock()
	l := s.rooms[id]
	if l == nil {
		l = &roomLock{}
		s.rooms[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.rooms, id)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// clock returns strictly increasing UTC timestamps at microsecond
// resolution, which is what Postgres keeps.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
