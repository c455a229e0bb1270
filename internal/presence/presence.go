package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/google/uuid"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Sink is the transport side of a connection. Send must not block; it
// reports false when the frame was dropped.
type Sink interface {
	Send(data []byte) bool
}

type connection struct {
	sink  Sink
	user  user.ID
	bound bool
}

// Manager tracks live connections, the user each one is bound to, and
// which users are online in this process.
type Manager struct {
	mu      sync.RWMutex
	conns   map[room.ConnID]*connection
	byUser  map[user.ID]map[room.ConnID]struct{}
	rooms   *room.Registry
	tracker OnlineTracker
}

func NewManager(rooms *room.Registry, tracker OnlineTracker) *Manager {
	if tracker == nil {
		tracker = NopTracker{}
	}
	return &Manager{
		conns:   make(map[room.ConnID]*connection),
		byUser:  make(map[user.ID]map[room.ConnID]struct{}),
		rooms:   rooms,
		tracker: tracker,
	}
}

func (m *Manager) OnConnect(sink Sink) room.ConnID {
	id := room.ConnID(uuid.NewString())
	m.mu.Lock()
	m.conns[id] = &connection{sink: sink}
	m.mu.Unlock()
	return id
}

// OnDisconnect removes the connection from every room without notices and
// forgets its identity binding. It never fails.
func (m *Manager) OnDisconnect(ctx context.Context, id room.ConnID) {
	if m.rooms != nil {
		m.rooms.DropConnection(id)
	}

	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, id)
	var offline bool
	if c.bound {
		offline = m.unbindLocked(id, c.user)
	}
	m.mu.Unlock()

	if offline {
		if err := m.tracker.Offline(ctx, c.user); err != nil {
			securelog.Warn("presence.offline", err)
		}
	}
}

// BindIdentity associates the connection with u. Rebinding to another user
// is allowed, and one user may hold several connections.
func (m *Manager) BindIdentity(ctx context.Context, id room.ConnID, u user.ID) error {
	if u <= 0 {
		return user.ErrInvalidInput
	}

	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	if c.bound && c.user == u {
		m.mu.Unlock()
		return nil
	}
	var previous user.ID
	var offline bool
	if c.bound {
		previous = c.user
		offline = m.unbindLocked(id, previous)
	}
	c.user, c.bound = u, true
	set := m.byUser[u]
	online := set == nil
	if online {
		set = make(map[room.ConnID]struct{})
		m.byUser[u] = set
	}
	set[id] = struct{}{}
	m.mu.Unlock()

	if offline {
		if err := m.tracker.Offline(ctx, previous); err != nil {
			securelog.Warn("presence.offline", err)
		}
	}
	if online {
		if err := m.tracker.Online(ctx, u); err != nil {
			securelog.Warn("presence.online", err)
		}
	}
	return nil
}

func (m *Manager) unbindLocked(id room.ConnID, u user.ID) bool {
	set := m.byUser[u]
	if set == nil {
		return false
	}
	delete(set, id)
	if len(set) > 0 {
		return false
	}
	delete(m.byUser, u)
	return true
}

func (m *Manager) Identity(id room.ConnID) (user.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	if !ok || !c.bound {
		return 0, false
	}
	return c.user, true
}

// Deliver hands data to the connection's sink. It returns false when the
// connection is gone or its buffer is full.
func (m *Manager) Deliver(id room.ConnID, data []byte) bool {
	m.mu.RLock()
	c, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return c.sink.Send(data)
}

func (m *Manager) IsOnline(u user.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[u]) > 0
}

// Statuses reports, for each id, whether the user is online in this process
// or, according to the tracker, in any other.
func (m *Manager) Statuses(ctx context.Context, ids []user.ID) map[user.ID]bool {
	out := make(map[user.ID]bool, len(ids))
	var remote []user.ID
	for _, id := range ids {
		if m.IsOnline(id) {
			out[id] = true
			continue
		}
		out[id] = false
		remote = append(remote, id)
	}
	if len(remote) == 0 {
		return out
	}
	shared, err := m.tracker.Lookup(ctx, remote)
	if err != nil {
		securelog.Warn("presence.lookup", err)
		return out
	}
	for id, online := range shared {
		if online {
			out[id] = true
		}
	}
	return out
}

func (m *Manager) UserConnections(u user.ID) []room.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]room.ConnID, 0, len(m.byUser[u]))
	for id := range m.byUser[u] {
		out = append(out, id)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
