package room

import "sync"

// ConnID identifies one live transport connection.
type ConnID string

// Registry tracks which connections are joined to which rooms. One mutex
// guards both directions of the mapping.
type Registry struct {
	mu      sync.Mutex
	members map[ID]map[ConnID]struct{}
	joined  map[ConnID]map[ID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[ID]map[ConnID]struct{}),
		joined:  make(map[ConnID]map[ID]struct{}),
	}
}

// Join adds conn to the room. It reports false when conn was already a
// member; others holds the members present before the join.
func (r *Registry) Join(conn ConnID, id ID) (bool, []ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.members[id]
	if _, ok := set[conn]; ok {
		return false, nil
	}
	others := snapshot(set)
	if set == nil {
		set = make(map[ConnID]struct{})
		r.members[id] = set
	}
	set[conn] = struct{}{}

	rooms := r.joined[conn]
	if rooms == nil {
		rooms = make(map[ID]struct{})
		r.joined[conn] = rooms
	}
	rooms[id] = struct{}{}
	return true, others
}

// Leave removes conn from the room. It reports false when conn was not a
// member; remaining holds the members left behind.
func (r *Registry) Leave(conn ConnID, id ID) (bool, []ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.members[id]
	if _, ok := set[conn]; !ok {
		return false, nil
	}
	r.removeLocked(conn, id)
	return true, snapshot(r.members[id])
}

func (r *Registry) Members(id ID) []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.members[id])
}

func (r *Registry) IsMember(conn ConnID, id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id][conn]
	return ok
}

func (r *Registry) Rooms(conn ConnID) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]ID, 0, len(r.joined[conn]))
	for id := range r.joined[conn] {
		rooms = append(rooms, id)
	}
	return rooms
}

// DropConnection removes conn from every room without producing leave
// notices and returns how many rooms it was in.
func (r *Registry) DropConnection(conn ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[conn]
	n := len(rooms)
	for id := range rooms {
		r.removeLocked(conn, id)
	}
	return n
}

func (r *Registry) Stats() (rooms, memberships int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.members {
		memberships += len(set)
	}
	return len(r.members), memberships
}

func (r *Registry) removeLocked(conn ConnID, id ID) {
	if set := r.members[id]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.members, id)
		}
	}
	if rooms := r.joined[conn]; rooms != nil {
		delete(rooms, id)
		if len(rooms) == 0 {
			delete(r.joined, conn)
		}
	}
}

func snapshot(set map[ConnID]struct{}) []ConnID {
	out := make([]ConnID, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
