package gateway

import "sync"

// TenantRoom names the room every connection of a tenant joins
func TenantRoom(tenantID string) string {
	return "tenant:" + tenantID
}

// UserRoom names the room every connection of a user joins
func UserRoom(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID
}

// SessionRoom names the room of connections attached to a session
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// Rooms tracks local room membership. It never knows about connections
// held by other instances.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Conn
	joined  map[string]map[string]struct{}
}

// NewRooms creates an empty membership table
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Conn),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds c to room. A closed connection is never added, so a handler
// finishing after Disconnect cannot leave it behind in a room.
func (r *Rooms) Join(room string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Closed() {
		return false
	}

	if r.members[room] == nil {
		r.members[room] = make(map[string]*Conn)
	}
	r.members[room][c.ID] = c

	if r.joined[c.ID] == nil {
		r.joined[c.ID] = make(map[string]struct{})
	}
	r.joined[c.ID][room] = struct{}{}
	return true
}

// Leave removes the connection from room
func (r *Rooms) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(room, connID)
}

func (r *Rooms) leave(room, connID string) {
	if conns, ok := r.members[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// LeaveAll removes the connection from every room it joined
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.joined[connID] {
		r.leave(room, connID)
	}
}

// Drop removes room entirely and returns its former members
func (r *Rooms) Drop(room string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.members[room]))
	for id, c := range r.members[room] {
		conns = append(conns, c)
		r.leave(room, id)
	}
	return conns
}

// Members returns a snapshot of the room's local connections
func (r *Rooms) Members(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.members[room]))
	for _, c := range r.members[room] {
		conns = append(conns, c)
	}
	return conns
}

// Has reports whether the connection is a local member of room
func (r *Rooms) Has(room, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][connID]
	return ok
}

// RoomsOf returns the rooms the connection has joined
func (r *Rooms) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.joined[connID]))
	for room := range r.joined[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Count returns the number of rooms with at least one local member
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
