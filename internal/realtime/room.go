package realtime

import (
	"errors"
	"sync"
)

// ErrStaleConnection is returned when a room operation names a connection
// that is no longer (or not yet) registered. Callers drop the operation;
// it is never surfaced to clients.
var ErrStaleConnection = errors.New("stale connection")

// PersonalRoom derives the per-user delivery room key. Every connection is a
// member of its owner's personal room from registration until disconnect.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// ConversationRoom derives the group delivery room key for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// RoomRouter maintains the room-membership graph: which connections receive
// events addressed to a given room key. Rooms are created lazily on first
// join and pruned as soon as their member set empties.
type RoomRouter struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // room key -> member connection ids
	joined map[string]map[string]struct{} // connection id -> room keys
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Register makes the router aware of a connection and joins it to its
// personal room. Must be called before any Join for the connection.
func (r *RoomRouter) Register(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[connID]; !ok {
		r.joined[connID] = make(map[string]struct{})
	}
	r.join(connID, PersonalRoom(userID))
}

// Join adds the connection to a room. Idempotent. Joining with a connection
// the router does not know returns ErrStaleConnection.
func (r *RoomRouter) Join(connID, roomKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[connID]; !ok {
		return ErrStaleConnection
	}
	r.join(connID, roomKey)
	return nil
}

// Leave removes the connection from a room, pruning the room if it empties.
// Idempotent.
func (r *RoomRouter) Leave(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leave(connID, roomKey)
}

// LeaveAll removes the connection from every room it belongs to, including
// its personal room, and forgets the connection. Called on disconnect.
func (r *RoomRouter) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomKey := range r.joined[connID] {
		r.leave(connID, roomKey)
	}
	delete(r.joined, connID)
}

// Members returns the current member connection ids of a room. A missing or
// pruned room yields an empty slice.
func (r *RoomRouter) Members(roomKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// RoomCount reports how many rooms currently have members.
func (r *RoomRouter) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRouter) join(connID, roomKey string) {
	if _, ok := r.rooms[roomKey]; !ok {
		r.rooms[roomKey] = make(map[string]struct{})
	}
	r.rooms[roomKey][connID] = struct{}{}
	r.joined[connID][roomKey] = struct{}{}
}

func (r *RoomRouter) leave(connID, roomKey string) {
	if members, ok := r.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomKey)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomKey)
	}
}
