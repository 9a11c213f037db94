package realtime

import (
	"errors"
	"sync"
	"time"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

// Identity is the authenticated user attached to a connection. It is assigned
// at handshake time and never changes for the connection's lifetime.
type Identity struct {
	UserID   string
	Username string
}

// PresenceTransition describes the outcome of a deregistration for the
// presence publisher to act on.
type PresenceTransition struct {
	Identity    Identity
	WentOffline bool
	LastSeen    time.Time
}

type userSession struct {
	username     string
	conns        map[string]struct{}
	lastActivity time.Time
}

// SessionDirectory is the authoritative mapping of user identity to live
// connections. A user is online iff at least one connection is registered.
// No other component may cache online state beyond a single routing operation.
type SessionDirectory struct {
	mu       sync.RWMutex
	sessions map[string]*userSession
	conns    map[string]string // connection id -> user id
}

func NewSessionDirectory() *SessionDirectory {
	return &SessionDirectory{
		sessions: make(map[string]*userSession),
		conns:    make(map[string]string),
	}
}

// Register adds a connection to the user's session, creating the session on
// the user's first connection. Returns true when the user transitioned from
// offline to online. Registering an already-known connection id is an error.
func (d *SessionDirectory) Register(connID string, id Identity) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.conns[connID]; exists {
		return false, ErrAlreadyRegistered
	}

	d.conns[connID] = id.UserID

	session, exists := d.sessions[id.UserID]
	if !exists {
		session = &userSession{
			username: id.Username,
			conns:    make(map[string]struct{}),
		}
		d.sessions[id.UserID] = session
	}

	wentOnline := len(session.conns) == 0
	session.conns[connID] = struct{}{}
	session.lastActivity = time.Now()

	return wentOnline, nil
}

// Deregister removes a connection from its owning session. When the session's
// connection set empties, the user is dropped from the directory and the
// returned transition reports the offline flip. Unknown connection ids are a
// no-op, so duplicate disconnect signals are harmless.
func (d *SessionDirectory) Deregister(connID string) (PresenceTransition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, exists := d.conns[connID]
	if !exists {
		return PresenceTransition{}, false
	}
	delete(d.conns, connID)

	session, exists := d.sessions[userID]
	if !exists {
		// conns pointing at a missing session means prior cleanup was
		// interrupted; report the connection gone and move on.
		return PresenceTransition{Identity: Identity{UserID: userID}, WentOffline: true, LastSeen: time.Now()}, true
	}

	delete(session.conns, connID)
	session.lastActivity = time.Now()

	transition := PresenceTransition{
		Identity: Identity{UserID: userID, Username: session.username},
		LastSeen: session.lastActivity,
	}

	if len(session.conns) == 0 {
		delete(d.sessions, userID)
		transition.WentOffline = true
	}

	return transition, true
}

// Touch refreshes the last-activity timestamp of the connection's session.
func (d *SessionDirectory) Touch(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if userID, ok := d.conns[connID]; ok {
		if session, ok := d.sessions[userID]; ok {
			session.lastActivity = time.Now()
		}
	}
}

func (d *SessionDirectory) IsOnline(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, ok := d.sessions[userID]
	return ok && len(session.conns) > 0
}

func (d *SessionDirectory) ListOnline() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]string, 0, len(d.sessions))
	for userID := range d.sessions {
		users = append(users, userID)
	}
	return users
}

// ResolveUser maps a connection id back to its authenticated identity.
func (d *SessionDirectory) ResolveUser(connID string) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	userID, ok := d.conns[connID]
	if !ok {
		return Identity{}, false
	}

	identity := Identity{UserID: userID}
	if session, ok := d.sessions[userID]; ok {
		identity.Username = session.username
	}
	return identity, true
}

// ConnectionCount reports live connections for a user, mainly for tests and
// the presence HTTP surface.
func (d *SessionDirectory) ConnectionCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, ok := d.sessions[userID]
	if !ok {
		return 0
	}
	return len(session.conns)
}
