package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSender records deliveries instead of writing to websockets. Broadcast
// delivers to every connection the fake knows about, mirroring the gateway.
type fakeSender struct {
	mu    sync.Mutex
	conns map[string]struct{}
	sent  map[string][]Outbound
	order []string // event types in delivery order, across all connections
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		conns: make(map[string]struct{}),
		sent:  make(map[string][]Outbound),
	}
}

func (f *fakeSender) addConn(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[connID] = struct{}{}
}

func (f *fakeSender) removeConn(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connID)
}

func (f *fakeSender) Send(connID string, ev Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], ev)
	f.order = append(f.order, ev.Type)
}

func (f *fakeSender) Broadcast(excludeConnID string, ev Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for connID := range f.conns {
		if connID == excludeConnID {
			continue
		}
		f.sent[connID] = append(f.sent[connID], ev)
	}
	f.order = append(f.order, ev.Type)
}

func (f *fakeSender) eventsFor(connID string) []Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outbound(nil), f.sent[connID]...)
}

func (f *fakeSender) countByType(connID, eventType string) int {
	n := 0
	for _, ev := range f.eventsFor(connID) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	sessions   *SessionDirectory
	rooms      *RoomRouter
	sender     *fakeSender
	dispatcher *Dispatcher

	nextConn int
}

func newTestEnv() *testEnv {
	sessions := NewSessionDirectory()
	rooms := NewRoomRouter()
	sender := newFakeSender()
	return &testEnv{
		sessions:   sessions,
		rooms:      rooms,
		sender:     sender,
		dispatcher: NewDispatcher(sessions, rooms, sender),
	}
}

// connect registers a new connection for the user across the directory, the
// router and the fake sender, the same way the gateway does.
func (e *testEnv) connect(t *testing.T, userID string) string {
	t.Helper()
	e.nextConn++
	connID := fmt.Sprintf("conn-%d", e.nextConn)

	_, err := e.sessions.Register(connID, Identity{UserID: userID, Username: "name-" + userID})
	require.NoError(t, err)
	e.rooms.Register(connID, userID)
	e.sender.addConn(connID)
	return connID
}

func (e *testEnv) disconnect(connID string) {
	e.sender.removeConn(connID)
	e.rooms.LeaveAll(connID)
	e.sessions.Deregister(connID)
}

func (e *testEnv) dispatch(t *testing.T, connID string, kind Kind, payload interface{}) error {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Inbound{Type: kind, Data: data})
	require.NoError(t, err)
	return e.dispatcher.Dispatch(connID, raw)
}
