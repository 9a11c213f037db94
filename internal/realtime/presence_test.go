package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lastSeenWrite struct {
	userID string
	ts     time.Time
	ttl    time.Duration
}

type fakeLastSeenStore struct {
	mu     sync.Mutex
	writes []lastSeenWrite
	err    error
}

func (f *fakeLastSeenStore) SetLastSeen(ctx context.Context, userID string, ts time.Time, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, lastSeenWrite{userID: userID, ts: ts, ttl: ttl})
	return nil
}

func (f *fakeLastSeenStore) snapshot() []lastSeenWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lastSeenWrite(nil), f.writes...)
}

func TestPresenceLifecycleOrdering(t *testing.T) {
	sessions := NewSessionDirectory()
	sender := newFakeSender()
	store := &fakeLastSeenStore{}
	publisher := NewPublisher(sender, store, time.Hour)

	observer := "observer-conn"
	sender.addConn(observer)
	sessions.Register(observer, Identity{UserID: "O"})

	// A's connection lifecycle, driven the way the gateway drives it.
	connA := "conn-a"
	sender.addConn(connA)
	wentOnline, err := sessions.Register(connA, Identity{UserID: "A", Username: "alice"})
	require.NoError(t, err)
	require.True(t, wentOnline)
	publisher.OnConnect(connA, Identity{UserID: "A", Username: "alice"})

	sender.removeConn(connA)
	transition, ok := sessions.Deregister(connA)
	require.True(t, ok)
	publisher.OnDisconnect(connA, transition)

	// The observer sees online strictly before offline for the same epoch.
	events := sender.eventsFor(observer)
	require.Len(t, events, 2)
	assert.Equal(t, EventUserOnline, events[0].Type)
	assert.Equal(t, EventUserOffline, events[1].Type)

	online := events[0].Data.(PresenceData)
	assert.Equal(t, "A", online.UserID)
	assert.Equal(t, "alice", online.Username)
	assert.Nil(t, online.LastSeen)

	offline := events[1].Data.(PresenceData)
	assert.Equal(t, "A", offline.UserID)
	require.NotNil(t, offline.LastSeen)
	assert.Equal(t, transition.LastSeen, *offline.LastSeen)
}

func TestOfflineBroadcastDoesNotWaitForPersistence(t *testing.T) {
	sender := newFakeSender()
	store := &fakeLastSeenStore{}
	publisher := NewPublisher(sender, store, 24*time.Hour)

	observer := "observer-conn"
	sender.addConn(observer)

	transition := PresenceTransition{
		Identity:    Identity{UserID: "A", Username: "alice"},
		WentOffline: true,
		LastSeen:    time.Now(),
	}
	publisher.OnDisconnect("conn-a", transition)

	// The broadcast is already out.
	require.Equal(t, 1, sender.countByType(observer, EventUserOffline))

	// The cache write lands eventually with the configured TTL.
	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	write := store.snapshot()[0]
	assert.Equal(t, "A", write.userID)
	assert.Equal(t, transition.LastSeen, write.ts)
	assert.Equal(t, 24*time.Hour, write.ttl)
}

func TestPersistenceFailureDoesNotSuppressBroadcast(t *testing.T) {
	sender := newFakeSender()
	store := &fakeLastSeenStore{err: errors.New("redis down")}
	publisher := NewPublisher(sender, store, time.Hour)

	observer := "observer-conn"
	sender.addConn(observer)

	publisher.OnDisconnect("conn-a", PresenceTransition{
		Identity:    Identity{UserID: "A"},
		WentOffline: true,
		LastSeen:    time.Now(),
	})

	assert.Equal(t, 1, sender.countByType(observer, EventUserOffline))
}

func TestStillOnlineTransitionIsSilent(t *testing.T) {
	sender := newFakeSender()
	store := &fakeLastSeenStore{}
	publisher := NewPublisher(sender, store, time.Hour)

	observer := "observer-conn"
	sender.addConn(observer)

	// Another device is still connected: no broadcast, no write.
	publisher.OnDisconnect("conn-a", PresenceTransition{
		Identity: Identity{UserID: "A"},
		LastSeen: time.Now(),
	})

	assert.Empty(t, sender.eventsFor(observer))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, store.snapshot())
}
