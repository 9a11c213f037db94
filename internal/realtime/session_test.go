package realtime

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDeregisterLifecycle(t *testing.T) {
	d := NewSessionDirectory()

	wentOnline, err := d.Register("c1", Identity{UserID: "A", Username: "alice"})
	require.NoError(t, err)
	assert.True(t, wentOnline)
	assert.True(t, d.IsOnline("A"))

	id, ok := d.ResolveUser("c1")
	require.True(t, ok)
	assert.Equal(t, "A", id.UserID)
	assert.Equal(t, "alice", id.Username)

	transition, ok := d.Deregister("c1")
	require.True(t, ok)
	assert.True(t, transition.WentOffline)
	assert.Equal(t, "A", transition.Identity.UserID)
	assert.False(t, transition.LastSeen.IsZero())
	assert.False(t, d.IsOnline("A"))

	_, ok = d.ResolveUser("c1")
	assert.False(t, ok)
}

func TestDuplicateRegisterRejected(t *testing.T) {
	d := NewSessionDirectory()

	_, err := d.Register("c1", Identity{UserID: "A"})
	require.NoError(t, err)

	_, err = d.Register("c1", Identity{UserID: "B"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestDeregisterUnknownConnectionIsNoOp(t *testing.T) {
	d := NewSessionDirectory()

	_, ok := d.Deregister("missing")
	assert.False(t, ok)

	// Duplicate disconnect signals are harmless.
	d.Register("c1", Identity{UserID: "A"})
	_, ok = d.Deregister("c1")
	require.True(t, ok)
	_, ok = d.Deregister("c1")
	assert.False(t, ok)
}

func TestMultiDevicePresence(t *testing.T) {
	d := NewSessionDirectory()

	wentOnline, err := d.Register("phone", Identity{UserID: "A", Username: "alice"})
	require.NoError(t, err)
	assert.True(t, wentOnline)

	wentOnline, err = d.Register("laptop", Identity{UserID: "A", Username: "alice"})
	require.NoError(t, err)
	assert.False(t, wentOnline, "second device must not re-announce online")
	assert.Equal(t, 2, d.ConnectionCount("A"))

	// Dropping one device keeps the user online.
	transition, ok := d.Deregister("phone")
	require.True(t, ok)
	assert.False(t, transition.WentOffline)
	assert.True(t, d.IsOnline("A"))

	// Only the last device flips the user offline.
	transition, ok = d.Deregister("laptop")
	require.True(t, ok)
	assert.True(t, transition.WentOffline)
	assert.False(t, d.IsOnline("A"))
}

func TestListOnline(t *testing.T) {
	d := NewSessionDirectory()
	d.Register("c1", Identity{UserID: "A"})
	d.Register("c2", Identity{UserID: "B"})
	d.Register("c3", Identity{UserID: "B"})

	assert.ElementsMatch(t, []string{"A", "B"}, d.ListOnline())

	d.Deregister("c2")
	assert.ElementsMatch(t, []string{"A", "B"}, d.ListOnline())

	d.Deregister("c3")
	assert.ElementsMatch(t, []string{"A"}, d.ListOnline())
}

// Property: over any interleaving of connects and disconnects for one user,
// IsOnline is true iff at least one connection is registered.
func TestOnlineInvariantRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 100; trial++ {
		d := NewSessionDirectory()
		live := make(map[string]struct{})
		next := 0

		for step := 0; step < 200; step++ {
			if len(live) == 0 || rng.Intn(2) == 0 {
				next++
				connID := fmt.Sprintf("c%d", next)
				_, err := d.Register(connID, Identity{UserID: "A"})
				require.NoError(t, err)
				live[connID] = struct{}{}
			} else {
				var victim string
				for connID := range live {
					victim = connID
					break
				}
				delete(live, victim)
				transition, ok := d.Deregister(victim)
				require.True(t, ok)
				require.Equal(t, len(live) == 0, transition.WentOffline)
			}

			require.Equal(t, len(live) > 0, d.IsOnline("A"),
				"trial %d step %d: online state diverged from live connection set", trial, step)
			require.Equal(t, len(live), d.ConnectionCount("A"))
		}
	}
}

func TestConcurrentRegisterDeregister(t *testing.T) {
	d := NewSessionDirectory()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(worker int) {
			defer func() { done <- struct{}{} }()
			userID := fmt.Sprintf("user-%d", worker%4)
			for j := 0; j < 500; j++ {
				connID := fmt.Sprintf("w%d-c%d", worker, j)
				_, err := d.Register(connID, Identity{UserID: userID})
				if err != nil {
					continue
				}
				d.IsOnline(userID)
				d.Deregister(connID)
			}
		}(i)
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Empty(t, d.ListOnline())
}
