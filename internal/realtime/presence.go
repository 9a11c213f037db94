package realtime

import (
	"context"
	"time"

	"snapclone/pkg/logger"
)

// LastSeenWriter is the durable-cache collaborator for presence. Writes are
// fire-and-forget; a failed write is logged and never blocks a broadcast.
type LastSeenWriter interface {
	SetLastSeen(ctx context.Context, userID string, ts time.Time, ttl time.Duration) error
}

// Publisher turns session transitions into presence broadcasts and last-seen
// persistence. It holds no state beyond its collaborators.
type Publisher struct {
	sender Sender
	store  LastSeenWriter
	ttl    time.Duration
}

func NewPublisher(sender Sender, store LastSeenWriter, ttl time.Duration) *Publisher {
	return &Publisher{
		sender: sender,
		store:  store,
		ttl:    ttl,
	}
}

// OnConnect broadcasts the online transition to every other connection. Call
// only when registration reported an offline-to-online flip.
func (p *Publisher) OnConnect(connID string, id Identity) {
	p.sender.Broadcast(connID, NewOutbound(EventUserOnline, PresenceData{
		UserID:   id.UserID,
		Username: id.Username,
	}))
}

// OnDisconnect persists last-seen and broadcasts the offline transition when
// the user's final connection went away. The broadcast does not wait for the
// cache write.
func (p *Publisher) OnDisconnect(connID string, t PresenceTransition) {
	if !t.WentOffline {
		return
	}

	if p.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.store.SetLastSeen(ctx, t.Identity.UserID, t.LastSeen, p.ttl); err != nil {
				logger.Error("Error persisting last seen for user %s: %v", t.Identity.UserID, err)
			}
		}()
	}

	lastSeen := t.LastSeen
	p.sender.Broadcast(connID, NewOutbound(EventUserOffline, PresenceData{
		UserID:   t.Identity.UserID,
		Username: t.Identity.Username,
		LastSeen: &lastSeen,
	}))
}
