package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"snapclone/internal/cache"
	"snapclone/internal/models"
	"snapclone/internal/realtime"
	"snapclone/pkg/logger"
)

type PresenceHandlers struct {
	sessions *realtime.SessionDirectory
	store    *cache.LastSeenStore
}

func NewPresenceHandlers(sessions *realtime.SessionDirectory, store *cache.LastSeenStore) *PresenceHandlers {
	return &PresenceHandlers{
		sessions: sessions,
		store:    store,
	}
}

// ListOnline handles GET /presence/online.
func (h *PresenceHandlers) ListOnline(w http.ResponseWriter, r *http.Request) {
	users := h.sessions.ListOnline()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// GetStatus handles GET /presence/{userId}. For offline users the last-seen
// timestamp comes from the durable cache, when it still holds one.
func (h *PresenceHandlers) GetStatus(w http.ResponseWriter, r *http.Request, userID string) {
	status := models.PresenceStatus{
		UserID: userID,
		Online: h.sessions.IsOnline(userID),
	}

	if !status.Online && h.store != nil {
		lastSeen, err := h.store.GetLastSeen(r.Context(), userID)
		switch {
		case err == nil:
			status.LastSeen = &lastSeen
		case errors.Is(err, cache.ErrNotFound):
			// Expired or never seen; nothing to report.
		default:
			logger.Error("Error reading last seen for user %s: %v", userID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
