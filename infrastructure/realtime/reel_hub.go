package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"reel-tracker/domain/model"
	"reel-tracker/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

const (
	EventReelUpdated    = "reel_updated"
	EventRefreshSession = "refresh_session"
)

// ReelEvent is an SSE payload sent to a reel owner.
type ReelEvent struct {
	Type    string                `json:"type"`
	Reel    *model.Reel           `json:"reel,omitempty"`
	Session *model.RefreshSession `json:"session,omitempty"`
}

// ReelHub maintains per-owner subscribers listening for reel and refresh events.
type ReelHub struct {
	mu    sync.RWMutex
	users map[string]map[chan ReelEvent]struct{}
}

func NewReelHub() *ReelHub {
	return &ReelHub{users: make(map[string]map[chan ReelEvent]struct{})}
}

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *ReelHub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan ReelEvent, 16)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt := <-ch:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = c.Writer.Write([]byte("event: " + evt.Type + "\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *ReelHub) addSubscriber(userID string, ch chan ReelEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan ReelEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *ReelHub) removeSubscriber(userID string, ch chan ReelEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

// BroadcastReel notifies the owner's subscribers that a reel changed.
func (h *ReelHub) BroadcastReel(reel *model.Reel) {
	if reel == nil {
		return
	}
	h.send(reel.OwnerID, ReelEvent{Type: EventReelUpdated, Reel: reel})
}

// BroadcastSession notifies the initiator's subscribers about a refresh session.
func (h *ReelHub) BroadcastSession(session *model.RefreshSession) {
	if session == nil {
		return
	}
	h.send(session.InitiatedBy, ReelEvent{Type: EventRefreshSession, Session: session})
}

func (h *ReelHub) send(userID string, evt ReelEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[userID] {
		select { // non-blocking
		case ch <- evt:
		default:
			logger.GetLogger().WithField("user_id", userID).WithField("type", evt.Type).Warn("SSE subscriber is slow; event dropped")
		}
	}
}

// Subscribers returns the number of open streams for userID.
func (h *ReelHub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
