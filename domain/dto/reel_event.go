package dto

import (
	"encoding/json"
	"time"

	"reel-tracker/domain/model"
)

const EventRefreshSessionCompleted = "refresh_session.completed"

// RefreshSessionEvent is the message published when a refresh session finishes.
type RefreshSessionEvent struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	InitiatedBy  string    `json:"initiated_by"`
	Scope        string    `json:"scope,omitempty"`
	Status       string    `json:"status"`
	ReelCount    int       `json:"reel_count"`
	TotalUpdated int       `json:"total_updated"`
	ErrorCount   int       `json:"error_count"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

func NewRefreshSessionEvent(s *model.RefreshSession) RefreshSessionEvent {
	evt := RefreshSessionEvent{
		Type:         EventRefreshSessionCompleted,
		SessionID:    s.ID,
		InitiatedBy:  s.InitiatedBy,
		Scope:        s.Scope,
		Status:       string(s.Status),
		ReelCount:    len(s.ReelIDs),
		TotalUpdated: s.TotalUpdated,
		ErrorCount:   len(s.Errors),
		StartedAt:    s.StartedAt,
	}
	if s.CompletedAt != nil {
		evt.CompletedAt = *s.CompletedAt
	}
	return evt
}

func (e RefreshSessionEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
