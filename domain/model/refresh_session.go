package model

import "time"

type RefreshSessionStatus string

const (
	SessionPending   RefreshSessionStatus = "pending"
	SessionRunning   RefreshSessionStatus = "running"
	SessionCompleted RefreshSessionStatus = "completed"
	SessionFailed    RefreshSessionStatus = "failed"
)

// SystemInitiator marks sessions that were not started by a submitter.
const SystemInitiator = "system"

// RefreshSession is one bulk, on-demand refresh across a set of reels.
type RefreshSession struct {
	ID           string               `json:"id"`
	InitiatedBy  string               `json:"initiated_by"`
	Scope        string               `json:"scope,omitempty"` // owner id, empty for all owners
	ReelIDs      []string             `json:"reel_ids"`
	Status       RefreshSessionStatus `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	TotalUpdated int                  `json:"total_updated"`
	Errors       []string             `json:"errors"`
}

// Clone returns a copy safe to hand out while the session is still running.
func (s RefreshSession) Clone() RefreshSession {
	out := s
	out.ReelIDs = append([]string(nil), s.ReelIDs...)
	out.Errors = append([]string{}, s.Errors...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
