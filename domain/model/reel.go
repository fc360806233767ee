package model

import "time"

// ObservationSource tells which flow produced a history entry.
type ObservationSource string

const (
	SourceInitialSubmission ObservationSource = "initial-submission"
	SourcePeriodicRefresh   ObservationSource = "periodic-refresh"
	SourceOnDemandRefresh   ObservationSource = "on-demand-refresh"
)

// DefaultHistoryLimit bounds the number of observations kept per reel.
const DefaultHistoryLimit = 100

// Observation is a point-in-time snapshot of a reel's metrics.
type Observation struct {
	Timestamp   time.Time         `json:"timestamp"`
	Views       int64             `json:"views"`
	Likes       int64             `json:"likes"`
	Comments    int64             `json:"comments"`
	Source      ObservationSource `json:"source"`
	Approximate bool              `json:"approximate,omitempty"` // synthetic fallback numbers
}

// Reel is a tracked short-video post together with its observation history.
type Reel struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Shortcode   string        `json:"shortcode"`
	SourceURL   string        `json:"source_url"`
	Username    string        `json:"username"`
	Views       int64         `json:"views"`
	Likes       int64         `json:"likes"`
	Comments    int64         `json:"comments"`
	Thumbnail   string        `json:"thumbnail"`
	Approximate bool          `json:"approximate"`
	SubmittedAt time.Time     `json:"submitted_at"`
	LastUpdated time.Time     `json:"last_updated"`
	IsActive    bool          `json:"is_active"`
	History     []Observation `json:"history"`
}

// Clone returns a deep copy so callers never share the history backing array.
func (r Reel) Clone() Reel {
	out := r
	if r.History != nil {
		out.History = make([]Observation, len(r.History))
		copy(out.History, r.History)
	}
	return out
}

// SameMetrics reports whether the observation carries the reel's current counters.
func (r Reel) SameMetrics(o Observation) bool {
	return r.Views == o.Views && r.Likes == o.Likes && r.Comments == o.Comments
}

// ReelTotals are counters over a set of reels.
type ReelTotals struct {
	Views  int64
	Reels  int
	Active int
}

// ReelMetrics is the canonical shape returned by the metrics fetch adapter.
type ReelMetrics struct {
	Shortcode string `json:"shortcode"`
	Username  string `json:"username"`
	Views     int64  `json:"views"`
	Likes     int64  `json:"likes"`
	Comments  int64  `json:"comments"`
	Thumbnail string `json:"thumbnail"`
	// Fallback is set when the numbers are synthetic because the provider was unusable.
	Fallback bool `json:"fallback"`
}

// Observation converts fetched metrics into a history entry.
func (m ReelMetrics) Observation(source ObservationSource, at time.Time) Observation {
	return Observation{
		Timestamp:   at,
		Views:       nonNegative(m.Views),
		Likes:       nonNegative(m.Likes),
		Comments:    nonNegative(m.Comments),
		Source:      source,
		Approximate: m.Fallback,
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
