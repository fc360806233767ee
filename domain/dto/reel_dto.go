package dto

// SubmitReelRequest is the body of POST /api/reels.
type SubmitReelRequest struct {
	URL string `json:"url" binding:"required"`
}

// UserStats aggregates one submitter's reels.
type UserStats struct {
	OwnerID      string  `json:"owner_id"`
	TotalViews   int64   `json:"total_views"`
	TotalReels   int     `json:"total_reels"`
	ActiveReels  int     `json:"active_reels"`
	PayoutAmount float64 `json:"payout_amount"`
}

// GlobalStats aggregates every tracked reel.
type GlobalStats struct {
	TotalViews   int64   `json:"total_views"`
	TotalReels   int     `json:"total_reels"`
	ActiveReels  int     `json:"active_reels"`
	TotalPayouts float64 `json:"total_payouts"`
}
