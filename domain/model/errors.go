package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidReelURL    = errors.New("invalid reel url")
	ErrDuplicateReel     = errors.New("reel is already tracked")
	ErrReelNotFound      = errors.New("reel not found")
	ErrSessionNotFound   = errors.New("refresh session not found")
	ErrRateLimited       = errors.New("upstream rate limited")
	ErrRefreshInProgress = errors.New("a refresh session is already running for this scope")
)

// RateLimitError is returned when the metrics provider throttles us.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
