package model

import "github.com/shopspring/decimal"

// Heartbeat is the liveness file overwritten every heartbeat interval.
// External supervisors use file age as the liveness signal.
type Heartbeat struct {
	TS         string          `json:"ts"`
	UnixTS     int64           `json:"unixTs"`
	Equity     decimal.Decimal `json:"equity"`
	Symbol     string          `json:"symbol"`
	ElapsedSec float64         `json:"elapsedSec"`
}

// FinalReport is written exactly once at shutdown so automation can read
// the session outcome without parsing logs.
type FinalReport struct {
	Status          string          `json:"status"`
	ExitCode        int             `json:"exitCode"`
	PnLAbsolute     decimal.Decimal `json:"pnlAbsolute"`
	ErrorCount      int64           `json:"errorCount"`
	DurationSeconds float64         `json:"durationSeconds"`
}

const (
	SessionStatusCompleted = "completed"
	SessionStatusStale     = "stale_data"
	SessionStatusKilled    = "kill_switch"
	SessionStatusBreaker   = "circuit_breaker"
	SessionStatusErrors    = "error_budget_exceeded"
	SessionStatusFeedLost  = "feed_lost"
)
