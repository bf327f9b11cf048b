package models

import "time"

// RunRecord is the journaled outcome of one pipeline run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	LogPath    string    `json:"log_path"`
	TicketKey  string    `json:"ticket_key"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Commented  bool      `json:"commented"`
	Attached   bool      `json:"attached"`
	Notified   bool      `json:"notified"`
	CacheHit   bool      `json:"cache_hit"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunQueryOpts specifies filters for querying run records.
type RunQueryOpts struct {
	TicketKey string
	State     string
	Since     time.Time
	Limit     int
}

// RunStat holds run counts for a state/day combination.
type RunStat struct {
	State string
	Day   string
	Count int
}
