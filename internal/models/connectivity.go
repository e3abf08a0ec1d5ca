package models

import "time"

// ConnectivityStatus captures the outcome of one completed probe cycle.
type ConnectivityStatus struct {
	Seq        uint64    `json:"seq"`
	Deployment string    `json:"deployment,omitempty"`
	OK         bool      `json:"ok"`
	Attempts   int       `json:"attempts"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}
