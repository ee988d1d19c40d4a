package model

import "time"

// RunStatus is the lifecycle state of a rebuild run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
)

// Run is one rebuild as recorded in the ledger.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Config     string    `json:"config,omitempty"`  // JSON
	Summary    string    `json:"summary,omitempty"` // JSON
}

// DanglingPost is a referenced but absent post. TS is zero and Placed
// false when its record key does not decode.
type DanglingPost struct {
	URI    string `json:"uri"`
	Actor  string `json:"actor"`
	TS     int64  `json:"ts,omitempty"`
	Placed bool   `json:"placed"`
}

// AnomalyRecord is an anomaly as stored in the ledger.
type AnomalyRecord struct {
	ID     int64  `json:"id"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Detail string `json:"detail"`
}
