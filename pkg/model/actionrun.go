package model

import "time"

// ActionRun is a durable execution-ledger entry describing one execution
// of a named action.
//
// State machine: queued -> running -> {succeeded, failed}. At most one
// worker may claim the queued -> running transition for a given row; the
// claim protocol lives in the store layer.
type ActionRun struct {
	ID          int64
	RunID       string
	Action      string
	Status      string
	Payload     []byte // request payload JSON
	Result      []byte // result JSON, possibly partial on failure
	ErrorText   string
	RequestedBy []byte // JSON
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Terminal reports whether the run has reached a terminal status.
func (r *ActionRun) Terminal() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}
