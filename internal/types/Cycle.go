package types

import "time"

// StageResult records one pipeline stage's outcome for a cycle. A stage that
// fails outright carries its error here; the cycle continues regardless.
type StageResult struct {
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errored   int    `json:"errored"`
	Err       string `json:"err,omitempty"`
}

// Failed reports whether the stage as a whole produced nothing.
func (r StageResult) Failed() bool {
	return r.Err != ""
}

// CycleSnapshot is the persisted record of one pipeline run, kept for the
// dashboard and for post-hoc inspection.
type CycleSnapshot struct {
	SnapshotID     int64            `json:"snapshot_id,omitempty"`
	CycleNumber    int              `json:"cycle_number"`
	CycleID        string           `json:"cycle_id"`
	Timestamp      time.Time        `json:"timestamp"`
	ParamsID       *int64           `json:"params_id,omitempty"`
	DryRun         bool             `json:"dry_run"`
	ChannelCount   int              `json:"channel_count"`
	EventsIngested int              `json:"events_ingested"`
	EventsSkipped  int              `json:"events_skipped"`
	OverrideCount  int              `json:"override_count"`
	StageResults   []StageResult    `json:"stage_results"`
	Overrides      []PolicyOverride `json:"overrides,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
}
