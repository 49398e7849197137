package stores

import "time"

// Run is a persisted run record.
type Run struct {
	// ID is the run's unique identifier.
	ID string `json:"id"`

	// Playbook is the playbook name.
	Playbook string `json:"playbook"`

	// Status is "ok" or "failed".
	Status string `json:"status"`

	// DryRun marks runs that applied nothing.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Outcome tallies across all plays, hosts, and handlers.
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// PlayRecord is a persisted per-play outcome.
type PlayRecord struct {
	// ID is the auto-generated row ID.
	ID int64 `json:"id"`

	// RunID references the enclosing run.
	RunID string `json:"run_id"`

	// Position is the play's index in declaration order.
	Position int `json:"position"`

	// Name is the play name.
	Name string `json:"name"`

	// TargetGroup is the converged group.
	TargetGroup string `json:"target_group"`

	// Status is "ok", "failed", or "skipped".
	Status string `json:"status"`

	// Reason explains a failed or skipped play.
	Reason string `json:"reason,omitempty"`

	// BestEffort mirrors the play's best_effort flag.
	BestEffort bool `json:"best_effort"`

	// DurationMS is the play duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// ActionRecord is a persisted per-host action or handler outcome.
type ActionRecord struct {
	// ID is the auto-generated row ID.
	ID int64 `json:"id"`

	// PlayID references the enclosing play record.
	PlayID int64 `json:"play_id"`

	// HostID is the host the action ran on.
	HostID string `json:"host_id"`

	// ActionID is the action id, or handler name for handler records.
	ActionID string `json:"action_id"`

	// Capability is the capability type.
	Capability string `json:"capability"`

	// Outcome is unchanged, changed, failed, or skipped.
	Outcome string `json:"outcome"`

	// Output is captured provider output.
	Output string `json:"output,omitempty"`

	// Error is the failure message for failed outcomes.
	Error string `json:"error,omitempty"`

	// Handler marks handler records.
	Handler bool `json:"handler"`

	// DurationMS is the evaluation duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// FactRecord is a persisted fact from a run's final snapshot.
type FactRecord struct {
	// RunID references the run the fact was observed in.
	RunID string `json:"run_id"`

	// HostID is the fact's namespace.
	HostID string `json:"host_id"`

	// Key is the fact key.
	Key string `json:"key"`

	// Value is the fact value.
	Value string `json:"value"`
}

// RunDetail is a run with its full outcome matrix.
type RunDetail struct {
	Run     *Run                      `json:"run"`
	Plays   []*PlayRecord             `json:"plays"`
	Actions map[int64][]*ActionRecord `json:"actions"`
	Facts   []*FactRecord             `json:"facts,omitempty"`
}
