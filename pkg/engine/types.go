package engine

import (
	"time"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/playbook"
)

// Outcome is the result of evaluating one action or handler on one host.
type Outcome string

const (
	// OutcomeUnchanged means the idempotency predicate already held; no
	// external side effect was issued.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeChanged means the apply operation ran and succeeded.
	OutcomeChanged Outcome = "changed"

	// OutcomeFailed means the apply (or handler) operation failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the action never ran: an earlier failure
	// aborted the host, or the whole play was halted.
	OutcomeSkipped Outcome = "skipped"
)

// ActionResult is the per-host outcome of one action or handler.
type ActionResult struct {
	// ID is the action id, or the handler name for handler results.
	ID string `json:"id"`

	// Capability is the capability type that served the action.
	Capability playbook.Capability `json:"capability"`

	// Outcome is the evaluation outcome.
	Outcome Outcome `json:"outcome"`

	// Output is captured diagnostic output from the provider.
	Output string `json:"output,omitempty"`

	// Error is the failure message when Outcome is failed.
	Error string `json:"error,omitempty"`

	// Handler marks results produced by the handler dispatcher.
	Handler bool `json:"handler,omitempty"`

	// StartedAt is when evaluation started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total evaluation time, including probes.
	Duration time.Duration `json:"duration"`
}

// HostResult aggregates one host's outcomes within one play.
type HostResult struct {
	// HostID identifies the host.
	HostID string `json:"host_id"`

	// Actions holds the declarative action results in declared order.
	Actions []ActionResult `json:"actions"`

	// Handlers holds fired handler results in declared handler order.
	Handlers []ActionResult `json:"handlers,omitempty"`

	// Failed is true when any action or handler failed.
	Failed bool `json:"failed"`
}

// Changed reports whether any action or handler changed host state.
func (h *HostResult) Changed() bool {
	for _, r := range h.Actions {
		if r.Outcome == OutcomeChanged {
			return true
		}
	}
	for _, r := range h.Handlers {
		if r.Outcome == OutcomeChanged {
			return true
		}
	}
	return false
}

// PlayStatus is the aggregate status of one play.
type PlayStatus string

const (
	// PlayStatusOK means every host converged without failure.
	PlayStatusOK PlayStatus = "ok"

	// PlayStatusFailed means at least one host failed, or play-level
	// variable resolution failed before any host ran.
	PlayStatusFailed PlayStatus = "failed"

	// PlayStatusSkipped means the play never ran (halted run).
	PlayStatusSkipped PlayStatus = "skipped"
)

// PlayResult aggregates one play across its target group.
type PlayResult struct {
	// Name is the play name.
	Name string `json:"name"`

	// TargetGroup is the converged group.
	TargetGroup string `json:"target_group"`

	// Status is the aggregate play status.
	Status PlayStatus `json:"status"`

	// Reason explains a failed or skipped status (e.g. an unresolved
	// cross-group variable).
	Reason string `json:"reason,omitempty"`

	// BestEffort mirrors the play's best_effort flag; best-effort
	// failures do not affect the process exit code.
	BestEffort bool `json:"best_effort,omitempty"`

	// Hosts holds per-host results in group membership order.
	Hosts []HostResult `json:"hosts"`

	// StartedAt is when the play started.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total play time across all hosts.
	Duration time.Duration `json:"duration"`
}

// RunReport is the per-host, per-play outcome matrix of one run.
type RunReport struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Playbook is the playbook name.
	Playbook string `json:"playbook"`

	// DryRun marks reports produced without applying anything.
	DryRun bool `json:"dry_run,omitempty"`

	// Plays holds play results in declaration order.
	Plays []PlayResult `json:"plays"`

	// Facts is the final per-host fact snapshot of the run: everything the
	// probes observed and the actions published, keyed by host ID.
	Facts map[string]facts.Values `json:"facts,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether any play that is not best-effort failed. This is
// what decides the process exit code.
func (r *RunReport) Failed() bool {
	for _, play := range r.Plays {
		if play.Status == PlayStatusFailed && !play.BestEffort {
			return true
		}
	}
	return false
}

// Summary counts outcomes across the whole run.
type Summary struct {
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize tallies all action and handler outcomes.
func (r *RunReport) Summarize() Summary {
	var s Summary
	count := func(results []ActionResult) {
		for _, res := range results {
			switch res.Outcome {
			case OutcomeUnchanged:
				s.Unchanged++
			case OutcomeChanged:
				s.Changed++
			case OutcomeFailed:
				s.Failed++
			case OutcomeSkipped:
				s.Skipped++
			}
		}
	}
	for _, play := range r.Plays {
		for _, host := range play.Hosts {
			count(host.Actions)
			count(host.Handlers)
		}
	}
	return s
}
