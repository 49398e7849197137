package engine

import (
	"context"
	"time"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
	"github.com/converge-sh/converge/pkg/telemetry"
	"github.com/converge-sh/converge/pkg/vars"
)

// DefaultActionTimeout bounds provider calls when neither the action nor the
// play declares a timeout.
const DefaultActionTimeout = 2 * time.Minute

// Executor evaluates one play's ordered action list against one host:
// probe, publish facts, check the idempotency predicate, apply at most once.
type Executor struct {
	registry       *capability.Registry
	runner         capability.Runner
	store          *facts.Store
	resolver       *vars.Resolver
	metrics        *telemetry.Metrics
	log            *telemetry.Logger
	dryRun         bool
	defaultTimeout time.Duration
}

// NewExecutor creates an executor bound to one run's fact store and resolver.
func NewExecutor(
	registry *capability.Registry,
	runner capability.Runner,
	store *facts.Store,
	resolver *vars.Resolver,
	metrics *telemetry.Metrics,
	log *telemetry.Logger,
	dryRun bool,
) *Executor {
	return &Executor{
		registry:       registry,
		runner:         runner,
		store:          store,
		resolver:       resolver,
		metrics:        metrics,
		log:            log,
		dryRun:         dryRun,
		defaultTimeout: DefaultActionTimeout,
	}
}

// Run evaluates every action of the play on the host, in declared order.
// It returns the per-action results and the set of handler names notified by
// actions that reported changed.
func (e *Executor) Run(ctx context.Context, host *inventory.Host, play *playbook.Play) ([]ActionResult, map[string]bool) {
	results := make([]ActionResult, 0, len(play.Actions))
	pending := make(map[string]bool)
	log := e.log.WithHost(host.ID).WithPlay(play.Name)

	aborted := false
	for _, action := range play.Actions {
		if aborted {
			results = append(results, ActionResult{
				ID:         action.ID,
				Capability: action.Capability,
				Outcome:    OutcomeSkipped,
				StartedAt:  time.Now(),
			})
			continue
		}

		result := e.evaluate(ctx, host, play, action, log)
		results = append(results, result)

		switch result.Outcome {
		case OutcomeChanged:
			for _, name := range action.Notify {
				pending[name] = true
			}
		case OutcomeFailed:
			if play.OnFailure != playbook.FailurePolicyContinue {
				aborted = true
			}
		}
	}

	return results, pending
}

// evaluate runs one action's probe/predicate/apply cycle on the host.
func (e *Executor) evaluate(ctx context.Context, host *inventory.Host, play *playbook.Play, action *playbook.Action, log *telemetry.Logger) ActionResult {
	start := time.Now()
	result := ActionResult{
		ID:         action.ID,
		Capability: action.Capability,
		StartedAt:  start,
	}

	finish := func(outcome Outcome) ActionResult {
		result.Outcome = outcome
		result.Duration = time.Since(start)
		e.metrics.ActionEvaluated(string(action.Capability), string(outcome), result.Duration)
		return result
	}

	provider, err := e.registry.Get(action.Capability)
	if err != nil {
		result.Error = err.Error()
		return finish(OutcomeFailed)
	}

	params, err := e.resolver.ExpandParams(action.Params, host.ID, play.Vars)
	if err != nil {
		log.WithError(err).Error("variable expansion failed")
		result.Error = err.Error()
		return finish(OutcomeFailed)
	}

	timeout := e.timeoutFor(action.Timeout, play)

	// Probe current state and publish the observation into the host's fact
	// namespace. A failed probe is treated as unsatisfied: the apply still
	// runs, since converging forward is safe for declarative assertions.
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	observed, probeErr := provider.Probe(probeCtx, e.runner, host, params, action.Elevated)
	cancel()
	e.metrics.ProviderCall(string(action.Capability), "probe", probeErr)
	if probeErr != nil {
		log.WithError(&ProbeError{ActionID: action.ID, Host: host.ID, Err: probeErr}).
			Warn("probe failed, treating state as unsatisfied")
	}
	if len(observed) > 0 {
		e.store.SetAll(host.ID, observed)
	}

	if !action.AlwaysRun && probeErr == nil {
		satisfied, err := provider.Satisfied(params, e.store.Snapshot(host.ID))
		if err != nil {
			result.Error = err.Error()
			return finish(OutcomeFailed)
		}
		if satisfied {
			log.WithField("action", action.ID).Debug("state already satisfied")
			return finish(OutcomeUnchanged)
		}
	}

	if e.dryRun {
		result.Output = "dry-run: apply skipped"
		return finish(OutcomeChanged)
	}

	applyCtx, cancel := context.WithTimeout(ctx, timeout)
	output, applyErr := provider.Apply(applyCtx, e.runner, host, params, action.Elevated)
	cancel()
	e.metrics.ProviderCall(string(action.Capability), "apply", applyErr)
	result.Output = output
	if applyErr != nil {
		wrapped := &ApplyError{ActionID: action.ID, Host: host.ID, Err: applyErr}
		log.WithError(wrapped).Error("apply failed")
		result.Error = wrapped.Error()
		return finish(OutcomeFailed)
	}

	log.WithField("action", action.ID).Info("state applied")
	return finish(OutcomeChanged)
}

// timeoutFor picks the effective timeout: the action's own, then the play's
// default, then the engine default.
func (e *Executor) timeoutFor(actionTimeout time.Duration, play *playbook.Play) time.Duration {
	if actionTimeout > 0 {
		return actionTimeout
	}
	if play.ActionTimeout > 0 {
		return play.ActionTimeout
	}
	return e.defaultTimeout
}
