package engine

import (
	"context"
	"time"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
	"github.com/converge-sh/converge/pkg/telemetry"
	"github.com/converge-sh/converge/pkg/vars"
)

// Dispatcher fires notified handlers after a host's declarative actions have
// all been evaluated. Each handler fires at most once per play per host,
// regardless of how many changed actions notified it, and handlers fire in
// the play's declared handler order rather than notification order.
type Dispatcher struct {
	registry       *capability.Registry
	runner         capability.Runner
	resolver       *vars.Resolver
	metrics        *telemetry.Metrics
	log            *telemetry.Logger
	dryRun         bool
	defaultTimeout time.Duration
}

// NewDispatcher creates a handler dispatcher for one run.
func NewDispatcher(
	registry *capability.Registry,
	runner capability.Runner,
	resolver *vars.Resolver,
	metrics *telemetry.Metrics,
	log *telemetry.Logger,
	dryRun bool,
) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		runner:         runner,
		resolver:       resolver,
		metrics:        metrics,
		log:            log,
		dryRun:         dryRun,
		defaultTimeout: DefaultActionTimeout,
	}
}

// Flush fires every pending handler on the host. A failed handler is
// recorded and the remaining handlers still fire; nothing is rolled back.
func (d *Dispatcher) Flush(ctx context.Context, host *inventory.Host, play *playbook.Play, pending map[string]bool) []ActionResult {
	if len(pending) == 0 {
		return nil
	}

	log := d.log.WithHost(host.ID).WithPlay(play.Name)
	results := make([]ActionResult, 0, len(pending))

	for _, handler := range play.Handlers {
		if !pending[handler.Name] {
			continue
		}
		result := d.fire(ctx, host, play, handler, log)
		results = append(results, result)
		d.metrics.HandlerFired(string(result.Outcome))
	}

	return results
}

// fire applies one handler. Handlers have no idempotency predicate of their
// own: being notified means a dependency changed underneath them.
func (d *Dispatcher) fire(ctx context.Context, host *inventory.Host, play *playbook.Play, handler *playbook.Handler, log *telemetry.Logger) ActionResult {
	start := time.Now()
	result := ActionResult{
		ID:         handler.Name,
		Capability: handler.Capability,
		Handler:    true,
		StartedAt:  start,
	}

	provider, err := d.registry.Get(handler.Capability)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	params, err := d.resolver.ExpandParams(handler.Params, host.ID, play.Vars)
	if err != nil {
		log.WithError(err).Error("handler variable expansion failed")
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	if d.dryRun {
		result.Outcome = OutcomeChanged
		result.Output = "dry-run: handler skipped"
		result.Duration = time.Since(start)
		return result
	}

	timeout := handler.Timeout
	if timeout <= 0 {
		if play.ActionTimeout > 0 {
			timeout = play.ActionTimeout
		} else {
			timeout = d.defaultTimeout
		}
	}

	applyCtx, cancel := context.WithTimeout(ctx, timeout)
	output, applyErr := provider.Apply(applyCtx, d.runner, host, params, handler.Elevated)
	cancel()
	d.metrics.ProviderCall(string(handler.Capability), "apply", applyErr)
	result.Output = output
	result.Duration = time.Since(start)

	if applyErr != nil {
		wrapped := &HandlerError{Handler: handler.Name, Host: host.ID, Err: applyErr}
		log.WithError(wrapped).Error("handler failed")
		result.Outcome = OutcomeFailed
		result.Error = wrapped.Error()
		return result
	}

	log.WithField("handler", handler.Name).Info("handler fired")
	result.Outcome = OutcomeChanged
	return result
}
