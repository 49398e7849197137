package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
	"github.com/converge-sh/converge/pkg/telemetry"
	"github.com/converge-sh/converge/pkg/vars"
)

// DefaultMaxParallel bounds concurrent host convergence within one play when
// the caller does not set a limit.
const DefaultMaxParallel = 8

// Recorder persists completed run reports. The scheduler treats persistence
// as best-effort: a recorder failure is logged, never surfaced as a run
// failure.
type Recorder interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// Options configures a scheduler.
type Options struct {
	// Inventory is the immutable host/group structure.
	Inventory *inventory.Inventory

	// Registry maps capability types to providers.
	Registry *capability.Registry

	// Runner is the remote-execution transport shared by all providers.
	Runner capability.Runner

	// Logger receives structured run logs. Defaults to a stderr logger.
	Logger *telemetry.Logger

	// Metrics receives run instrumentation. Defaults to a no-op collector.
	Metrics *telemetry.Metrics

	// Tracer receives run spans. Defaults to a no-op tracer.
	Tracer *telemetry.Tracer

	// Recorder persists run reports. Nil disables persistence.
	Recorder Recorder

	// MaxParallel bounds concurrent hosts within one play.
	MaxParallel int

	// DryRun reports what would change without applying anything.
	DryRun bool
}

// Scheduler drives playbook runs: plays strictly in declaration order, hosts
// within a play in parallel. Each run gets a fresh fact store, so observations
// never leak between runs.
type Scheduler struct {
	opts Options
	log  *telemetry.Logger
}

// NewScheduler validates options and creates a scheduler.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Inventory == nil {
		return nil, fmt.Errorf("scheduler requires an inventory")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("scheduler requires a capability registry")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.FromContext(context.Background())
	}
	if opts.Metrics == nil {
		m, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
		if err != nil {
			return nil, err
		}
		opts.Metrics = m
	}
	if opts.Tracer == nil {
		t, err := telemetry.NewTracer(telemetry.TracingConfig{}, "converge", "dev")
		if err != nil {
			return nil, err
		}
		opts.Tracer = t
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}

	return &Scheduler{
		opts: opts,
		log:  opts.Logger.NewComponentLogger("engine"),
	}, nil
}

// Run executes a whole playbook and returns the run report. The returned
// error covers engine-level problems only; host and play failures are
// reported through the report, and RunReport.Failed decides the exit code.
func (s *Scheduler) Run(ctx context.Context, pb *playbook.Playbook) (*RunReport, error) {
	runID := uuid.New().String()
	log := s.log.WithRunID(runID)

	// Facts are observations, not configuration: every run starts from an
	// empty store and re-probes current state.
	store := facts.NewStore()
	resolver := vars.NewResolver(s.opts.Inventory, store, pb.Defaults)
	executor := NewExecutor(s.opts.Registry, s.opts.Runner, store, resolver, s.opts.Metrics, log, s.opts.DryRun)
	dispatcher := NewDispatcher(s.opts.Registry, s.opts.Runner, resolver, s.opts.Metrics, log, s.opts.DryRun)

	report := &RunReport{
		ID:        runID,
		Playbook:  pb.Name,
		DryRun:    s.opts.DryRun,
		StartedAt: time.Now(),
		Plays:     make([]PlayResult, 0, len(pb.Plays)),
	}

	s.opts.Metrics.RunStarted()
	ctx, runSpan := s.opts.Tracer.StartRun(ctx, runID)
	defer runSpan.End()

	log.WithField("playbook", pb.Name).Info("run started")

	for _, play := range pb.Plays {
		if ctx.Err() != nil {
			report.Plays = append(report.Plays, PlayResult{
				Name:        play.Name,
				TargetGroup: play.TargetGroup,
				Status:      PlayStatusSkipped,
				Reason:      ctx.Err().Error(),
				BestEffort:  play.BestEffort,
				StartedAt:   time.Now(),
			})
			continue
		}
		result := s.runPlay(ctx, play, executor, dispatcher, resolver, log)
		report.Plays = append(report.Plays, result)
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	report.Facts = make(map[string]facts.Values)
	for _, hostID := range store.Hosts() {
		report.Facts[hostID] = store.Snapshot(hostID)
	}

	status := "ok"
	if report.Failed() {
		status = "failed"
	}
	s.opts.Metrics.RunCompleted(status, report.Duration)
	log.WithField("status", status).Info("run completed")

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.RecordRun(ctx, report); err != nil {
			log.WithError(err).Warn("failed to persist run report")
		}
	}

	return report, nil
}

// runPlay converges one play across its target group. Cross-group variable
// bindings are resolved up front: if any fails, the play fails before a
// single host runs, and later plays still execute.
func (s *Scheduler) runPlay(ctx context.Context, play *playbook.Play, executor *Executor, dispatcher *Dispatcher, resolver *vars.Resolver, log *telemetry.Logger) PlayResult {
	start := time.Now()
	playLog := log.WithPlay(play.Name)
	playCtx, span := s.opts.Tracer.StartPlay(ctx, play.Name, play.TargetGroup)
	defer span.End()

	result := PlayResult{
		Name:        play.Name,
		TargetGroup: play.TargetGroup,
		BestEffort:  play.BestEffort,
		StartedAt:   start,
	}

	finish := func(status PlayStatus, reason string) PlayResult {
		result.Status = status
		result.Reason = reason
		result.Duration = time.Since(start)
		s.opts.Metrics.PlayExecuted(play.Name, string(status), result.Duration)
		return result
	}

	if err := s.preResolve(play, resolver); err != nil {
		telemetry.RecordError(span, err)
		playLog.WithError(err).Error("play halted: variable resolution failed")
		return finish(PlayStatusFailed, err.Error())
	}

	hosts := s.opts.Inventory.GroupHosts(play.TargetGroup)
	if len(hosts) == 0 {
		playLog.Warn("target group has no hosts")
		return finish(PlayStatusOK, "")
	}

	playLog.WithField("hosts", len(hosts)).Info("play started")

	// Hosts converge in parallel; results keep group membership order so
	// reports are deterministic regardless of completion order.
	result.Hosts = make([]HostResult, len(hosts))
	jobs := make(chan int, len(hosts))
	var wg sync.WaitGroup

	workers := s.opts.MaxParallel
	if workers > len(hosts) {
		workers = len(hosts)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				result.Hosts[idx] = s.runHost(playCtx, hosts[idx], play, executor, dispatcher)
			}
		}()
	}
	for idx := range hosts {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	for _, host := range result.Hosts {
		if host.Failed {
			return finish(PlayStatusFailed, "one or more hosts failed")
		}
	}
	return finish(PlayStatusOK, "")
}

// preResolve fails fast on cross-group bindings that cannot be satisfied.
// Facts published by earlier plays are stable by the time this runs, so a
// binding that resolves here resolves identically for every host of the play.
func (s *Scheduler) preResolve(play *playbook.Play, resolver *vars.Resolver) error {
	names := make([]string, 0, len(play.Vars))
	for name, binding := range play.Vars {
		if binding.FromGroup != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ref := play.Vars[name].FromGroup
		if _, err := resolver.ResolveCrossGroup(name, ref); err != nil {
			return err
		}
	}
	return nil
}

// runHost evaluates the play's actions on one host, then flushes its
// notified handlers. Failures stay scoped to the host.
func (s *Scheduler) runHost(ctx context.Context, host *inventory.Host, play *playbook.Play, executor *Executor, dispatcher *Dispatcher) HostResult {
	hostCtx, span := s.opts.Tracer.StartHost(ctx, host.ID)
	defer span.End()

	actions, pending := executor.Run(hostCtx, host, play)
	handlers := dispatcher.Flush(hostCtx, host, play, pending)

	result := HostResult{
		HostID:   host.ID,
		Actions:  actions,
		Handlers: handlers,
	}
	for _, r := range actions {
		if r.Outcome == OutcomeFailed {
			result.Failed = true
		}
	}
	for _, r := range handlers {
		if r.Outcome == OutcomeFailed {
			result.Failed = true
		}
	}
	if result.Failed {
		telemetry.RecordError(span, fmt.Errorf("host %s failed to converge", host.ID))
	}
	return result
}
