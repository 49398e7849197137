package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
	"github.com/converge-sh/converge/pkg/telemetry"
)

// nopRunner satisfies capability.Runner for providers that never touch it.
type nopRunner struct{}

func (nopRunner) Execute(_ context.Context, _ *inventory.Host, _ string, _ bool) (*capability.ExecResult, error) {
	return &capability.ExecResult{}, nil
}

// fakeProvider is a configurable capability provider that counts its calls.
type fakeProvider struct {
	mu sync.Mutex

	capType     playbook.Capability
	probeFn     func(host *inventory.Host, params playbook.Params) (facts.Values, error)
	satisfiedFn func(params playbook.Params, snapshot facts.Values) (bool, error)
	applyFn     func(host *inventory.Host, params playbook.Params) (string, error)

	probeCalls int
	applyCalls int
	applied    []string
	appliedFor map[string][]playbook.Params
}

func newFakeProvider(capType playbook.Capability) *fakeProvider {
	return &fakeProvider{
		capType:    capType,
		appliedFor: make(map[string][]playbook.Params),
	}
}

func (f *fakeProvider) Type() playbook.Capability { return f.capType }

func (f *fakeProvider) Probe(_ context.Context, _ capability.Runner, host *inventory.Host, params playbook.Params, _ bool) (facts.Values, error) {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()
	if f.probeFn != nil {
		return f.probeFn(host, params)
	}
	return nil, nil
}

func (f *fakeProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	if f.satisfiedFn != nil {
		return f.satisfiedFn(params, snapshot)
	}
	return false, nil
}

func (f *fakeProvider) Apply(_ context.Context, _ capability.Runner, host *inventory.Host, params playbook.Params, _ bool) (string, error) {
	f.mu.Lock()
	f.applyCalls++
	f.applied = append(f.applied, host.ID)
	copied := make(playbook.Params, len(params))
	for k, v := range params {
		copied[k] = v
	}
	f.appliedFor[host.ID] = append(f.appliedFor[host.ID], copied)
	f.mu.Unlock()
	if f.applyFn != nil {
		return f.applyFn(host, params)
	}
	return "applied", nil
}

func (f *fakeProvider) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls
}

func (f *fakeProvider) appliedParams(hostID string) []playbook.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appliedFor[hostID]
}

// testInventory builds an inventory from group name to ordered member IDs.
func testInventory(groups map[string][]string) *inventory.Inventory {
	inv := &inventory.Inventory{
		Hosts:    make(map[string]*inventory.Host),
		Groups:   make(map[string]*inventory.Group),
		LoadedAt: time.Now(),
	}
	for name, members := range groups {
		inv.Groups[name] = &inventory.Group{Name: name, Hosts: members}
		for _, id := range members {
			if host, ok := inv.Hosts[id]; ok {
				host.Groups = append(host.Groups, name)
				continue
			}
			inv.Hosts[id] = &inventory.Host{
				ID:      id,
				Address: id + ".test",
				Port:    22,
				Groups:  []string{name},
			}
		}
	}
	return inv
}

func newTestScheduler(t *testing.T, inv *inventory.Inventory, registry *capability.Registry, dryRun bool) *Scheduler {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	sched, err := NewScheduler(Options{
		Inventory: inv,
		Registry:  registry,
		Runner:    nopRunner{},
		Logger:    logger,
		DryRun:    dryRun,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return sched
}

func singleActionPlay(name, group string, actions ...*playbook.Action) *playbook.Play {
	return &playbook.Play{
		Name:        name,
		TargetGroup: group,
		Actions:     actions,
	}
}

func TestSatisfiedActionSkipsApply(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityPackage)
	provider.satisfiedFn = func(playbook.Params, facts.Values) (bool, error) {
		return true, nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("install", "web", &playbook.Action{
				ID:         "nginx",
				Capability: playbook.CapabilityPackage,
				Params:     playbook.Params{"name": "nginx"},
			}),
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.applyCount() != 0 {
		t.Errorf("expected zero apply calls for satisfied state, got %d", provider.applyCount())
	}
	got := report.Plays[0].Hosts[0].Actions[0].Outcome
	if got != OutcomeUnchanged {
		t.Errorf("expected unchanged, got %s", got)
	}
	if report.Failed() {
		t.Error("run should not be failed")
	}
}

func TestConvergenceIsIdempotentAcrossRuns(t *testing.T) {
	// The provider tracks real external state: Probe reads it, Apply
	// mutates it. The second run must observe the converged state and
	// issue no further applies even though facts reset between runs.
	var mu sync.Mutex
	installed := false

	provider := newFakeProvider(playbook.CapabilityPackage)
	provider.probeFn = func(*inventory.Host, playbook.Params) (facts.Values, error) {
		mu.Lock()
		defer mu.Unlock()
		if installed {
			return facts.Values{"pkg.nginx.installed": "true"}, nil
		}
		return facts.Values{"pkg.nginx.installed": "false"}, nil
	}
	provider.satisfiedFn = func(_ playbook.Params, snapshot facts.Values) (bool, error) {
		return snapshot["pkg.nginx.installed"] == "true", nil
	}
	provider.applyFn = func(*inventory.Host, playbook.Params) (string, error) {
		mu.Lock()
		installed = true
		mu.Unlock()
		return "installed nginx", nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("install", "web", &playbook.Action{
				ID:         "nginx",
				Capability: playbook.CapabilityPackage,
				Params:     playbook.Params{"name": "nginx"},
			}),
		},
	}

	first, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if got := first.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeChanged {
		t.Fatalf("first run: expected changed, got %s", got)
	}

	second, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := second.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeUnchanged {
		t.Errorf("second run: expected unchanged, got %s", got)
	}
	if provider.applyCount() != 1 {
		t.Errorf("expected exactly one apply across both runs, got %d", provider.applyCount())
	}
}

func TestHandlersFireAtMostOncePerPlayPerHost(t *testing.T) {
	actionProvider := newFakeProvider(playbook.CapabilityFileLine)
	handlerProvider := newFakeProvider(playbook.CapabilityService)
	registry := capability.NewRegistry()
	registry.Register(actionProvider)
	registry.Register(handlerProvider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	// Two changed actions both notify restart-nginx; the handler must
	// fire once. reload-config is notified by the second action only,
	// but fires first because handlers run in declared order.
	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "configure",
				TargetGroup: "web",
				Actions: []*playbook.Action{
					{
						ID:         "edit-a",
						Capability: playbook.CapabilityFileLine,
						Params:     playbook.Params{"path": "/etc/nginx/a.conf"},
						Notify:     []string{"restart-nginx"},
					},
					{
						ID:         "edit-b",
						Capability: playbook.CapabilityFileLine,
						Params:     playbook.Params{"path": "/etc/nginx/b.conf"},
						Notify:     []string{"reload-config", "restart-nginx"},
					},
				},
				Handlers: []*playbook.Handler{
					{Name: "reload-config", Capability: playbook.CapabilityService, Params: playbook.Params{"name": "config"}},
					{Name: "restart-nginx", Capability: playbook.CapabilityService, Params: playbook.Params{"name": "nginx"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	handlers := report.Plays[0].Hosts[0].Handlers
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handler firings, got %d", len(handlers))
	}
	if handlers[0].ID != "reload-config" || handlers[1].ID != "restart-nginx" {
		t.Errorf("handlers fired out of declared order: %s, %s", handlers[0].ID, handlers[1].ID)
	}
	if handlerProvider.applyCount() != 2 {
		t.Errorf("expected 2 handler applies (one each), got %d", handlerProvider.applyCount())
	}
	for _, h := range handlers {
		if !h.Handler {
			t.Error("handler result not marked as handler")
		}
	}
}

func TestUnchangedActionsDoNotNotify(t *testing.T) {
	actionProvider := newFakeProvider(playbook.CapabilityFileLine)
	actionProvider.satisfiedFn = func(playbook.Params, facts.Values) (bool, error) {
		return true, nil
	}
	handlerProvider := newFakeProvider(playbook.CapabilityService)
	registry := capability.NewRegistry()
	registry.Register(actionProvider)
	registry.Register(handlerProvider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "configure",
				TargetGroup: "web",
				Actions: []*playbook.Action{
					{
						ID:         "edit",
						Capability: playbook.CapabilityFileLine,
						Params:     playbook.Params{"path": "/etc/nginx/nginx.conf"},
						Notify:     []string{"restart-nginx"},
					},
				},
				Handlers: []*playbook.Handler{
					{Name: "restart-nginx", Capability: playbook.CapabilityService, Params: playbook.Params{"name": "nginx"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if handlerProvider.applyCount() != 0 {
		t.Errorf("handler fired for unchanged action: %d applies", handlerProvider.applyCount())
	}
	if len(report.Plays[0].Hosts[0].Handlers) != 0 {
		t.Error("expected no handler results")
	}
}

func TestActionFactsFlowIntoLaterActions(t *testing.T) {
	// The first action publishes a fact during its probe; the second
	// action's params reference it through a placeholder. Declared order
	// guarantees the fact exists by the time the second action expands.
	factsProvider := newFakeProvider(playbook.CapabilityFacts)
	factsProvider.probeFn = func(_ *inventory.Host, params playbook.Params) (facts.Values, error) {
		out := make(facts.Values, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	}
	factsProvider.satisfiedFn = func(params playbook.Params, snapshot facts.Values) (bool, error) {
		for k, v := range params {
			if snapshot[k] != v {
				return false, nil
			}
		}
		return true, nil
	}

	commandProvider := newFakeProvider(playbook.CapabilityCommand)
	registry := capability.NewRegistry()
	registry.Register(factsProvider)
	registry.Register(commandProvider)

	inv := testInventory(map[string][]string{"db": {"db1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "db",
				TargetGroup: "db",
				Actions: []*playbook.Action{
					{
						ID:         "publish-address",
						Capability: playbook.CapabilityFacts,
						Params:     playbook.Params{"address": "10.0.0.5"},
					},
					{
						ID:         "use-address",
						Capability: playbook.CapabilityCommand,
						Params:     playbook.Params{"command": "ping {{address}}"},
					},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := report.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeUnchanged {
		t.Errorf("fact publication should be unchanged, got %s", got)
	}

	applied := commandProvider.appliedParams("db1")
	if len(applied) != 1 {
		t.Fatalf("expected 1 command apply, got %d", len(applied))
	}
	if got := applied[0]["command"]; got != "ping 10.0.0.5" {
		t.Errorf("placeholder not expanded from published fact: %q", got)
	}
}

func TestCrossGroupResolvesPrimaryHostOnly(t *testing.T) {
	// db1 and db2 publish different addresses. The app play binds
	// db_address from the db group, so every app host must see db1's
	// value: the primary (first) member, deterministically.
	factsProvider := newFakeProvider(playbook.CapabilityFacts)
	factsProvider.probeFn = func(host *inventory.Host, _ playbook.Params) (facts.Values, error) {
		switch host.ID {
		case "db1":
			return facts.Values{"address": "10.0.0.1"}, nil
		case "db2":
			return facts.Values{"address": "10.0.0.2"}, nil
		}
		return nil, nil
	}
	factsProvider.satisfiedFn = func(playbook.Params, facts.Values) (bool, error) {
		return true, nil
	}

	commandProvider := newFakeProvider(playbook.CapabilityCommand)
	registry := capability.NewRegistry()
	registry.Register(factsProvider)
	registry.Register(commandProvider)

	inv := testInventory(map[string][]string{
		"db":  {"db1", "db2"},
		"app": {"app1", "app2"},
	})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("db", "db", &playbook.Action{
				ID:         "publish",
				Capability: playbook.CapabilityFacts,
			}),
			{
				Name:        "app",
				TargetGroup: "app",
				Vars: map[string]playbook.VarBinding{
					"db_address": {FromGroup: &playbook.CrossGroupRef{Group: "db", Fact: "address"}},
				},
				Actions: []*playbook.Action{
					{
						ID:         "point-at-db",
						Capability: playbook.CapabilityCommand,
						Params:     playbook.Params{"command": "configure --db {{db_address}}"},
					},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("run failed: %+v", report.Plays)
	}

	for _, hostID := range []string{"app1", "app2"} {
		applied := commandProvider.appliedParams(hostID)
		if len(applied) != 1 {
			t.Fatalf("host %s: expected 1 apply, got %d", hostID, len(applied))
		}
		if got := applied[0]["command"]; got != "configure --db 10.0.0.1" {
			t.Errorf("host %s resolved non-primary address: %q", hostID, got)
		}
	}
}

func TestUnresolvedCrossGroupHaltsDependentPlayOnly(t *testing.T) {
	commandProvider := newFakeProvider(playbook.CapabilityCommand)
	registry := capability.NewRegistry()
	registry.Register(commandProvider)

	inv := testInventory(map[string][]string{
		"app": {"app1"},
		"web": {"web1"},
	})
	inv.Groups["empty"] = &inventory.Group{Name: "empty"}
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "dependent",
				TargetGroup: "app",
				Vars: map[string]playbook.VarBinding{
					"db_address": {FromGroup: &playbook.CrossGroupRef{Group: "empty", Fact: "address"}},
				},
				Actions: []*playbook.Action{
					{
						ID:         "configure",
						Capability: playbook.CapabilityCommand,
						Params:     playbook.Params{"command": "configure {{db_address}}"},
					},
				},
			},
			singleActionPlay("independent", "web", &playbook.Action{
				ID:         "check",
				Capability: playbook.CapabilityCommand,
				Params:     playbook.Params{"command": "true"},
			}),
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := report.Plays[0]
	if first.Status != PlayStatusFailed {
		t.Errorf("dependent play should fail, got %s", first.Status)
	}
	if len(first.Hosts) != 0 {
		t.Errorf("dependent play ran %d hosts before resolution failure", len(first.Hosts))
	}
	if !strings.Contains(first.Reason, "empty") {
		t.Errorf("failure reason should name the empty group: %q", first.Reason)
	}

	second := report.Plays[1]
	if second.Status != PlayStatusOK {
		t.Errorf("independent play should still run, got %s", second.Status)
	}
	if !report.Failed() {
		t.Error("run should be marked failed")
	}
}

func TestFailureIsolatedToHost(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityPackage)
	provider.applyFn = func(host *inventory.Host, _ playbook.Params) (string, error) {
		if host.ID == "app1" {
			return "", context.DeadlineExceeded
		}
		return "ok", nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"app": {"app1", "app2"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "deploy",
				TargetGroup: "app",
				Actions: []*playbook.Action{
					{ID: "first", Capability: playbook.CapabilityPackage, Params: playbook.Params{"name": "a"}},
					{ID: "second", Capability: playbook.CapabilityPackage, Params: playbook.Params{"name": "b"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	play := report.Plays[0]
	if play.Status != PlayStatusFailed {
		t.Errorf("play should be failed, got %s", play.Status)
	}

	// Results keep group membership order.
	app1, app2 := play.Hosts[0], play.Hosts[1]
	if app1.HostID != "app1" || app2.HostID != "app2" {
		t.Fatalf("host results out of membership order: %s, %s", app1.HostID, app2.HostID)
	}

	if app1.Actions[0].Outcome != OutcomeFailed {
		t.Errorf("app1 first action: expected failed, got %s", app1.Actions[0].Outcome)
	}
	if app1.Actions[1].Outcome != OutcomeSkipped {
		t.Errorf("app1 second action: expected skipped under abort policy, got %s", app1.Actions[1].Outcome)
	}

	if app2.Failed {
		t.Error("app2 should converge despite app1 failing")
	}
	for i, r := range app2.Actions {
		if r.Outcome != OutcomeChanged {
			t.Errorf("app2 action %d: expected changed, got %s", i, r.Outcome)
		}
	}
}

func TestFailurePolicyContinue(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityPackage)
	provider.applyFn = func(_ *inventory.Host, params playbook.Params) (string, error) {
		if params["name"] == "broken" {
			return "", context.DeadlineExceeded
		}
		return "ok", nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"app": {"app1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "deploy",
				TargetGroup: "app",
				OnFailure:   playbook.FailurePolicyContinue,
				Actions: []*playbook.Action{
					{ID: "first", Capability: playbook.CapabilityPackage, Params: playbook.Params{"name": "broken"}},
					{ID: "second", Capability: playbook.CapabilityPackage, Params: playbook.Params{"name": "fine"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	actions := report.Plays[0].Hosts[0].Actions
	if actions[0].Outcome != OutcomeFailed {
		t.Errorf("first action: expected failed, got %s", actions[0].Outcome)
	}
	if actions[1].Outcome != OutcomeChanged {
		t.Errorf("second action: expected changed under continue policy, got %s", actions[1].Outcome)
	}
	if report.Plays[0].Status != PlayStatusFailed {
		t.Error("play with a failed action must still be failed")
	}
}

func TestAlwaysRunBypassesPredicate(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityCommand)
	provider.satisfiedFn = func(playbook.Params, facts.Values) (bool, error) {
		return true, nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("verify", "web", &playbook.Action{
				ID:         "healthcheck",
				Capability: playbook.CapabilityCommand,
				Params:     playbook.Params{"command": "curl -fsS localhost/health"},
				AlwaysRun:  true,
			}),
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.applyCount() != 1 {
		t.Errorf("always_run action must apply even when satisfied, got %d applies", provider.applyCount())
	}
	if got := report.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeChanged {
		t.Errorf("expected changed, got %s", got)
	}
}

func TestProbeFailureTreatedAsUnsatisfied(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityService)
	provider.probeFn = func(*inventory.Host, playbook.Params) (facts.Values, error) {
		return nil, context.DeadlineExceeded
	}
	provider.satisfiedFn = func(playbook.Params, facts.Values) (bool, error) {
		// Must never be consulted after a failed probe.
		return true, nil
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("services", "web", &playbook.Action{
				ID:         "nginx",
				Capability: playbook.CapabilityService,
				Params:     playbook.Params{"name": "nginx"},
			}),
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.applyCount() != 1 {
		t.Errorf("failed probe must fall through to apply, got %d applies", provider.applyCount())
	}
	if got := report.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeChanged {
		t.Errorf("expected changed, got %s", got)
	}
}

func TestDryRunAppliesNothing(t *testing.T) {
	actionProvider := newFakeProvider(playbook.CapabilityPackage)
	handlerProvider := newFakeProvider(playbook.CapabilityService)
	registry := capability.NewRegistry()
	registry.Register(actionProvider)
	registry.Register(handlerProvider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, true)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "install",
				TargetGroup: "web",
				Actions: []*playbook.Action{
					{
						ID:         "nginx",
						Capability: playbook.CapabilityPackage,
						Params:     playbook.Params{"name": "nginx"},
						Notify:     []string{"restart-nginx"},
					},
				},
				Handlers: []*playbook.Handler{
					{Name: "restart-nginx", Capability: playbook.CapabilityService, Params: playbook.Params{"name": "nginx"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if actionProvider.applyCount() != 0 || handlerProvider.applyCount() != 0 {
		t.Errorf("dry-run issued applies: actions=%d handlers=%d",
			actionProvider.applyCount(), handlerProvider.applyCount())
	}
	if !report.DryRun {
		t.Error("report not marked dry-run")
	}
	if got := report.Plays[0].Hosts[0].Actions[0].Outcome; got != OutcomeChanged {
		t.Errorf("dry-run should report would-change as changed, got %s", got)
	}
	if len(report.Plays[0].Hosts[0].Handlers) != 1 {
		t.Error("dry-run should report which handlers would fire")
	}
}

func TestBestEffortPlayExcludedFromExitStatus(t *testing.T) {
	provider := newFakeProvider(playbook.CapabilityCommand)
	provider.applyFn = func(*inventory.Host, playbook.Params) (string, error) {
		return "", context.DeadlineExceeded
	}
	registry := capability.NewRegistry()
	registry.Register(provider)

	inv := testInventory(map[string][]string{"web": {"web1"}})
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			{
				Name:        "optional-tuning",
				TargetGroup: "web",
				BestEffort:  true,
				Actions: []*playbook.Action{
					{ID: "tune", Capability: playbook.CapabilityCommand, Params: playbook.Params{"command": "sysctl -w vm.swappiness=10"}},
				},
			},
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Plays[0].Status != PlayStatusFailed {
		t.Errorf("best-effort play still reports failed, got %s", report.Plays[0].Status)
	}
	if report.Failed() {
		t.Error("best-effort failure must not fail the run")
	}
}

func TestEmptyTargetGroupIsNoop(t *testing.T) {
	registry := capability.NewRegistry()
	registry.Register(newFakeProvider(playbook.CapabilityCommand))

	inv := testInventory(map[string][]string{"web": {"web1"}})
	inv.Groups["empty"] = &inventory.Group{Name: "empty"}
	sched := newTestScheduler(t, inv, registry, false)

	pb := &playbook.Playbook{
		Name: "test",
		Plays: []*playbook.Play{
			singleActionPlay("noop", "empty", &playbook.Action{
				ID:         "anything",
				Capability: playbook.CapabilityCommand,
				Params:     playbook.Params{"command": "true"},
			}),
		},
	}

	report, err := sched.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Plays[0].Status != PlayStatusOK {
		t.Errorf("empty group play should be ok, got %s", report.Plays[0].Status)
	}
	if len(report.Plays[0].Hosts) != 0 {
		t.Errorf("expected zero host results, got %d", len(report.Plays[0].Hosts))
	}
}

func TestRunReportSummary(t *testing.T) {
	report := &RunReport{
		Plays: []PlayResult{
			{
				Hosts: []HostResult{
					{
						Actions: []ActionResult{
							{Outcome: OutcomeChanged},
							{Outcome: OutcomeUnchanged},
							{Outcome: OutcomeFailed},
							{Outcome: OutcomeSkipped},
						},
						Handlers: []ActionResult{
							{Outcome: OutcomeChanged, Handler: true},
						},
					},
				},
			},
		},
	}

	s := report.Summarize()
	if s.Changed != 2 || s.Unchanged != 1 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
