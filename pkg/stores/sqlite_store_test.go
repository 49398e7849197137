package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/converge-sh/converge/pkg/engine"
	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/playbook"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "converge.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInitFailureLeavesNoOpenHandle(t *testing.T) {
	// A directory is not a valid database file, so Init must fail and
	// release whatever it opened.
	store, err := NewSQLiteStore(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	if err := store.Init(context.Background()); err == nil {
		t.Fatal("expected Init to fail on a directory path")
	}
	if store.db != nil {
		t.Error("expected the database handle to be released")
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close after failed Init: %v", err)
	}
}

func sampleReport(id string) *engine.RunReport {
	started := time.Now().Add(-time.Minute)
	return &engine.RunReport{
		ID:          id,
		Playbook:    "web-tier",
		StartedAt:   started,
		CompletedAt: started.Add(30 * time.Second),
		Duration:    30 * time.Second,
		Facts: map[string]facts.Values{
			"web1": {"pkg.nginx.installed": "true", "service.nginx.state": "active"},
		},
		Plays: []engine.PlayResult{
			{
				Name:        "install",
				TargetGroup: "web",
				Status:      engine.PlayStatusOK,
				StartedAt:   started,
				Duration:    20 * time.Second,
				Hosts: []engine.HostResult{
					{
						HostID: "web1",
						Actions: []engine.ActionResult{
							{ID: "nginx", Capability: playbook.CapabilityPackage, Outcome: engine.OutcomeChanged, Output: "installed"},
							{ID: "config", Capability: playbook.CapabilityFileLine, Outcome: engine.OutcomeUnchanged},
						},
						Handlers: []engine.ActionResult{
							{ID: "restart-nginx", Capability: playbook.CapabilityService, Outcome: engine.OutcomeChanged, Handler: true},
						},
					},
				},
			},
		},
	}
}

func TestRecordAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordRun(ctx, sampleReport("run-1")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Playbook != "web-tier" {
		t.Errorf("unexpected playbook: %s", run.Playbook)
	}
	if run.Status != "ok" {
		t.Errorf("expected ok status, got %s", run.Status)
	}
	if run.Changed != 2 || run.Unchanged != 1 {
		t.Errorf("unexpected tallies: changed=%d unchanged=%d", run.Changed, run.Unchanged)
	}
}

func TestRecordRunFailedStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-2")
	report.Plays[0].Status = engine.PlayStatusFailed
	report.Plays[0].Hosts[0].Actions[0].Outcome = engine.OutcomeFailed
	report.Plays[0].Hosts[0].Actions[0].Error = "apt-get exited 100"
	report.Plays[0].Hosts[0].Failed = true

	if err := store.RecordRun(ctx, report); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	run, err := store.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "failed" {
		t.Errorf("expected failed status, got %s", run.Status)
	}
}

func TestGetRunDetail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordRun(ctx, sampleReport("run-3")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	detail, err := store.GetRunDetail(ctx, "run-3")
	if err != nil {
		t.Fatalf("GetRunDetail: %v", err)
	}

	if len(detail.Plays) != 1 {
		t.Fatalf("expected 1 play record, got %d", len(detail.Plays))
	}
	play := detail.Plays[0]
	if play.Name != "install" || play.TargetGroup != "web" {
		t.Errorf("unexpected play record: %+v", play)
	}

	actions := detail.Actions[play.ID]
	if len(actions) != 3 {
		t.Fatalf("expected 3 action records (2 actions + 1 handler), got %d", len(actions))
	}
	if !actions[2].Handler {
		t.Error("handler record not marked as handler")
	}
	if actions[0].Outcome != "changed" {
		t.Errorf("unexpected outcome: %s", actions[0].Outcome)
	}

	if len(detail.Facts) != 2 {
		t.Fatalf("expected 2 fact records, got %d", len(detail.Facts))
	}
	if detail.Facts[0].Key != "pkg.nginx.installed" || detail.Facts[0].Value != "true" {
		t.Errorf("unexpected fact record: %+v", detail.Facts[0])
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleReport("run-old")
	older.StartedAt = time.Now().Add(-2 * time.Hour)
	older.CompletedAt = older.StartedAt.Add(time.Minute)
	newer := sampleReport("run-new")

	if err := store.RecordRun(ctx, older); err != nil {
		t.Fatalf("RecordRun older: %v", err)
	}
	if err := store.RecordRun(ctx, newer); err != nil {
		t.Fatalf("RecordRun newer: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-old" {
		t.Errorf("runs out of order: %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordRun(ctx, sampleReport("run-4")); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-4"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	if _, err := store.GetRun(ctx, "run-4"); err == nil {
		t.Error("expected error getting deleted run")
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_results").Scan(&count); err != nil {
		t.Fatalf("count play_results: %v", err)
	}
	if count != 0 {
		t.Errorf("play results not cascaded: %d remain", count)
	}
}

func TestPruneRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := sampleReport(id)
		report.StartedAt = time.Now().Add(time.Duration(i-3) * time.Hour)
		report.CompletedAt = report.StartedAt.Add(time.Minute)
		if err := store.RecordRun(ctx, report); err != nil {
			t.Fatalf("RecordRun %s: %v", id, err)
		}
	}

	deleted, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 pruned, got %d", deleted)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-c" {
		t.Errorf("expected only newest run to survive, got %+v", runs)
	}
}
