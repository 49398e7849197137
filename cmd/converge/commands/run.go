package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/engine"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
	"github.com/converge-sh/converge/pkg/stores"
	"github.com/converge-sh/converge/pkg/telemetry"
	"github.com/converge-sh/converge/pkg/transports/local"
	sshtransport "github.com/converge-sh/converge/pkg/transports/ssh"
)

// runOptions collects everything a single run invocation needs.
type runOptions struct {
	playbookPath    string
	dryRun          bool
	maxParallel     int
	transport       string
	sshUser         string
	sshKeyPath      string
	insecureHostKey bool
	sudoPassword    string
	historyPath     string
	noHistory       bool
	metricsListen   string
	traceStdout     bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Converge hosts toward the playbook's declared state",
		Long: `Execute a playbook against the inventory.

Plays run strictly in declaration order; within a play every host of the
target group converges in parallel. Each action is probed first and applied
only when its desired state does not already hold, so re-running a playbook
against converged hosts changes nothing.`,
		Example: `  # Converge the fleet
  converge run --playbook site.yaml --inventory inventory.yaml

  # Report what would change without touching anything
  converge run --playbook site.yaml --dry-run

  # Re-run automatically when the playbook or inventory changes
  converge run --playbook site.yaml --watch

  # Converge localhost without SSH
  converge run --playbook site.yaml --transport local`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if watch {
				return runWatch(cmd.Context(), opts)
			}

			report, err := executeRun(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := printReport(report); err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("run %s failed", report.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.playbookPath, "playbook", "p", "site.yaml", "playbook file to execute")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report what would change without applying")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run when the playbook or inventory changes")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", engine.DefaultMaxParallel, "max hosts converging in parallel per play")
	cmd.Flags().StringVar(&opts.transport, "transport", "ssh", "remote-execution transport (ssh, local)")
	cmd.Flags().StringVar(&opts.sshUser, "user", "", "default SSH user for hosts that declare none")
	cmd.Flags().StringVar(&opts.sshKeyPath, "key-path", "", "default SSH private key for hosts that declare none")
	cmd.Flags().BoolVar(&opts.insecureHostKey, "insecure-skip-host-key", false, "skip SSH host key verification")
	cmd.Flags().StringVar(&opts.sudoPassword, "sudo-password", "", "password piped to sudo for elevated actions")
	cmd.Flags().StringVar(&opts.historyPath, "history-db", "", "run-history database path (default ~/.converge/history.db)")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "disable run-history persistence")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&opts.traceStdout, "trace-stdout", false, "emit trace spans to stdout")

	return cmd
}

// executeRun loads the inventory and playbook, wires the engine, and runs
// the playbook once.
func executeRun(ctx context.Context, opts *runOptions) (*engine.RunReport, error) {
	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	pb, err := playbook.Load(opts.playbookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load playbook: %w", err)
	}
	if err := pb.CheckInventory(inv); err != nil {
		return nil, fmt.Errorf("playbook does not match inventory: %w", err)
	}

	runner, cleanup, err := buildRunner(opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	logger, metrics, tracer, err := buildTelemetry(opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	recorder, closeStore, err := buildRecorder(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	sched, err := engine.NewScheduler(engine.Options{
		Inventory:   inv,
		Registry:    capability.DefaultRegistry(),
		Runner:      runner,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
		Recorder:    recorder,
		MaxParallel: opts.maxParallel,
		DryRun:      opts.dryRun,
	})
	if err != nil {
		return nil, err
	}

	return sched.Run(ctx, pb)
}

// runWatch runs once, then re-runs whenever the playbook or inventory file
// changes, until the context is cancelled.
func runWatch(ctx context.Context, opts *runOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directories: editors replace files on save, which
	// drops watches registered on the files themselves.
	watched := map[string]bool{
		filepath.Clean(opts.playbookPath): true,
		filepath.Clean(inventoryPath):     true,
	}
	dirs := map[string]bool{}
	for path := range watched {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	runAndReport := func() {
		report, err := executeRun(ctx, opts)
		if err != nil {
			log.Error().Err(err).Msg("run failed to start")
			return
		}
		if err := printReport(report); err != nil {
			log.Error().Err(err).Msg("failed to print report")
		}
	}

	runAndReport()
	log.Info().Msg("watching for changes")

	var debounce *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors fire several events per save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-trigger:
			log.Info().Msg("change detected, re-running")
			runAndReport()
		}
	}
}

// buildRunner constructs the transport selected by --transport.
func buildRunner(opts *runOptions) (capability.Runner, func(), error) {
	switch opts.transport {
	case "local":
		return local.NewRunner(), func() {}, nil
	case "ssh":
		cfg := sshtransport.DefaultConfig()
		cfg.User = opts.sshUser
		cfg.SudoPassword = opts.sudoPassword
		if opts.sshKeyPath != "" {
			cfg.PrivateKeyPath = opts.sshKeyPath
		}
		if opts.insecureHostKey {
			cfg.StrictHostKeyChecking = false
		}
		runner, err := sshtransport.NewRunner(cfg)
		if err != nil {
			return nil, nil, err
		}
		return runner, func() { _ = runner.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

// buildTelemetry wires the logger, metrics, and tracer for one run.
func buildTelemetry(opts *runOptions) (*telemetry.Logger, *telemetry.Metrics, *telemetry.Tracer, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if opts.metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = opts.metricsListen
	}
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if opts.metricsListen != "" {
		go func() {
			if err := metrics.Serve(); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	if opts.traceStdout {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "stdout"
	}
	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return logger, metrics, tracer, nil
}

// buildRecorder opens the run-history store unless persistence is disabled.
func buildRecorder(ctx context.Context, opts *runOptions) (engine.Recorder, func(), error) {
	if opts.noHistory {
		return nil, func() {}, nil
	}

	path := opts.historyPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		path = filepath.Join(home, ".converge", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}
