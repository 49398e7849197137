package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// ProcessProvider asserts a deployed application process. Params:
//
//	name     (required) process identifier used for pattern matching
//	command  (required) the command line that starts the process
//	env      optional space-separated KEY=VALUE pairs prefixed to the command
//	dir      optional working directory
//	log      optional log file path (default: /var/log/<name>.log)
//
// The predicate holds when a process matching name is running and its
// command line carries the same env bindings, so a changed environment
// (e.g. a new database address) re-deploys the process.
type ProcessProvider struct{}

func (p *ProcessProvider) Type() playbook.Capability { return playbook.CapabilityProcess }

// Probe captures whether the process runs and its current command line.
func (p *ProcessProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf("pgrep -af %s 2>/dev/null | head -n1", shQuote(name))
	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return nil, fmt.Errorf("process probe failed: %w", err)
	}

	values := facts.Values{}
	cmdline := strings.TrimSpace(res.Stdout)
	if cmdline != "" {
		values[factKey("process", name, "running")] = "true"
		values[factKey("process", name, "cmdline")] = cmdline
	} else {
		values[factKey("process", name, "running")] = "false"
	}
	return values, nil
}

// Satisfied holds when the process runs with the declared env bindings.
func (p *ProcessProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return false, err
	}

	if snapshot[factKey("process", name, "running")] != "true" {
		return false, nil
	}

	cmdline := snapshot[factKey("process", name, "cmdline")]
	for _, binding := range strings.Fields(params["env"]) {
		if !strings.Contains(cmdline, binding) {
			return false, nil
		}
	}
	return true, nil
}

// Apply stops any stale instance and starts the process detached, with its
// env bindings on the command line so a later probe can verify them.
func (p *ProcessProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return "", err
	}
	command, err := requireParam(params, "command")
	if err != nil {
		return "", err
	}

	logPath := params["log"]
	if logPath == "" {
		logPath = fmt.Sprintf("/var/log/%s.log", name)
	}

	var start strings.Builder
	if dir := params["dir"]; dir != "" {
		fmt.Fprintf(&start, "cd %s && ", shQuote(dir))
	}
	start.WriteString("nohup env ")
	if env := params["env"]; env != "" {
		start.WriteString(env)
		start.WriteString(" ")
	}
	fmt.Fprintf(&start, "%s >> %s 2>&1 &", command, shQuote(logPath))

	// Converge forward: replace whatever instance is running.
	stop := fmt.Sprintf("pkill -f %s 2>/dev/null; sleep 1", shQuote(name))
	if _, err := rn.Execute(ctx, host, stop, elevated); err != nil {
		return "", fmt.Errorf("process stop failed: %w", err)
	}

	res, err := rn.Execute(ctx, host, start.String(), elevated)
	if err != nil {
		return "", fmt.Errorf("process start failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("process start exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}
