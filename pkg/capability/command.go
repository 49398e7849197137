package capability

import (
	"context"
	"fmt"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// CommandProvider runs an arbitrary shell command. Params:
//
//	command  (required) the command line
//
// Commands have no observable desired state, so the predicate is never
// satisfied: declare them with always_run, or use them as handlers, to make
// the intent explicit.
type CommandProvider struct{}

func (p *CommandProvider) Type() playbook.Capability { return playbook.CapabilityCommand }

// Probe observes nothing.
func (p *CommandProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	return facts.Values{}, nil
}

// Satisfied is never true for a bare command.
func (p *CommandProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	if _, err := requireParam(params, "command"); err != nil {
		return false, err
	}
	return false, nil
}

// Apply executes the command and captures its output.
func (p *CommandProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	cmd, err := requireParam(params, "command")
	if err != nil {
		return "", err
	}

	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return "", fmt.Errorf("command failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("command exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}
