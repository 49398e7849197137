package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// RepoProvider asserts that a package repository is registered. Params:
//
//	id     (required) repository identifier, used as the list file name
//	entry  (required) the repository definition line (deb/yum format)
//	refresh  "true" to refresh the package index after registration
type RepoProvider struct{}

func (p *RepoProvider) Type() playbook.Capability { return playbook.CapabilityRepo }

// Probe reads the repository list file for this id.
func (p *RepoProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	id, err := requireParam(params, "id")
	if err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf("cat %s 2>/dev/null", shQuote(repoListPath(id)))
	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return nil, fmt.Errorf("repo probe failed: %w", err)
	}

	return facts.Values{
		factKey("repo", id, "entry"): strings.TrimSpace(res.Stdout),
	}, nil
}

// Satisfied holds when the registered entry equals the desired one.
func (p *RepoProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	id, err := requireParam(params, "id")
	if err != nil {
		return false, err
	}
	entry, err := requireParam(params, "entry")
	if err != nil {
		return false, err
	}

	return snapshot[factKey("repo", id, "entry")] == entry, nil
}

// Apply writes the repository list file and optionally refreshes the index.
func (p *RepoProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	id, err := requireParam(params, "id")
	if err != nil {
		return "", err
	}
	entry, err := requireParam(params, "entry")
	if err != nil {
		return "", err
	}

	cmd := fmt.Sprintf("printf '%%s\\n' %s > %s", shQuote(entry), shQuote(repoListPath(id)))
	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return "", fmt.Errorf("repo apply failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("repo registration exited with code %d: %s", res.ExitCode, res.Stderr)
	}

	if params["refresh"] == "true" {
		res, err = rn.Execute(ctx, host, "apt-get update -qq", elevated)
		if err != nil {
			return "", fmt.Errorf("repo index refresh failed: %w", err)
		}
		if res.ExitCode != 0 {
			return res.Stdout, fmt.Errorf("index refresh exited with code %d: %s", res.ExitCode, res.Stderr)
		}
	}

	return res.Stdout, nil
}

func repoListPath(id string) string {
	return fmt.Sprintf("/etc/apt/sources.list.d/%s.list", id)
}
