package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// PackageProvider asserts that a package is present, absent, or at a
// specific version. Params:
//
//	name     (required) package name
//	state    present | absent (default: present)
//	version  optional exact version for state=present
//	manager  apt | dnf | yum (default: apt)
type PackageProvider struct{}

func (p *PackageProvider) Type() playbook.Capability { return playbook.CapabilityPackage }

// Probe queries the package database for the installed version.
func (p *PackageProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return nil, err
	}

	var query string
	switch manager(params) {
	case "apt":
		query = fmt.Sprintf("dpkg-query -W -f='${Version}' %s 2>/dev/null", shQuote(name))
	case "dnf", "yum":
		query = fmt.Sprintf("rpm -q --queryformat '%%{VERSION}-%%{RELEASE}' %s 2>/dev/null", shQuote(name))
	default:
		return nil, fmt.Errorf("unsupported package manager: %s", params["manager"])
	}

	res, err := rn.Execute(ctx, host, query, elevated)
	if err != nil {
		return nil, fmt.Errorf("package probe failed: %w", err)
	}

	values := facts.Values{}
	if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		values[factKey("pkg", name, "installed")] = "true"
		values[factKey("pkg", name, "version")] = strings.TrimSpace(res.Stdout)
	} else {
		values[factKey("pkg", name, "installed")] = "false"
	}
	return values, nil
}

// Satisfied compares installed state and, when pinned, the installed version.
func (p *PackageProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return false, err
	}

	installed := snapshot[factKey("pkg", name, "installed")] == "true"

	switch desiredState(params) {
	case "absent":
		return !installed, nil
	case "present":
		if !installed {
			return false, nil
		}
		if want := params["version"]; want != "" {
			return snapshot[factKey("pkg", name, "version")] == want, nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("invalid package state: %s", params["state"])
	}
}

// Apply installs or removes the package through the host's package manager.
func (p *PackageProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return "", err
	}

	mgr := manager(params)
	spec := name
	if v := params["version"]; v != "" {
		if mgr == "apt" {
			spec = fmt.Sprintf("%s=%s", name, v)
		} else {
			spec = fmt.Sprintf("%s-%s", name, v)
		}
	}

	var cmd string
	switch desiredState(params) {
	case "present":
		switch mgr {
		case "apt":
			cmd = fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get install -y %s", shQuote(spec))
		case "dnf", "yum":
			cmd = fmt.Sprintf("%s install -y %s", mgr, shQuote(spec))
		}
	case "absent":
		switch mgr {
		case "apt":
			cmd = fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get remove -y %s", shQuote(name))
		case "dnf", "yum":
			cmd = fmt.Sprintf("%s remove -y %s", mgr, shQuote(name))
		}
	default:
		return "", fmt.Errorf("invalid package state: %s", params["state"])
	}
	if cmd == "" {
		return "", fmt.Errorf("unsupported package manager: %s", params["manager"])
	}

	res, err := rn.Execute(ctx, host, cmd, elevated)
	if err != nil {
		return "", fmt.Errorf("package apply failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("package manager exited with code %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func manager(params playbook.Params) string {
	if m := params["manager"]; m != "" {
		return m
	}
	return "apt"
}

func desiredState(params playbook.Params) string {
	if s := params["state"]; s != "" {
		return s
	}
	return "present"
}

func factKey(parts ...string) string {
	return strings.Join(parts, ".")
}
