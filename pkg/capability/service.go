package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// ServiceProvider asserts a systemd service's state. Params:
//
//	name     (required) unit name
//	state    running | stopped | restarted (default: running)
//	enabled  "true" to also enable the unit at boot
//
// state=restarted has no meaningful idempotency predicate and always
// applies; it is intended for handlers.
type ServiceProvider struct{}

func (p *ServiceProvider) Type() playbook.Capability { return playbook.CapabilityService }

// Probe queries the unit's active and enabled state.
func (p *ServiceProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return nil, err
	}

	values := facts.Values{}

	res, err := rn.Execute(ctx, host, fmt.Sprintf("systemctl is-active %s", shQuote(name)), elevated)
	if err != nil {
		return nil, fmt.Errorf("service probe failed: %w", err)
	}
	state := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 && state == "" {
		state = "inactive"
	}
	values[factKey("service", name, "state")] = state

	res, err = rn.Execute(ctx, host, fmt.Sprintf("systemctl is-enabled %s 2>/dev/null", shQuote(name)), elevated)
	if err != nil {
		return nil, fmt.Errorf("service probe failed: %w", err)
	}
	values[factKey("service", name, "enabled")] = strings.TrimSpace(res.Stdout)

	return values, nil
}

// Satisfied checks the probed unit state against the desired one.
func (p *ServiceProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return false, err
	}

	state := snapshot[factKey("service", name, "state")]

	switch serviceState(params) {
	case "running":
		if state != "active" {
			return false, nil
		}
	case "stopped":
		if state == "active" {
			return false, nil
		}
	case "restarted":
		// A restart is a one-shot action, never already satisfied.
		return false, nil
	default:
		return false, fmt.Errorf("invalid service state: %s", params["state"])
	}

	if params["enabled"] == "true" && snapshot[factKey("service", name, "enabled")] != "enabled" {
		return false, nil
	}
	return true, nil
}

// Apply drives the unit to the desired state via systemctl.
func (p *ServiceProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	name, err := requireParam(params, "name")
	if err != nil {
		return "", err
	}

	var verb string
	switch serviceState(params) {
	case "running":
		verb = "start"
	case "stopped":
		verb = "stop"
	case "restarted":
		verb = "restart"
	default:
		return "", fmt.Errorf("invalid service state: %s", params["state"])
	}

	var output strings.Builder

	res, err := rn.Execute(ctx, host, fmt.Sprintf("systemctl %s %s", verb, shQuote(name)), elevated)
	if err != nil {
		return "", fmt.Errorf("service apply failed: %w", err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("systemctl %s exited with code %d: %s", verb, res.ExitCode, res.Stderr)
	}
	output.WriteString(res.Stdout)

	if params["enabled"] == "true" {
		res, err = rn.Execute(ctx, host, fmt.Sprintf("systemctl enable %s", shQuote(name)), elevated)
		if err != nil {
			return output.String(), fmt.Errorf("service enable failed: %w", err)
		}
		if res.ExitCode != 0 {
			return output.String(), fmt.Errorf("systemctl enable exited with code %d: %s", res.ExitCode, res.Stderr)
		}
		output.WriteString(res.Stdout)
	}

	return output.String(), nil
}

func serviceState(params playbook.Params) string {
	if s := params["state"]; s != "" {
		return s
	}
	return "running"
}
