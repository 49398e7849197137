// Package capability implements the external capability providers the
// convergence engine calls into. A provider knows three things about its
// capability: how to probe current state on a host (producing structured
// facts), how to decide from those facts whether the desired state already
// holds (a pure predicate, no side effects), and how to apply the desired
// state when it does not.
//
// Every probe and apply ultimately lowers to one or more commands on the
// remote-execution transport; the package/service/process managers themselves
// are external and never reimplemented here.
package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner is the sole channel through which providers affect host state.
// Implementations wrap a transport (SSH, local exec); elevated requests
// privilege elevation on the remote side.
type Runner interface {
	Execute(ctx context.Context, host *inventory.Host, command string, elevated bool) (*ExecResult, error)
}

// Uploader is implemented by runners that can transfer files to the host.
// Providers that need it degrade to writing content through the shell when
// the runner cannot upload.
type Uploader interface {
	Upload(ctx context.Context, host *inventory.Host, content []byte, remotePath string) error
}

// Provider probes, predicates, and applies one capability type.
type Provider interface {
	// Type returns the capability this provider serves.
	Type() playbook.Capability

	// Probe observes current state relevant to the given params and
	// returns it as structured facts. Probe must not change host state.
	Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error)

	// Satisfied is the idempotency predicate: a pure function of the
	// host's fact snapshot. It must not perform I/O.
	Satisfied(params playbook.Params, snapshot facts.Values) (bool, error)

	// Apply drives the host toward the desired state and returns captured
	// diagnostic output.
	Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error)
}

// Registry maps capability types to providers.
type Registry struct {
	providers map[playbook.Capability]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[playbook.Capability]Provider),
	}
}

// DefaultRegistry returns a registry with all built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&PackageProvider{})
	r.Register(&RepoProvider{})
	r.Register(&FileLineProvider{})
	r.Register(&FileProvider{})
	r.Register(&ServiceProvider{})
	r.Register(&ProcessProvider{})
	r.Register(&CommandProvider{})
	r.Register(&FactsProvider{})
	return r
}

// Register adds a provider, replacing any previous provider of the same type.
func (r *Registry) Register(p Provider) {
	r.providers[p.Type()] = p
}

// Get returns the provider for a capability type.
func (r *Registry) Get(c playbook.Capability) (Provider, error) {
	p, ok := r.providers[c]
	if !ok {
		return nil, fmt.Errorf("no provider registered for capability: %s", c)
	}
	return p, nil
}

// requireParam fetches a mandatory parameter.
func requireParam(params playbook.Params, key string) (string, error) {
	value, ok := params[key]
	if !ok || value == "" {
		return "", fmt.Errorf("missing required param: %s", key)
	}
	return value, nil
}

// shQuote single-quotes a string for safe interpolation into a shell command.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
