// Package vars resolves variable names to values for a host converging
// within a play. Resolution searches, in order: the play's literal variable
// bindings, the requesting host's own facts, explicit cross-group references
// (group -> primary host -> fact key), and finally static defaults.
//
// Cross-group lookups are deterministic: only the referenced group's primary
// host (first in its ordered membership) is visible, so multi-member groups
// never produce ambiguous values. A reference to an empty group or to a fact
// that was never populated fails fast with UnresolvedVariableError rather
// than silently substituting an empty value.
package vars

import (
	"fmt"
	"regexp"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// UnresolvedVariableError reports a variable that no binding, fact,
// cross-group reference, or default could satisfy.
type UnresolvedVariableError struct {
	// Name is the variable name that failed to resolve.
	Name string

	// Host is the requesting host, empty for play-level resolution.
	Host string

	// Reason explains which step of the search order failed.
	Reason string
}

func (e *UnresolvedVariableError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("unresolved variable %q for host %s: %s", e.Name, e.Host, e.Reason)
	}
	return fmt.Sprintf("unresolved variable %q: %s", e.Name, e.Reason)
}

// Resolver resolves variables against an inventory, a fact store, and a set
// of static defaults. One resolver serves a whole run; per-play bindings are
// passed per call.
type Resolver struct {
	inv      *inventory.Inventory
	store    *facts.Store
	defaults map[string]string
}

// NewResolver creates a resolver for one run.
func NewResolver(inv *inventory.Inventory, store *facts.Store, defaults map[string]string) *Resolver {
	return &Resolver{
		inv:      inv,
		store:    store,
		defaults: defaults,
	}
}

// Resolve resolves a single variable for a host within the given play
// bindings, following the documented search order.
func (r *Resolver) Resolve(name, hostID string, bindings map[string]playbook.VarBinding) (string, error) {
	// (a) play-scoped literal override
	if binding, ok := bindings[name]; ok && binding.Value != "" {
		return binding.Value, nil
	}

	// (b) the requesting host's own fact
	if value, ok := r.store.Get(hostID, name); ok {
		return value, nil
	}

	// (c) explicit cross-group reference
	if binding, ok := bindings[name]; ok && binding.FromGroup != nil {
		return r.ResolveCrossGroup(name, binding.FromGroup)
	}

	// (d) static default
	if value, ok := r.defaults[name]; ok {
		return value, nil
	}

	return "", &UnresolvedVariableError{
		Name:   name,
		Host:   hostID,
		Reason: "no binding, fact, or default matched",
	}
}

// ResolveCrossGroup resolves a cross-group reference: the fact must exist on
// the primary host of the referenced group. Fails fast when the group has no
// hosts or the fact was never populated.
func (r *Resolver) ResolveCrossGroup(name string, ref *playbook.CrossGroupRef) (string, error) {
	primary := r.inv.PrimaryHost(ref.Group)
	if primary == nil {
		return "", &UnresolvedVariableError{
			Name:   name,
			Reason: fmt.Sprintf("group %q has no hosts", ref.Group),
		}
	}

	value, ok := r.store.Get(primary.ID, ref.Fact)
	if !ok {
		return "", &UnresolvedVariableError{
			Name: name,
			Reason: fmt.Sprintf("fact %q was never populated on host %s (group %q)",
				ref.Fact, primary.ID, ref.Group),
		}
	}

	return value, nil
}

// placeholderPattern matches {{name}} references inside parameter values.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Expand substitutes every {{name}} placeholder in s with its resolved
// value. The first unresolved placeholder aborts expansion.
func (r *Resolver) Expand(s, hostID string, bindings map[string]playbook.VarBinding) (string, error) {
	var resolveErr error

	expanded := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, err := r.Resolve(name, hostID, bindings)
		if err != nil {
			resolveErr = err
			return match
		}
		return value
	})

	if resolveErr != nil {
		return "", resolveErr
	}
	return expanded, nil
}

// ExpandParams expands every parameter value of an action for one host.
// The input map is never mutated.
func (r *Resolver) ExpandParams(params playbook.Params, hostID string, bindings map[string]playbook.VarBinding) (playbook.Params, error) {
	if len(params) == 0 {
		return params, nil
	}

	expanded := make(playbook.Params, len(params))
	for key, value := range params {
		out, err := r.Expand(value, hostID, bindings)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", key, err)
		}
		expanded[key] = out
	}
	return expanded, nil
}
