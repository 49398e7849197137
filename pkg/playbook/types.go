// Package playbook defines the declared configuration consumed by the
// convergence engine: an ordered list of plays, each binding an ordered list
// of action descriptors and a set of play-scoped handlers to a target host
// group. Playbook objects are static; they are constructed once from YAML
// and reused unchanged across hosts and runs.
package playbook

import "time"

// Capability identifies the external capability a descriptor asserts state
// through. Every capability ultimately lowers to one or more remote-execution
// calls on the target host.
type Capability string

const (
	// CapabilityPackage asserts an installed (or absent) package.
	CapabilityPackage Capability = "package"

	// CapabilityRepo asserts a package repository registration.
	CapabilityRepo Capability = "repo"

	// CapabilityFileLine asserts a single line within a configuration file.
	CapabilityFileLine Capability = "file_line"

	// CapabilityFile asserts a file's entire content, and optionally its
	// permission bits and owner.
	CapabilityFile Capability = "file"

	// CapabilityService asserts a service's running/stopped state.
	CapabilityService Capability = "service"

	// CapabilityProcess asserts a deployed application process.
	CapabilityProcess Capability = "process"

	// CapabilityCommand runs a shell command. Commands carry no useful
	// idempotency predicate of their own, so they are normally declared
	// with always_run or used as handlers.
	CapabilityCommand Capability = "command"

	// CapabilityFacts publishes static facts into the host's namespace.
	CapabilityFacts Capability = "facts"
)

// KnownCapabilities lists every capability the loader accepts.
var KnownCapabilities = []Capability{
	CapabilityPackage,
	CapabilityRepo,
	CapabilityFileLine,
	CapabilityFile,
	CapabilityService,
	CapabilityProcess,
	CapabilityCommand,
	CapabilityFacts,
}

// Params carries the capability-specific configuration of an action.
type Params map[string]string

// Action is a single desired-state assertion.
type Action struct {
	// ID is unique within the enclosing play.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Capability selects the provider that probes and applies this action.
	Capability Capability `json:"capability" yaml:"capability" validate:"required"`

	// Params is the capability-specific desired state.
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`

	// Notify lists handler names to fire if this action reports changed.
	Notify []string `json:"notify,omitempty" yaml:"notify,omitempty"`

	// Elevated runs the action's remote commands with privilege elevation.
	Elevated bool `json:"elevated,omitempty" yaml:"elevated,omitempty"`

	// AlwaysRun bypasses the idempotency check. Used for verification and
	// debug steps that must execute on every run.
	AlwaysRun bool `json:"always_run,omitempty" yaml:"always_run,omitempty"`

	// Timeout bounds each external-provider call for this action.
	// Zero means the play's default timeout applies.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Handler is a deferred action that fires at most once per play execution,
// after all of the play's declarative actions have been evaluated.
type Handler struct {
	// Name is the notify target.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Capability selects the provider that applies this handler.
	Capability Capability `json:"capability" yaml:"capability" validate:"required"`

	// Params is the capability-specific configuration.
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`

	// Elevated runs the handler's remote commands with privilege elevation.
	Elevated bool `json:"elevated,omitempty" yaml:"elevated,omitempty"`

	// Timeout bounds the handler's apply call.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// VarBinding declares a play-scoped variable. Exactly one of Value and
// FromGroup is set: a literal value acts as a per-host override, while a
// cross-group reference reads a fact from another group's primary host.
type VarBinding struct {
	// Value is a literal binding.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// FromGroup reads a fact published by another group's primary host.
	FromGroup *CrossGroupRef `json:"from_group,omitempty" yaml:"from_group,omitempty"`
}

// CrossGroupRef identifies a fact on another group's primary host.
type CrossGroupRef struct {
	// Group is the source group name.
	Group string `json:"group" yaml:"group" validate:"required"`

	// Fact is the fact key on the group's primary host.
	Fact string `json:"fact" yaml:"fact" validate:"required"`
}

// FailurePolicy controls what happens to a host's remaining actions after an
// apply failure within a play.
type FailurePolicy string

const (
	// FailurePolicyAbort skips the host's remaining actions (default).
	FailurePolicyAbort FailurePolicy = "abort"

	// FailurePolicyContinue evaluates the host's remaining actions.
	FailurePolicyContinue FailurePolicy = "continue"
)

// Play binds an ordered action list to a target host group.
type Play struct {
	// Name is the human-readable play name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// TargetGroup is the inventory group this play converges.
	TargetGroup string `json:"target_group" yaml:"target_group" validate:"required"`

	// Vars are play-scoped variable bindings, including cross-group
	// references resolved before any of the play's hosts run.
	Vars map[string]VarBinding `json:"vars,omitempty" yaml:"vars,omitempty"`

	// Actions is the ordered list of desired-state assertions.
	Actions []*Action `json:"actions" yaml:"actions" validate:"required,min=1,dive"`

	// Handlers are the play-scoped notify targets, fired in this order.
	Handlers []*Handler `json:"handlers,omitempty" yaml:"handlers,omitempty" validate:"dive"`

	// OnFailure selects the per-host failure policy (default: abort).
	OnFailure FailurePolicy `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// BestEffort excludes this play's failures from the process exit code.
	BestEffort bool `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`

	// ActionTimeout is the default timeout for this play's provider calls.
	ActionTimeout time.Duration `json:"action_timeout,omitempty" yaml:"action_timeout,omitempty"`
}

// Playbook is an ordered sequence of plays plus static variable defaults.
type Playbook struct {
	// Name identifies the playbook in reports and logs.
	Name string `json:"name" yaml:"name"`

	// Defaults are static fallback values for variable resolution.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Plays execute strictly in declaration order.
	Plays []*Play `json:"plays" yaml:"plays" validate:"required,min=1,dive"`
}

// Handler returns the play's handler with the given name, or nil.
func (p *Play) Handler(name string) *Handler {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}
