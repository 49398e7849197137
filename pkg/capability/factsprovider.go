package capability

import (
	"context"

	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

// FactsProvider publishes static facts into the host's namespace. Every
// param becomes a fact key/value. Publication happens during the probe, so
// the action always reports unchanged and never touches the host. It exists
// to export values (such as a tier's address) for later plays to resolve
// through cross-group references.
type FactsProvider struct{}

func (p *FactsProvider) Type() playbook.Capability { return playbook.CapabilityFacts }

// Probe returns the declared facts; the engine writes them into the store.
func (p *FactsProvider) Probe(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (facts.Values, error) {
	values := make(facts.Values, len(params))
	for k, v := range params {
		values[k] = v
	}
	return values, nil
}

// Satisfied holds once every declared fact is in the snapshot, which is
// always the case after the probe.
func (p *FactsProvider) Satisfied(params playbook.Params, snapshot facts.Values) (bool, error) {
	for k, v := range params {
		if snapshot[k] != v {
			return false, nil
		}
	}
	return true, nil
}

// Apply is a no-op; fact publication never changes host state.
func (p *FactsProvider) Apply(ctx context.Context, rn Runner, host *inventory.Host, params playbook.Params, elevated bool) (string, error) {
	return "", nil
}
