package playbook

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/converge-sh/converge/pkg/inventory"
)

var validate = validator.New()

// Load reads, parses, and validates a playbook YAML file.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file: %w", err)
	}
	return Parse(data)
}

// Parse parses playbook YAML content and checks internal consistency:
// capability names, unique action IDs per play, unique handler names per
// play, notify targets referencing declared handlers, and well-formed
// variable bindings.
func Parse(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook YAML: %w", err)
	}

	if err := validate.Struct(&pb); err != nil {
		return nil, fmt.Errorf("playbook validation failed: %w", err)
	}

	for _, play := range pb.Plays {
		if err := checkPlay(play); err != nil {
			return nil, fmt.Errorf("play %q: %w", play.Name, err)
		}
	}

	return &pb, nil
}

func checkPlay(play *Play) error {
	switch play.OnFailure {
	case "":
		play.OnFailure = FailurePolicyAbort
	case FailurePolicyAbort, FailurePolicyContinue:
	default:
		return fmt.Errorf("invalid on_failure policy: %s", play.OnFailure)
	}

	handlerNames := make(map[string]bool, len(play.Handlers))
	for _, h := range play.Handlers {
		if handlerNames[h.Name] {
			return fmt.Errorf("duplicate handler name: %s", h.Name)
		}
		handlerNames[h.Name] = true
		if !knownCapability(h.Capability) {
			return fmt.Errorf("handler %s: unknown capability: %s", h.Name, h.Capability)
		}
	}

	actionIDs := make(map[string]bool, len(play.Actions))
	for _, a := range play.Actions {
		if actionIDs[a.ID] {
			return fmt.Errorf("duplicate action id: %s", a.ID)
		}
		actionIDs[a.ID] = true

		if !knownCapability(a.Capability) {
			return fmt.Errorf("action %s: unknown capability: %s", a.ID, a.Capability)
		}
		for _, target := range a.Notify {
			if !handlerNames[target] {
				return fmt.Errorf("action %s notifies undeclared handler: %s", a.ID, target)
			}
		}
	}

	for name, binding := range play.Vars {
		hasValue := binding.Value != ""
		hasRef := binding.FromGroup != nil
		if hasValue == hasRef {
			return fmt.Errorf("var %s: exactly one of value and from_group must be set", name)
		}
		if hasRef && (binding.FromGroup.Group == "" || binding.FromGroup.Fact == "") {
			return fmt.Errorf("var %s: from_group requires group and fact", name)
		}
	}

	return nil
}

// CheckInventory verifies that every play targets a known group and that
// every cross-group reference names a known group. Empty groups are not an
// error here: an empty target group makes the play a no-op, and an empty
// referenced group fails at resolution time per the fail-fast rule.
func (pb *Playbook) CheckInventory(inv *inventory.Inventory) error {
	for _, play := range pb.Plays {
		if inv.Group(play.TargetGroup) == nil {
			return fmt.Errorf("play %q targets unknown group: %s", play.Name, play.TargetGroup)
		}
		for name, binding := range play.Vars {
			if binding.FromGroup != nil && inv.Group(binding.FromGroup.Group) == nil {
				return fmt.Errorf("play %q var %s references unknown group: %s",
					play.Name, name, binding.FromGroup.Group)
			}
		}
	}
	return nil
}

func knownCapability(c Capability) bool {
	for _, known := range KnownCapabilities {
		if c == known {
			return true
		}
	}
	return false
}
