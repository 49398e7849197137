package inventory

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk YAML shape of an inventory file.
type fileFormat struct {
	Hosts  []*Host  `yaml:"hosts" validate:"required,min=1,dive"`
	Groups []*Group `yaml:"groups" validate:"dive"`
}

var validate = validator.New()

// Load reads and validates an inventory YAML file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Parse(data)
}

// Parse parses inventory YAML content.
//
// Hosts may declare group membership inline via `groups:`; groups may also
// enumerate members via `hosts:`. Both forms are merged. Inline memberships
// are appended after enumerated members in host declaration order, so the
// primary host of a group is stable across runs.
func Parse(data []byte) (*Inventory, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
	}

	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("inventory validation failed: %w", err)
	}

	inv := &Inventory{
		Hosts:    make(map[string]*Host, len(file.Hosts)),
		Groups:   make(map[string]*Group, len(file.Groups)),
		LoadedAt: time.Now(),
	}

	for _, host := range file.Hosts {
		if _, exists := inv.Hosts[host.ID]; exists {
			return nil, fmt.Errorf("duplicate host id: %s", host.ID)
		}
		if host.Port == 0 {
			host.Port = 22
		}
		inv.Hosts[host.ID] = host
	}

	for _, group := range file.Groups {
		if _, exists := inv.Groups[group.Name]; exists {
			return nil, fmt.Errorf("duplicate group name: %s", group.Name)
		}
		for _, id := range group.Hosts {
			if inv.Hosts[id] == nil {
				return nil, fmt.Errorf("group %s references unknown host: %s", group.Name, id)
			}
		}
		inv.Groups[group.Name] = group
	}

	// Merge inline host memberships into the group tables.
	for _, host := range sortedHosts(file.Hosts) {
		for _, name := range host.Groups {
			group := inv.Groups[name]
			if group == nil {
				group = &Group{Name: name}
				inv.Groups[name] = group
			}
			if !containsHost(group.Hosts, host.ID) {
				group.Hosts = append(group.Hosts, host.ID)
			}
		}
	}

	return inv, nil
}

// sortedHosts preserves file declaration order, which yaml.Unmarshal already
// gives us for the slice; the copy just avoids mutating the parse result.
func sortedHosts(hosts []*Host) []*Host {
	out := make([]*Host, len(hosts))
	copy(out, hosts)
	return out
}

func containsHost(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// GroupNames returns all group names sorted alphabetically.
func (inv *Inventory) GroupNames() []string {
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
