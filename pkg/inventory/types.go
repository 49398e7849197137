// Package inventory provides the static host and group structure consumed by
// the convergence engine. The inventory is loaded once before any play runs
// and is immutable for the duration of a run: group membership never changes
// mid-run, and membership order is fixed at load time (the first member of a
// group is its primary host for cross-group variable resolution).
package inventory

import "time"

// Host represents a managed host in the inventory.
type Host struct {
	// ID is the unique host identifier used throughout the engine.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Address is the hostname or IP address the transport connects to.
	Address string `json:"address" yaml:"address" validate:"required"`

	// Port is the SSH port (default: 22).
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// User is the login user for the remote-execution transport.
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// KeyPath is the path to the private key used for authentication.
	// Connection parameters are opaque to the engine core; only the
	// transport reads them.
	KeyPath string `json:"key_path,omitempty" yaml:"key_path,omitempty"`

	// Groups lists the group names this host belongs to.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Labels are key-value pairs for organizing hosts.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Group is a named, ordered set of hosts. Order is fixed at inventory load;
// the first member is the group's primary host.
type Group struct {
	// Name is the group name referenced by plays and variable bindings.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Hosts lists member host IDs in declaration order.
	Hosts []string `json:"hosts" yaml:"hosts"`
}

// Inventory is the immutable host/group structure for one run.
type Inventory struct {
	// Hosts maps host ID to host definition.
	Hosts map[string]*Host `json:"hosts"`

	// Groups maps group name to group definition.
	Groups map[string]*Group `json:"groups"`

	// LoadedAt is when the inventory was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Host returns the host with the given ID, or nil when unknown.
func (inv *Inventory) Host(id string) *Host {
	return inv.Hosts[id]
}

// Group returns the group with the given name, or nil when unknown.
func (inv *Inventory) Group(name string) *Group {
	return inv.Groups[name]
}

// GroupHosts returns the member hosts of a group in declaration order.
// Unknown group names yield an empty slice.
func (inv *Inventory) GroupHosts(name string) []*Host {
	group := inv.Groups[name]
	if group == nil {
		return nil
	}

	hosts := make([]*Host, 0, len(group.Hosts))
	for _, id := range group.Hosts {
		if h := inv.Hosts[id]; h != nil {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// PrimaryHost returns the first member of a group, or nil when the group is
// unknown or empty. Cross-group variable resolution only ever sees this
// host's facts, which keeps multi-member groups unambiguous.
func (inv *Inventory) PrimaryHost(name string) *Host {
	hosts := inv.GroupHosts(name)
	if len(hosts) == 0 {
		return nil
	}
	return hosts[0]
}
