package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/facts"
	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/transports/local"
	sshtransport "github.com/converge-sh/converge/pkg/transports/ssh"
)

// systemProbes are the commands used to gather baseline system facts.
var systemProbes = map[string]string{
	"system.hostname": "hostname",
	"system.kernel":   "uname -r",
	"system.os":       "uname -s",
	"system.arch":     "uname -m",
	"system.distro":   ". /etc/os-release 2>/dev/null && echo $ID || echo unknown",
	"system.uptime":   "cat /proc/uptime 2>/dev/null | cut -d' ' -f1",
}

func newFactsCommand() *cobra.Command {
	var (
		groupName string
		hostID    string
		transport string
		sshUser   string
		sshKey    string
		insecure  bool
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Probe baseline system facts from hosts",
		Long: `Connect to hosts and gather baseline system facts (hostname, kernel,
OS, distro). Useful for verifying connectivity before a run and for
inspecting what the fleet looks like.`,
		Example: `  # All hosts
  converge facts --inventory inventory.yaml

  # One group
  converge facts --group web

  # One host
  converge facts --host web1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return fmt.Errorf("inventory: %w", err)
			}

			hosts, err := selectHosts(inv, groupName, hostID)
			if err != nil {
				return err
			}

			var runner capability.Runner
			switch transport {
			case "local":
				runner = local.NewRunner()
			case "ssh":
				cfg := sshtransport.DefaultConfig()
				cfg.User = sshUser
				if sshKey != "" {
					cfg.PrivateKeyPath = sshKey
				}
				if insecure {
					cfg.StrictHostKeyChecking = false
				}
				sshRunner, err := sshtransport.NewRunner(cfg)
				if err != nil {
					return err
				}
				defer func() { _ = sshRunner.Close() }()
				runner = sshRunner
			default:
				return fmt.Errorf("unknown transport: %s", transport)
			}

			gathered := make(map[string]facts.Values, len(hosts))
			for _, host := range hosts {
				values, err := probeHost(ctx, runner, host)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %s: %v\n", host.ID, err)
					continue
				}
				gathered[host.ID] = values
			}

			return printFacts(gathered)
		},
	}

	cmd.Flags().StringVarP(&groupName, "group", "g", "", "limit to one group")
	cmd.Flags().StringVar(&hostID, "host", "", "limit to one host")
	cmd.Flags().StringVar(&transport, "transport", "ssh", "remote-execution transport (ssh, local)")
	cmd.Flags().StringVar(&sshUser, "user", "", "default SSH user for hosts that declare none")
	cmd.Flags().StringVar(&sshKey, "key-path", "", "default SSH private key for hosts that declare none")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-host-key", false, "skip SSH host key verification")

	return cmd
}

// selectHosts narrows the inventory to the requested group or host.
func selectHosts(inv *inventory.Inventory, groupName, hostID string) ([]*inventory.Host, error) {
	if hostID != "" {
		host := inv.Host(hostID)
		if host == nil {
			return nil, fmt.Errorf("unknown host: %s", hostID)
		}
		return []*inventory.Host{host}, nil
	}
	if groupName != "" {
		hosts := inv.GroupHosts(groupName)
		if inv.Group(groupName) == nil {
			return nil, fmt.Errorf("unknown group: %s", groupName)
		}
		return hosts, nil
	}

	ids := make([]string, 0, len(inv.Hosts))
	for id := range inv.Hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	hosts := make([]*inventory.Host, 0, len(ids))
	for _, id := range ids {
		hosts = append(hosts, inv.Hosts[id])
	}
	return hosts, nil
}

// probeHost runs each system probe on the host and collects the results.
func probeHost(ctx context.Context, runner capability.Runner, host *inventory.Host) (facts.Values, error) {
	values := make(facts.Values, len(systemProbes))
	for key, command := range systemProbes {
		result, err := runner.Execute(ctx, host, command, false)
		if err != nil {
			return nil, err
		}
		if result.ExitCode == 0 {
			values[key] = strings.TrimSpace(result.Stdout)
		}
	}
	return values, nil
}

func printFacts(gathered map[string]facts.Values) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(gathered)
	}

	hostIDs := make([]string, 0, len(gathered))
	for id := range gathered {
		hostIDs = append(hostIDs, id)
	}
	sort.Strings(hostIDs)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tFACT\tVALUE")
	for _, id := range hostIDs {
		values := gathered[id]
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, k, values[k])
		}
	}
	return w.Flush()
}
