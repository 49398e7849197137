package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/pkg/inventory"
)

func newInventoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show the parsed inventory",
		Long: `Load and display the inventory: hosts, groups, and group membership
order. The first member of each group is its primary host, the one cross-group
variable references read facts from.`,
		Example: `  converge inventory --inventory inventory.yaml
  converge inventory --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return fmt.Errorf("inventory: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(inv)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tADDRESS\tGROUPS")
			hostIDs := make([]string, 0, len(inv.Hosts))
			for id := range inv.Hosts {
				hostIDs = append(hostIDs, id)
			}
			sort.Strings(hostIDs)
			for _, id := range hostIDs {
				host := inv.Hosts[id]
				fmt.Fprintf(w, "%s\t%s:%d\t%s\n", host.ID, host.Address, host.Port, strings.Join(host.Groups, ","))
			}

			fmt.Fprintln(w, "\nGROUP\tMEMBERS (primary first)\t")
			for _, name := range inv.GroupNames() {
				group := inv.Groups[name]
				fmt.Fprintf(w, "%s\t%s\t\n", name, strings.Join(group.Hosts, ", "))
			}
			return w.Flush()
		},
	}

	return cmd
}
