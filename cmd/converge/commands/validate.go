package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/pkg/inventory"
	"github.com/converge-sh/converge/pkg/playbook"
)

func newValidateCommand() *cobra.Command {
	var playbookPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a playbook against the inventory",
		Long: `Validate a playbook and inventory without connecting to any host.

Checks:
  - YAML structure and required fields
  - Unique action IDs and handler names per play
  - Every notify target has a declared handler
  - Every capability is known
  - Variable bindings declare exactly one of value and from_group
  - Every target group and referenced group exists in the inventory`,
		Example: `  converge validate --playbook site.yaml --inventory inventory.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return fmt.Errorf("inventory: %w", err)
			}

			pb, err := playbook.Load(playbookPath)
			if err != nil {
				return fmt.Errorf("playbook: %w", err)
			}

			if err := pb.CheckInventory(inv); err != nil {
				return fmt.Errorf("playbook: %w", err)
			}

			fmt.Printf("ok: %d plays, %d hosts, %d groups\n",
				len(pb.Plays), len(inv.Hosts), len(inv.Groups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&playbookPath, "playbook", "p", "site.yaml", "playbook file to validate")

	return cmd
}
