package cli

import (
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/pkg/color"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Undo the last update",
	Long: `Undo the last update.

Swaps the rollback subvolume back in as root. The current root is returned to
the snapshot slot it was promoted from.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := loadSystem()
		if err != nil {
			return err
		}
		opID, err := sys.Manager(lockWait).Rollback(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{"operation_id": opID})
		}
		printf("%s previous root restored, changes will take effect at next reboot.\n", color.Success("Success:"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
