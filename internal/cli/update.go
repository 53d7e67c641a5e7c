package cli

import (
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/internal/update"
	"github.com/atomic-update/au/pkg/color"
	"github.com/atomic-update/au/pkg/fsutil"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update your system in a new snapshot",
	Long: `Update your system in a new snapshot.

Creates a snapshot of the root filesystem, runs the configured package manager
update inside it and, if the update succeeds, promotes the snapshot to be the
new root. The current root becomes the rollback target.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := loadSystem()
		if err != nil {
			return err
		}
		req, err := update.UpdateRequest(sys.Config)
		if err != nil {
			return err
		}
		return apply(cmd, sys, req)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Run a command in a new snapshot",
	Long: `Run a command in a new snapshot and promote the snapshot if it succeeds.

Example:
  au exec dnf install sshfs -y`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := loadSystem()
		if err != nil {
			return err
		}
		return apply(cmd, sys, update.ExecRequest(args[0], args[1:]))
	},
}

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install packages into a new snapshot",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := loadSystem()
		if err != nil {
			return err
		}
		req, err := update.InstallRequest(sys.Config, args)
		if err != nil {
			return err
		}
		return apply(cmd, sys, req)
	},
}

func apply(cmd *cobra.Command, sys *update.System, req update.Request) error {
	out, err := sys.Manager(lockWait).Apply(cmd.Context(), req)
	if out != nil {
		for _, w := range out.Warnings {
			fmtWarn("%s", w)
		}
	}
	if err != nil {
		if out != nil && !out.Promoted && out.SnapshotPath != "" && fsutil.Exists(out.SnapshotPath) {
			fmtErr("snapshot %s was not promoted", out.SnapshotPath)
		}
		return err
	}

	if jsonOutput {
		return outputJSON(out)
	}
	printf("%s snapshot %s promoted to root.\n", color.Success("Success:"), color.Highlight(out.SnapshotID.String()))
	printf("Changes will take effect at next reboot.\n")
	return nil
}

func init() {
	execCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(updateCmd, execCmd, installCmd)
}
