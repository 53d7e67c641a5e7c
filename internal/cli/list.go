package cli

import (
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/internal/btrfs"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/pkg/color"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List snapshots",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigOrDefault()
		if err != nil {
			fmtWarn("%v", err)
		}
		infos, err := snapshot.List(cfg.SnapshotDir)
		if err != nil {
			return err
		}
		insp := btrfs.NewInspector(btrfs.NewTool(newRunner()), cfg.RootSubvolume, cfg.RootPartition).
			WithLiveRoot(cfg.LiveRoot).
			WithMountInfo(mountInfo)
		hasRollback, pending := rollbackState(cfg, insp)

		if jsonOutput {
			return outputJSON(map[string]any{
				"snapshot_dir": cfg.SnapshotDir,
				"snapshots":    infos,
				"rollback":     hasRollback,
				"pending_reboot": pending,
			})
		}

		if len(infos) == 0 {
			printf("No snapshots in %s\n", cfg.SnapshotDir)
		} else {
			table := tablewriter.NewWriter(stdout)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(false)
			table.SetHeader([]string{"ID", "Path", "Modified"})
			for _, info := range infos {
				table.Append([]string{
					info.ID.String(),
					info.Path,
					info.ModifiedAt.Local().Format(time.DateTime),
				})
			}
			table.Render()
		}

		switch {
		case pending:
			printf("Rollback: %s (reboot pending)\n", color.Success("available"))
		case hasRollback:
			printf("Rollback: %s\n", color.Success("available"))
		default:
			printf("Rollback: %s\n", color.Dim("none"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
