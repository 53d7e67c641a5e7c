package cli

import (
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/internal/btrfs"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/internal/swap"
	"github.com/atomic-update/au/pkg/color"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/logging"
	"github.com/atomic-update/au/pkg/model"
)

type statusReport struct {
	RootSubvolume string               `json:"root_subvolume,omitempty"`
	RootDevice    string               `json:"root_device,omitempty"`
	SnapshotDir   string               `json:"snapshot_dir"`
	Snapshots     int                  `json:"snapshots"`
	Rollback      bool                 `json:"rollback"`
	PendingReboot bool                 `json:"pending_reboot"`
	Lock          model.LockState      `json:"lock"`
	LockHolder    *model.LockRecord    `json:"lock_holder,omitempty"`
	Journal       *model.JournalRecord `json:"journal,omitempty"`
	Problems      []string             `json:"problems,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show root, snapshot and lock status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgErr := loadConfigOrDefault()
		rep := statusReport{SnapshotDir: cfg.SnapshotDir}
		if cfgErr != nil {
			rep.Problems = append(rep.Problems, cfgErr.Error())
		}

		sys, err := newSystem(cfg)
		if err != nil {
			return err
		}
		if rep.RootSubvolume, err = sys.Inspector.RootSubvolume(); err != nil {
			rep.Problems = append(rep.Problems, err.Error())
		}
		if rep.RootDevice, err = sys.Inspector.RootDevice(); err != nil {
			rep.Problems = append(rep.Problems, err.Error())
		}

		ids, err := snapshot.ListIDs(cfg.SnapshotDir)
		if err != nil {
			return err
		}
		rep.Snapshots = len(ids)
		rep.Rollback, rep.PendingReboot = rollbackState(cfg, sys.Inspector)

		if rep.Lock, rep.LockHolder, err = sys.Locks.Status(); err != nil {
			rep.Problems = append(rep.Problems, err.Error())
		}
		if rep.Journal, err = swap.NewJournal(cfg.JournalPath).Read(); err != nil {
			rep.Problems = append(rep.Problems, err.Error())
		}

		if jsonOutput {
			return outputJSON(rep)
		}
		printStatus(rep)
		return nil
	},
}

func printStatus(rep statusReport) {
	unknown := color.Dim("unknown")
	show := func(s string) string {
		if s == "" {
			return unknown
		}
		return color.Highlight(s)
	}

	printf("Root subvolume: %s\n", show(rep.RootSubvolume))
	printf("Root device:    %s\n", show(rep.RootDevice))
	printf("Snapshots:      %d in %s\n", rep.Snapshots, rep.SnapshotDir)
	if rep.Rollback {
		printf("Rollback:       %s\n", color.Success("available"))
	} else {
		printf("Rollback:       %s\n", color.Dim("none"))
	}
	if rep.PendingReboot {
		printf("Reboot:         %s, the promoted root is not running yet\n", color.Warning("pending"))
	}

	switch rep.Lock {
	case model.LockStateHeld:
		if rep.LockHolder != nil {
			printf("Lock:           %s by pid %d (%s)\n", color.Warning("held"), rep.LockHolder.PID, rep.LockHolder.Purpose)
		} else {
			printf("Lock:           %s\n", color.Warning("held"))
		}
	case "":
		printf("Lock:           %s\n", unknown)
	default:
		printf("Lock:           %s\n", rep.Lock)
	}

	if rep.Journal != nil {
		printf("%s interrupted %s (%s) at state %s; run 'au doctor'\n",
			color.Error("Journal:"), rep.Journal.Operation, rep.Journal.OperationID, rep.Journal.State)
	}
	for _, p := range rep.Problems {
		fmtWarn("%s", p)
	}
}

// rollbackState reports whether a rollback target exists and whether a promotion
// is waiting for a reboot. Until then the running root's snapshot directory does
// not show the target, but it is there on the top level.
func rollbackState(cfg *config.Config, insp *btrfs.Inspector) (rollback, pending bool) {
	pending, err := insp.PendingPromotion()
	if err != nil {
		logger := logging.GetLogger("cli")
		logger.Debug().Err(err).Msg("could not tell whether a promotion is pending")
	}
	return pending || snapshot.HasRollback(cfg.SnapshotDir), pending
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
