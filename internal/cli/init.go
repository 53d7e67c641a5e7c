package cli

import (
	"os"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/internal/distro"
	"github.com/atomic-update/au/internal/privilege"
	"github.com/atomic-update/au/internal/snapshot"
	"github.com/atomic-update/au/pkg/color"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/fsutil"
)

const acknowledgement = "I acknowledge that using atomic-update could possibly corrupt my system, and use it at my own risk."

var (
	initYes       bool
	osReleasePath = distro.OSReleasePath

	// confirm asks the acknowledgement question on the terminal.
	confirm = func() (bool, error) {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return false, errors.New("stdin is not a terminal, pass --yes to acknowledge")
		}
		ok := false
		err := survey.AskOne(&survey.Confirm{Message: acknowledgement}, &ok)
		return ok, err
	}
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise a system with atomic-update",
	Long: `Initialise a system with atomic-update.

Creates the snapshot root and, if it does not exist yet, writes a configuration
file with the package manager detected from /etc/os-release.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := newRunner()
		if err := privilege.Require(r); err != nil {
			return err
		}

		if !jsonOutput {
			printf("%s atomic-update is alpha software and is not yet suitable for important systems.\n", color.Warning("NOTE:"))
		}
		if !initYes {
			ok, err := confirm()
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}

		cfg, wrote, err := ensureConfig()
		if err != nil {
			return err
		}
		if err := snapshot.NewAllocator(cfg.SnapshotDir, privilege.Check(r)).EnsureRoot(); err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"config":          configPath,
				"config_written":  wrote,
				"snapshot_dir":    cfg.SnapshotDir,
				"package_manager": cfg.PackageManager,
			})
		}
		printf("Snapshot root: %s\n", color.Highlight(cfg.SnapshotDir))
		if wrote {
			printf("Wrote %s (package manager %s)\n", color.Highlight(configPath), cfg.PackageManager)
		} else {
			printf("Using existing %s\n", color.Highlight(configPath))
		}
		if err := cfg.Validate(); err != nil {
			fmtWarn("%v", err)
		}
		return nil
	},
}

// ensureConfig loads the configuration, writing a detected default first if there is none.
func ensureConfig() (*config.Config, bool, error) {
	if fsutil.Exists(configPath) {
		cfg, err := loadConfig()
		return cfg, false, err
	}

	pm := distro.Unknown
	info, err := distro.DetectFile(osReleasePath)
	if err != nil {
		fmtWarn("could not read %s: %v", osReleasePath, err)
	} else if detected, ok := info.PackageManager(); ok {
		pm = detected
	} else {
		fmtWarn("unknown distribution %q, edit %s before updating", info.Name, configPath)
	}

	cfg := config.DefaultsFor(pm)
	if err := config.Save(configPath, cfg); err != nil {
		return nil, false, err
	}
	adjustConfig(cfg)
	return cfg, true, nil
}

func init() {
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "acknowledge the risk without prompting")
	rootCmd.AddCommand(initCmd)
}
