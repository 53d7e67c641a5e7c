package cli

import (
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Inspect the au configuration",
	Long: `Inspect the au configuration stored in /etc/atomic-update.conf.

Configuration keys:
  PACKAGE_MANAGER  - package manager executable (dnf, apt, zypper, pacman)
  UPDATE_COMMAND   - argument that updates the system (update, upgrade, -Syu)
  INSTALL_COMMAND  - argument that installs packages (install, -S)
  YES_FLAG         - flag that skips confirmation prompts (-y, --noconfirm)
  ROOT_PARTITION   - block device of the root filesystem (auto-detected)
  ROOT_SUBVOLUME   - name of the root subvolume (auto-detected, root or @)
  SNAPSHOT_DIR     - where snapshots are kept (/.snapshots)
  MOUNT_POINT      - scratch mount point for the top-level subvolume (/mnt)
  LOG_LEVEL        - trace, debug, info, warn or error`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cfg)
		}
		_, err = stdout.Write(config.Marshal(cfg))
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return outputJSON(map[string]string{"path": configPath})
		}
		printf("%s\n", configPath)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		printf("%s is valid\n", configPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
