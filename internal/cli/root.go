package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomic-update/au/pkg/color"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/logging"
)

var (
	jsonOutput bool
	configPath string
	verbosity  int
	logJSON    bool
	noColor    bool
	lockWait   time.Duration

	stdout io.Writer = os.Stdout

	rootCmd = &cobra.Command{
		Use:   "au",
		Short: "au - atomic updates for btrfs root filesystems",
		Long: `au performs system updates inside a throwaway btrfs snapshot of the root
filesystem and, only when the update succeeds, swaps the snapshot in as the new
root. The previous root is kept as a rollback target.

Changes take effect at the next reboot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
			logging.Setup(logging.LevelForVerbosity(verbosity), logJSON)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().DurationVar(&lockWait, "wait", 0, "wait up to this long for another au process to finish")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON prints v as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}
