package cli

import (
	"emperror.dev/errors"
	"github.com/spf13/cobra"

	"github.com/atomic-update/au/internal/doctor"
	"github.com/atomic-update/au/pkg/color"
)

var (
	doctorRepair      []string
	doctorListRepairs bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the installation",
	Long: `Check the installation.

Runs diagnostic checks on the configuration, root discovery, scratch mount,
interrupted swaps, the lock and the audit log, and reports any issues.
Use --repair to run automatic fixes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgErr := loadConfigOrDefault()
		doc := doctor.NewDoctor(cfg, cfgErr, newRunner()).WithMountInfo(mountInfo)

		if doctorListRepairs {
			actions := doc.ListRepairActions()
			if jsonOutput {
				return outputJSON(actions)
			}
			for _, a := range actions {
				printf("  %-10s %s\n", a.ID, a.Description)
			}
			return nil
		}

		if len(doctorRepair) > 0 {
			results, err := doc.Repair(doctorRepair)
			if jsonOutput {
				if jerr := outputJSON(results); jerr != nil {
					return jerr
				}
			} else {
				for _, r := range results {
					mark := color.Success("ok")
					if !r.Success {
						mark = color.Error("failed")
					}
					printf("  [%s] %s: %s\n", mark, r.Action, r.Message)
				}
			}
			if err != nil {
				return err
			}
		}

		result := doc.Check()
		if jsonOutput {
			if err := outputJSON(result); err != nil {
				return err
			}
		} else {
			printDoctor(result)
		}
		if !result.Healthy {
			return errors.New("doctor found problems")
		}
		return nil
	},
}

func printDoctor(result *doctor.Result) {
	if len(result.Findings) == 0 {
		printf("%s\n", color.Success("Installation is healthy."))
		return
	}

	printf("Findings (%d):\n", len(result.Findings))
	for _, f := range result.Findings {
		sev := f.Severity
		switch f.Severity {
		case doctor.SeverityError, doctor.SeverityCritical:
			sev = color.Error(sev)
		case doctor.SeverityWarning:
			sev = color.Warning(sev)
		default:
			sev = color.Dim(sev)
		}
		printf("  [%s] %s: %s\n", sev, f.Category, f.Description)
		if f.Repair != "" {
			printf("      %s\n", color.Dim(f.Repair))
		}
	}
}

func init() {
	doctorCmd.Flags().StringSliceVar(&doctorRepair, "repair", nil, "run the named repair actions before checking")
	doctorCmd.Flags().BoolVar(&doctorListRepairs, "list-repairs", false, "list available repair actions")
	rootCmd.AddCommand(doctorCmd)
}
