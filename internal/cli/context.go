package cli

import (
	"fmt"
	"os"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"

	"github.com/atomic-update/au/internal/btrfs"
	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/internal/update"
	"github.com/atomic-update/au/pkg/color"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/logging"
)

var (
	newRunner = func() process.Runner { return process.NewExecRunner() }

	mountInfo btrfs.MountInfoFunc = procfs.GetMounts

	// adjustConfig is applied to every loaded configuration.
	adjustConfig = func(*config.Config) {}
)

// loadConfig reads the configuration file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	adjustConfig(cfg)
	if verbosity == 0 && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// loadConfigOrDefault is loadConfig falling back to the built-in defaults.
func loadConfigOrDefault() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Default()
		adjustConfig(cfg)
	}
	return cfg, err
}

// loadSystem builds the update components from the configuration.
func loadSystem() (*update.System, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newSystem(cfg)
}

func newSystem(cfg *config.Config) (*update.System, error) {
	sys, err := update.NewSystem(cfg, newRunner())
	if err != nil {
		return nil, err
	}
	sys.Inspector.WithMountInfo(mountInfo)
	return sys, nil
}

func fmtErr(format string, args ...any) {
	prefix := "au: "
	if color.Enabled() {
		prefix = color.Error("au:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

func fmtWarn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.Warning("warning:")+" "+fmt.Sprintf(format, args...))
}
