// Package config reads and writes the atomic-update configuration file.
//
// The file holds one KEY VALUE pair per line. Unknown keys are ignored and keys
// that are absent or empty fall back to built-in defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"github.com/magiconair/properties"

	"github.com/atomic-update/au/pkg/errclass"
	"github.com/atomic-update/au/pkg/fsutil"
)

// DefaultPath is where the configuration file lives.
const DefaultPath = "/etc/atomic-update.conf"

// Placeholder is written for package-manager values that could not be detected.
const Placeholder = "please-replace"

// Config represents the atomic-update configuration.
type Config struct {
	PackageManager string `default:"please-replace"`
	UpdateCommand  string `default:"please-replace"`
	InstallCommand string `default:"please-replace"`
	YesFlag        string `default:"please-replace"`

	// Empty means auto-detect.
	RootPartition string
	RootSubvolume string

	SnapshotDir string `default:"/.snapshots"`
	MountPoint  string `default:"/mnt"`
	LogLevel    string

	// Runtime paths. Not read from the file.
	LiveRoot    string `default:"/"`
	LockPath    string `default:"/run/atomic-update.lock"`
	JournalPath string `default:"/var/lib/atomic-update/journal.yaml"`
	AuditPath   string `default:"/var/log/atomic-update/audit.jsonl"`
	HostResolv  string `default:"/etc/resolv.conf"`
}

// PackageManager is the command triple used to update or install packages.
type PackageManager struct {
	Name    string
	Update  string
	Install string
	Yes     string
}

type field struct {
	key string
	ptr func(*Config) *string
}

// keys lists the file keys in the order Save writes them.
var keys = []field{
	{"PACKAGE_MANAGER", func(c *Config) *string { return &c.PackageManager }},
	{"UPDATE_COMMAND", func(c *Config) *string { return &c.UpdateCommand }},
	{"INSTALL_COMMAND", func(c *Config) *string { return &c.InstallCommand }},
	{"YES_FLAG", func(c *Config) *string { return &c.YesFlag }},
	{"ROOT_PARTITION", func(c *Config) *string { return &c.RootPartition }},
	{"ROOT_SUBVOLUME", func(c *Config) *string { return &c.RootSubvolume }},
	{"SNAPSHOT_DIR", func(c *Config) *string { return &c.SnapshotDir }},
	{"MOUNT_POINT", func(c *Config) *string { return &c.MountPoint }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }},
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		// Only fails for non-pointer arguments.
		panic(err)
	}
	return c
}

// DefaultsFor returns the built-in configuration with the given package manager filled in.
func DefaultsFor(pm PackageManager) *Config {
	c := Default()
	c.PackageManager = pm.Name
	c.UpdateCommand = pm.Update
	c.InstallCommand = pm.Install
	c.YesFlag = pm.Yes
	return c
}

// Load reads the configuration file at path. A missing file is an E_CONFIG error.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrConfig.WithMessagef("configuration file %s not found, run 'au init'", path)
		}
		return nil, errclass.ErrConfig.WithMessagef("stat %s", path).Wrap(err)
	}

	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, errclass.ErrConfig.WithMessagef("parse %s", path).Wrap(err)
	}
	return FromProperties(p), nil
}

// Parse reads configuration from a string in the file format.
func Parse(data string) (*Config, error) {
	p, err := properties.LoadString(data)
	if err != nil {
		return nil, errclass.ErrConfig.WithMessage("parse configuration").Wrap(err)
	}
	return FromProperties(p), nil
}

// FromProperties applies the known keys present in p over the defaults.
func FromProperties(p *properties.Properties) *Config {
	p.DisableExpansion = true
	c := Default()
	for _, f := range keys {
		if v, ok := p.Get(f.key); ok && strings.TrimSpace(v) != "" {
			*f.ptr(c) = strings.TrimSpace(v)
		}
	}
	return c
}

// Validate reports an E_CONFIG error when the package-manager values are unusable.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range keys[:4] {
		v := *f.ptr(c)
		if v == "" || v == Placeholder {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return errclass.ErrConfig.WithMessagef("set %s in the configuration file", strings.Join(missing, ", "))
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	if err := fsutil.AtomicWrite(path, Marshal(cfg), 0o644); err != nil {
		return errors.WrapIf(err, "config: write configuration file")
	}
	return nil
}

// Marshal renders cfg in the file format. Empty optional keys are written as comments.
func Marshal(cfg *Config) []byte {
	var buf bytes.Buffer
	buf.WriteString("# atomic-update configuration\n")
	for _, f := range keys {
		v := *f.ptr(cfg)
		if v == "" {
			switch f.key {
			case "ROOT_PARTITION":
				buf.WriteString("# ROOT_PARTITION /dev/sdXN\n")
			case "ROOT_SUBVOLUME":
				buf.WriteString("# ROOT_SUBVOLUME @\n")
			}
			continue
		}
		fmt.Fprintf(&buf, "%s %s\n", f.key, v)
	}
	return buf.Bytes()
}

// UpdateArgs returns the package-manager command line for an update.
func (c *Config) UpdateArgs() (string, []string) {
	return c.PackageManager, append(strings.Fields(c.UpdateCommand), strings.Fields(c.YesFlag)...)
}

// InstallArgs returns the package-manager command line installing pkgs.
func (c *Config) InstallArgs(pkgs []string) (string, []string) {
	args := strings.Fields(c.InstallCommand)
	args = append(args, pkgs...)
	return c.PackageManager, append(args, strings.Fields(c.YesFlag)...)
}
