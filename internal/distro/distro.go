// Package distro detects the running distribution and its package manager.
package distro

import (
	"strings"

	"github.com/acobaugh/osrelease"
	"github.com/samber/lo"

	"github.com/atomic-update/au/pkg/config"
)

// OSReleasePath is the standard os-release location.
const OSReleasePath = "/etc/os-release"

// Info is the subset of os-release used for detection.
type Info struct {
	ID     string
	IDLike []string
	Name   string
}

var (
	apt    = config.PackageManager{Name: "apt", Update: "upgrade", Install: "install", Yes: "-y"}
	zypper = config.PackageManager{Name: "zypper", Update: "update", Install: "install", Yes: "-y"}
	dnf    = config.PackageManager{Name: "dnf", Update: "update", Install: "install", Yes: "-y"}
	pacman = config.PackageManager{Name: "pacman", Update: "-Syu", Install: "-S", Yes: "--noconfirm"}

	// Unknown is used when no package manager matches.
	Unknown = config.PackageManager{
		Name:    config.Placeholder,
		Update:  config.Placeholder,
		Install: config.Placeholder,
		Yes:     config.Placeholder,
	}
)

var families = []struct {
	ids []string
	pm  config.PackageManager
}{
	{[]string{"debian", "ubuntu", "linuxmint", "mint", "pop"}, apt},
	{[]string{"opensuse", "opensuse-leap", "opensuse-tumbleweed", "suse", "sles"}, zypper},
	{[]string{"fedora", "centos", "rhel", "ol", "oracle", "rocky", "almalinux"}, dnf},
	{[]string{"arch", "endeavouros", "manjaro"}, pacman},
}

// FromRelease builds Info from parsed os-release values.
func FromRelease(values map[string]string) Info {
	return Info{
		ID:     strings.ToLower(values["ID"]),
		IDLike: strings.Fields(strings.ToLower(values["ID_LIKE"])),
		Name:   values["NAME"],
	}
}

// Detect reads /etc/os-release.
func Detect() (Info, error) {
	return DetectFile(OSReleasePath)
}

// DetectFile reads an os-release file at path.
func DetectFile(path string) (Info, error) {
	values, err := osrelease.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	return FromRelease(values), nil
}

// PackageManager returns the package manager for the distribution.
// ID is tried first, then each ID_LIKE entry. The bool is false for unknown distributions.
func (i Info) PackageManager() (config.PackageManager, bool) {
	for _, id := range append([]string{i.ID}, i.IDLike...) {
		if pm, ok := PackageManagerFor(id); ok {
			return pm, true
		}
	}
	return Unknown, false
}

// PackageManagerFor maps an os-release ID to a package manager.
func PackageManagerFor(id string) (config.PackageManager, bool) {
	id = strings.ToLower(id)
	for _, f := range families {
		if lo.Contains(f.ids, id) {
			return f.pm, true
		}
	}
	return Unknown, false
}
