package btrfs

import (
	"strconv"

	"github.com/prometheus/procfs"
	"github.com/samber/lo"

	"github.com/atomic-update/au/pkg/errclass"
)

// RootNames are the subvolume names distributions use for the root filesystem.
// "root" on Fedora, "@" on openSUSE and Mint.
var RootNames = []string{"root", "@"}

// MountsFunc returns the current mount table.
type MountsFunc func() ([]*procfs.Mount, error)

// SelfMounts reads the mount table of the current process.
func SelfMounts() ([]*procfs.Mount, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	return self.MountStats()
}

// MountInfoFunc returns the mountinfo table, which carries subvolume options.
type MountInfoFunc func() ([]*procfs.MountInfo, error)

// Inspector resolves the live root subvolume and the device backing it.
// Nothing is cached; every call asks the system again.
type Inspector struct {
	tool              *Tool
	mounts            MountsFunc
	mountInfo         MountInfoFunc
	liveRoot          string
	subvolumeOverride string
	deviceOverride    string
}

// NewInspector creates an Inspector. Non-empty overrides replace detection.
func NewInspector(tool *Tool, subvolumeOverride, deviceOverride string) *Inspector {
	return &Inspector{
		tool:              tool,
		mounts:            SelfMounts,
		mountInfo:         procfs.GetMounts,
		liveRoot:          "/",
		subvolumeOverride: subvolumeOverride,
		deviceOverride:    deviceOverride,
	}
}

// WithMounts replaces the mount table source.
func (i *Inspector) WithMounts(fn MountsFunc) *Inspector {
	i.mounts = fn
	return i
}

// WithMountInfo replaces the mountinfo source.
func (i *Inspector) WithMountInfo(fn MountInfoFunc) *Inspector {
	i.mountInfo = fn
	return i
}

// WithLiveRoot sets the path the running root is mounted on.
func (i *Inspector) WithLiveRoot(path string) *Inspector {
	if path != "" {
		i.liveRoot = path
	}
	return i
}

// RootSubvolume returns the name of the live root subvolume.
func (i *Inspector) RootSubvolume() (string, error) {
	if i.subvolumeOverride != "" {
		return i.subvolumeOverride, nil
	}
	subvols, err := i.tool.ListSubvolumes("/")
	if err != nil {
		return "", errclass.ErrDiscovery.
			WithMessage("could not list subvolumes, set ROOT_SUBVOLUME in the configuration file").
			Wrap(err)
	}
	name, ok := RootSubvolumeName(subvols)
	if !ok {
		return "", errclass.ErrDiscovery.
			WithMessage("could not determine root subvolume name, expecting 'root' or '@'; set ROOT_SUBVOLUME in the configuration file")
	}
	return name, nil
}

// RootDevice returns the block device mounted at /.
func (i *Inspector) RootDevice() (string, error) {
	if i.deviceOverride != "" {
		return i.deviceOverride, nil
	}
	mounts, err := i.mounts()
	if err != nil {
		return "", errclass.ErrDiscovery.
			WithMessage("could not read mount table, set ROOT_PARTITION in the configuration file").
			Wrap(err)
	}
	dev, ok := RootDeviceFromMounts(mounts)
	if !ok {
		return "", errclass.ErrDiscovery.
			WithMessage("failed to detect root partition device, set ROOT_PARTITION in the configuration file")
	}
	return dev, nil
}

// PendingPromotion reports whether the subvolume mounted at the live root is no
// longer the one named as root on the top level, which is the case between a
// promotion and the next reboot. A live root that is not a btrfs mount is never
// pending.
func (i *Inspector) PendingPromotion() (bool, error) {
	infos, err := i.mountInfo()
	if err != nil {
		return false, errclass.ErrDiscovery.WithMessage("could not read mountinfo").Wrap(err)
	}
	live, ok := MountInfoAt(infos, i.liveRoot)
	if !ok || live.FSType != "btrfs" {
		return false, nil
	}
	liveID, ok := SubvolID(live)
	if !ok {
		return false, nil
	}

	subvols, err := i.tool.ListSubvolumes(i.liveRoot)
	if err != nil {
		return false, errclass.ErrDiscovery.WithMessage("could not list subvolumes").Wrap(err)
	}
	name := i.subvolumeOverride
	if name == "" {
		if name, ok = RootSubvolumeName(subvols); !ok {
			return false, nil
		}
	}
	named, ok := lo.Find(subvols, func(sv Subvolume) bool { return sv.Path == name })
	if !ok {
		return false, nil
	}
	return named.ID != liveID, nil
}

// SubvolID returns the subvolid option of a btrfs mount.
func SubvolID(mi *procfs.MountInfo) (int, bool) {
	for _, opts := range []map[string]string{mi.SuperOptions, mi.Options} {
		if v, ok := opts["subvolid"]; ok {
			id, err := strconv.Atoi(v)
			return id, err == nil
		}
	}
	return 0, false
}

// MountInfoAt returns the last mountinfo entry for path, which is the one visible.
func MountInfoAt(infos []*procfs.MountInfo, path string) (*procfs.MountInfo, bool) {
	mi, _, ok := lo.FindLastIndexOf(infos, func(mi *procfs.MountInfo) bool {
		return mi != nil && mi.MountPoint == path
	})
	return mi, ok
}

// RootSubvolumeName returns the first subvolume whose path is a known root name.
func RootSubvolumeName(subvols []Subvolume) (string, bool) {
	sv, ok := lo.Find(subvols, func(sv Subvolume) bool {
		return lo.Contains(RootNames, sv.Path)
	})
	return sv.Path, ok
}

// RootDeviceFromMounts returns the device of the btrfs filesystem mounted at /.
func RootDeviceFromMounts(mounts []*procfs.Mount) (string, bool) {
	m, ok := lo.Find(mounts, func(m *procfs.Mount) bool {
		return m != nil && m.Type == "btrfs" && m.Mount == "/"
	})
	if !ok {
		return "", false
	}
	return m.Device, true
}
