// Package btrfs wraps the btrfs and mount tools used by au.
package btrfs

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/logging"
)

// TopLevelSubvolID is the id of the volume's top-level subvolume.
const TopLevelSubvolID = 5

// Subvolume is one entry of `btrfs subvolume list`.
type Subvolume struct {
	ID   int
	Path string
}

// Tool runs btrfs and mount commands through a Runner.
type Tool struct {
	runner process.Runner
	logger zerolog.Logger
}

// NewTool creates a Tool.
func NewTool(r process.Runner) *Tool {
	return &Tool{runner: r, logger: logging.GetLogger("btrfs")}
}

// Snapshot creates a writable snapshot of src at dst.
func (t *Tool) Snapshot(src, dst string) error {
	t.logger.Info().Str("source", src).Str("target", dst).Msg("creating snapshot")
	_, err := t.runner.Output("btrfs", "subvolume", "snapshot", src, dst)
	return err
}

// ListSubvolumes lists the subvolumes of the filesystem containing path.
func (t *Tool) ListSubvolumes(path string) ([]Subvolume, error) {
	out, err := t.runner.Output("btrfs", "subvolume", "list", path)
	if err != nil {
		return nil, err
	}
	return ParseSubvolumeList(string(out)), nil
}

// MountTopLevel mounts the top-level subvolume of device on mountPoint.
func (t *Tool) MountTopLevel(device, mountPoint string) error {
	t.logger.Info().Str("device", device).Str("mount_point", mountPoint).Msg("mounting top level")
	_, err := t.runner.Output("mount", "-t", "btrfs", "-o", "subvolid="+strconv.Itoa(TopLevelSubvolID), device, mountPoint)
	return err
}

// Unmount unmounts mountPoint.
func (t *Tool) Unmount(mountPoint string) error {
	t.logger.Info().Str("mount_point", mountPoint).Msg("unmounting")
	_, err := t.runner.Output("umount", mountPoint)
	return err
}

// ParseSubvolumeList parses `btrfs subvolume list` output. The path is the last field.
func ParseSubvolumeList(out string) []Subvolume {
	return lo.FilterMap(strings.Split(out, "\n"), func(line string, _ int) (Subvolume, bool) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return Subvolume{}, false
		}
		sv := Subvolume{Path: fields[len(fields)-1]}
		if len(fields) > 1 && fields[0] == "ID" {
			sv.ID, _ = strconv.Atoi(fields[1])
		}
		return sv, true
	})
}
