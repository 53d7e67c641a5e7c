package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/config"
	"github.com/atomic-update/au/pkg/errclass"
)

type testEnv struct {
	dir    string
	top    string
	root   string
	conf   string
	runner *process.FakeRunner
}

// setupEnv points the CLI at a simulated btrfs volume under a temp dir. The top
// level doubles as the scratch mount point so renames act on the live root.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:  dir,
		top:  filepath.Join(dir, "top"),
		root: filepath.Join(dir, "top", "root"),
		conf: filepath.Join(dir, "atomic-update.conf"),
	}
	writeFile(t, filepath.Join(e.root, "etc", "marker"), "original")
	writeFile(t, filepath.Join(dir, "resolv.conf"), "nameserver 1.1.1.1\n")
	writeFile(t, filepath.Join(dir, "os-release"), "NAME=\"Fedora Linux\"\nID=fedora\n")

	e.runner = process.NewFakeRunner()
	e.runner.Reply("id", "0\n")
	e.runner.Handle("btrfs", func(args []string) ([]byte, error) {
		switch {
		case len(args) == 4 && args[1] == "snapshot":
			src, dst := args[2], args[3]
			for _, sub := range []string{".snapshots", "etc"} {
				if err := os.MkdirAll(filepath.Join(dst, sub), 0o755); err != nil {
					return nil, err
				}
			}
			data, err := os.ReadFile(filepath.Join(src, "etc", "marker"))
			if err != nil {
				return nil, err
			}
			return nil, os.WriteFile(filepath.Join(dst, "etc", "marker"), data, 0o644)
		case len(args) >= 2 && args[1] == "list":
			return []byte("ID 256 gen 7 top level 5 path root\n"), nil
		}
		return nil, nil
	})
	e.runner.Handle("chroot", func(args []string) ([]byte, error) {
		return nil, os.WriteFile(filepath.Join(args[0], "etc", "marker"), []byte(strings.Join(args[1:], " ")), 0o644)
	})

	oldRunner, oldAdjust, oldRelease, oldConfirm, oldInfo := newRunner, adjustConfig, osReleasePath, confirm, mountInfo
	newRunner = func() process.Runner { return e.runner }
	adjustConfig = func(cfg *config.Config) {
		cfg.LiveRoot = e.root
		cfg.SnapshotDir = filepath.Join(e.root, ".snapshots")
		cfg.MountPoint = e.top
		cfg.RootPartition = "/dev/vda2"
		cfg.LockPath = filepath.Join(dir, "run", "au.lock")
		cfg.JournalPath = filepath.Join(dir, "lib", "journal.yaml")
		cfg.AuditPath = filepath.Join(dir, "log", "audit.jsonl")
		cfg.HostResolv = filepath.Join(dir, "resolv.conf")
	}
	osReleasePath = filepath.Join(dir, "os-release")
	confirm = func() (bool, error) { return true, nil }
	t.Cleanup(func() {
		newRunner, adjustConfig, osReleasePath, confirm, mountInfo = oldRunner, oldAdjust, oldRelease, oldConfirm, oldInfo
	})
	return e
}

// bootedFrom makes the live root look like a btrfs mount of subvolume id. The
// simulated volume names root as id 256.
func (e *testEnv) bootedFrom(id string) {
	mountInfo = func() ([]*procfs.MountInfo, error) {
		return []*procfs.MountInfo{
			{MountPoint: e.root, FSType: "btrfs", Source: "/dev/vda2", SuperOptions: map[string]string{"subvolid": id}},
		}, nil
	}
}

func (e *testEnv) writeConfig(t *testing.T, pm config.PackageManager) {
	t.Helper()
	require.NoError(t, config.Save(e.conf, config.DefaultsFor(pm)))
}

// run executes the root command with the test configuration and returns stdout.
func (e *testEnv) run(args ...string) (string, error) {
	return executeCommand(append([]string{"--config", e.conf, "--no-color"}, args...)...)
}

func executeCommand(args ...string) (string, error) {
	jsonOutput, verbosity, logJSON, noColor, lockWait = false, 0, false, false, 0
	initYes, doctorRepair, doctorListRepairs = false, nil, false
	configPath = config.DefaultPath

	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	if f := rootCmd.Flags().Lookup("help"); f != nil {
		f.Value.Set("false") //nolint:errcheck
	}
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

var dnf = config.PackageManager{Name: "dnf", Update: "update", Install: "install", Yes: "-y"}

func TestRootCommand_Help(t *testing.T) {
	out, err := executeCommand("--help")
	require.NoError(t, err)
	assert.Contains(t, out, "btrfs snapshot")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand("version")
	require.NoError(t, err)
	assert.Contains(t, out, "au "+Version)
}

func TestInitCommand_WritesDetectedConfig(t *testing.T) {
	e := setupEnv(t)

	out, err := e.run("init")
	require.NoError(t, err)
	assert.Contains(t, out, "package manager dnf")
	assert.DirExists(t, filepath.Join(e.root, ".snapshots"))

	cfg, err := config.Load(e.conf)
	require.NoError(t, err)
	assert.Equal(t, "dnf", cfg.PackageManager)
	assert.Equal(t, "update", cfg.UpdateCommand)
	assert.NoError(t, cfg.Validate())
}

func TestInitCommand_KeepsExistingConfig(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, config.PackageManager{Name: "zypper", Update: "dup", Install: "install", Yes: "-y"})

	out, err := e.run("init", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Using existing")

	cfg, err := config.Load(e.conf)
	require.NoError(t, err)
	assert.Equal(t, "dup", cfg.UpdateCommand)
}

func TestInitCommand_Declined(t *testing.T) {
	e := setupEnv(t)
	confirm = func() (bool, error) { return false, nil }

	_, err := e.run("init")
	require.Error(t, err)
	assert.NoFileExists(t, e.conf)
}

func TestInitCommand_RequiresRoot(t *testing.T) {
	e := setupEnv(t)
	e.runner.Reply("id", "1000\n")

	_, err := e.run("init", "--yes")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrNotRoot)
}

func TestUpdateCommand_PromotesSnapshot(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("update")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot 1 promoted")
	assert.Contains(t, out, "next reboot")
	assert.Equal(t, "dnf update -y", readFile(t, filepath.Join(e.root, "etc", "marker")))
	assert.Equal(t, "original", readFile(t, filepath.Join(e.root, ".snapshots", "rollback", "etc", "marker")))
}

func TestUpdateCommand_MissingConfig(t *testing.T) {
	e := setupEnv(t)

	_, err := e.run("update")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrConfig)
	assert.Empty(t, e.runner.Calls())
}

func TestUpdateCommand_PlaceholderConfig(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, config.PackageManager{Name: config.Placeholder, Update: config.Placeholder, Install: config.Placeholder, Yes: config.Placeholder})

	_, err := e.run("update")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrConfig)
	assert.NoDirExists(t, filepath.Join(e.root, ".snapshots"))
}

func TestExecCommand_PassesFlagsThrough(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("--json", "exec", "dnf", "install", "sshfs", "-y")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["promoted"])
	assert.EqualValues(t, 1, res["snapshot_id"])
	assert.Equal(t, "dnf install sshfs -y", readFile(t, filepath.Join(e.root, "etc", "marker")))
}

func TestExecCommand_FailureLeavesRootUntouched(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)
	e.runner.Fail("chroot", 1, "no such package")

	_, err := e.run("exec", "dnf", "install", "nope")
	require.Error(t, err)
	assert.Equal(t, "original", readFile(t, filepath.Join(e.root, "etc", "marker")))
	assert.DirExists(t, filepath.Join(e.root, ".snapshots", "1"))
	assert.NoDirExists(t, filepath.Join(e.root, ".snapshots", "rollback"))
}

func TestInstallCommand(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	_, err := e.run("install", "vim", "git")
	require.NoError(t, err)
	assert.Equal(t, "dnf install vim git -y", readFile(t, filepath.Join(e.root, "etc", "marker")))
}

func TestRollbackCommand_RestoresPreviousRoot(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	_, err := e.run("update")
	require.NoError(t, err)

	out, err := e.run("rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "next reboot")
	assert.Equal(t, "original", readFile(t, filepath.Join(e.root, "etc", "marker")))
	assert.Equal(t, "dnf update -y", readFile(t, filepath.Join(e.root, ".snapshots", "1", "etc", "marker")))
}

func TestRollbackCommand_NothingToRollBack(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	_, err := e.run("rollback")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrNoRollback)
}

func TestCommands_BeforeReboot(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	_, err := e.run("update")
	require.NoError(t, err)
	e.bootedFrom("300")

	out, err := e.run("--json", "status")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["rollback"])
	assert.Equal(t, true, res["pending_reboot"])

	out, err = e.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "reboot pending")

	_, err = e.run("update")
	assert.ErrorIs(t, err, errclass.ErrRebootPending)
	assert.NoDirExists(t, filepath.Join(e.root, ".snapshots", "2"))

	_, err = e.run("rollback")
	require.NoError(t, err)
	assert.Equal(t, "original", readFile(t, filepath.Join(e.root, "etc", "marker")))

	e.bootedFrom("256")
	out, err = e.run("--json", "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, false, res["pending_reboot"])
}

func TestListCommand(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots")

	_, err = e.run("update")
	require.NoError(t, err)

	out, err = e.run("--json", "list")
	require.NoError(t, err)
	var res struct {
		Snapshots []map[string]any `json:"snapshots"`
		Rollback  bool             `json:"rollback"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Snapshots)
	assert.True(t, res.Rollback)
}

func TestStatusCommand_JSON(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("--json", "status")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "root", res["root_subvolume"])
	assert.Equal(t, "/dev/vda2", res["root_device"])
	assert.Equal(t, "free", res["lock"])
	assert.Nil(t, res["journal"])
}

func TestDoctorCommand_Healthy(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "no rollback target")
}

func TestDoctorCommand_MissingConfig(t *testing.T) {
	e := setupEnv(t)

	out, err := e.run("doctor")
	require.Error(t, err)
	assert.Contains(t, out, "config")
}

func TestDoctorCommand_RepairCleansTemp(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)
	orphan := filepath.Join(e.dir, "lib", ".au-tmp-123")
	writeFile(t, orphan, "x")

	out, err := e.run("doctor", "--repair", "clean_tmp")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 temp files")
	assert.NoFileExists(t, orphan)
}

func TestConfigShowCommand(t *testing.T) {
	e := setupEnv(t)
	e.writeConfig(t, dnf)

	out, err := e.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "PACKAGE_MANAGER dnf")
}

func TestCompletionCommand(t *testing.T) {
	out, err := executeCommand("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")
}
