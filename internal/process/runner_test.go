package process_test

import (
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/errclass"
)

func TestExecRunner_Output(t *testing.T) {
	r := process.NewExecRunner()
	out, err := r.Output("sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := process.NewExecRunner()
	_, err := r.Output("sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrProcess)

	var ee *process.ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.Code)
	assert.Equal(t, "sh", ee.Command)
	assert.Contains(t, ee.Stderr, "oops")
	assert.Equal(t, 3, process.ExitCode(err))
}

func TestExecRunner_SpawnFailure(t *testing.T) {
	r := process.NewExecRunner()
	err := r.Stream("au-definitely-not-a-command")
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrProcess)
	assert.Equal(t, -1, process.ExitCode(err))
}

func TestExecRunner_Stream(t *testing.T) {
	r := process.NewExecRunner()
	assert.NoError(t, r.Stream("true"))
	err := r.Stream("false")
	assert.Equal(t, 1, process.ExitCode(err))
}

func TestExitError_Message(t *testing.T) {
	ee := &process.ExitError{Command: "btrfs", Args: []string{"subvolume", "list", "/"}, Code: 1, Stderr: "ERROR: not a btrfs filesystem\n"}
	assert.Equal(t, "btrfs subvolume list / exited with status 1: ERROR: not a btrfs filesystem", ee.Error())
}

func TestFakeRunner(t *testing.T) {
	f := process.NewFakeRunner()
	f.Reply("id", "0\n")
	f.Fail("chroot", 2, "boom")

	out, err := f.Output("id", "-u")
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(out))

	err = f.Stream("chroot", "/snap", "dnf", "update")
	assert.ErrorIs(t, err, errclass.ErrProcess)
	assert.Equal(t, 2, process.ExitCode(err))

	out, err = f.Output("unscripted")
	assert.NoError(t, err)
	assert.Empty(t, out)

	assert.Equal(t, []string{"id -u", "chroot /snap dnf update", "unscripted"}, f.Commands())
	calls := f.Calls()
	require.Len(t, calls, 3)
	assert.True(t, calls[1].Stream)
	assert.False(t, calls[0].Stream)
}
