package privilege_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/internal/privilege"
	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/errclass"
)

func TestIsSuperuser(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{"0\n", true},
		{"0", true},
		{"1000\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := process.NewFakeRunner()
		r.Reply("id", tt.out)
		got, err := privilege.IsSuperuser(r)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "output %q", tt.out)
		assert.Equal(t, []string{"id -u"}, r.Commands())
	}
}

func TestRequire(t *testing.T) {
	r := process.NewFakeRunner()
	r.Reply("id", "1000\n")
	err := privilege.Require(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrNotRoot)

	r.Reply("id", "0\n")
	assert.NoError(t, privilege.Check(r)())
}

func TestRequire_IDFails(t *testing.T) {
	r := process.NewFakeRunner()
	r.Fail("id", 1, "no such user")
	err := privilege.Require(r)
	assert.ErrorIs(t, err, errclass.ErrNotRoot)
	assert.ErrorIs(t, err, errclass.ErrProcess)
}
