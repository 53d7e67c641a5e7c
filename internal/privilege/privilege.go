// Package privilege checks whether au runs with superuser rights.
package privilege

import (
	"strings"

	"github.com/atomic-update/au/internal/process"
	"github.com/atomic-update/au/pkg/errclass"
)

// IsSuperuser reports whether `id -u` prints 0.
func IsSuperuser(r process.Runner) (bool, error) {
	out, err := r.Output("id", "-u")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "0", nil
}

// Require returns an E_NOT_ROOT error unless running as superuser.
func Require(r process.Runner) error {
	ok, err := IsSuperuser(r)
	if err != nil {
		return errclass.ErrNotRoot.WithMessage("could not determine user id").Wrap(err)
	}
	if !ok {
		return errclass.ErrNotRoot.WithMessage("this command must be run as root")
	}
	return nil
}

// Check returns a func that calls Require with r.
func Check(r process.Runner) func() error {
	return func() error { return Require(r) }
}
