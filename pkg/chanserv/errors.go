package chanserv

import (
	"errors"

	"github.com/crystal-mush/gochanserv/pkg/fault"
)

func fail(f fault.Fault, format string, args ...any) *fault.Error {
	return fault.New(f, format, args...)
}

// errNoChange aborts a registry update that turned out to be a no-op.
// The command still succeeds.
var errNoChange = errors.New("chanserv: no change")

func notRegistered(name string) *fault.Error {
	return fail(fault.NoSuchTarget, "\x02%s\x02 is not registered.", name)
}

func invalidParams(setting string) *fault.Error {
	return fail(fault.BadParams, "Invalid parameters specified for \x02%s\x02.", setting)
}
