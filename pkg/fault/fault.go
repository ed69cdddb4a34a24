// Package fault classifies rejected services commands. A rejection
// carries the text sent back to the invoker; the fault kind drives
// metrics labels and denied-attempt auditing.
package fault

import (
	"errors"
	"fmt"
)

// Fault classifies why a command was rejected.
type Fault int

const (
	BadParams    Fault = iota + 1 // Malformed or missing arguments
	NoSuchTarget                  // Channel, account, user or class does not exist
	NoPrivs                       // Invoker lacks the role or privilege
	Conflict                      // State forbids the change (limit, closed, duplicate)
	TooFull                       // Metadata table full
)

func (f Fault) String() string {
	switch f {
	case BadParams:
		return "badparams"
	case NoSuchTarget:
		return "nosuch_target"
	case NoPrivs:
		return "noprivs"
	case Conflict:
		return "conflict"
	case TooFull:
		return "toofull"
	default:
		return "unknown"
	}
}

// Error is a rejected command. Msg is sent to the invoker verbatim;
// multi-line messages are separated by newlines.
type Error struct {
	Fault Fault
	Msg   string
}

func (e *Error) Error() string {
	return e.Msg
}

// New builds a rejection.
func New(f Fault, format string, args ...any) *Error {
	return &Error{Fault: f, Msg: fmt.Sprintf(format, args...)}
}

// Of returns the fault carried by err, or 0 if err is not a rejection.
func Of(err error) Fault {
	var e *Error
	if errors.As(err, &e) {
		return e.Fault
	}
	return 0
}
