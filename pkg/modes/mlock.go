package modes

import (
	"errors"
	"strconv"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// Compile errors.
var (
	ErrMissingKey   = errors.New("modes: +k requires a key")
	ErrMissingLimit = errors.New("modes: +l requires a limit")
	ErrBadLimit     = errors.New("modes: limit must be a positive integer")
)

// Compile builds a new mode lock from an MLOCK specification.
//
// spec is the mode letter string (e.g. "+ntk-s"). args supplies the
// parameters consumed, left to right, by k and l while adding. Letters
// before the first sign are skipped and unknown letters are ignored.
//
// Bits in mask keep their value from prev; the caller's edit is clipped
// to the bits outside it. Key and limit are always taken from spec. On
// error prev is returned unchanged.
func Compile(prev chandb.ModeLock, spec string, args []string, mask chandb.ModeBits, t *Table) (chandb.ModeLock, error) {
	var next chandb.ModeLock
	adding := -1

	for i := 0; i < len(spec); i++ {
		c := spec[i]
		if adding < 0 && c != '+' && c != '-' {
			continue
		}
		switch c {
		case '+':
			adding = 1
		case '-':
			adding = 0
		case 'k':
			if adding == 1 {
				if len(args) == 0 {
					return prev, ErrMissingKey
				}
				next.Key, args = args[0], args[1:]
				next.Off &^= chandb.ModeKey
			} else {
				next.Key = ""
				next.Off |= chandb.ModeKey
			}
		case 'l':
			if adding == 1 {
				if len(args) == 0 {
					return prev, ErrMissingLimit
				}
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return prev, ErrBadLimit
				}
				next.Limit, args = n, args[1:]
				next.Off &^= chandb.ModeLimit
			} else {
				next.Limit = 0
				next.Off |= chandb.ModeLimit
			}
		default:
			bit := t.Bit(c)
			if bit == 0 {
				continue
			}
			if adding == 1 {
				next.On |= bit
				next.Off &^= bit
			} else {
				next.Off |= bit
				next.On &^= bit
			}
		}
	}

	mask &^= chandb.ModeReserved
	next.On = (next.On &^ mask) | (prev.On & mask)
	next.Off = (next.Off &^ mask) | (prev.Off & mask)
	return next, nil
}

// Summary renders a lock as "+<on>[k][l]-<off>[k][l]". An empty lock
// renders as the empty string. Letters missing from t are not shown.
func Summary(lock chandb.ModeLock, t *Table) string {
	lock.On &= t.Mask()
	lock.Off &= t.Mask() | chandb.ModeReserved
	var sb strings.Builder
	if lock.On != 0 || lock.Key != "" || lock.Limit != 0 {
		sb.WriteByte('+')
		sb.WriteString(t.Letters(lock.On))
		if lock.Key != "" {
			sb.WriteByte('k')
		}
		if lock.Limit != 0 {
			sb.WriteByte('l')
		}
	}
	if lock.Off != 0 {
		sb.WriteByte('-')
		sb.WriteString(t.Letters(lock.Off))
		if lock.Off&chandb.ModeKey != 0 {
			sb.WriteByte('k')
		}
		if lock.Off&chandb.ModeLimit != 0 {
			sb.WriteByte('l')
		}
	}
	return sb.String()
}

// ParseSpec splits the parameter text of an MLOCK command into the
// letter string and its arguments.
func ParseSpec(params string) (string, []string) {
	fields := strings.Fields(params)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
