package modes

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// State is the live mode state of a channel on the network.
type State struct {
	Modes chandb.ModeBits
	Key   string
	Limit int
}

// Enforce returns the state after applying lock to st and the mode
// change line needed to get there (e.g. "+nk-s secret"). The line is
// empty when st already satisfies the lock. Locked letters missing
// from t are left alone.
func Enforce(st State, lock chandb.ModeLock, t *Table) (State, string) {
	next := st
	lock.On &= t.Mask()
	lock.Off &= t.Mask() | chandb.ModeReserved
	var plus, minus strings.Builder
	var plusArgs, minusArgs []string

	if add := lock.On &^ st.Modes; add != 0 {
		plus.WriteString(t.Letters(add))
		next.Modes |= add
	}
	if del := lock.Off & st.Modes &^ chandb.ModeReserved; del != 0 {
		minus.WriteString(t.Letters(del))
		next.Modes &^= del
	}

	switch {
	case lock.Key != "" && st.Key != lock.Key:
		plus.WriteByte('k')
		plusArgs = append(plusArgs, lock.Key)
		next.Key = lock.Key
	case lock.Off&chandb.ModeKey != 0 && st.Key != "":
		minus.WriteByte('k')
		minusArgs = append(minusArgs, st.Key)
		next.Key = ""
	}

	switch {
	case lock.Limit != 0 && st.Limit != lock.Limit:
		plus.WriteByte('l')
		plusArgs = append(plusArgs, strconv.Itoa(lock.Limit))
		next.Limit = lock.Limit
	case lock.Off&chandb.ModeLimit != 0 && st.Limit != 0:
		minus.WriteByte('l')
		next.Limit = 0
	}

	var line strings.Builder
	if plus.Len() > 0 {
		line.WriteByte('+')
		line.WriteString(plus.String())
	}
	if minus.Len() > 0 {
		line.WriteByte('-')
		line.WriteString(minus.String())
	}
	for _, a := range append(plusArgs, minusArgs...) {
		line.WriteByte(' ')
		line.WriteString(a)
	}
	return next, line.String()
}

// ApplyChange applies a mode change as seen on the network (e.g.
// "+k-s" with args ["secret"]) to st. Unknown letters are ignored; a
// key or limit without its argument is ignored.
func ApplyChange(st State, change string, args []string, t *Table) State {
	adding := true
	for i := 0; i < len(change); i++ {
		c := change[i]
		switch c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'k':
			if !adding {
				st.Key = ""
				if len(args) > 0 {
					args = args[1:]
				}
				continue
			}
			if len(args) > 0 {
				st.Key, args = args[0], args[1:]
			}
		case 'l':
			if !adding {
				st.Limit = 0
				continue
			}
			if len(args) > 0 {
				if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
					st.Limit = n
				}
				args = args[1:]
			}
		default:
			if adding {
				st.Modes |= t.Bit(c)
			} else {
				st.Modes &^= t.Bit(c)
			}
		}
	}
	return st
}
