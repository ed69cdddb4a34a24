package chandb

import "strings"

// Fold lowercases a nick, account, or channel name using RFC 1459
// casemapping, where {}|^ are the lowercase forms of []\~.
func Fold(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		case c == '[':
			c = '{'
		case c == ']':
			c = '}'
		case c == '\\':
			c = '|'
		case c == '~':
			c = '^'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Equal compares two names under RFC 1459 casemapping.
func Equal(a, b string) bool {
	return len(a) == len(b) && Fold(a) == Fold(b)
}

// ValidChannelName reports whether name looks like a registrable channel.
func ValidChannelName(name string) bool {
	if len(name) < 2 || name[0] != '#' {
		return false
	}
	return !strings.ContainsAny(name, " ,\a")
}
