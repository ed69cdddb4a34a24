// Package modes maps channel mode letters to bits and compiles MLOCK
// specifications into chandb.ModeLock values.
package modes

import (
	"fmt"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// DefaultLetters is the simple-mode set of a typical ratbox-style ircd.
const DefaultLetters = "imnpstcrCOS"

// Table is the set of simple mode letters the network supports, in
// display order. The key and limit modes are handled by the compiler
// and never appear in a table.
type Table struct {
	order []byte
	bits  map[byte]chandb.ModeBits
	mask  chandb.ModeBits
}

// NewTable builds a table from letters. Duplicates, k, and l are
// rejected. A letter's bit depends only on the letter, never on its
// position in letters.
func NewTable(letters string) (*Table, error) {
	t := &Table{bits: make(map[byte]chandb.ModeBits)}
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if c == 'k' || c == 'l' {
			return nil, fmt.Errorf("modes: %q is not a simple mode", c)
		}
		if !isLetter(c) {
			return nil, fmt.Errorf("modes: invalid mode letter %q", c)
		}
		if _, dup := t.bits[c]; dup {
			return nil, fmt.Errorf("modes: duplicate mode letter %q", c)
		}
		bit := LetterBit(c)
		t.bits[c] = bit
		t.mask |= bit
		t.order = append(t.order, c)
	}
	return t, nil
}

// LetterBit returns the fixed bit of a mode letter, or 0 for anything
// other than a-z and A-Z.
func LetterBit(c byte) chandb.ModeBits {
	switch {
	case c >= 'a' && c <= 'z':
		return chandb.ModeBits(1) << (c - 'a')
	case c >= 'A' && c <= 'Z':
		return chandb.ModeBits(1) << (26 + c - 'A')
	}
	return 0
}

// DefaultTable returns a table built from DefaultLetters.
func DefaultTable() *Table {
	t, err := NewTable(DefaultLetters)
	if err != nil {
		panic(err)
	}
	return t
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Bit returns the bit for a simple mode letter, or 0 if unknown.
func (t *Table) Bit(c byte) chandb.ModeBits {
	return t.bits[c]
}

// Mask returns the bits of every letter in the table.
func (t *Table) Mask() chandb.ModeBits {
	return t.mask
}

// Letters renders the simple modes in bits in table order. Reserved
// bits are ignored.
func (t *Table) Letters(bits chandb.ModeBits) string {
	var sb strings.Builder
	for _, c := range t.order {
		if bits&t.bits[c] != 0 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Parse converts a string of letters into bits, ignoring unknown
// letters. It is used for configured masks such as oper-only modes.
func (t *Table) Parse(letters string) chandb.ModeBits {
	var bits chandb.ModeBits
	for i := 0; i < len(letters); i++ {
		bits |= t.bits[letters[i]]
	}
	return bits
}

// String returns the table's letters in order.
func (t *Table) String() string {
	return string(t.order)
}
