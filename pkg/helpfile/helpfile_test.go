package helpfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `ignored preamble
& help
Commands: SET, REGISTER
& SET SECURE
& SET VERBOSE
Toggles a channel flag.

& set founder
Transfers a channel.
`

func TestParseAliases(t *testing.T) {
	hf, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Len(t, hf.Entries, 4)
	assert.Equal(t, "Toggles a channel flag.", hf.Entries["set secure"])
	assert.Equal(t, hf.Entries["set secure"], hf.Entries["set verbose"])
	assert.Equal(t, "Transfers a channel.", hf.Entries["set founder"])
}

func TestLookup(t *testing.T) {
	hf := MustParse(sample)

	assert.Equal(t, "Commands: SET, REGISTER", hf.Lookup(""))
	assert.Equal(t, "Transfers a channel.", hf.Lookup("SET   FOUNDER"))
	assert.Equal(t, "Transfers a channel.", hf.Lookup("set fo"))
	assert.Equal(t, "", hf.Lookup("nothing"))

	list := hf.Lookup("set *")
	assert.Contains(t, list, "SET FOUNDER, SET SECURE, SET VERBOSE")
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "help.txt")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))

	hf, err := Load(p)
	require.NoError(t, err)
	assert.NotEmpty(t, hf.Lookup("help"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
