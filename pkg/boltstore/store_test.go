package boltstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ registry.Store = (*Store)(nil)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chanserv.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestChannelRoundTripThroughReopen(t *testing.T) {
	s, path := openTestStore(t)

	since := time.Unix(1700000500, 0).UTC()
	ch := chandb.NewChannel("#Test", "alice", time.Unix(1700000000, 0).UTC())
	ch.Flags = chandb.ChanSecure | chandb.ChanKeepTopic
	ch.MLock = chandb.ModeLock{On: 3, Off: chandb.ModeLimit, Key: "sekrit"}
	ch.SetRole("bob", chandb.RoleAOP)
	ch.SetMeta(chandb.MetaURL, "https://example.org")
	ch.Pending = &chandb.PendingTransfer{Candidate: "bob", Since: since}
	require.NoError(t, s.PutChannel(ch))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	channels, err := s2.LoadChannels()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	got := channels[0]
	assert.Equal(t, "#Test", got.Name)
	assert.Equal(t, ch.Flags, got.Flags)
	assert.Equal(t, ch.MLock, got.MLock)
	assert.Equal(t, chandb.RoleAOP, got.RoleOf("bob"))
	assert.Equal(t, chandb.RoleFounder, got.RoleOf("alice"))
	require.NotNil(t, got.Pending)
	assert.True(t, since.Equal(got.Pending.Since))
}

func TestChannelWithoutPendingOrMetadata(t *testing.T) {
	s, _ := openTestStore(t)
	ch := &chandb.Channel{Name: "#bare", Founder: "alice"}
	require.NoError(t, s.PutChannel(ch))

	channels, err := s.LoadChannels()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Nil(t, channels[0].Pending)
	assert.NotNil(t, channels[0].Metadata)
	assert.NotNil(t, channels[0].Access)
}

func TestDeleteChannelFoldsName(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.PutChannel(chandb.NewChannel("#Foo[1]", "alice", time.Now())))
	require.NoError(t, s.DeleteChannel("#foo{1}"))

	channels, err := s.LoadChannels()
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestAccounts(t *testing.T) {
	s, _ := openTestStore(t)
	a := &chandb.Account{Name: "Alice", Registered: time.Unix(100, 0).UTC(), Flags: chandb.AccountNoOp, OperClass: "sra"}
	require.NoError(t, s.PutAccount(&chandb.Account{Name: "ALICE", OperClass: "old"}))
	require.NoError(t, s.PutAccount(a))

	accounts, err := s.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Alice", accounts[0].Name)
	assert.Equal(t, "sra", accounts[0].OperClass)
	assert.True(t, accounts[0].Has(chandb.AccountNoOp))
}

func TestRegistryWritesThrough(t *testing.T) {
	s, _ := openTestStore(t)
	r := registry.New(s, registry.Options{})
	require.NoError(t, r.RegisterAccount(&chandb.Account{Name: "alice"}))
	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)
	require.NoError(t, r.Update("#test", func(ch *chandb.Channel) error {
		ch.Flags |= chandb.ChanVerbose
		return nil
	}))

	channels, err := s.LoadChannels()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.True(t, channels[0].HasFlag(chandb.ChanVerbose))
}

func TestBackup(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.PutAccount(&chandb.Account{Name: "alice"}))

	dst := filepath.Join(t.TempDir(), "backup.bolt")
	require.NoError(t, s.Backup(dst))

	b, err := Open(dst)
	require.NoError(t, err)
	defer b.Close()
	accounts, err := b.LoadAccounts()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
