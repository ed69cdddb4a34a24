package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore records writes and can be told to fail.
type memStore struct {
	mu       sync.Mutex
	channels map[string]*chandb.Channel
	accounts map[string]*chandb.Account
	fail     error
}

func newMemStore() *memStore {
	return &memStore{
		channels: make(map[string]*chandb.Channel),
		accounts: make(map[string]*chandb.Account),
	}
}

func (m *memStore) PutChannel(ch *chandb.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.channels[chandb.Fold(ch.Name)] = ch.Clone()
	return nil
}

func (m *memStore) DeleteChannel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.channels, chandb.Fold(name))
	return nil
}

func (m *memStore) PutAccount(a *chandb.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	cp := *a
	m.accounts[chandb.Fold(a.Name)] = &cp
	return nil
}

func newTestRegistry(t *testing.T, opts Options, accounts ...string) (*Registry, *memStore) {
	t.Helper()
	store := newMemStore()
	r := New(store, opts)
	for _, name := range accounts {
		require.NoError(t, r.RegisterAccount(&chandb.Account{Name: name, Registered: time.Unix(1000, 0)}))
	}
	return r, store
}

func TestRegisterChannelCountsFounder(t *testing.T) {
	r, store := newTestRegistry(t, Options{}, "alice")

	ch, err := r.RegisterChannel("#Test", "ALICE", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice", ch.Founder, "founder takes the account's own spelling")
	assert.Equal(t, 1, r.FoundedCount("alice"))
	assert.Contains(t, store.channels, "#test")

	_, err = r.RegisterChannel("#test", "alice", time.Now())
	assert.ErrorIs(t, err, ErrExists)

	_, err = r.RegisterChannel("#other", "nobody", time.Now())
	assert.ErrorIs(t, err, ErrNoSuchAccount)
}

func TestUpdateIsAtomic(t *testing.T) {
	r, _ := newTestRegistry(t, Options{}, "alice")
	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.Update("#test", func(ch *chandb.Channel) error {
		ch.SetMeta("url", "http://x")
		ch.Flags |= chandb.ChanSecure
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ch, ok := r.Channel("#test")
	require.True(t, ok)
	_, has := ch.Meta("url")
	assert.False(t, has)
	assert.False(t, ch.HasFlag(chandb.ChanSecure))
}

func TestUpdatePersistFailureKeepsOldRecord(t *testing.T) {
	r, store := newTestRegistry(t, Options{}, "alice")
	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)

	store.fail = errors.New("disk full")
	err = r.Update("#test", func(ch *chandb.Channel) error {
		ch.Flags |= chandb.ChanVerbose
		return nil
	})
	assert.Error(t, err)

	ch, _ := r.Channel("#test")
	assert.False(t, ch.HasFlag(chandb.ChanVerbose))
}

func TestFounderChangeMovesCounter(t *testing.T) {
	r, _ := newTestRegistry(t, Options{}, "alice", "bob")
	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)

	err = r.Update("#test", func(ch *chandb.Channel) error {
		ch.SetRole(ch.Founder, chandb.RoleNone)
		ch.Founder = "bob"
		ch.SetRole("bob", chandb.RoleFounder)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, r.FoundedCount("alice"))
	assert.Equal(t, 1, r.FoundedCount("bob"))
}

func TestFounderLimitEnforcedOnUpdate(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxFounded: 1}, "alice", "bob")
	_, err := r.RegisterChannel("#one", "alice", time.Now())
	require.NoError(t, err)
	_, err = r.RegisterChannel("#two", "bob", time.Now())
	require.NoError(t, err)

	_, err = r.RegisterChannel("#three", "bob", time.Now())
	assert.ErrorIs(t, err, ErrFounderLimit)

	err = r.Update("#one", func(ch *chandb.Channel) error {
		ch.Founder = "bob"
		return nil
	})
	assert.ErrorIs(t, err, ErrFounderLimit)
	ch, _ := r.Channel("#one")
	assert.Equal(t, "alice", ch.Founder)

	r.SetOptions(Options{MaxFounded: 1, Exempt: func(a *chandb.Account) bool { return a.Name == "bob" }})
	err = r.Update("#one", func(ch *chandb.Channel) error {
		ch.Founder = "bob"
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, r.FoundedCount("bob"))
}

func TestConcurrentFounderChangesRespectLimit(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxFounded: 1}, "alice", "bob")
	for _, name := range []string{"#a", "#b", "#c", "#d"} {
		r.SetOptions(Options{})
		_, err := r.RegisterChannel(name, "alice", time.Now())
		require.NoError(t, err)
	}
	r.SetOptions(Options{MaxFounded: 1})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, name := range []string{"#a", "#b", "#c", "#d"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := r.Update(name, func(ch *chandb.Channel) error {
				ch.Founder = "bob"
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.FoundedCount("bob"))
	assert.Equal(t, 3, r.FoundedCount("alice"))
}

func TestDropChannel(t *testing.T) {
	r, store := newTestRegistry(t, Options{}, "alice")
	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.DropChannel("#TEST"))
	assert.Equal(t, 0, r.FoundedCount("alice"))
	assert.NotContains(t, store.channels, "#test")
	assert.ErrorIs(t, r.DropChannel("#test"), ErrNoSuchChannel)
	assert.ErrorIs(t, r.Update("#test", func(*chandb.Channel) error { return nil }), ErrNoSuchChannel)
}

func TestLoadRebuildsCounters(t *testing.T) {
	r := New(nil, Options{})
	now := time.Now()
	r.Load(
		[]*chandb.Account{{Name: "alice"}, {Name: "bob"}},
		[]*chandb.Channel{
			chandb.NewChannel("#a", "alice", now),
			chandb.NewChannel("#b", "alice", now),
			chandb.NewChannel("#c", "bob", now),
		},
	)
	assert.Equal(t, 2, r.FoundedCount("ALICE"))
	assert.Equal(t, 1, r.FoundedCount("bob"))
	assert.Equal(t, []string{"#a", "#b", "#c"}, r.ChannelNames())
}

func TestPendingCount(t *testing.T) {
	r, _ := newTestRegistry(t, Options{}, "alice", "bob")
	_, err := r.RegisterChannel("#a", "alice", time.Now())
	require.NoError(t, err)
	_, err = r.RegisterChannel("#b", "alice", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Update("#a", func(ch *chandb.Channel) error {
		ch.Pending = &chandb.PendingTransfer{Candidate: "bob", Since: time.Now()}
		return nil
	}))
	assert.Equal(t, 1, r.PendingCount())
}

func TestUpdateAccount(t *testing.T) {
	r, store := newTestRegistry(t, Options{}, "alice")
	require.NoError(t, r.UpdateAccount("ALICE", func(a *chandb.Account) {
		a.Flags |= chandb.AccountNoOp
	}))
	a, ok := r.Account("alice")
	require.True(t, ok)
	assert.True(t, a.Has(chandb.AccountNoOp))
	assert.True(t, store.accounts["alice"].Has(chandb.AccountNoOp))

	assert.ErrorIs(t, r.UpdateAccount("nobody", func(*chandb.Account) {}), ErrNoSuchAccount)
}

func TestCanFound(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxFounded: 1}, "alice")
	require.NoError(t, r.CanFound("alice"))

	_, err := r.RegisterChannel("#test", "alice", time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, r.CanFound("ALICE"), ErrFounderLimit)
	assert.ErrorIs(t, r.CanFound("nobody"), ErrNoSuchAccount)
}
