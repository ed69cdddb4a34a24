package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures bus events, like a connected uplink would.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) Closed() bool { return false }

func (r *recorder) notices(nick string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.evs {
		if ev.Type == events.EvNotice && chandb.Equal(ev.Target, nick) {
			out = append(out, strings.ReplaceAll(ev.Text, "\x02", ""))
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}

func newTestServices(t *testing.T, conf *ServicesConf, confPath string) (*Services, *recorder) {
	t.Helper()
	if conf == nil {
		conf = DefaultServicesConf()
	}
	reg := prometheus.NewRegistry()
	svc, err := NewServices(conf, Options{Registerer: reg, Gatherer: reg, ConfPath: confPath})
	require.NoError(t, err)
	rec := &recorder{}
	svc.Bus.SubscribeGlobal(rec)
	return svc, rec
}

func addUser(t *testing.T, svc *Services, nick, class string, oper bool) {
	t.Helper()
	require.NoError(t, svc.Registry.RegisterAccount(&chandb.Account{Name: nick, Registered: time.Now(), OperClass: class}))
	svc.Network.Introduce(chandb.User{Nick: nick, Account: nick, Oper: oper})
}

func TestServicesIntroducesPseudoClients(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	for _, nick := range []string{"ChanServ", "OperServ"} {
		u, ok := svc.Network.User(nick)
		require.True(t, ok, nick)
		assert.True(t, u.Internal)
	}
}

func TestDispatchRoutesByNick(t *testing.T) {
	svc, rec := newTestServices(t, nil, "")
	addUser(t, svc, "alice", "", false)

	assert.True(t, svc.Dispatch(context.Background(), "alice", "chanserv", "REGISTER #test"))
	assert.Equal(t, []string{"#test is now registered to alice."}, rec.notices("alice"))

	rec.reset()
	assert.True(t, svc.Dispatch(context.Background(), "alice", "OperServ", "SPECS"))
	assert.Equal(t, []string{"You are not authorized to use OperServ."}, rec.notices("alice"))

	assert.False(t, svc.Dispatch(context.Background(), "alice", "NickServ", "HELP"))
}

func TestApplyReloadsTunables(t *testing.T) {
	svc, rec := newTestServices(t, nil, "")
	addUser(t, svc, "alice", "", false)

	conf := DefaultServicesConf()
	conf.MaxChannelsPerAccount = 1
	conf.TransferExpiry = time.Hour
	conf.OperOnlyModes = "S"
	conf.ChanServNick = "Renamed"
	require.NoError(t, svc.Apply(conf))

	assert.Equal(t, "ChanServ", svc.ChanServ.Nick(), "identity is fixed until restart")
	assert.Equal(t, time.Hour, svc.ChanServ.Policy().TransferExpiry)
	assert.Equal(t, 1, svc.Conf().MaxChannelsPerAccount)

	ctx := context.Background()
	svc.Dispatch(ctx, "alice", "ChanServ", "REGISTER #one")
	rec.reset()
	svc.Dispatch(ctx, "alice", "ChanServ", "REGISTER #two")
	assert.Equal(t, []string{"You have too many channels registered."}, rec.notices("alice"))
}

func TestApplyReorderedModeLettersKeepsLocks(t *testing.T) {
	svc, rec := newTestServices(t, nil, "")
	addUser(t, svc, "alice", "", false)
	ctx := context.Background()
	svc.Dispatch(ctx, "alice", "ChanServ", "REGISTER #test")
	svc.Dispatch(ctx, "alice", "ChanServ", "SET #test MLOCK +nt-s")
	ch, ok := svc.Registry.Channel("#test")
	require.True(t, ok)
	before := modes.Summary(ch.MLock, modes.DefaultTable())
	require.Equal(t, "+nt-s", before)

	conf := DefaultServicesConf()
	conf.ModeLetters = "cimnpstrCOS"
	require.NoError(t, svc.Apply(conf))

	tbl, err := svc.Conf().ModeTable()
	require.NoError(t, err)
	ch, ok = svc.Registry.Channel("#test")
	require.True(t, ok)
	assert.Equal(t, before, modes.Summary(ch.MLock, tbl))

	rec.reset()
	svc.Network.Join("alice", "#test")
	var changes []string
	for _, ev := range rec.evs {
		if ev.Type == events.EvMode {
			changes = append(changes, ev.Text)
		}
	}
	assert.Equal(t, []string{"+nt"}, changes)
}

func TestApplyAccountClasses(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	addUser(t, svc, "root", "", false)
	addUser(t, svc, "bob", "sra", false)

	conf := DefaultServicesConf()
	conf.AccountClasses = map[string]string{"ROOT": "sra", "ghost": "ircop"}
	require.NoError(t, svc.Apply(conf))

	root, _ := svc.Registry.Account("root")
	assert.Equal(t, "sra", root.OperClass)
	bob, _ := svc.Registry.Account("bob")
	assert.Equal(t, "sra", bob.OperClass, "unlisted accounts keep their class")
	_, ok := svc.Registry.Account("ghost")
	assert.False(t, ok, "listed accounts are not created")

	conf.AccountClasses["ROOT"] = "nosuch"
	assert.Error(t, svc.Apply(conf))
	root, _ = svc.Registry.Account("root")
	assert.Equal(t, "sra", root.OperClass)
}

func TestSetAccountRejectsUnknownClass(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	class := "nosuch"
	assert.Error(t, svc.SetAccount("alice", AccountChange{Class: &class}, time.Now()))
	_, ok := svc.Registry.Account("alice")
	assert.False(t, ok)
}

func TestApplyRejectsBadClasses(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	conf := DefaultServicesConf()
	conf.OperClasses["loop"] = conf.OperClasses["user"]
	c := conf.OperClasses["loop"]
	c.Extends = "loop"
	conf.OperClasses["loop"] = c

	assert.Error(t, svc.Apply(conf))
	_, ok := svc.Privs.Class("sra")
	assert.True(t, ok, "previous classes kept")
}

func TestNotifyOpers(t *testing.T) {
	svc, rec := newTestServices(t, nil, "")
	addUser(t, svc, "root", "sra", false)
	addUser(t, svc, "opal", "", true)
	addUser(t, svc, "bob", "", false)

	svc.NotifyOpers("hello staff")
	assert.Equal(t, []string{"hello staff"}, rec.notices("root"))
	assert.Empty(t, rec.notices("opal"), "ircop class lacks general:admin")
	assert.Empty(t, rec.notices("bob"))
}

func TestReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metadata_limit: 3\n"), 0o644))
	conf, err := LoadServicesConf(path)
	require.NoError(t, err)

	svc, rec := newTestServices(t, conf, path)
	addUser(t, svc, "root", "sra", false)

	require.NoError(t, os.WriteFile(path, []byte("metadata_limit: 7\n"), 0o644))
	require.NoError(t, svc.Reload())
	assert.Equal(t, 7, svc.Registry.MetadataLimit())
	assert.Equal(t, []string{"Configuration reloaded from services.yaml."}, rec.notices("root"))

	rec.reset()
	require.NoError(t, os.WriteFile(path, []byte("metadata_limit: -1\n"), 0o644))
	assert.Error(t, svc.Reload())
	assert.Equal(t, 7, svc.Registry.MetadataLimit())
	require.Len(t, rec.notices("root"), 1)
	assert.Contains(t, rec.notices("root")[0], "Configuration reload failed")
}

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metadata_limit: 3\n"), 0o644))
	conf, err := LoadServicesConf(path)
	require.NoError(t, err)
	svc, _ := newTestServices(t, conf, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.WatchConfig(ctx, 10*time.Millisecond))

	require.NoError(t, os.WriteFile(path, []byte("metadata_limit: 9\n"), 0o644))
	assert.Eventually(t, func() bool { return svc.Registry.MetadataLimit() == 9 }, 5*time.Second, 20*time.Millisecond)
}
