package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want message
	}{
		{"PING :abc", message{Command: "PING", Params: []string{"abc"}}},
		{":alice privmsg ChanServ :SET #test URL http://x", message{Source: "alice", Command: "PRIVMSG", Params: []string{"ChanServ", "SET #test URL http://x"}}},
		{":alice MODE #test +lk 5 key", message{Source: "alice", Command: "MODE", Params: []string{"#test", "+lk", "5", "key"}}},
		{":alice TOPIC #test :", message{Source: "alice", Command: "TOPIC", Params: []string{"#test", ""}}},
		{"ACCOUNT  bob", message{Command: "ACCOUNT", Params: []string{"bob"}}},
	}
	for _, tt := range tests {
		got, err := parseLine(tt.line)
		require.NoError(t, err, tt.line)
		if len(tt.want.Params) == 0 {
			tt.want.Params = []string{}
		}
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{":alice", ":", "   "} {
		_, err := parseLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Type: events.EvNotice, Source: "ChanServ", Target: "alice", Text: "hi there"}, ":ChanServ NOTICE alice :hi there"},
		{events.Event{Type: events.EvNumeric, Source: "services.int", Target: "bob", Channel: "#test", Numeric: 328, Text: "http://x"}, ":services.int 328 bob #test :http://x"},
		{events.Event{Type: events.EvTopic, Source: "ChanServ", Channel: "#test", Text: "hello", Data: map[string]any{"setter": "alice", "ts": int64(1700000000)}}, ":ChanServ TOPIC #test alice 1700000000 :hello"},
		{events.Event{Type: events.EvMode, Source: "ChanServ", Channel: "#test", Text: "+nt"}, ":ChanServ MODE #test +nt"},
	}
	for _, tt := range tests {
		got, ok := encodeEvent(tt.ev)
		require.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	_, ok := encodeEvent(events.Event{Type: events.EvAudit})
	assert.False(t, ok)
}

// uplinkConn is a test client standing in for the ircd.
type uplinkConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialUplink(t *testing.T, svc *Services) *uplinkConn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	up := NewUplink(svc)
	go up.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &uplinkConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *uplinkConn) send(format string, args ...any) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, format+"\r\n", args...)
	require.NoError(c.t, err)
}

func (c *uplinkConn) expect(want string) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "waiting for %q", want)
	assert.Equal(c.t, want, strings.TrimRight(line, "\r\n"))
}

func TestUplinkSession(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	c := dialUplink(t, svc)

	c.send("PING :hello")
	c.expect("PONG :hello")

	c.send("ACCOUNT alice")
	c.send(":alice USER alice")
	c.send(":alice PRIVMSG ChanServ :REGISTER #test")
	c.expect(":ChanServ NOTICE alice :\x02#test\x02 is now registered to \x02alice\x02.")

	c.send(":alice PRIVMSG ChanServ :SET #test MLOCK +nt")
	c.expect(":ChanServ NOTICE alice :The MLOCK for \x02#test\x02 has been set to \x02+nt\x02.")

	c.send(":alice JOIN #test")
	c.expect(":ChanServ MODE #test +nt")

	c.send(":alice MODE #test -t+i")
	c.expect(":ChanServ MODE #test +t")

	c.send(":alice PRIVMSG ChanServ :SET #test URL http://example.net")
	c.expect(":ChanServ NOTICE alice :The URL of \x02#test\x02 has been set to \x02http://example.net\x02.")

	c.send("ACCOUNT bob")
	c.send(":bob USER bob")
	c.send(":bob JOIN #test")
	c.expect(":services.int 328 bob #test :http://example.net")

	live, ok := svc.Network.Channel("#test")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, live.Members)
}

func TestUplinkKeepTopic(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	c := dialUplink(t, svc)

	c.send("ACCOUNT alice")
	c.send(":alice USER alice")
	c.send(":alice PRIVMSG ChanServ :REGISTER #test")
	c.expect(":ChanServ NOTICE alice :\x02#test\x02 is now registered to \x02alice\x02.")
	c.send(":alice PRIVMSG ChanServ :SET #test KEEPTOPIC ON")
	c.expect(":ChanServ NOTICE alice :The \x02KEEPTOPIC\x02 flag has been set for \x02#test\x02.")

	c.send(":alice JOIN #test")
	c.send(":alice TOPIC #test :welcome all")
	c.send(":alice PART #test")
	c.send(":alice JOIN #test")
	line := c.readLine()
	assert.True(t, strings.HasPrefix(line, ":ChanServ TOPIC #test alice "), line)
	assert.True(t, strings.HasSuffix(line, " :welcome all"), line)
}

func TestUplinkBurstEnforcesLock(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	c := dialUplink(t, svc)

	c.send("ACCOUNT alice")
	c.send(":alice USER alice")
	c.send(":alice PRIVMSG ChanServ :REGISTER #test")
	c.expect(":ChanServ NOTICE alice :\x02#test\x02 is now registered to \x02alice\x02.")
	c.send(":alice PRIVMSG ChanServ :SET #test MLOCK +n-s")
	c.expect(":ChanServ NOTICE alice :The MLOCK for \x02#test\x02 has been set to \x02+n-s\x02.")

	c.send("BURST #test +st")
	c.expect(":ChanServ MODE #test +n-s")
	c.send("BURST #test +s")
	c.expect(":ChanServ MODE #test +n-s")

	live, ok := svc.Network.Channel("#test")
	require.True(t, ok)
	assert.Equal(t, "n", modeLetters(t, svc, live.Modes.Modes))
}

func TestUplinkAccountOptions(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	c := dialUplink(t, svc)

	c.send("ACCOUNT staff class=sra")
	c.send("ACCOUNT carol noop")
	c.send("PING :sync")
	c.expect("PONG :sync")

	staff, ok := svc.Registry.Account("staff")
	require.True(t, ok)
	assert.Equal(t, "sra", staff.OperClass)
	assert.True(t, svc.Privs.AccountHas(staff, privs.ViewPrivs))

	c.send("ACCOUNT alice")
	c.send(":alice USER alice")
	c.send(":alice PRIVMSG ChanServ :REGISTER #test")
	c.expect(":ChanServ NOTICE alice :\x02#test\x02 is now registered to \x02alice\x02.")
	c.send(":alice PRIVMSG ChanServ :SET #test SUCCESSOR carol")
	c.expect(":ChanServ NOTICE alice :\x02carol\x02 does not wish to be added to access lists.")

	c.send("ACCOUNT carol -noop")
	c.send("ACCOUNT staff class=")
	c.send("PING :sync")
	c.expect("PONG :sync")
	carol, _ := svc.Registry.Account("carol")
	assert.False(t, carol.Has(chandb.AccountNoOp))
	staff, _ = svc.Registry.Account("staff")
	assert.Empty(t, staff.OperClass)

	c.send("ACCOUNT staff sra")
	c.expect(`ERROR :ACCOUNT: unknown option "sra"`)
	c.send("ACCOUNT staff class=nosuch")
	c.expect(`ERROR :no oper class "nosuch"`)
}

func TestUplinkAccountClassesFromConfig(t *testing.T) {
	conf := DefaultServicesConf()
	conf.AccountClasses = map[string]string{"Boss": "sra"}
	svc, _ := newTestServices(t, conf, "")
	c := dialUplink(t, svc)

	c.send("ACCOUNT boss")
	c.send("ACCOUNT other")
	c.send("PING :sync")
	c.expect("PONG :sync")

	boss, ok := svc.Registry.Account("boss")
	require.True(t, ok)
	assert.Equal(t, "sra", boss.OperClass)
	other, ok := svc.Registry.Account("other")
	require.True(t, ok)
	assert.Empty(t, other.OperClass)
}

func TestUplinkErrors(t *testing.T) {
	svc, _ := newTestServices(t, nil, "")
	c := dialUplink(t, svc)

	c.send("BOGUS")
	c.expect("ERROR :unknown command BOGUS")
	c.send("JOIN #test")
	c.expect("ERROR :JOIN: missing source")
	c.send(":ghost PRIVMSG ChanServ :HELP")
	c.expect("ERROR :PRIVMSG from unknown user ghost")
	c.send(":alice JOIN nochan")
	c.expect(`ERROR :JOIN: invalid channel "nochan"`)
	c.send("ACCOUNT")
	c.expect("ERROR :ACCOUNT: need 1 parameters")
}

func (c *uplinkConn) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func modeLetters(t *testing.T, svc *Services, bits chandb.ModeBits) string {
	t.Helper()
	tbl, err := svc.Conf().ModeTable()
	require.NoError(t, err)
	return tbl.Letters(bits)
}
