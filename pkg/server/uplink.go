package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/crystal-mush/gochanserv/pkg/network"
	"github.com/rs/zerolog/log"
)

// maxLineLen bounds one protocol line from the uplink.
const maxLineLen = 4096

// Uplink accepts connections from a trusted uplink server and speaks a
// small line protocol with it: network events come in, notices,
// numerics, topics and modes go out.
type Uplink struct {
	svc *Services
	now func() time.Time
}

// NewUplink creates an uplink listener for svc.
func NewUplink(svc *Services) *Uplink {
	return &Uplink{svc: svc, now: time.Now}
}

// ListenAndServe accepts uplink connections on addr until ctx is done.
func (u *Uplink) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("uplink listener: %w", err)
	}
	return u.Serve(ctx, ln)
}

// Serve accepts uplink connections on ln until ctx is done.
func (u *Uplink) Serve(ctx context.Context, ln net.Listener) error {
	log.Info().Str("component", "uplink").Str("addr", ln.Addr().String()).Msg("listening for uplink")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Str("component", "uplink").Msg("accept error")
			continue
		}
		go u.handleConn(ctx, conn)
	}
}

func (u *Uplink) handleConn(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	log.Info().Str("component", "uplink").Str("remote", addr).Msg("uplink connected")

	out := newLineWriter(conn)
	u.svc.Bus.SubscribeGlobal(out)
	defer func() {
		out.close()
		u.svc.Bus.Cleanup()
		conn.Close()
		log.Info().Str("component", "uplink").Str("remote", addr).Msg("uplink disconnected")
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), maxLineLen)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := u.handleLine(ctx, out, line); err != nil {
			log.Warn().Err(err).Str("component", "uplink").Str("line", line).Msg("bad uplink line")
			out.writeLine("ERROR :" + err.Error())
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Str("component", "uplink").Str("remote", addr).Msg("uplink read error")
	}
}

// message is one parsed protocol line.
type message struct {
	Source  string
	Command string
	Params  []string
}

// parseLine splits ":source COMMAND a b :trailing text".
func parseLine(line string) (message, error) {
	var m message
	if strings.HasPrefix(line, ":") {
		src, rest, ok := strings.Cut(line[1:], " ")
		if !ok || src == "" {
			return m, fmt.Errorf("missing command")
		}
		m.Source, line = src, rest
	}
	line = strings.TrimLeft(line, " ")
	head, trailing, hasTrailing := strings.Cut(line, " :")
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return m, fmt.Errorf("missing command")
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	if hasTrailing {
		m.Params = append(m.Params, trailing)
	}
	return m, nil
}

func (m message) need(n int) error {
	if len(m.Params) < n {
		return fmt.Errorf("%s: need %d parameters", m.Command, n)
	}
	return nil
}

func (m message) needSource() error {
	if m.Source == "" {
		return fmt.Errorf("%s: missing source", m.Command)
	}
	return nil
}

func (u *Uplink) handleLine(ctx context.Context, out *lineWriter, line string) error {
	m, err := parseLine(line)
	if err != nil {
		return err
	}
	nw := u.svc.Network

	switch m.Command {
	case "PING":
		out.writeLine("PONG :" + strings.Join(m.Params, " "))
		return nil
	case "ACCOUNT":
		// ACCOUNT name [class=<class>] [noop|-noop]
		if err := m.need(1); err != nil {
			return err
		}
		ch, err := parseAccountChange(m.Params[1:])
		if err != nil {
			return err
		}
		return u.svc.SetAccount(m.Params[0], ch, u.now())
	case "DESTROY":
		if err := m.need(1); err != nil {
			return err
		}
		nw.Destroy(m.Params[0])
		return nil
	case "BURST":
		// BURST #chan +modes [args]: an existing channel and its full
		// mode state, sent when the uplink links.
		if err := m.need(2); err != nil {
			return err
		}
		if !chandb.ValidChannelName(m.Params[0]) {
			return fmt.Errorf("BURST: invalid channel %q", m.Params[0])
		}
		tbl, err := u.svc.Conf().ModeTable()
		if err != nil {
			return err
		}
		st := modes.ApplyChange(modes.State{}, m.Params[1], m.Params[2:], tbl)
		if live, created := nw.Burst(m.Params[0], st); !created {
			u.svc.ChanServ.EnforceMLock(live)
		}
		return nil
	}

	if err := m.needSource(); err != nil {
		return err
	}
	switch m.Command {
	case "USER":
		if err := m.need(1); err != nil {
			return err
		}
		usr := chandb.User{Nick: m.Source}
		if m.Params[0] != "*" {
			usr.Account = m.Params[0]
		}
		for _, f := range m.Params[1:] {
			switch strings.ToLower(f) {
			case "oper":
				usr.Oper = true
			case "internal":
				usr.Internal = true
			}
		}
		nw.Introduce(usr)
	case "QUIT":
		nw.Quit(m.Source)
	case "PRIVMSG":
		if err := m.need(2); err != nil {
			return err
		}
		if _, ok := nw.User(m.Source); !ok {
			return fmt.Errorf("PRIVMSG from unknown user %s", m.Source)
		}
		u.svc.Dispatch(ctx, m.Source, m.Params[0], m.Params[1])
	case "CREATE", "JOIN":
		if err := m.need(1); err != nil {
			return err
		}
		if !chandb.ValidChannelName(m.Params[0]) {
			return fmt.Errorf("%s: invalid channel %q", m.Command, m.Params[0])
		}
		nw.Join(m.Source, m.Params[0])
	case "PART":
		if err := m.need(1); err != nil {
			return err
		}
		nw.Part(m.Source, m.Params[0])
	case "TOPIC":
		if err := m.need(2); err != nil {
			return err
		}
		nw.UserTopic(m.Params[0], m.Source, m.Params[1], u.now())
	case "MODE":
		if err := m.need(2); err != nil {
			return err
		}
		if nw.ApplyModes(m.Params[0], m.Params[1], m.Params[2:]) {
			if live, ok := nw.Channel(m.Params[0]); ok {
				u.svc.ChanServ.EnforceMLock(live)
			}
		}
	default:
		return fmt.Errorf("unknown command %s", m.Command)
	}
	return nil
}

func parseAccountChange(opts []string) (AccountChange, error) {
	var ch AccountChange
	for _, opt := range opts {
		switch lower := strings.ToLower(opt); {
		case strings.HasPrefix(lower, "class="):
			class := opt[len("class="):]
			ch.Class = &class
		case lower == "noop", lower == "-noop":
			on := lower == "noop"
			ch.NoOp = &on
		default:
			return ch, fmt.Errorf("ACCOUNT: unknown option %q", opt)
		}
	}
	return ch, nil
}

// lineWriter encodes bus events as protocol lines on one connection.
type lineWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	conn   net.Conn
	closed bool
}

func newLineWriter(conn net.Conn) *lineWriter {
	return &lineWriter{w: bufio.NewWriter(conn), conn: conn}
}

// Receive implements events.Subscriber.
func (lw *lineWriter) Receive(ev events.Event) {
	if line, ok := encodeEvent(ev); ok {
		lw.writeLine(line)
	}
}

// Closed implements events.Subscriber.
func (lw *lineWriter) Closed() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.closed
}

func (lw *lineWriter) close() {
	lw.mu.Lock()
	lw.closed = true
	lw.mu.Unlock()
}

func (lw *lineWriter) writeLine(line string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return
	}
	lw.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	lw.w.WriteString(line)
	lw.w.WriteString("\r\n")
	if err := lw.w.Flush(); err != nil {
		log.Warn().Err(err).Str("component", "uplink").Msg("write failed")
		lw.closed = true
	}
}

// encodeEvent renders an event as an outbound line. Audit events have
// no wire form.
func encodeEvent(ev events.Event) (string, bool) {
	switch ev.Type {
	case events.EvNotice:
		return fmt.Sprintf(":%s NOTICE %s :%s", ev.Source, ev.Target, ev.Text), true
	case events.EvNumeric:
		return fmt.Sprintf(":%s %s %s %s :%s", ev.Source, network.FormatNumeric(ev.Numeric), ev.Target, ev.Channel, ev.Text), true
	case events.EvTopic:
		setter, _ := ev.Data["setter"].(string)
		var ts int64
		if v, ok := ev.Data["ts"].(int64); ok {
			ts = v
		}
		return fmt.Sprintf(":%s TOPIC %s %s %s :%s", ev.Source, ev.Channel, setter, strconv.FormatInt(ts, 10), ev.Text), true
	case events.EvMode:
		return fmt.Sprintf(":%s MODE %s %s", ev.Source, ev.Channel, ev.Text), true
	}
	return "", false
}
