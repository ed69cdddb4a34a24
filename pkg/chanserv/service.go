// Package chanserv implements the channel services command set: channel
// registration and the SET family (founder transfer, mode lock, flags,
// successor and channel attributes), plus the join and keep-topic hooks.
package chanserv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/rs/zerolog/log"
)

// Network is the live network as seen by the service.
type Network interface {
	User(nick string) (*chandb.User, bool)
	SessionsOf(account string) []string
	ServiceTopic(source, channel, setter, text string, ts time.Time) bool
	RecheckModes(source, channel string, lock chandb.ModeLock) string
	Notice(source, nick, text string)
	Numeric(nick string, num int, channel, text string)
}

// Policy holds the reloadable tunables of the service.
type Policy struct {
	Nick string // Service nick used as the notice source
	// Table maps mode letters for MLOCK.
	Table *modes.Table
	// OperOnlyModes may only be locked by holders of chan:cmodes.
	OperOnlyModes chandb.ModeBits
	// TransferExpiry bounds how long a founder transfer stays open.
	// Zero keeps transfers open until confirmed or cancelled.
	TransferExpiry time.Duration
}

// Service is the ChanServ command handler.
type Service struct {
	reg    *registry.Registry
	privs  *privs.Registry
	net    Network
	audit  *audit.Recorder
	policy atomic.Pointer[Policy]
	now    func() time.Time

	onCommand func(command string, outcome string)
}

// New creates a service.
func New(reg *registry.Registry, pr *privs.Registry, net Network, rec *audit.Recorder, p Policy) *Service {
	s := &Service{
		reg:   reg,
		privs: pr,
		net:   net,
		audit: rec,
		now:   time.Now,
	}
	s.SetPolicy(p)
	return s
}

// SetPolicy replaces the tunables.
func (s *Service) SetPolicy(p Policy) {
	if p.Table == nil {
		p.Table = modes.DefaultTable()
	}
	if p.Nick == "" {
		p.Nick = "ChanServ"
	}
	s.policy.Store(&p)
}

// Policy returns the current tunables.
func (s *Service) Policy() Policy {
	return *s.policy.Load()
}

// Nick returns the service nick.
func (s *Service) Nick() string {
	return s.policy.Load().Nick
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnCommand installs a hook called once per command with the command
// name (e.g. "SET:MLOCK") and its outcome ("ok", a fault name, or
// "error").
func (s *Service) OnCommand(fn func(command, outcome string)) {
	s.onCommand = fn
}

// source is the invoker of a command.
type source struct {
	user *chandb.User
	acct *chandb.Account // nil if not logged in
}

func (src *source) account() string {
	if src.acct == nil {
		return ""
	}
	return src.acct.Name
}

type handler func(s *Service, ctx context.Context, src *source, params string) error

var commands = map[string]handler{
	"REGISTER": (*Service).cmdRegister,
	"HELP":     (*Service).cmdHelp,
}

// Handle runs one command line sent to the service by nick.
func (s *Service) Handle(ctx context.Context, nick, line string) {
	u, ok := s.net.User(nick)
	if !ok {
		log.Warn().Str("component", "chanserv").Str("nick", nick).Msg("command from unknown user")
		return
	}
	src := &source{user: u}
	if u.LoggedIn() {
		if a, ok := s.reg.Account(u.Account); ok {
			src.acct = a
		}
	}

	cmd, rest := nextWord(line)
	cmd = strings.ToUpper(cmd)
	if cmd == "SET" {
		s.cmdSet(ctx, src, rest)
		return
	}
	h, ok := commands[cmd]
	if !ok {
		s.reply(src, "Invalid command. Use \x02/msg %s HELP\x02 for a command listing.", s.Nick())
		s.count("UNKNOWN", "badparams")
		return
	}
	s.finish(ctx, src, cmd, "", h(s, ctx, src, rest))
}

// finish reports the result of a command to the invoker and the
// command hook. Rejections due to missing privileges are audited.
func (s *Service) finish(ctx context.Context, src *source, action, channel string, err error) {
	var cerr *fault.Error
	switch {
	case err == nil:
		s.count(action, "ok")
	case errors.As(err, &cerr):
		for _, line := range strings.Split(cerr.Msg, "\n") {
			s.reply(src, "%s", line)
		}
		if cerr.Fault == fault.NoPrivs {
			s.record(ctx, src, audit.Entry{Action: action, Channel: channel, Detail: cerr.Msg, Denied: true})
		}
		s.count(action, cerr.Fault.String())
	default:
		log.Error().Err(err).Str("component", "chanserv").
			Str("nick", src.user.Nick).Str("action", action).Str("channel", channel).
			Msg("command failed")
		s.reply(src, "An internal error occurred. Please try again later.")
		s.count(action, "error")
	}
}

func (s *Service) count(action, outcome string) {
	if s.onCommand != nil {
		s.onCommand(action, outcome)
	}
}

func (s *Service) reply(src *source, format string, args ...any) {
	s.net.Notice(s.Nick(), src.user.Nick, fmt.Sprintf(format, args...))
}

// tell sends a notice to every online session of account.
func (s *Service) tell(account, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	for _, nick := range s.net.SessionsOf(account) {
		s.net.Notice(s.Nick(), nick, text)
	}
}

func (s *Service) record(ctx context.Context, src *source, e audit.Entry) {
	if s.audit == nil {
		return
	}
	e.Service = s.Nick()
	e.Actor = src.user.Nick
	e.Account = src.account()
	s.audit.Record(ctx, e)
}

// update runs fn on the named channel inside its critical section.
// errNoChange is treated as success.
func (s *Service) update(name string, fn func(ch *chandb.Channel) error) error {
	err := s.reg.Update(name, fn)
	switch {
	case err == nil, errors.Is(err, errNoChange):
		return nil
	case errors.Is(err, registry.ErrNoSuchChannel):
		return notRegistered(name)
	}
	return err
}

// nextWord splits off the first space-delimited word of s.
func nextWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " ")
	word, rest, _ = strings.Cut(s, " ")
	return word, strings.TrimLeft(rest, " ")
}
