// Package operserv implements the operator services commands. It
// currently offers the SPECS privilege report.
package operserv

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/helpfile"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/rs/zerolog/log"
)

// Network is the part of the live network OperServ reads.
type Network interface {
	User(nick string) (*chandb.User, bool)
	Notice(source, nick, text string)
}

// Service is the OperServ command handler.
type Service struct {
	nick  string
	reg   *registry.Registry
	privs *privs.Registry
	net   Network
	audit *audit.Recorder

	onCommand func(command, outcome string)
}

// New creates a service answering as nick.
func New(nick string, reg *registry.Registry, pr *privs.Registry, net Network, rec *audit.Recorder) *Service {
	if nick == "" {
		nick = "OperServ"
	}
	return &Service{nick: nick, reg: reg, privs: pr, net: net, audit: rec}
}

// Nick returns the service nick.
func (s *Service) Nick() string {
	return s.nick
}

// OnCommand installs a hook called once per command with its name and
// outcome, as for ChanServ.
func (s *Service) OnCommand(fn func(command, outcome string)) {
	s.onCommand = fn
}

type source struct {
	user *chandb.User
	acct *chandb.Account
}

type handler func(s *Service, ctx context.Context, src *source, params string) error

var commands = map[string]handler{
	"SPECS": (*Service).cmdSpecs,
	"HELP":  (*Service).cmdHelp,
}

// Handle runs one command line sent to the service by nick.
func (s *Service) Handle(ctx context.Context, nick, line string) {
	u, ok := s.net.User(nick)
	if !ok {
		log.Warn().Str("component", "operserv").Str("nick", nick).Msg("command from unknown user")
		return
	}
	src := &source{user: u, acct: s.accountOf(u)}

	cmd, rest := nextWord(line)
	cmd = strings.ToUpper(cmd)
	h, ok := commands[cmd]
	if !ok {
		s.reply(src, "Invalid command. Use \x02/msg %s HELP\x02 for a command listing.", s.nick)
		s.count("UNKNOWN", "badparams")
		return
	}

	err := h(s, ctx, src, rest)
	var ferr *fault.Error
	switch {
	case err == nil:
		s.count(cmd, "ok")
	case errors.As(err, &ferr):
		s.reply(src, "%s", ferr.Msg)
		if ferr.Fault == fault.NoPrivs {
			s.record(ctx, src, audit.Entry{Action: cmd, Detail: ferr.Msg, Denied: true})
		}
		s.count(cmd, ferr.Fault.String())
	default:
		log.Error().Err(err).Str("component", "operserv").Str("nick", nick).Str("command", cmd).Msg("command failed")
		s.reply(src, "An internal error occurred. Please try again later.")
		s.count(cmd, "error")
	}
}

func (s *Service) accountOf(u *chandb.User) *chandb.Account {
	if !u.LoggedIn() {
		return nil
	}
	a, _ := s.reg.Account(u.Account)
	return a
}

func (s *Service) count(command, outcome string) {
	if s.onCommand != nil {
		s.onCommand(command, outcome)
	}
}

func (s *Service) reply(src *source, format string, args ...any) {
	s.net.Notice(s.nick, src.user.Nick, fmt.Sprintf(format, args...))
}

func (s *Service) record(ctx context.Context, src *source, e audit.Entry) {
	if s.audit == nil {
		return
	}
	e.Service = s.nick
	e.Actor = src.user.Nick
	if src.acct != nil {
		e.Account = src.acct.Name
	}
	s.audit.Record(ctx, e)
}

//go:embed help/operserv.txt
var helpText string

var helpEntries = helpfile.MustParse(helpText)

func (s *Service) cmdHelp(_ context.Context, src *source, params string) error {
	text := helpEntries.Lookup(params)
	if text == "" {
		return fault.New(fault.NoSuchTarget, "No help available for \x02%s\x02.", strings.ToUpper(strings.TrimSpace(params)))
	}
	s.reply(src, "***** \x02%s Help\x02 *****", s.nick)
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			line = " "
		}
		s.reply(src, "%s", line)
	}
	s.reply(src, "***** \x02End of Help\x02 *****")
	return nil
}

func nextWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " ")
	word, rest, _ = strings.Cut(s, " ")
	return word, strings.TrimLeft(rest, " ")
}
