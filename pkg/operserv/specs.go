package operserv

import (
	"context"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/privs"
)

// cmdSpecs handles SPECS [USER <nick> | OPERCLASS <class>].
func (s *Service) cmdSpecs(ctx context.Context, src *source, params string) error {
	if !s.privs.HasAny(src.user, src.acct) {
		return fault.New(fault.NoPrivs, "You are not authorized to use %s.", s.nick)
	}

	kind, rest := nextWord(params)
	if kind == "" {
		s.report(src, "Privileges for \x02"+src.user.Nick+"\x02:", func(p string) bool {
			return s.privs.Has(src.user, src.acct, p)
		})
		s.record(ctx, src, audit.Entry{Action: "SPECS"})
		return nil
	}

	if !s.privs.Has(src.user, src.acct, privs.ViewPrivs) {
		return fault.New(fault.NoPrivs, "You do not have the \x02%s\x02 privilege.", privs.ViewPrivs)
	}
	target, _ := nextWord(rest)
	if target == "" {
		target = "?"
	}

	switch strings.ToUpper(kind) {
	case "USER":
		tu, ok := s.net.User(target)
		if !ok {
			return fault.New(fault.NoSuchTarget, "\x02%s\x02 is not on IRC.", target)
		}
		if tu.Internal {
			return fault.New(fault.NoPrivs, "\x02%s\x02 is an internal client.", tu.Nick)
		}
		tacct := s.accountOf(tu)
		if !s.privs.HasAny(tu, tacct) {
			s.reply(src, "\x02%s\x02 is unprivileged.", tu.Nick)
			return nil
		}
		s.report(src, "Privileges for \x02"+tu.Nick+"\x02:", func(p string) bool {
			return s.privs.Has(tu, tacct, p)
		})
		s.record(ctx, src, audit.Entry{Action: "SPECS:USER", Detail: tu.Nick})
	case "OPERCLASS", "CLASS":
		cl, ok := s.privs.Class(target)
		if !ok {
			return fault.New(fault.NoSuchTarget, "No such oper class \x02%s\x02.", target)
		}
		s.report(src, "Privileges for oper class \x02"+cl.Name+"\x02:", cl.Has)
		s.record(ctx, src, audit.Entry{Action: "SPECS:OPERCLASS", Detail: cl.Name})
	default:
		return fault.New(fault.BadParams, "Valid target types: USER, OPERCLASS.")
	}
	return nil
}

func (s *Service) report(src *source, header string, has func(string) bool) {
	s.reply(src, "%s", header)
	for _, g := range privs.Describe(has) {
		s.reply(src, "\x02%s\x02: %s", g.Category, strings.Join(g.Items, ", "))
	}
	s.reply(src, "End of privileges")
}
