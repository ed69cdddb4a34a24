package chanserv

import (
	"context"
	"fmt"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
)

func (s *Service) setSuccessor(ctx context.Context, src *source, name, params string) error {
	if !chandb.ValidChannelName(name) {
		return invalidParams("SUCCESSOR")
	}
	if src.acct == nil {
		return fail(fault.NoPrivs, "You are not logged in.")
	}
	target, _ := nextWord(params)
	clearing := strings.EqualFold(target, "OFF") || strings.EqualFold(target, "NONE")

	var (
		chName   string
		previous string
		next     string
	)
	err := s.update(name, func(ch *chandb.Channel) error {
		chName = ch.Name
		if !ch.IsFounder(src.acct.Name) {
			return fail(fault.NoPrivs, "You are not authorized to perform this operation.")
		}
		previous = ch.Successor

		if clearing {
			if ch.Successor == "" {
				return fail(fault.Conflict, "There is no successor set for \x02%s\x02.", ch.Name)
			}
			ch.SetRole(ch.Successor, chandb.RoleNone)
			ch.Successor = ""
			return nil
		}

		tacct, ok := s.reg.Account(target)
		if !ok {
			return fail(fault.NoSuchTarget, "\x02%s\x02 is not registered.", target)
		}
		if tacct.Has(chandb.AccountNoOp) {
			return fail(fault.Conflict, "\x02%s\x02 does not wish to be added to access lists.", tacct.Name)
		}
		if ch.IsSuccessor(tacct.Name) {
			return fail(fault.Conflict, "\x02%s\x02 is already the successor of \x02%s\x02.", tacct.Name, ch.Name)
		}
		if ch.IsFounder(tacct.Name) {
			return fail(fault.Conflict, "\x02%s\x02 is the founder of \x02%s\x02.", tacct.Name, ch.Name)
		}
		if ch.Successor != "" {
			ch.SetRole(ch.Successor, chandb.RoleNone)
		}
		ch.SetRole(tacct.Name, chandb.RoleSuccessor)
		ch.Successor = tacct.Name
		next = tacct.Name
		return nil
	})
	if err != nil {
		return err
	}

	if previous != "" {
		s.tell(previous, "You (%s) are no longer the successor of \x02%s\x02.", previous, chName)
	}
	if clearing {
		s.record(ctx, src, audit.Entry{Action: "SET:SUCCESSOR:NONE", Channel: chName, Detail: previous})
		s.reply(src, "\x02%s\x02 is no longer the successor of \x02%s\x02.", previous, chName)
		return nil
	}

	s.record(ctx, src, audit.Entry{Action: "SET:SUCCESSOR", Channel: chName,
		Detail: fmt.Sprintf("%s -> %s", chName, next)})
	s.reply(src, "\x02%s\x02 is now the successor of \x02%s\x02.", next, chName)
	s.tell(next, "\x02%s\x02 has set you (%s) as the successor of \x02%s\x02.", src.acct.Name, next, chName)
	return nil
}
