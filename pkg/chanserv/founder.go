package chanserv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/registry"
)

type transferStep int

const (
	stepNominated transferStep = iota + 1
	stepCancelled
	stepCompleted
	stepAlreadyFounder
)

// livePending returns the channel's pending transfer if it is still
// valid for candidate: not expired and not older than the candidate's
// account.
func (s *Service) livePending(ch *chandb.Channel, candidate *chandb.Account, now time.Time) *chandb.PendingTransfer {
	p := ch.Pending
	if p == nil || s.expired(p, now) {
		return nil
	}
	if candidate != nil && p.Since.Before(candidate.Registered) {
		return nil
	}
	return p
}

func (s *Service) expired(p *chandb.PendingTransfer, now time.Time) bool {
	ttl := s.Policy().TransferExpiry
	return ttl > 0 && now.Sub(p.Since) > ttl
}

// setFounder drives the two-step founder transfer:
//
//	founder:   SET #chan FOUNDER newfounder   nominate (or supersede)
//	candidate: SET #chan FOUNDER newfounder   confirm
//	founder:   SET #chan FOUNDER founder      cancel
func (s *Service) setFounder(ctx context.Context, src *source, name, params string) error {
	if src.acct == nil {
		return fail(fault.NoPrivs, "You are not logged in.")
	}
	target, _ := nextWord(params)
	if target == "" {
		return fail(fault.BadParams, "Insufficient parameters specified for \x02FOUNDER\x02.\nUsage: SET <#channel> FOUNDER <new founder>")
	}
	if !chandb.ValidChannelName(name) {
		return invalidParams("FOUNDER")
	}
	tacct, ok := s.reg.Account(target)
	if !ok {
		return fail(fault.NoSuchTarget, "\x02%s\x02 is not registered.", target)
	}

	now := s.now()
	var (
		step       transferStep
		chName     string
		oldFounder string
		superseded bool
	)
	err := s.update(name, func(ch *chandb.Channel) error {
		chName = ch.Name
		oldFounder = ch.Founder

		if !ch.IsFounder(src.acct.Name) {
			p := s.livePending(ch, tacct, now)
			if !chandb.Equal(src.acct.Name, tacct.Name) || p == nil || !chandb.Equal(p.Candidate, tacct.Name) {
				return fail(fault.NoPrivs, "You are not the founder of \x02%s\x02.", ch.Name)
			}
			if err := s.reg.CanFound(tacct.Name); err != nil {
				return s.founderLimitError(tacct.Name, err)
			}
			if ch.IsClosed() {
				return fail(fault.Conflict, "\x02%s\x02 is closed; it cannot be transferred.", ch.Name)
			}
			ch.SetRole(ch.Founder, chandb.RoleNone)
			ch.SetRole(tacct.Name, chandb.RoleFounder)
			if ch.IsSuccessor(tacct.Name) {
				ch.Successor = ""
			}
			ch.Founder = tacct.Name
			ch.Pending = nil
			step = stepCompleted
			return nil
		}

		if ch.IsFounder(tacct.Name) {
			if ch.Pending == nil {
				return fail(fault.Conflict, "\x02%s\x02 is already the founder of \x02%s\x02.", tacct.Name, ch.Name)
			}
			// An expired record is dropped without being reported as a
			// cancellation.
			if s.expired(ch.Pending, now) {
				step = stepAlreadyFounder
			} else {
				step = stepCancelled
			}
			ch.Pending = nil
			return nil
		}

		superseded = s.livePending(ch, nil, now) != nil
		ch.Pending = &chandb.PendingTransfer{Candidate: tacct.Name, Since: now}
		step = stepNominated
		return nil
	})
	if errors.Is(err, registry.ErrFounderLimit) {
		return s.founderLimitError(tacct.Name, err)
	}
	if err != nil {
		return err
	}

	nick := s.Nick()
	switch step {
	case stepCompleted:
		s.record(ctx, src, audit.Entry{Action: "SET:FOUNDER", Channel: chName,
			Detail: fmt.Sprintf("%s -> %s", oldFounder, tacct.Name)})
		s.reply(src, "Transfer complete: \x02%s\x02 has been set as founder for \x02%s\x02.", tacct.Name, chName)
		s.tell(oldFounder, "\x02%s\x02 has accepted the transfer of \x02%s\x02 and is now its founder.", tacct.Name, chName)

	case stepCancelled:
		s.record(ctx, src, audit.Entry{Action: "SET:FOUNDER:CANCEL", Channel: chName})
		s.reply(src, "The transfer of \x02%s\x02 has been cancelled.", chName)

	case stepAlreadyFounder:
		return fail(fault.Conflict, "\x02%s\x02 is already the founder of \x02%s\x02.", tacct.Name, chName)

	case stepNominated:
		if superseded {
			s.reply(src, "The previous transfer request for \x02%s\x02 has been cancelled.", chName)
		}
		s.record(ctx, src, audit.Entry{Action: "SET:FOUNDER:PENDING", Channel: chName,
			Detail: fmt.Sprintf("%s -> %s", oldFounder, tacct.Name)})
		s.reply(src, "\x02%s\x02 can now take ownership of \x02%s\x02.", tacct.Name, chName)
		s.reply(src, "In order to complete the transfer, \x02%s\x02 must perform the following command:", tacct.Name)
		s.reply(src, "   \x02/msg %s SET %s FOUNDER %s\x02", nick, chName, tacct.Name)
		s.reply(src, "After that command is issued, the channel will be transferred.")
		s.reply(src, "To cancel the transfer, use \x02/msg %s SET %s FOUNDER %s\x02", nick, chName, oldFounder)
		s.tell(tacct.Name, "\x02%s\x02 wants to transfer ownership of \x02%s\x02 to you (%s).", src.acct.Name, chName, tacct.Name)
		s.tell(tacct.Name, "To accept, use \x02/msg %s SET %s FOUNDER %s\x02", nick, chName, tacct.Name)
	}
	return nil
}

func (s *Service) founderLimitError(account string, err error) error {
	if errors.Is(err, registry.ErrFounderLimit) {
		return fail(fault.Conflict, "\x02%s\x02 has too many channels registered.", account)
	}
	return err
}
