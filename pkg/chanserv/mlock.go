package chanserv

import (
	"context"
	"errors"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/crystal-mush/gochanserv/pkg/privs"
)

func (s *Service) setMLock(ctx context.Context, src *source, name, params string) error {
	letters, args := modes.ParseSpec(params)
	if !chandb.ValidChannelName(name) || letters == "" {
		return invalidParams("MLOCK")
	}

	pol := s.Policy()
	mask := pol.OperOnlyModes
	if s.privs.Has(src.user, src.acct, privs.ChanCModes) {
		mask = 0
	}

	var (
		lock   chandb.ModeLock
		chName string
	)
	err := s.update(name, func(ch *chandb.Channel) error {
		if !ch.RoleOf(src.account()).Can(chandb.CapSet) {
			return fail(fault.NoPrivs, "You are not authorized to perform this command.")
		}
		next, err := modes.Compile(ch.MLock, letters, args, mask, pol.Table)
		if err != nil {
			return mlockError(err)
		}
		ch.MLock = next
		lock, chName = next, ch.Name
		return nil
	})
	if err != nil {
		return err
	}

	if summary := modes.Summary(lock, pol.Table); summary != "" {
		s.reply(src, "The MLOCK for \x02%s\x02 has been set to \x02%s\x02.", chName, summary)
		s.record(ctx, src, audit.Entry{Action: "SET:MLOCK", Channel: chName, Detail: summary})
	} else {
		s.reply(src, "The MLOCK for \x02%s\x02 has been removed.", chName)
		s.record(ctx, src, audit.Entry{Action: "SET:MLOCK:OFF", Channel: chName})
	}

	s.net.RecheckModes(pol.Nick, chName, lock)
	return nil
}

func mlockError(err error) error {
	switch {
	case errors.Is(err, modes.ErrMissingKey):
		return fail(fault.BadParams, "You need to specify which key to MLOCK.")
	case errors.Is(err, modes.ErrMissingLimit):
		return fail(fault.BadParams, "You need to specify what limit to MLOCK.")
	case errors.Is(err, modes.ErrBadLimit):
		return fail(fault.BadParams, "You must specify a positive integer for limit.")
	}
	return err
}
