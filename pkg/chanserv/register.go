package chanserv

import (
	"context"
	"errors"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/registry"
)

// cmdRegister handles REGISTER <#channel>. The invoker's account
// becomes the founder.
func (s *Service) cmdRegister(ctx context.Context, src *source, params string) error {
	if src.acct == nil {
		return fail(fault.NoPrivs, "You are not logged in.")
	}
	name, _ := nextWord(params)
	if name == "" {
		return fail(fault.BadParams, "Insufficient parameters specified for \x02REGISTER\x02.\nSyntax: REGISTER <#channel>")
	}
	if !chandb.ValidChannelName(name) {
		return invalidParams("REGISTER")
	}

	ch, err := s.reg.RegisterChannel(name, src.acct.Name, s.now())
	switch {
	case errors.Is(err, registry.ErrExists):
		return fail(fault.Conflict, "\x02%s\x02 is already registered.", name)
	case errors.Is(err, registry.ErrFounderLimit):
		return fail(fault.Conflict, "You have too many channels registered.")
	case err != nil:
		return err
	}

	s.record(ctx, src, audit.Entry{Action: "REGISTER", Channel: ch.Name})
	s.reply(src, "\x02%s\x02 is now registered to \x02%s\x02.", ch.Name, ch.Founder)
	return nil
}
