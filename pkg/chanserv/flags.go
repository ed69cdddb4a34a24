package chanserv

import (
	"context"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
)

// flagSetter returns the handler for a boolean channel flag. Staff
// flags are gated by privilege in the dispatcher and skip the
// founder/successor check.
func flagSetter(label string, flag chandb.ChanFlags, staff bool) setFunc {
	return func(s *Service, ctx context.Context, src *source, name, params string) error {
		if !chandb.ValidChannelName(name) {
			return invalidParams(label)
		}
		value := strings.ToUpper(strings.TrimSpace(params))

		var (
			changed bool
			chName  string
		)
		err := s.update(name, func(ch *chandb.Channel) error {
			chName = ch.Name
			if !staff && !ch.IsFounder(src.account()) && !ch.IsSuccessor(src.account()) {
				return fail(fault.NoPrivs, "You are not authorized to perform this command.")
			}
			switch value {
			case "ON":
				if ch.HasFlag(flag) {
					return errNoChange
				}
				ch.Flags |= flag
			case "OFF":
				if !ch.HasFlag(flag) {
					return errNoChange
				}
				ch.Flags &^= flag
			default:
				return invalidParams(label)
			}
			changed = true
			return nil
		})
		if err != nil {
			return err
		}

		switch {
		case !changed && value == "ON":
			s.reply(src, "The \x02%s\x02 flag is already set for \x02%s\x02.", label, chName)
		case !changed:
			s.reply(src, "The \x02%s\x02 flag is not set for \x02%s\x02.", label, chName)
		case value == "ON":
			s.record(ctx, src, audit.Entry{Action: "SET:" + label + ":ON", Channel: chName})
			s.reply(src, "The \x02%s\x02 flag has been set for \x02%s\x02.", label, chName)
		default:
			s.record(ctx, src, audit.Entry{Action: "SET:" + label + ":OFF", Channel: chName})
			s.reply(src, "The \x02%s\x02 flag has been removed for \x02%s\x02.", label, chName)
		}
		return nil
	}
}
