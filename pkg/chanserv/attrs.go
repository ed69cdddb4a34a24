package chanserv

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/privs"
)

// Attribute limits.
const (
	MaxEmailLen      = 100
	MaxPropertyKey   = 32
	MaxPropertyValue = 300
)

func isClear(value string) bool {
	return value == "" || strings.EqualFold(value, "OFF") || strings.EqualFold(value, "NONE")
}

// metaResult records what an attribute update did.
type metaResult int

const (
	metaUnset metaResult = iota // Clear requested, key was absent
	metaDeleted
	metaSet
)

// setMeta writes or clears one metadata key for a holder of CapSet.
func (s *Service) setMeta(src *source, name, key, value string) (string, metaResult, error) {
	var (
		chName string
		result metaResult
	)
	err := s.update(name, func(ch *chandb.Channel) error {
		chName = ch.Name
		if !ch.RoleOf(src.account()).Can(chandb.CapSet) {
			return fail(fault.NoPrivs, "You are not authorized to execute this command.")
		}
		if isClear(value) {
			if !ch.DeleteMeta(key) {
				result = metaUnset
				return errNoChange
			}
			result = metaDeleted
			return nil
		}
		ch.SetMeta(key, value)
		result = metaSet
		return nil
	})
	return chName, result, err
}

func (s *Service) setURL(ctx context.Context, src *source, name, params string) error {
	if !chandb.ValidChannelName(name) {
		return invalidParams("URL")
	}
	url, _ := nextWord(params)

	chName, result, err := s.setMeta(src, name, chandb.MetaURL, url)
	if err != nil {
		return err
	}
	switch result {
	case metaUnset:
		s.reply(src, "The URL for \x02%s\x02 was not set.", chName)
	case metaDeleted:
		s.record(ctx, src, audit.Entry{Action: "SET:URL:NONE", Channel: chName})
		s.reply(src, "The URL for \x02%s\x02 has been cleared.", chName)
	case metaSet:
		s.record(ctx, src, audit.Entry{Action: "SET:URL", Channel: chName, Detail: url})
		s.reply(src, "The URL of \x02%s\x02 has been set to \x02%s\x02.", chName, url)
	}
	return nil
}

func (s *Service) setEmail(ctx context.Context, src *source, name, params string) error {
	if !chandb.ValidChannelName(name) {
		return invalidParams("EMAIL")
	}
	addr, _ := nextWord(params)
	if !isClear(addr) {
		if len(addr) > MaxEmailLen {
			return invalidParams("EMAIL")
		}
		if !ValidEmail(addr) {
			return fail(fault.BadParams, "\x02%s\x02 is not a valid e-mail address.", addr)
		}
	}

	chName, result, err := s.setMeta(src, name, chandb.MetaEmail, addr)
	if err != nil {
		return err
	}
	switch result {
	case metaUnset:
		s.reply(src, "The e-mail address for \x02%s\x02 was not set.", chName)
	case metaDeleted:
		s.record(ctx, src, audit.Entry{Action: "SET:EMAIL:NONE", Channel: chName})
		s.reply(src, "The e-mail address for \x02%s\x02 was deleted.", chName)
	case metaSet:
		s.record(ctx, src, audit.Entry{Action: "SET:EMAIL", Channel: chName, Detail: addr})
		s.reply(src, "The e-mail address for \x02%s\x02 has been set to \x02%s\x02.", chName, addr)
	}
	return nil
}

// ValidEmail reports whether addr is a bare address (no display name)
// with a dotted domain.
func ValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Name != "" || parsed.Address != addr {
		return false
	}
	_, domain, ok := strings.Cut(addr, "@")
	return ok && strings.Contains(strings.Trim(domain, "."), ".")
}

func (s *Service) setEntryMsg(ctx context.Context, src *source, name, params string) error {
	if !chandb.ValidChannelName(name) {
		return invalidParams("ENTRYMSG")
	}
	msg := strings.TrimSpace(params)

	chName, result, err := s.setMeta(src, name, chandb.MetaEntryMsg, msg)
	if err != nil {
		return err
	}
	switch result {
	case metaUnset:
		s.reply(src, "The entry message for \x02%s\x02 was not set.", chName)
	case metaDeleted:
		s.record(ctx, src, audit.Entry{Action: "SET:ENTRYMSG:NONE", Channel: chName})
		s.reply(src, "The entry message for \x02%s\x02 has been cleared.", chName)
	case metaSet:
		s.record(ctx, src, audit.Entry{Action: "SET:ENTRYMSG", Channel: chName, Detail: msg})
		s.reply(src, "The entry message for \x02%s\x02 has been set to \x02%s\x02", chName, msg)
	}
	return nil
}

// setProperty handles SET <#channel> PROPERTY <key> [value]. Without a
// value the key is deleted.
func (s *Service) setProperty(ctx context.Context, src *source, name, params string) error {
	if !chandb.ValidChannelName(name) {
		return invalidParams("PROPERTY")
	}
	key, value := nextWord(params)
	value = strings.TrimSpace(value)
	if key == "" {
		return fail(fault.BadParams, "Syntax: SET <#channel> PROPERTY <property> [value]")
	}
	if strings.Contains(key, ":") && !s.privs.Has(src.user, src.acct, privs.Metadata) {
		return fail(fault.NoPrivs, "Invalid property name.")
	}

	limit := s.reg.MetadataLimit()
	var (
		chName  string
		deleted bool
	)
	err := s.update(name, func(ch *chandb.Channel) error {
		chName = ch.Name
		if !ch.RoleOf(src.account()).Can(chandb.CapSet) {
			return fail(fault.NoPrivs, "You are not authorized to perform this command.")
		}
		if value == "" {
			if !ch.DeleteMeta(key) {
				return fail(fault.Conflict, "Metadata entry \x02%s\x02 was not set.", key)
			}
			deleted = true
			return nil
		}
		if len(key) > MaxPropertyKey || len(value) > MaxPropertyValue {
			return fail(fault.BadParams, "Parameters are too long. Aborting.")
		}
		if _, exists := ch.Meta(key); !exists && limit > 0 && len(ch.Metadata) >= limit {
			return fail(fault.TooFull, "Cannot add \x02%s\x02 to \x02%s\x02 metadata table, it is full.", key, ch.Name)
		}
		ch.SetMeta(key, value)
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, src, audit.Entry{Action: "SET:PROPERTY", Channel: chName,
		Detail: fmt.Sprintf("%s/%s", key, value)})
	if deleted {
		s.reply(src, "Metadata entry \x02%s\x02 has been deleted.", key)
	} else {
		s.reply(src, "Metadata entry \x02%s\x02 added.", key)
	}
	return nil
}
