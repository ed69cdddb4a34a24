package chanserv

import (
	"context"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/privs"
)

type setFunc func(s *Service, ctx context.Context, src *source, name, params string) error

type setting struct {
	name string
	// priv, if set, is required to use the setting at all.
	priv string
	// optional settings accept an empty parameter (meaning "clear").
	optional bool
	fn       setFunc
}

var settings = []setting{
	{name: "FOUNDER", fn: (*Service).setFounder},
	{name: "MLOCK", fn: (*Service).setMLock},
	{name: "SECURE", fn: flagSetter("SECURE", chandb.ChanSecure, false)},
	{name: "SUCCESSOR", fn: (*Service).setSuccessor},
	{name: "VERBOSE", fn: flagSetter("VERBOSE", chandb.ChanVerbose, false)},
	{name: "URL", optional: true, fn: (*Service).setURL},
	{name: "ENTRYMSG", optional: true, fn: (*Service).setEntryMsg},
	{name: "PROPERTY", fn: (*Service).setProperty},
	{name: "EMAIL", optional: true, fn: (*Service).setEmail},
	{name: "KEEPTOPIC", fn: flagSetter("KEEPTOPIC", chandb.ChanKeepTopic, false)},
	{name: "STAFFONLY", priv: privs.ChanAdmin, fn: flagSetter("STAFFONLY", chandb.ChanStaffOnly, true)},
}

func findSetting(name string) (setting, bool) {
	for _, st := range settings {
		if strings.EqualFold(st.name, name) {
			return st, true
		}
	}
	return setting{}, false
}

// cmdSet handles SET <#channel> <setting> <parameters>.
func (s *Service) cmdSet(ctx context.Context, src *source, line string) {
	name, rest := nextWord(line)
	word, params := nextWord(rest)
	params = strings.TrimRight(params, " ")

	st, known := findSetting(word)
	action := "SET"
	if known {
		action = "SET:" + st.name
	}

	if name == "" || word == "" || (params == "" && !st.optional) {
		s.finish(ctx, src, action, name, fail(fault.BadParams,
			"Insufficient parameters specified for \x02SET\x02.\nSyntax: SET <#channel> <setting> <parameters>"))
		return
	}
	if !known {
		s.finish(ctx, src, action, name, fail(fault.BadParams, "Invalid command. Please use \x02HELP\x02 for help."))
		return
	}
	if st.priv != "" && !s.privs.Has(src.user, src.acct, st.priv) {
		s.finish(ctx, src, action, name, fail(fault.NoPrivs, "You are not authorized to perform this operation."))
		return
	}
	s.finish(ctx, src, action, name, st.fn(s, ctx, src, name, params))
}

// SettingNames lists the SET settings in dispatch order.
func SettingNames() []string {
	names := make([]string, len(settings))
	for i, st := range settings {
		names[i] = st.name
	}
	return names
}
