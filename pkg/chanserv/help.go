package chanserv

import (
	"context"
	_ "embed"
	"strings"

	"github.com/crystal-mush/gochanserv/pkg/fault"
	"github.com/crystal-mush/gochanserv/pkg/helpfile"
)

//go:embed help/chanserv.txt
var helpText string

var helpEntries = helpfile.MustParse(helpText)

func (s *Service) cmdHelp(_ context.Context, src *source, params string) error {
	text := helpEntries.Lookup(params)
	if text == "" {
		return fail(fault.NoSuchTarget, "No help available for \x02%s\x02.", strings.ToUpper(strings.TrimSpace(params)))
	}
	s.reply(src, "***** \x02%s Help\x02 *****", s.Nick())
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			line = " "
		}
		s.reply(src, "%s", line)
	}
	s.reply(src, "***** \x02End of Help\x02 *****")
	return nil
}
