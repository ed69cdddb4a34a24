package audit

import (
	"context"

	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/rs/zerolog"
)

// LogSink writes entries to a zerolog logger at info level, or warn
// for denied attempts.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Write(_ context.Context, e Entry) error {
	ev := s.Logger.Info()
	if e.Denied {
		ev = s.Logger.Warn()
	}
	ev.Str("component", "audit").
		Str("id", e.ID).
		Str("service", e.Service).
		Str("actor", e.Actor).
		Str("account", e.Account).
		Str("channel", e.Channel).
		Str("action", e.Action).
		Bool("denied", e.Denied).
		Msg(e.Detail)
	return nil
}

// BusSink publishes entries on the event bus as EvAudit events.
type BusSink struct {
	Bus *events.Bus
}

func (s BusSink) Write(_ context.Context, e Entry) error {
	s.Bus.Emit(events.Event{
		Type:    events.EvAudit,
		Source:  e.Service,
		Channel: e.Channel,
		Text:    e.Action,
		Data: map[string]any{
			"entry": e,
		},
	})
	return nil
}
