// Package audit records services actions ("snoop" lines) to any number
// of sinks: the structured log, a SQLite table, and the event bus.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Entry is one audited action. Actor is the invoker's nick and Account
// their account; Action names the command, e.g. "SET:MLOCK".
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Service string    `json:"service"`
	Actor   string    `json:"actor"`
	Account string    `json:"account,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	Denied  bool      `json:"denied,omitempty"`
}

// Sink stores or forwards entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Recorder fans entries out to its sinks.
type Recorder struct {
	sinks    []Sink
	now      func() time.Time
	onRecord func(Entry)
}

// NewRecorder creates a recorder writing to sinks.
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, now: time.Now}
}

// SetClock overrides the time source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// OnRecord installs a hook called for every entry after the sinks,
// used for metrics.
func (r *Recorder) OnRecord(fn func(Entry)) {
	r.onRecord = fn
}

// Record stamps e with an ID and time and writes it to every sink.
// Sink failures are logged and do not stop the other sinks.
func (r *Recorder) Record(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			log.Error().Err(err).Str("component", "audit").Str("action", e.Action).Msg("audit sink failed")
		}
	}
	if r.onRecord != nil {
		r.onRecord(e)
	}
	return e
}
