package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/events"
)

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	Logger zerolog.Logger
	// Quiet lists topics logged at debug level.
	Quiet map[string]bool
}

// Notify implements events.Notifier.
func (n LogNotifier) Notify(_ context.Context, ev events.Event) error {
	e := n.Logger.Info()
	if n.Quiet[ev.Topic] {
		e = n.Logger.Debug()
	}
	e.Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("event")
	return nil
}
