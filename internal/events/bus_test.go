package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/events"
)

type captureScheduler struct {
	events []events.Event
}

func (c *captureScheduler) Schedule(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitDispatchesEvent(t *testing.T) {
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notifier},
		Logger:    zerolog.Nop(),
	}

	payload := map[string]any{"customer": "ACME", "total": 23.5}
	event, err := bus.Emit(context.Background(), events.TopicDiscountRecomputed, "ACME", payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicDiscountRecomputed, event.Topic)
	require.JSONEq(t, `{"customer":"ACME","total":23.5}`, string(event.Payload))
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "ACME", decoded["customer"])
}

func TestEmitNotifierFailureDoesNotFailCaller(t *testing.T) {
	first := &captureNotifier{err: errors.New("down")}
	second := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{first, nil, second}, Logger: zerolog.Nop()}

	_, err := bus.Emit(context.Background(), events.TopicActionFailed, "upload_file", nil)
	require.NoError(t, err)
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.JSONEq(t, `{}`, string(second.events[0].Payload))
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Logger: zerolog.Nop()}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "x", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicFileProcessed, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicFileProcessed, "x", "{not json")
	require.Error(t, err)
	ev, err := bus.Emit(ctx, events.TopicFileProcessed, "x", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(ev.Payload))
}

func TestNewProgress(t *testing.T) {
	p := events.NewProgress("ERCOM Item Sync", 30, 120)
	require.Equal(t, 25.0, p.Percent)
	require.Zero(t, events.NewProgress("x", 1, 0).Percent)
}
