package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/events"
)

type stubStore struct {
	lastTopic   string
	lastPayload []byte
}

func (s *stubStore) InsertEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	s.lastTopic = topic
	s.lastPayload = payload
	return events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureScheduler struct {
	events []events.Event
}

func (c *captureScheduler) Schedule(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	bus := &events.Bus{Store: store}

	sessionID := uuid.New()
	ev, err := bus.Emit(context.Background(), events.TopicSessionOpened, sessionID, map[string]any{"registerId": "reg-1"})
	require.NoError(t, err)
	require.Equal(t, events.TopicSessionOpened, ev.Topic)
	require.Equal(t, sessionID, ev.AggregateID)
	require.Equal(t, events.TopicSessionOpened, store.lastTopic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(store.lastPayload, &payload))
	require.Equal(t, "reg-1", payload["registerId"])
}

func TestEmitFansOut(t *testing.T) {
	store := &stubStore{}
	sched := &captureScheduler{}
	notif := &captureNotifier{}
	bus := &events.Bus{Store: store, Scheduler: sched, Notifiers: []events.Notifier{notif}}

	_, err := bus.Emit(context.Background(), events.TopicTransactionRecorded, uuid.New(), nil)
	require.NoError(t, err)
	require.Len(t, sched.events, 1)
	require.Len(t, notif.events, 1)
	require.JSONEq(t, "{}", string(sched.events[0].Payload))
}

func TestEmitValidatesInput(t *testing.T) {
	bus := &events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), " ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionClosed, uuid.Nil, nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionClosed, uuid.New(), json.RawMessage("{not json"))
	require.Error(t, err)
}
