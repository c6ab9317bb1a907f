package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/repo"
)

type stubStore struct {
	endpoints  []repo.Endpoint
	event      events.Event
	due        []repo.Delivery
	enqueued   []uuid.UUID
	delivered  []uuid.UUID
	failed     []uuid.UUID
	dlq        []uuid.UUID
	lastStatus int32
	lastDelay  time.Duration
}

func (s *stubStore) ListActiveEndpointsForTopic(_ context.Context, _ string) ([]repo.Endpoint, error) {
	return s.endpoints, nil
}

func (s *stubStore) EnqueueDelivery(_ context.Context, endpointID, _ uuid.UUID, _ int32) error {
	s.enqueued = append(s.enqueued, endpointID)
	return nil
}

func (s *stubStore) DequeueDueDeliveries(_ context.Context, _ int32) ([]repo.Delivery, error) {
	return s.due, nil
}

func (s *stubStore) MarkDelivering(_ context.Context, _ uuid.UUID) error { return nil }

func (s *stubStore) MarkDelivered(_ context.Context, id uuid.UUID, status int32) error {
	s.delivered = append(s.delivered, id)
	s.lastStatus = status
	return nil
}

func (s *stubStore) MarkFailedWithBackoff(_ context.Context, id uuid.UUID, delay time.Duration, _ string) error {
	s.failed = append(s.failed, id)
	s.lastDelay = delay
	return nil
}

func (s *stubStore) MoveToDLQ(_ context.Context, id uuid.UUID, _ string) error {
	s.dlq = append(s.dlq, id)
	return nil
}

func (s *stubStore) GetEndpoint(_ context.Context, id uuid.UUID) (repo.Endpoint, error) {
	for _, ep := range s.endpoints {
		if ep.ID == id {
			return ep, nil
		}
	}
	return repo.Endpoint{}, repo.ErrNotFound
}

func (s *stubStore) GetEvent(_ context.Context, _ uuid.UUID) (events.Event, error) {
	return s.event, nil
}

func TestScheduleEnqueuesPerEndpoint(t *testing.T) {
	store := &stubStore{endpoints: []repo.Endpoint{
		{ID: uuid.New(), URL: "https://a.example/hook", Active: true},
		{ID: uuid.New(), URL: "https://b.example/hook", Active: true},
	}}
	d := &Dispatcher{Store: store, Enabled: true}

	err := d.Schedule(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicTransactionRecorded})
	require.NoError(t, err)
	require.Len(t, store.enqueued, 2)
}

func TestScheduleDisabledIsNoOp(t *testing.T) {
	store := &stubStore{endpoints: []repo.Endpoint{{ID: uuid.New(), Active: true}}}
	d := &Dispatcher{Store: store, Enabled: false}

	err := d.Schedule(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicSessionClosed})
	require.NoError(t, err)
	require.Empty(t, store.enqueued)
}

func TestWorkOnceDeliversAndSigns(t *testing.T) {
	var gotSig, gotEventID, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotEventID = r.Header.Get("X-Event-ID")
		gotTS = r.Header.Get("X-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpointID := uuid.New()
	eventID := uuid.New()
	deliveryID := uuid.New()
	store := &stubStore{
		endpoints: []repo.Endpoint{{ID: endpointID, URL: srv.URL, Secret: "s3cret", Active: true}},
		event:     events.Event{ID: eventID, Topic: events.TopicTransactionRecorded, Payload: []byte(`{"total":4750}`), OccurredAt: time.Now()},
		due:       []repo.Delivery{{ID: deliveryID, EndpointID: endpointID, EventID: eventID, Attempt: 0, MaxAttempt: 6}},
	}
	d := &Dispatcher{Store: store, Enabled: true, Client: srv.Client()}

	require.NoError(t, d.WorkOnce(context.Background(), 10))
	require.Equal(t, []uuid.UUID{deliveryID}, store.delivered)
	require.Equal(t, int32(http.StatusOK), store.lastStatus)
	require.Equal(t, eventID.String(), gotEventID)
	require.NotEmpty(t, gotSig)
	require.NotEmpty(t, gotTS)
	require.Contains(t, string(gotBody), `"total":4750`)
}

func TestWorkOnceBacksOffOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	endpointID := uuid.New()
	eventID := uuid.New()
	store := &stubStore{
		endpoints: []repo.Endpoint{{ID: endpointID, URL: srv.URL, Secret: "s3cret", Active: true}},
		event:     events.Event{ID: eventID, Topic: events.TopicRefundRecorded, Payload: []byte(`{}`)},
		due:       []repo.Delivery{{ID: uuid.New(), EndpointID: endpointID, EventID: eventID, Attempt: 2, MaxAttempt: 6}},
	}
	d := &Dispatcher{Store: store, Enabled: true, Client: srv.Client(), BackoffBaseSec: 5}

	require.NoError(t, d.WorkOnce(context.Background(), 1))
	require.Len(t, store.failed, 1)
	require.Equal(t, 20*time.Second, store.lastDelay)
	require.Empty(t, store.delivered)
}

func TestWorkOnceMovesExhaustedDeliveryToDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	endpointID := uuid.New()
	eventID := uuid.New()
	store := &stubStore{
		endpoints: []repo.Endpoint{{ID: endpointID, URL: srv.URL, Secret: "s3cret", Active: true}},
		event:     events.Event{ID: eventID, Topic: events.TopicSessionClosed, Payload: []byte(`{}`)},
		due:       []repo.Delivery{{ID: uuid.New(), EndpointID: endpointID, EventID: eventID, Attempt: 5, MaxAttempt: 6}},
	}
	d := &Dispatcher{Store: store, Enabled: true, Client: srv.Client()}

	require.NoError(t, d.WorkOnce(context.Background(), 1))
	require.Len(t, store.dlq, 1)
	require.Empty(t, store.failed)
}

func TestComputeSignatureIsDeterministic(t *testing.T) {
	a := ComputeSignature("secret", 1700000000, "evt-1", []byte(`{"a":1}`))
	b := ComputeSignature("secret", 1700000000, "evt-1", []byte(`{"a":1}`))
	c := ComputeSignature("other", 1700000000, "evt-1", []byte(`{"a":1}`))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestValidateURLRejectsPlainHTTPToRemoteHosts(t *testing.T) {
	require.Error(t, validateURL("http://example.com/hook"))
	require.NoError(t, validateURL("http://localhost:9999/hook"))
	require.NoError(t, validateURL("https://example.com/hook"))
	require.Error(t, validateURL("ftp://example.com/hook"))
}
