package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/events"
)

func TestNotifySendsReceiptEmailToCustomer(t *testing.T) {
	sender := &common.InMemoryEmail{}
	n := &EmailNotifier{Sender: sender, Log: zerolog.Nop()}

	err := n.Notify(context.Background(), events.Event{
		ID:      uuid.New(),
		Topic:   events.TopicTransactionRecorded,
		Payload: []byte(`{"receiptNumber":"POS-20260830-ABCDEFGH","customerEmail":"ana@example.com","total":5142,"currency":"USD"}`),
	})
	require.NoError(t, err)
	require.Len(t, sender.Outbox, 1)
	require.Equal(t, "ana@example.com", sender.Outbox[0].To)
	require.Contains(t, sender.Outbox[0].Subject, "POS-20260830-ABCDEFGH")
	require.Contains(t, sender.Outbox[0].HTML, "51.42")
}

func TestNotifySkipsReceiptWithoutCustomerEmail(t *testing.T) {
	sender := &common.InMemoryEmail{}
	n := &EmailNotifier{Sender: sender, Log: zerolog.Nop()}

	err := n.Notify(context.Background(), events.Event{
		ID:      uuid.New(),
		Topic:   events.TopicTransactionRecorded,
		Payload: []byte(`{"receiptNumber":"POS-1","total":100,"currency":"USD"}`),
	})
	require.NoError(t, err)
	require.Empty(t, sender.Outbox)
}

func TestNotifySendsVarianceAlertToBackOffice(t *testing.T) {
	sender := &common.InMemoryEmail{}
	n := &EmailNotifier{Sender: sender, Log: zerolog.Nop(), BackOffice: "ops@example.com"}

	err := n.Notify(context.Background(), events.Event{
		ID:      uuid.New(),
		Topic:   events.TopicDrawerVarianceAlert,
		Payload: []byte(`{"sessionId":"s-1","registerId":"reg-7","variance":-1000,"status":"short"}`),
	})
	require.NoError(t, err)
	require.Len(t, sender.Outbox, 1)
	require.Equal(t, "ops@example.com", sender.Outbox[0].To)
	require.Contains(t, sender.Outbox[0].Subject, "reg-7")
}

func TestNotifyIgnoresUnrelatedTopics(t *testing.T) {
	sender := &common.InMemoryEmail{}
	n := &EmailNotifier{Sender: sender, Log: zerolog.Nop(), BackOffice: "ops@example.com"}

	err := n.Notify(context.Background(), events.Event{
		ID:    uuid.New(),
		Topic: events.TopicSessionOpened,
	})
	require.NoError(t, err)
	require.Empty(t, sender.Outbox)
}
