package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/events"
)

// EmailNotifier sends receipt and drawer-variance emails for selected topics.
// It implements events.Notifier and never fails the emitting request: send
// errors are logged and swallowed.
type EmailNotifier struct {
	Sender common.EmailSender
	Log    zerolog.Logger
	// BackOffice receives variance alerts when a drawer count misses the threshold.
	BackOffice string
}

type receiptPayload struct {
	ReceiptNumber string `json:"receiptNumber"`
	CustomerEmail string `json:"customerEmail"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

type variancePayload struct {
	SessionID  string `json:"sessionId"`
	RegisterID string `json:"registerId"`
	Variance   int64  `json:"variance"`
	Status     string `json:"status"`
}

// Notify implements events.Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, event events.Event) error {
	if n == nil || n.Sender == nil {
		return nil
	}
	switch event.Topic {
	case events.TopicTransactionRecorded:
		n.sendReceipt(event)
	case events.TopicDrawerVarianceAlert:
		n.sendVarianceAlert(event)
	}
	return nil
}

func (n *EmailNotifier) sendReceipt(event events.Event) {
	var p receiptPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		n.Log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("receipt email payload decode failed")
		return
	}
	if strings.TrimSpace(p.CustomerEmail) == "" {
		return
	}
	subject := fmt.Sprintf("Your receipt %s", p.ReceiptNumber)
	html := fmt.Sprintf(
		"<p>Thank you for your purchase.</p><p>Receipt <strong>%s</strong><br/>Total: %s %d.%02d</p>",
		p.ReceiptNumber, p.Currency, p.Total/100, p.Total%100,
	)
	if err := n.Sender.Send(p.CustomerEmail, subject, html); err != nil {
		n.Log.Warn().Err(err).Str("receipt", p.ReceiptNumber).Msg("receipt email send failed")
	}
}

func (n *EmailNotifier) sendVarianceAlert(event events.Event) {
	if strings.TrimSpace(n.BackOffice) == "" {
		return
	}
	var p variancePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		n.Log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("variance alert payload decode failed")
		return
	}
	subject := fmt.Sprintf("Drawer variance on register %s", p.RegisterID)
	html := fmt.Sprintf(
		"<p>Session %s closed with a %s count.</p><p>Variance: %d minor units.</p>",
		p.SessionID, p.Status, p.Variance,
	)
	if err := n.Sender.Send(n.BackOffice, subject, html); err != nil {
		n.Log.Warn().Err(err).Str("session", p.SessionID).Msg("variance alert send failed")
	}
}
