package common

// EmailSender delivers transactional mail: customer receipts and drawer
// variance alerts to the back office.
type EmailSender interface {
	Send(to, subject, html string) error
}

// Email is one captured message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// InMemoryEmail collects messages instead of sending them. Tests inspect the
// Outbox to assert on recipients and content.
type InMemoryEmail struct {
	Outbox []Email
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// NopEmailSender discards everything. Used until an SMTP relay is wired in.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }
