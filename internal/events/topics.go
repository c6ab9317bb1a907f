package events

// Topic constants for domain events emitted by the POS core.
const (
	TopicSessionOpened       = "pos.session.opened"
	TopicSessionSuspended    = "pos.session.suspended"
	TopicSessionResumed      = "pos.session.resumed"
	TopicSessionClosed       = "pos.session.closed"
	TopicTransactionRecorded = "pos.transaction.recorded"
	TopicRefundRecorded      = "pos.refund.recorded"
	TopicDrawerVarianceAlert = "pos.drawer.variance_alert"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSessionOpened,
		TopicSessionSuspended,
		TopicSessionResumed,
		TopicSessionClosed,
		TopicTransactionRecorded,
		TopicRefundRecorded,
		TopicDrawerVarianceAlert,
	}
}
