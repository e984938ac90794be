package events

// Topic constants for domain events emitted by the webhook pipeline.
const (
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderCompleted     = "order.completed"
	TopicOrderNotCompleted  = "order.not_completed"
	TopicOrderDenied        = "order.denied"
	TopicOrderRefunded      = "order.refunded"
	TopicWebhookDeferred    = "webhook.deferred"
)
