package constants

// Static route constants
const (
	PaymentOrdersRoute  = "/payments/orders"
	PaymentVerifyRoute  = "/payments/verify"
	PaymentWebhookRoute = "/payments/webhook"
	SubscriptionRoute   = "/subscription"
)
