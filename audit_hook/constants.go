package audithook

// Action constants for audit events.
const (
	// Balance actions
	ActionCreditsDeducted   = "credits.deducted"
	ActionCreditsRefunded   = "credits.refunded"
	ActionCreditsGranted    = "credits.granted"
	ActionCreditsBalanceSet = "credits.balance_set"
	ActionDeductRejected    = "credits.deduct_rejected"

	// Charge actions
	ActionChargeReversed = "charge.reversed"

	// Billing actions
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookFailed    = "webhook.failed"
)

// Resource constants for audit events.
const (
	ResourceAccount = "account"
	ResourceCharge  = "charge"
	ResourceWebhook = "webhook"
)

// Category constants for audit events.
const (
	CategoryBalance     = "balance"
	CategoryUsage       = "usage"
	CategoryAdmin       = "admin"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
