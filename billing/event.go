// Package billing turns payment-provider webhook events into ledger grants
// and subscription updates.
//
// Payloads are Stripe event envelopes {"id", "type", "data": {"object"}},
// verified and decoded with stripe-go.
// Every grant carries the event ID as its correlation ID, so a redelivered
// event never grants twice.
package billing

import (
	"encoding/json"
	"strconv"

	"github.com/stripe/stripe-go/v82"

	credits "github.com/xraph/credits"
)

// Event types handled by the Processor.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Checkout modes.
const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"
)

// BillingReasonCycle marks a renewal invoice, as opposed to the first
// invoice of a new subscription.
const BillingReasonCycle = "subscription_cycle"

// Checkout metadata keys read from the provider object.
const (
	MetaAccountID       = "account_id"
	MetaLegacyAccountID = "userId"
	MetaCredits         = "credits"
	MetaPlan            = "plan"
	MetaPriceID         = "price_id"
)

// Event is a provider event reduced to the fields the ledger acts on.
type Event struct {
	ID                 string
	Type               string
	AccountID          string
	Mode               string
	SubscriptionRef    string
	CustomerRef        string
	SubscriptionStatus string
	BillingReason      string
	PlanKey            string
	PriceID            string
	Credits            int64
}

// wireObject is the subset of a provider object the ledger reads. The same
// fields cover checkout sessions, invoices and subscriptions.
type wireObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Subscription  string            `json:"subscription"`
	Customer      string            `json:"customer"`
	Status        string            `json:"status"`
	BillingReason string            `json:"billing_reason"`
	Metadata      map[string]string `json:"metadata"`
}

// FromStripeEvent reduces a verified Stripe event to an Event.
func FromStripeEvent(se *stripe.Event) (*Event, error) {
	if se.ID == "" || se.Type == "" {
		return nil, credits.ValidationError{Field: "event", Message: "id and type are required"}
	}

	var obj wireObject
	if se.Data != nil && len(se.Data.Raw) > 0 {
		if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
			return nil, credits.ValidationError{Field: "data.object", Message: "malformed object"}
		}
	}

	ev := &Event{
		ID:              se.ID,
		Type:            string(se.Type),
		Mode:            obj.Mode,
		CustomerRef:     obj.Customer,
		SubscriptionRef: obj.Subscription,
		BillingReason:   obj.BillingReason,
	}

	switch ev.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		// The object is the subscription itself.
		ev.SubscriptionRef = obj.ID
		ev.SubscriptionStatus = obj.Status
	}

	if md := obj.Metadata; md != nil {
		ev.AccountID = md[MetaAccountID]
		if ev.AccountID == "" {
			ev.AccountID = md[MetaLegacyAccountID]
		}
		ev.PlanKey = md[MetaPlan]
		ev.PriceID = md[MetaPriceID]
		if raw := md[MetaCredits]; raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				return nil, credits.ValidationError{Field: "metadata.credits", Message: "must be a non-negative integer"}
			}
			ev.Credits = n
		}
	}

	return ev, nil
}
