// Package account defines the credit account record.
package account

import (
	"github.com/xraph/credits/types"
)

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = ""
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Account holds one spendable credit balance.
// Balance is only ever changed through store.Store.Apply.
type Account struct {
	types.Entity
	ID           string            `json:"id"`
	Balance      int64             `json:"balance"`
	Subscription Subscription      `json:"subscription"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Subscription links an account to a billing provider subscription.
type Subscription struct {
	Ref         string             `json:"ref,omitempty"`
	CustomerRef string             `json:"customer_ref,omitempty"`
	PlanKey     string             `json:"plan_key,omitempty"`
	Status      SubscriptionStatus `json:"status,omitempty"`
}

// IsPro reports whether the subscription currently entitles the account to
// plan benefits.
func (s Subscription) IsPro() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
