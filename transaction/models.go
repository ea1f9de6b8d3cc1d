// Package transaction defines the immutable audit record written alongside
// every balance mutation.
package transaction

import (
	"maps"
	"time"

	"github.com/xraph/credits/id"
)

// Type classifies a balance mutation for audit reporting.
type Type string

const (
	TypeDeduct       Type = "deduct"
	TypeRefund       Type = "refund"
	TypePurchase     Type = "purchase"
	TypeSubscription Type = "subscription"
	TypeGrant        Type = "grant"
)

// IsValid reports whether t is a known transaction type.
func (t Type) IsValid() bool {
	switch t {
	case TypeDeduct, TypeRefund, TypePurchase, TypeSubscription, TypeGrant:
		return true
	}
	return false
}

// IsGrantType reports whether t may be used with a grant.
func (t Type) IsGrantType() bool {
	return t == TypePurchase || t == TypeSubscription || t == TypeGrant
}

// Transaction records one committed balance mutation.
// Amount is signed: negative for deductions, positive otherwise.
// BalanceAfter-BalanceBefore always equals Amount.
type Transaction struct {
	ID            id.TransactionID  `json:"id"`
	AccountID     string            `json:"account_id"`
	Amount        int64             `json:"amount"`
	Type          Type              `json:"type"`
	Operation     string            `json:"operation"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Consistent reports whether the recorded amount matches the balance delta.
func (t *Transaction) Consistent() bool {
	return t.BalanceAfter-t.BalanceBefore == t.Amount
}

// Clone returns a copy of t that shares no maps with it.
func (t *Transaction) Clone() *Transaction {
	out := *t
	out.Metadata = maps.Clone(t.Metadata)
	return &out
}

// ListOpts filters and paginates transaction listings.
// Results are ordered newest first.
type ListOpts struct {
	Type   Type
	Limit  int
	Offset int
}
