package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// catalogRowID is the primary key of the single catalog row.
const catalogRowID = 1

// SQLite has no JSON or timestamp column types, so models carry metadata
// as JSON text and timestamps as RFC 3339 strings.

type accountModel struct {
	grove.BaseModel `grove:"table:credits_accounts"`

	ID                 string `grove:"id,pk"`
	Balance            int64  `grove:"balance"`
	SubscriptionRef    string `grove:"subscription_ref"`
	CustomerRef        string `grove:"customer_ref"`
	PlanKey            string `grove:"plan_key"`
	SubscriptionStatus string `grove:"subscription_status"`
	Metadata           string `grove:"metadata"`
	CreatedAt          string `grove:"created_at"`
	UpdatedAt          string `grove:"updated_at"`
}

func toAccountModel(a *account.Account) (*accountModel, error) {
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return &accountModel{
		ID:                 a.ID,
		Balance:            a.Balance,
		SubscriptionRef:    a.Subscription.Ref,
		CustomerRef:        a.Subscription.CustomerRef,
		PlanKey:            a.Subscription.PlanKey,
		SubscriptionStatus: string(a.Subscription.Status),
		Metadata:           meta,
		CreatedAt:          formatTime(a.CreatedAt),
		UpdatedAt:          formatTime(a.UpdatedAt),
	}, nil
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	meta, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:  types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:      m.ID,
		Balance: m.Balance,
		Subscription: account.Subscription{
			Ref:         m.SubscriptionRef,
			CustomerRef: m.CustomerRef,
			PlanKey:     m.PlanKey,
			Status:      account.SubscriptionStatus(m.SubscriptionStatus),
		},
		Metadata: meta,
	}, nil
}

// transactionModel omits the AUTOINCREMENT column seq; it is only used for
// ordering.
type transactionModel struct {
	grove.BaseModel `grove:"table:credits_transactions"`

	ID            string `grove:"id,pk"`
	AccountID     string `grove:"account_id"`
	Amount        int64  `grove:"amount"`
	Type          string `grove:"type"`
	Operation     string `grove:"operation"`
	BalanceBefore int64  `grove:"balance_before"`
	BalanceAfter  int64  `grove:"balance_after"`
	Metadata      string `grove:"metadata"`
	CorrelationID string `grove:"correlation_id"`
	CreatedAt     string `grove:"created_at"`
}

func toTransactionModel(tx *transaction.Transaction) (*transactionModel, error) {
	meta, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return nil, err
	}
	return &transactionModel{
		ID:            tx.ID.String(),
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Operation:     tx.Operation,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Metadata:      meta,
		CorrelationID: tx.CorrelationID,
		CreatedAt:     formatTime(tx.CreatedAt),
	}, nil
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:            txID,
		AccountID:     m.AccountID,
		Amount:        m.Amount,
		Type:          transaction.Type(m.Type),
		Operation:     m.Operation,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Metadata:      meta,
		CorrelationID: m.CorrelationID,
		CreatedAt:     createdAt,
	}, nil
}

type catalogModel struct {
	grove.BaseModel `grove:"table:credits_catalog"`

	ID        int    `grove:"id,pk"`
	Config    string `grove:"config"`
	UpdatedAt string `grove:"updated_at"`
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := make(map[string]string)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
