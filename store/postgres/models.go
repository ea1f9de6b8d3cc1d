package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// catalogRowID is the primary key of the single catalog row.
const catalogRowID = 1

type accountModel struct {
	grove.BaseModel `grove:"table:credits_accounts"`

	ID                 string            `grove:"id,pk"`
	Balance            int64             `grove:"balance"`
	SubscriptionRef    string            `grove:"subscription_ref"`
	CustomerRef        string            `grove:"customer_ref"`
	PlanKey            string            `grove:"plan_key"`
	SubscriptionStatus string            `grove:"subscription_status"`
	Metadata           map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt          time.Time         `grove:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:                 a.ID,
		Balance:            a.Balance,
		SubscriptionRef:    a.Subscription.Ref,
		CustomerRef:        a.Subscription.CustomerRef,
		PlanKey:            a.Subscription.PlanKey,
		SubscriptionStatus: string(a.Subscription.Status),
		Metadata:           metadataOrEmpty(a.Metadata),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:      m.ID,
		Balance: m.Balance,
		Subscription: account.Subscription{
			Ref:         m.SubscriptionRef,
			CustomerRef: m.CustomerRef,
			PlanKey:     m.PlanKey,
			Status:      account.SubscriptionStatus(m.SubscriptionStatus),
		},
		Metadata: m.Metadata,
	}
}

// transactionModel omits the identity column seq; it is only used for
// ordering.
type transactionModel struct {
	grove.BaseModel `grove:"table:credits_transactions"`

	ID            string            `grove:"id,pk"`
	AccountID     string            `grove:"account_id"`
	Amount        int64             `grove:"amount"`
	Type          string            `grove:"type"`
	Operation     string            `grove:"operation"`
	BalanceBefore int64             `grove:"balance_before"`
	BalanceAfter  int64             `grove:"balance_after"`
	Metadata      map[string]string `grove:"metadata,type:jsonb"`
	CorrelationID string            `grove:"correlation_id"`
	CreatedAt     time.Time         `grove:"created_at"`
}

func toTransactionModel(tx *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:            tx.ID.String(),
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Operation:     tx.Operation,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Metadata:      metadataOrEmpty(tx.Metadata),
		CorrelationID: tx.CorrelationID,
		CreatedAt:     tx.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
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
		Metadata:      m.Metadata,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

type catalogModel struct {
	grove.BaseModel `grove:"table:credits_catalog"`

	ID        int             `grove:"id,pk"`
	Config    json.RawMessage `grove:"config,type:jsonb"`
	UpdatedAt time.Time       `grove:"updated_at"`
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
