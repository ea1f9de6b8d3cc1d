package mongo

import (
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// ==================== Account models ====================

type accountModel struct {
	ID           string            `bson:"_id"`
	Balance      int64             `bson:"balance"`
	TxCount      int64             `bson:"tx_count"`
	Subscription subscriptionModel `bson:"subscription"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

type subscriptionModel struct {
	Ref         string `bson:"ref"`
	CustomerRef string `bson:"customer_ref"`
	PlanKey     string `bson:"plan_key"`
	Status      string `bson:"status"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:           a.ID,
		Balance:      a.Balance,
		Subscription: toSubscriptionModel(a.Subscription),
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
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
			Ref:         m.Subscription.Ref,
			CustomerRef: m.Subscription.CustomerRef,
			PlanKey:     m.Subscription.PlanKey,
			Status:      account.SubscriptionStatus(m.Subscription.Status),
		},
		Metadata: m.Metadata,
	}
}

func toSubscriptionModel(s account.Subscription) subscriptionModel {
	return subscriptionModel{
		Ref:         s.Ref,
		CustomerRef: s.CustomerRef,
		PlanKey:     s.PlanKey,
		Status:      string(s.Status),
	}
}

// ==================== Transaction models ====================

// transactionModel carries Seq, the account's transaction counter at commit,
// which orders listings without relying on clock resolution.
type transactionModel struct {
	ID            string            `bson:"_id"`
	AccountID     string            `bson:"account_id"`
	Seq           int64             `bson:"seq"`
	Amount        int64             `bson:"amount"`
	Type          string            `bson:"type"`
	Operation     string            `bson:"operation"`
	BalanceBefore int64             `bson:"balance_before"`
	BalanceAfter  int64             `bson:"balance_after"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	CorrelationID string            `bson:"correlation_id"`
	CreatedAt     time.Time         `bson:"created_at"`
}

func toTransactionModel(tx *transaction.Transaction, seq int64) *transactionModel {
	return &transactionModel{
		ID:            tx.ID.String(),
		AccountID:     tx.AccountID,
		Seq:           seq,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Operation:     tx.Operation,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Metadata:      tx.Metadata,
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

// ==================== Catalog models ====================

const catalogDocID = "default"

type catalogModel struct {
	ID        string         `bson:"_id"`
	Config    catalog.Config `bson:"config"`
	UpdatedAt time.Time      `bson:"updated_at"`
}
