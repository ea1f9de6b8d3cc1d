package credits

import (
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Re-export common types for convenience so users don't have to import
// the model packages.

// Account is re-exported from the account package.
type Account = account.Account

// Transaction is re-exported from the transaction package.
type Transaction = transaction.Transaction

// TransactionType is re-exported from the transaction package.
type TransactionType = transaction.Type

// TransactionID is re-exported from the id package.
type TransactionID = id.TransactionID

// Money is re-exported from the types package.
type Money = types.Money

// Transaction types.
const (
	TypeDeduct       = transaction.TypeDeduct
	TypeRefund       = transaction.TypeRefund
	TypePurchase     = transaction.TypePurchase
	TypeSubscription = transaction.TypeSubscription
	TypeGrant        = transaction.TypeGrant
)
