// Package mongo implements store.Store on MongoDB via Grove ORM.
//
// Apply runs inside a multi-document transaction and updates the account
// with a compare-and-set filter on its balance and transaction counter, so
// a concurrent writer either aborts the transaction or fails the filter.
// Transactions need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
)

// Collection name constants.
const (
	colAccounts     = "credits_accounts"
	colTransactions = "credits_transactions"
	colCatalog      = "credits_catalog"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(database)); err != nil {
		return nil, fmt.Errorf("credits/mongo: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("credits/mongo: open grove: %w", err)
	}
	return New(db), nil
}

// New creates a store on a grove database opened with mongodriver.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all credit collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credits/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.mdb.Collection(colAccounts).InsertOne(ctx, toAccountModel(a))
	if mongo.IsDuplicateKeyError(err) {
		return credits.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("credits/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.Collection(colAccounts).FindOne(ctx, bson.M{"_id": accountID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get account: %w", err)
	}
	return fromAccountModel(&m), nil
}

func (s *Store) SetSubscription(ctx context.Context, accountID string, sub account.Subscription) error {
	res, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID},
		bson.M{"$set": bson.M{
			"subscription": toSubscriptionModel(sub),
			"updated_at":   now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("credits/mongo: set subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) FindAccountBySubscription(ctx context.Context, subscriptionRef string) (*account.Account, error) {
	if subscriptionRef == "" {
		return nil, credits.ErrSubscriptionNotFound
	}
	var m accountModel
	err := s.mdb.Collection(colAccounts).FindOne(ctx, bson.M{"subscription.ref": subscriptionRef}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("credits/mongo: find account by subscription: %w", err)
	}
	return fromAccountModel(&m), nil
}

// ==================== Ledger Store ====================

func (s *Store) Apply(ctx context.Context, accountID string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		var acct accountModel
		err := s.mdb.Collection(colAccounts).FindOne(ctx, bson.M{"_id": accountID}).Decode(&acct)
		if isNoDocuments(err) {
			return nil, credits.ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("credits/mongo: read balance: %w", err)
		}

		next, err := fn(acct.Balance)
		if err != nil {
			return nil, err
		}

		stored := *next
		stored.AccountID = accountID
		stored.CreatedAt = now()

		upd, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
			bson.M{"_id": accountID, "balance": acct.Balance, "tx_count": acct.TxCount},
			bson.M{
				"$set": bson.M{"balance": stored.BalanceAfter, "updated_at": stored.CreatedAt},
				"$inc": bson.M{"tx_count": 1},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("credits/mongo: update balance: %w", err)
		}
		if upd.MatchedCount == 0 {
			return nil, credits.ErrTransactionConflict
		}

		_, err = s.mdb.Collection(colTransactions).InsertOne(ctx, toTransactionModel(&stored, acct.TxCount+1))
		if mongo.IsDuplicateKeyError(err) {
			return nil, credits.ErrDuplicateTransaction
		}
		if err != nil {
			return nil, fmt.Errorf("credits/mongo: insert transaction: %w", err)
		}
		return &stored, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*transaction.Transaction), nil
}

func (s *Store) GetTransaction(ctx context.Context, accountID string, txID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.Collection(colTransactions).
		FindOne(ctx, bson.M{"_id": txID.String(), "account_id": accountID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{"account_id": accountID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.mdb.Collection(colTransactions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list transactions: %w", err)
	}
	var models []transactionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("credits/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Config, error) {
	var m catalogModel
	err := s.mdb.Collection(colCatalog).FindOne(ctx, bson.M{"_id": catalogDocID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("credits/mongo: load catalog: %w", err)
	}
	return &m.Config, nil
}

func (s *Store) SaveCatalog(ctx context.Context, cfg *catalog.Config) error {
	_, err := s.mdb.Collection(colCatalog).ReplaceOne(ctx,
		bson.M{"_id": catalogDocID},
		catalogModel{ID: catalogDocID, Config: *cfg, UpdatedAt: now()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("credits/mongo: save catalog: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all credit collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys: bson.D{{Key: "subscription.ref", Value: 1}},
				Options: options.Index().
					SetPartialFilterExpression(bson.M{"subscription.ref": bson.M{"$gt": ""}}),
			},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "type", Value: 1}, {Key: "seq", Value: -1}}},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "correlation_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"correlation_id": bson.M{"$gt": ""}}),
			},
		},
	}
}
