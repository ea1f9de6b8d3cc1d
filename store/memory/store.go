// Package memory provides an in-process store.Store for tests and
// single-process embedding.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store keeps accounts and transactions in maps. Apply holds a per-account
// mutex for its whole read-modify-write, so deductions against one account
// serialize while different accounts proceed independently.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]*account.Account
	transactions map[string][]*transaction.Transaction // newest last
	correlations map[string]map[string]struct{}
	catalog      *catalog.Config
	closed       bool

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]*account.Account),
		transactions: make(map[string][]*transaction.Transaction),
		correlations: make(map[string]map[string]struct{}),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Store) accountLock(accountID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if _, exists := s.locks[accountID]; !exists {
		s.locks[accountID] = &sync.Mutex{}
	}
	return s.locks[accountID]
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	if _, exists := s.accounts[a.ID]; exists {
		return credits.ErrAccountExists
	}
	s.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) SetSubscription(_ context.Context, accountID string, sub account.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return credits.ErrAccountNotFound
	}
	a.Subscription = sub
	a.UpdatedAt = now()
	return nil
}

func (s *Store) FindAccountBySubscription(_ context.Context, subscriptionRef string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}
	for _, a := range s.accounts {
		if subscriptionRef != "" && a.Subscription.Ref == subscriptionRef {
			return cloneAccount(a), nil
		}
	}
	return nil, credits.ErrSubscriptionNotFound
}

// ==================== Ledger Store ====================

func (s *Store) Apply(_ context.Context, accountID string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, credits.ErrStoreClosed
	}
	a, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return nil, credits.ErrAccountNotFound
	}
	balance := a.Balance
	s.mu.RUnlock()

	tx, err := fn(balance)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.CorrelationID != "" {
		if _, dup := s.correlations[accountID][tx.CorrelationID]; dup {
			return nil, credits.ErrDuplicateTransaction
		}
	}

	stored := tx.Clone()
	stored.AccountID = accountID
	stored.CreatedAt = now()

	a.Balance = stored.BalanceAfter
	a.UpdatedAt = stored.CreatedAt
	s.transactions[accountID] = append(s.transactions[accountID], stored)
	if stored.CorrelationID != "" {
		if s.correlations[accountID] == nil {
			s.correlations[accountID] = make(map[string]struct{})
		}
		s.correlations[accountID][stored.CorrelationID] = struct{}{}
	}

	return stored.Clone(), nil
}

func (s *Store) GetTransaction(_ context.Context, accountID string, txID id.TransactionID) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions[accountID] {
		if tx.ID.String() == txID.String() {
			return tx.Clone(), nil
		}
	}
	return nil, credits.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, credits.ErrStoreClosed
	}

	all := s.transactions[accountID]
	result := make([]*transaction.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Type != "" && all[i].Type != opts.Type {
			continue
		}
		result = append(result, all[i].Clone())
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ==================== Catalog Store ====================

func (s *Store) LoadCatalog(_ context.Context) (*catalog.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.catalog == nil {
		return nil, catalog.ErrNotFound
	}
	return s.catalog.Clone(), nil
}

func (s *Store) SaveCatalog(_ context.Context, cfg *catalog.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog = cfg.Clone()
	return nil
}

// ==================== Core ====================

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ==================== Helpers ====================

func now() time.Time {
	return time.Now().UTC()
}

func cloneAccount(a *account.Account) *account.Account {
	out := *a
	out.Metadata = maps.Clone(a.Metadata)
	return &out
}

// paginate treats a negative offset as zero and a non-positive limit as
// unbounded.
func paginate(items []*transaction.Transaction, offset, limit int) []*transaction.Transaction {
	offset = max(offset, 0)
	if offset >= len(items) {
		return []*transaction.Transaction{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
