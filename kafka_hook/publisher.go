// Package kafkahook publishes committed credit transactions to Kafka.
package kafkahook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/transaction"
)

// DefaultTopic receives committed transactions.
const DefaultTopic = "credits.transaction_committed"

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Publisher)(nil)
	_ plugin.OnTransactionCommitted = (*Publisher)(nil)
	_ plugin.OnShutdown             = (*Publisher)(nil)
)

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransactionCommitted is the message value, JSON encoded.
type TransactionCommitted struct {
	TransactionID string            `json:"transaction_id"`
	AccountID     string            `json:"account_id"`
	Type          string            `json:"type"`
	Amount        int64             `json:"amount"`
	Operation     string            `json:"operation,omitempty"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CommittedAt   time.Time         `json:"committed_at"`
}

// Publisher is a ledger plugin that writes one Kafka message per committed
// transaction, keyed by account ID so an account's events stay ordered
// within a partition.
type Publisher struct {
	writer Writer
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New creates a Publisher over an existing writer.
func New(w Writer, opts ...Option) *Publisher {
	p := &Publisher{writer: w, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewWriter returns a *kafka.Writer for topic. An empty topic uses
// DefaultTopic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "kafka-hook" }

// OnTransactionCommitted implements plugin.OnTransactionCommitted.
func (p *Publisher) OnTransactionCommitted(ctx context.Context, tx *transaction.Transaction) error {
	data, err := json.Marshal(TransactionCommitted{
		TransactionID: tx.ID.String(),
		AccountID:     tx.AccountID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Operation:     tx.Operation,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Metadata:      tx.Metadata,
		CommittedAt:   tx.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka_hook: encode: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.AccountID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(tx.Type)},
		},
	}); err != nil {
		return fmt.Errorf("kafka_hook: publish %s: %w", tx.ID, err)
	}

	p.logger.Debug("transaction published",
		"transaction_id", tx.ID.String(),
		"account_id", tx.AccountID,
	)
	return nil
}

// OnShutdown implements plugin.OnShutdown.
func (p *Publisher) OnShutdown(_ context.Context) error {
	return p.writer.Close()
}
