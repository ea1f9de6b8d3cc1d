package billing

import (
	"context"
	"errors"
	"log/slog"

	credits "github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/catalog"
	"github.com/xraph/credits/transaction"
)

// DefaultPlanKey is used when a subscription checkout names no plan and its
// price matches none.
const DefaultPlanKey = "creator"

// Operation labels written on billing grants.
const (
	OperationSubscriptionStarted = "subscription_started"
	OperationSubscriptionRenewed = "subscription_renewed"
	OperationPackPurchased       = "credit_pack_purchased"
)

// Metadata keys written on billing grants.
const (
	MetaEventID = "event_id"
	MetaPlanKey = "plan"
)

// Outcome reports what processing an event did.
type Outcome struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	AccountID string          `json:"account_id,omitempty"`
	Granted   int64           `json:"granted"`
	Result    *credits.Result `json:"result,omitempty"`
	// Duplicate is set when the event was already applied.
	Duplicate bool `json:"duplicate"`
	// Ignored is set for unsupported events and events that reference an
	// unknown account or subscription.
	Ignored bool `json:"ignored"`
}

// Processor applies billing events to the ledger.
type Processor struct {
	ledger  *credits.Ledger
	catalog *catalog.Cache
	logger  *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithCatalog sets the catalog used to resolve plans and packs.
func WithCatalog(c *catalog.Cache) Option {
	return func(p *Processor) { p.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a Processor over l.
func NewProcessor(l *credits.Ledger, opts ...Option) *Processor {
	p := &Processor{
		ledger: l,
		logger: l.Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies ev. Redelivered events report Duplicate and return no
// error, so providers stop retrying them.
func (p *Processor) Process(ctx context.Context, ev *Event) (out *Outcome, err error) {
	out = &Outcome{EventID: ev.ID, EventType: ev.Type}
	defer func() {
		p.ledger.Plugins().EmitWebhookProcessed(ctx, ev.Type, ev.ID, err)
	}()

	switch ev.Type {
	case EventCheckoutCompleted:
		err = p.checkoutCompleted(ctx, ev, out)
	case EventInvoicePaid:
		err = p.invoicePaid(ctx, ev, out)
	case EventSubscriptionUpdated:
		err = p.subscriptionChanged(ctx, ev, account.SubscriptionStatus(ev.SubscriptionStatus), out)
	case EventSubscriptionDeleted:
		err = p.subscriptionChanged(ctx, ev, account.SubscriptionCanceled, out)
	default:
		out.Ignored = true
		p.logger.Debug("billing event ignored", "event_id", ev.ID, "event_type", ev.Type)
	}

	if errors.Is(err, credits.ErrDuplicateTransaction) {
		out.Duplicate = true
		p.logger.Info("billing event already applied", "event_id", ev.ID, "event_type", ev.Type)
		err = nil
	}
	return out, err
}

func (p *Processor) checkoutCompleted(ctx context.Context, ev *Event, out *Outcome) error {
	out.AccountID = ev.AccountID
	if ev.AccountID == "" {
		return p.ignore(ev, out, "checkout without account")
	}
	cfg := p.config(ctx)

	switch ev.Mode {
	case ModeSubscription:
		key, plan, ok := p.resolvePlan(cfg, ev)
		if !ok {
			return p.ignore(ev, out, "unknown plan")
		}

		err := p.ledger.SetSubscription(ctx, ev.AccountID, account.Subscription{
			Ref:         ev.SubscriptionRef,
			CustomerRef: ev.CustomerRef,
			PlanKey:     key,
			Status:      account.SubscriptionActive,
		})
		if errors.Is(err, credits.ErrAccountNotFound) {
			return p.ignore(ev, out, "account not found")
		}
		if err != nil {
			return err
		}
		return p.grant(ctx, ev, out, plan.MonthlyCredits, transaction.TypeSubscription, OperationSubscriptionStarted, key)

	case ModePayment:
		amount := ev.Credits
		if amount == 0 {
			if pack, ok := cfg.PackForPrice(ev.PriceID); ok {
				amount = pack.Credits
			}
		}
		if amount == 0 {
			return p.ignore(ev, out, "checkout without credits")
		}
		return p.grant(ctx, ev, out, amount, transaction.TypePurchase, OperationPackPurchased, "")
	}

	return p.ignore(ev, out, "unsupported checkout mode")
}

func (p *Processor) invoicePaid(ctx context.Context, ev *Event, out *Outcome) error {
	// The first invoice of a subscription is covered by the checkout grant.
	if ev.BillingReason != BillingReasonCycle || ev.SubscriptionRef == "" {
		return p.ignore(ev, out, "not a renewal")
	}

	a, err := p.ledger.AccountBySubscription(ctx, ev.SubscriptionRef)
	if errors.Is(err, credits.ErrSubscriptionNotFound) {
		return p.ignore(ev, out, "subscription not found")
	}
	if err != nil {
		return err
	}
	out.AccountID = a.ID
	ev.AccountID = a.ID

	key := a.Subscription.PlanKey
	if key == "" {
		key = DefaultPlanKey
	}
	plan, ok := p.config(ctx).Plans[key]
	if !ok || !plan.Enabled {
		return p.ignore(ev, out, "unknown plan")
	}
	return p.grant(ctx, ev, out, plan.MonthlyCredits, transaction.TypeSubscription, OperationSubscriptionRenewed, key)
}

func (p *Processor) subscriptionChanged(ctx context.Context, ev *Event, status account.SubscriptionStatus, out *Outcome) error {
	a, err := p.ledger.AccountBySubscription(ctx, ev.SubscriptionRef)
	if errors.Is(err, credits.ErrSubscriptionNotFound) {
		return p.ignore(ev, out, "subscription not found")
	}
	if err != nil {
		return err
	}
	out.AccountID = a.ID

	sub := a.Subscription
	sub.Status = status
	return p.ledger.SetSubscription(ctx, a.ID, sub)
}

func (p *Processor) grant(ctx context.Context, ev *Event, out *Outcome, amount int64, typ transaction.Type, operation, planKey string) error {
	if amount <= 0 {
		return p.ignore(ev, out, "nothing to grant")
	}

	md := map[string]string{MetaEventID: ev.ID}
	if planKey != "" {
		md[MetaPlanKey] = planKey
	}
	res, err := p.ledger.Grant(ctx, credits.GrantRequest{
		AccountID:     ev.AccountID,
		Amount:        amount,
		Type:          typ,
		Operation:     operation,
		Metadata:      md,
		CorrelationID: "evt:" + ev.ID,
	})
	if errors.Is(err, credits.ErrAccountNotFound) {
		return p.ignore(ev, out, "account not found")
	}
	if err != nil {
		return err
	}

	out.Granted = amount
	out.Result = res
	return nil
}

func (p *Processor) resolvePlan(cfg *catalog.Config, ev *Event) (string, catalog.Plan, bool) {
	if ev.PlanKey != "" {
		plan, ok := cfg.Plans[ev.PlanKey]
		return ev.PlanKey, plan, ok && plan.Enabled
	}
	if key, plan, ok := cfg.PlanForPrice(ev.PriceID); ok {
		return key, plan, true
	}
	plan, ok := cfg.Plans[DefaultPlanKey]
	return DefaultPlanKey, plan, ok && plan.Enabled
}

func (p *Processor) config(ctx context.Context) *catalog.Config {
	if p.catalog == nil {
		return catalog.Default()
	}
	return p.catalog.Get(ctx)
}

func (p *Processor) ignore(ev *Event, out *Outcome, reason string) error {
	out.Ignored = true
	p.logger.Warn("billing event ignored",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"account_id", out.AccountID,
		"reason", reason,
	)
	return nil
}
