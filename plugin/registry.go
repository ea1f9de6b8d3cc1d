package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/credits/transaction"
)

// DefaultTimeout bounds each plugin call so hooks never stall the ledger.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onTransactionCommitted []OnTransactionCommitted
	onDeducted             []OnDeducted
	onRefunded             []OnRefunded
	onGranted              []OnGranted
	onBalanceSet           []OnBalanceSet
	onDeductRejected       []OnDeductRejected
	onChargeSettled        []OnChargeSettled
	onChargeReversed       []OnChargeReversed
	onErrorClassified      []OnErrorClassified
	onRetryAttempt         []OnRetryAttempt
	onWebhookProcessed     []OnWebhookProcessed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionCommitted); ok {
		r.onTransactionCommitted = append(r.onTransactionCommitted, v)
	}
	if v, ok := p.(OnDeducted); ok {
		r.onDeducted = append(r.onDeducted, v)
	}
	if v, ok := p.(OnRefunded); ok {
		r.onRefunded = append(r.onRefunded, v)
	}
	if v, ok := p.(OnGranted); ok {
		r.onGranted = append(r.onGranted, v)
	}
	if v, ok := p.(OnBalanceSet); ok {
		r.onBalanceSet = append(r.onBalanceSet, v)
	}
	if v, ok := p.(OnDeductRejected); ok {
		r.onDeductRejected = append(r.onDeductRejected, v)
	}
	if v, ok := p.(OnChargeSettled); ok {
		r.onChargeSettled = append(r.onChargeSettled, v)
	}
	if v, ok := p.(OnChargeReversed); ok {
		r.onChargeReversed = append(r.onChargeReversed, v)
	}
	if v, ok := p.(OnErrorClassified); ok {
		r.onErrorClassified = append(r.onErrorClassified, v)
	}
	if v, ok := p.(OnRetryAttempt); ok {
		r.onRetryAttempt = append(r.onRetryAttempt, v)
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces lists the hook interfaces a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnTransactionCommitted)(nil)).Elem(), "OnTransactionCommitted")
	check(reflect.TypeOf((*OnDeducted)(nil)).Elem(), "OnDeducted")
	check(reflect.TypeOf((*OnRefunded)(nil)).Elem(), "OnRefunded")
	check(reflect.TypeOf((*OnGranted)(nil)).Elem(), "OnGranted")
	check(reflect.TypeOf((*OnBalanceSet)(nil)).Elem(), "OnBalanceSet")
	check(reflect.TypeOf((*OnDeductRejected)(nil)).Elem(), "OnDeductRejected")
	check(reflect.TypeOf((*OnChargeSettled)(nil)).Elem(), "OnChargeSettled")
	check(reflect.TypeOf((*OnChargeReversed)(nil)).Elem(), "OnChargeReversed")
	check(reflect.TypeOf((*OnErrorClassified)(nil)).Elem(), "OnErrorClassified")
	check(reflect.TypeOf((*OnRetryAttempt)(nil)).Elem(), "OnRetryAttempt")
	check(reflect.TypeOf((*OnWebhookProcessed)(nil)).Elem(), "OnWebhookProcessed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// snapshot copies a hook list under the read lock.
func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	for _, p := range snapshot(r, &r.onInit) {
		r.dispatch(ctx, "OnInit", p.Name(), func() error { return p.OnInit(ctx, l) })
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, p := range snapshot(r, &r.onShutdown) {
		r.dispatch(ctx, "OnShutdown", p.Name(), func() error { return p.OnShutdown(ctx) })
	}
}

// EmitCommitted calls OnTransactionCommitted and the type-specific hook.
// Each hook receives its own copy of tx.
// Administrative corrections (operation "admin_adjustment") go to
// OnBalanceSet instead of OnGranted.
func (r *Registry) EmitCommitted(ctx context.Context, tx *transaction.Transaction, adminAdjustment bool) {
	for _, p := range snapshot(r, &r.onTransactionCommitted) {
		r.dispatch(ctx, "OnTransactionCommitted", p.Name(), func() error { return p.OnTransactionCommitted(ctx, tx.Clone()) })
	}

	switch {
	case adminAdjustment:
		for _, p := range snapshot(r, &r.onBalanceSet) {
			r.dispatch(ctx, "OnBalanceSet", p.Name(), func() error { return p.OnBalanceSet(ctx, tx.Clone()) })
		}
	case tx.Type == transaction.TypeDeduct:
		for _, p := range snapshot(r, &r.onDeducted) {
			r.dispatch(ctx, "OnDeducted", p.Name(), func() error { return p.OnDeducted(ctx, tx.Clone()) })
		}
	case tx.Type == transaction.TypeRefund:
		for _, p := range snapshot(r, &r.onRefunded) {
			r.dispatch(ctx, "OnRefunded", p.Name(), func() error { return p.OnRefunded(ctx, tx.Clone()) })
		}
	default:
		for _, p := range snapshot(r, &r.onGranted) {
			r.dispatch(ctx, "OnGranted", p.Name(), func() error { return p.OnGranted(ctx, tx.Clone()) })
		}
	}
}

// EmitDeductRejected calls OnDeductRejected for all plugins that implement it.
func (r *Registry) EmitDeductRejected(ctx context.Context, accountID, operation string, amount, balance int64) {
	for _, p := range snapshot(r, &r.onDeductRejected) {
		r.dispatch(ctx, "OnDeductRejected", p.Name(), func() error {
			return p.OnDeductRejected(ctx, accountID, operation, amount, balance)
		})
	}
}

// EmitChargeSettled calls OnChargeSettled for all plugins that implement it.
func (r *Registry) EmitChargeSettled(ctx context.Context, accountID, operation string, cost int64, attempts int) {
	for _, p := range snapshot(r, &r.onChargeSettled) {
		r.dispatch(ctx, "OnChargeSettled", p.Name(), func() error {
			return p.OnChargeSettled(ctx, accountID, operation, cost, attempts)
		})
	}
}

// EmitChargeReversed calls OnChargeReversed for all plugins that implement it.
func (r *Registry) EmitChargeReversed(ctx context.Context, accountID, operation string, amount int64, reason string) {
	for _, p := range snapshot(r, &r.onChargeReversed) {
		r.dispatch(ctx, "OnChargeReversed", p.Name(), func() error {
			return p.OnChargeReversed(ctx, accountID, operation, amount, reason)
		})
	}
}

// EmitErrorClassified calls OnErrorClassified for all plugins that implement it.
func (r *Registry) EmitErrorClassified(ctx context.Context, operation, kind string, reverseCharge bool, err error) {
	for _, p := range snapshot(r, &r.onErrorClassified) {
		r.dispatch(ctx, "OnErrorClassified", p.Name(), func() error {
			return p.OnErrorClassified(ctx, operation, kind, reverseCharge, err)
		})
	}
}

// EmitRetryAttempt calls OnRetryAttempt for all plugins that implement it.
func (r *Registry) EmitRetryAttempt(ctx context.Context, operation string, attempt int, delay time.Duration, err error) {
	for _, p := range snapshot(r, &r.onRetryAttempt) {
		r.dispatch(ctx, "OnRetryAttempt", p.Name(), func() error {
			return p.OnRetryAttempt(ctx, operation, attempt, delay, err)
		})
	}
}

// EmitWebhookProcessed calls OnWebhookProcessed for all plugins that implement it.
func (r *Registry) EmitWebhookProcessed(ctx context.Context, eventType, eventID string, err error) {
	for _, p := range snapshot(r, &r.onWebhookProcessed) {
		r.dispatch(ctx, "OnWebhookProcessed", p.Name(), func() error {
			return p.OnWebhookProcessed(ctx, eventType, eventID, err)
		})
	}
}

// dispatch runs one hook and logs its failure.
func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
