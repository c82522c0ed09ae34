package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onEventPosted         []OnEventPosted
	onEventFailed         []OnEventFailed
	onTransactionReversed []OnTransactionReversed
	onInventoryMoved      []OnInventoryMoved
	onReorderTriggered    []OnReorderTriggered
	onReorderFailed       []OnReorderFailed
	onAccountsSeeded      []OnAccountsSeeded
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

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
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
	if v, ok := p.(OnEventPosted); ok {
		r.onEventPosted = append(r.onEventPosted, v)
	}
	if v, ok := p.(OnEventFailed); ok {
		r.onEventFailed = append(r.onEventFailed, v)
	}
	if v, ok := p.(OnTransactionReversed); ok {
		r.onTransactionReversed = append(r.onTransactionReversed, v)
	}
	if v, ok := p.(OnInventoryMoved); ok {
		r.onInventoryMoved = append(r.onInventoryMoved, v)
	}
	if v, ok := p.(OnReorderTriggered); ok {
		r.onReorderTriggered = append(r.onReorderTriggered, v)
	}
	if v, ok := p.(OnReorderFailed); ok {
		r.onReorderFailed = append(r.onReorderFailed, v)
	}
	if v, ok := p.(OnAccountsSeeded); ok {
		r.onAccountsSeeded = append(r.onAccountsSeeded, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnEventPosted)(nil)).Elem(), "OnEventPosted")
	checkInterface(reflect.TypeOf((*OnEventFailed)(nil)).Elem(), "OnEventFailed")
	checkInterface(reflect.TypeOf((*OnTransactionReversed)(nil)).Elem(), "OnTransactionReversed")
	checkInterface(reflect.TypeOf((*OnInventoryMoved)(nil)).Elem(), "OnInventoryMoved")
	checkInterface(reflect.TypeOf((*OnReorderTriggered)(nil)).Elem(), "OnReorderTriggered")
	checkInterface(reflect.TypeOf((*OnReorderFailed)(nil)).Elem(), "OnReorderFailed")
	checkInterface(reflect.TypeOf((*OnAccountsSeeded)(nil)).Elem(), "OnAccountsSeeded")

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

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventPosted emits an event posted notification.
func (r *Registry) EmitEventPosted(ctx context.Context, evt *event.Event, tx *journal.Transaction, replayed bool, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onEventPosted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventPosted(ctx, evt, tx, replayed, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnEventPosted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventFailed emits an event failed notification.
func (r *Registry) EmitEventFailed(ctx context.Context, evt *event.Event, cause error) {
	r.mu.RLock()
	plugins := r.onEventFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventFailed(ctx, evt, cause)
		}); err != nil {
			r.logger.Warn("plugin OnEventFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionReversed emits a transaction reversed notification.
func (r *Registry) EmitTransactionReversed(ctx context.Context, original, reversal *journal.Transaction) {
	r.mu.RLock()
	plugins := r.onTransactionReversed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionReversed(ctx, original, reversal)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionReversed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInventoryMoved emits an inventory moved notification.
func (r *Registry) EmitInventoryMoved(ctx context.Context, m *inventory.Movement, b *inventory.Balance) {
	r.mu.RLock()
	plugins := r.onInventoryMoved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInventoryMoved(ctx, m, b)
		}); err != nil {
			r.logger.Warn("plugin OnInventoryMoved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReorderTriggered emits a reorder triggered notification.
func (r *Registry) EmitReorderTriggered(ctx context.Context, req *requisition.Requisition) {
	r.mu.RLock()
	plugins := r.onReorderTriggered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReorderTriggered(ctx, req)
		}); err != nil {
			r.logger.Warn("plugin OnReorderTriggered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReorderFailed emits a reorder failed notification.
func (r *Registry) EmitReorderFailed(ctx context.Context, tenantID, siteID, itemID string, cause error) {
	r.mu.RLock()
	plugins := r.onReorderFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReorderFailed(ctx, tenantID, siteID, itemID, cause)
		}); err != nil {
			r.logger.Warn("plugin OnReorderFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAccountsSeeded emits an accounts seeded notification.
func (r *Registry) EmitAccountsSeeded(ctx context.Context, tenantID string, count int) {
	r.mu.RLock()
	plugins := r.onAccountsSeeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAccountsSeeded(ctx, tenantID, count)
		}); err != nil {
			r.logger.Warn("plugin OnAccountsSeeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the posting pipeline.
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
