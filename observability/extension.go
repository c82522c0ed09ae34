// Package observability provides a metrics extension for farmledger that
// records posting lifecycle counts and latencies via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/plugin"
	"github.com/xraph/farmledger/requisition"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnEventPosted         = (*MetricsExtension)(nil)
	_ plugin.OnEventFailed         = (*MetricsExtension)(nil)
	_ plugin.OnTransactionReversed = (*MetricsExtension)(nil)
	_ plugin.OnInventoryMoved      = (*MetricsExtension)(nil)
	_ plugin.OnReorderTriggered    = (*MetricsExtension)(nil)
	_ plugin.OnReorderFailed       = (*MetricsExtension)(nil)
	_ plugin.OnAccountsSeeded      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide posting metrics.
// Register it as a farmledger plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Posting metrics
	EventsPosted        Counter
	EventsReplayed      Counter
	EventsFailed        Counter
	ConfigurationErrors Counter
	PostingLatency      Histogram
	PostingAttempts     Histogram

	// Ledger metrics
	TransactionsReversed Counter

	// Inventory metrics
	InventoryIncreases Counter
	InventoryDecreases Counter
	MovementValue      Histogram

	// Purchasing metrics
	ReordersTriggered Counter
	ReorderFailures   Counter

	// Chart of accounts metrics
	AccountsSeeded Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		EventsPosted:        factory.Counter("farmledger.events.posted"),
		EventsReplayed:      factory.Counter("farmledger.events.replayed"),
		EventsFailed:        factory.Counter("farmledger.events.failed"),
		ConfigurationErrors: factory.Counter("farmledger.events.configuration_errors"),
		PostingLatency:      factory.Histogram("farmledger.posting.latency_ms"),
		PostingAttempts:     factory.Histogram("farmledger.posting.attempts"),

		TransactionsReversed: factory.Counter("farmledger.transactions.reversed"),

		InventoryIncreases: factory.Counter("farmledger.inventory.increases"),
		InventoryDecreases: factory.Counter("farmledger.inventory.decreases"),
		MovementValue:      factory.Histogram("farmledger.inventory.movement_value"),

		ReordersTriggered: factory.Counter("farmledger.reorder.triggered"),
		ReorderFailures:   factory.Counter("farmledger.reorder.failed"),

		AccountsSeeded: factory.Counter("farmledger.accounts.seeded"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnEventPosted implements plugin.OnEventPosted.
func (m *MetricsExtension) OnEventPosted(_ context.Context, evt *event.Event, _ *journal.Transaction, replayed bool, elapsed time.Duration) error {
	if replayed {
		m.EventsReplayed.Inc()
	} else {
		m.EventsPosted.Inc()
	}
	m.PostingLatency.Observe(float64(elapsed.Milliseconds()))
	m.PostingAttempts.Observe(float64(evt.Attempts))
	return nil
}

// OnEventFailed implements plugin.OnEventFailed.
func (m *MetricsExtension) OnEventFailed(_ context.Context, _ *event.Event, err error) error {
	m.EventsFailed.Inc()
	if farmledger.IsConfigurationError(err) {
		m.ConfigurationErrors.Inc()
	}
	return nil
}

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (m *MetricsExtension) OnTransactionReversed(_ context.Context, _, _ *journal.Transaction) error {
	m.TransactionsReversed.Inc()
	return nil
}

// OnInventoryMoved implements plugin.OnInventoryMoved.
func (m *MetricsExtension) OnInventoryMoved(_ context.Context, mv *inventory.Movement, _ *inventory.Balance) error {
	if mv.IsDecrease() {
		m.InventoryDecreases.Inc()
	} else {
		m.InventoryIncreases.Inc()
	}
	value, _ := mv.TotalCost.Abs().Float64()
	m.MovementValue.Observe(value)
	return nil
}

// OnReorderTriggered implements plugin.OnReorderTriggered.
func (m *MetricsExtension) OnReorderTriggered(_ context.Context, _ *requisition.Requisition) error {
	m.ReordersTriggered.Inc()
	return nil
}

// OnReorderFailed implements plugin.OnReorderFailed.
func (m *MetricsExtension) OnReorderFailed(_ context.Context, _, _, _ string, _ error) error {
	m.ReorderFailures.Inc()
	return nil
}

// OnAccountsSeeded implements plugin.OnAccountsSeeded.
func (m *MetricsExtension) OnAccountsSeeded(_ context.Context, _ string, count int) error {
	m.AccountsSeeded.Add(float64(count))
	return nil
}
