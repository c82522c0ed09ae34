package consumer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/consumer"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/store/memory"
	"github.com/xraph/farmledger/tenant"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(t *testing.T, tenantID string, eventID id.EventID) []byte {
	t.Helper()
	raw, err := json.Marshal(consumer.Message{TenantID: tenantID, EventID: eventID.String()})
	require.NoError(t, err)
	return raw
}

func newEngine(t *testing.T) (*farmledger.Engine, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	e := farmledger.New(mem, farmledger.WithLogger(quietLogger()))
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, mem.CreateTenant(ctx, &tenant.Tenant{
		ID: "t1", Name: "Hill Farm",
		Settings: tenant.Settings{LivestockCostingMode: tenant.CostingExpense},
	}))
	require.NoError(t, mem.CreateItem(ctx, &item.Item{ID: "F1", TenantID: "t1", Name: "Feed", Type: item.TypeFeed, Unit: "kg"}))
	_, err := e.SeedChartOfAccounts(ctx, "t1")
	require.NoError(t, err)
	return e, mem
}

func TestHandlePostsEvent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	evt := &event.Event{
		TenantID: "t1", SiteID: "A", Type: event.TypeReceivePurchaseOrder,
		Payload: map[string]any{"itemId": "F1", "quantity": 10, "unitCost": 2, "paymentMethod": "CASH"},
	}
	require.NoError(t, e.SubmitEvent(ctx, evt))

	sub := consumer.New(nil, e, consumer.Config{LockerID: "consumer-1"}, quietLogger())
	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "m1", message(t, "t1", evt.ID)))

	got, err := e.GetEvent(ctx, "t1", evt.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusPosted, got.Status)

	// Redelivery of the same message is acknowledged without a second post.
	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "m1", message(t, "t1", evt.ID)))
}

func TestHandleAcksConfigurationFailures(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	evt := &event.Event{
		TenantID: "t1", SiteID: "A", Type: event.TypeReceivePurchaseOrder,
		Payload: map[string]any{"itemId": "F1", "quantity": "lots", "unitCost": 2},
	}
	require.NoError(t, e.SubmitEvent(ctx, evt))

	sub := consumer.New(nil, e, consumer.Config{}, quietLogger())
	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "m2", message(t, "t1", evt.ID)))

	got, err := e.GetEvent(ctx, "t1", evt.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, got.Status)
	assert.NotEmpty(t, got.LastError)
}

func TestHandleDropsMalformedMessages(t *testing.T) {
	proc := &fakeProcessor{}
	sub := consumer.New(nil, proc, consumer.DefaultConfig(), quietLogger())
	ctx := context.Background()

	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "bad-json", []byte("{")))
	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "no-tenant", []byte(`{"event_id":"x"}`)))
	assert.Equal(t, consumer.Ack, sub.Handle(ctx, "bad-id", []byte(`{"tenant_id":"t1","event_id":"nope"}`)))
	assert.Zero(t, proc.calls)
}

func TestHandleNacksTransientFailures(t *testing.T) {
	proc := &fakeProcessor{err: fmt.Errorf("apply movement: %w", farmledger.ErrConcurrentModification)}
	sub := consumer.New(nil, proc, consumer.DefaultConfig(), quietLogger())

	got := sub.Handle(context.Background(), "m3", message(t, "t1", id.NewEventID()))
	assert.Equal(t, consumer.Nack, got)
	assert.Equal(t, 1, proc.calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want consumer.Decision
	}{
		{"nil", nil, consumer.Ack},
		{"canceled", context.Canceled, consumer.Nack},
		{"transaction failed", farmledger.ErrTransactionFailed, consumer.Nack},
		{"keyed lock", farmledger.ErrKeyedLockNotObtained, consumer.Nack},
		{"missing accounts", farmledger.ErrRequiredAccountsNotFound, consumer.Ack},
		{"invalid payload", farmledger.ErrInvalidPayload, consumer.Ack},
		{"event not found", farmledger.ErrEventNotFound, consumer.Ack},
		{"held elsewhere", &farmledger.InvalidEventStateError{Status: event.StatusProcessing}, consumer.Ack},
		{"unknown", fmt.Errorf("connection reset"), consumer.Nack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, consumer.Classify(tt.err))
		})
	}
}

type fakeProcessor struct {
	calls int
	err   error
}

func (p *fakeProcessor) ProcessEvent(context.Context, string, id.EventID, string) (*farmledger.PostingResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &farmledger.PostingResult{Success: true}, nil
}
