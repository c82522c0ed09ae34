package farmledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/lock"
	"github.com/xraph/farmledger/plugin"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/store"
	"github.com/xraph/farmledger/tenant"
)

// DefaultPostingProfileVersion is mixed into every idempotency key.
// Bumping it supersedes keys derived under the previous posting rules.
const DefaultPostingProfileVersion = "v1"

// TracerName is the instrumentation scope of the engine's spans.
const TracerName = "github.com/xraph/farmledger"

// Engine turns business events into balanced ledger transactions and the
// inventory movements they imply.
type Engine struct {
	store        store.Store
	events       event.Store
	tenants      tenant.Store
	accounts     account.Store
	items        item.Store
	journal      journal.Store
	inventory    inventory.Store
	requisitions requisition.Store

	plugins *plugin.Registry
	logger  *slog.Logger
	locker  lock.Locker
	tracer  trace.Tracer
	now     func() time.Time

	profileVersion string
	workerID       string
}

// New creates an Engine backed by s. Individual collaborators can be
// replaced with options, e.g. to keep events in a different store.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		events:         s,
		tenants:        s,
		accounts:       s,
		items:          s,
		journal:        s,
		inventory:      s,
		requisitions:   s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		locker:         lock.NewLocal(),
		tracer:         otel.Tracer(TracerName),
		now:            func() time.Time { return time.Now().UTC() },
		profileVersion: DefaultPostingProfileVersion,
		workerID:       "farmledger-" + uuid.NewString(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds every plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithPostingProfileVersion sets the version mixed into idempotency keys.
func WithPostingProfileVersion(v string) Option {
	return func(e *Engine) {
		if v != "" {
			e.profileVersion = v
		}
	}
}

// WithLocker sets the keyed lock guarding inventory balances.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithWorkerID sets the locker id used when ProcessEvent gets none.
func WithWorkerID(workerID string) Option {
	return func(e *Engine) {
		if workerID != "" {
			e.workerID = workerID
		}
	}
}

// WithEventStore replaces the event collaborator.
func WithEventStore(s event.Store) Option {
	return func(e *Engine) { e.events = s }
}

// WithTenantStore replaces the tenant settings collaborator.
func WithTenantStore(s tenant.Store) Option {
	return func(e *Engine) { e.tenants = s }
}

// WithRequisitionStore replaces the requisition collaborator.
func WithRequisitionStore(s requisition.Store) Option {
	return func(e *Engine) { e.requisitions = s }
}

// Start migrates every distinct backing store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	for _, m := range e.migrators() {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("farmledger started",
		"worker_id", e.workerID,
		"posting_profile_version", e.profileVersion,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the backing store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func (e *Engine) migrators() []migrator {
	seen := make(map[any]bool)
	var out []migrator
	for _, c := range []any{e.store, e.events, e.tenants, e.requisitions} {
		m, ok := c.(migrator)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, m)
	}
	return out
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// WorkerID returns the default locker id.
func (e *Engine) WorkerID() string { return e.workerID }

// PostingProfileVersion returns the version mixed into idempotency keys.
func (e *Engine) PostingProfileVersion() string { return e.profileVersion }
