package extension

import (
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/plugin"
	"github.com/xraph/farmledger/store"
)

// Option configures the farmledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the posting engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a farmledger.Option through to the underlying engine.
func WithEngineOption(opt farmledger.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a farmledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, farmledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSweep turns off the scheduled retry sweep.
func WithDisableSweep() Option {
	return func(e *Extension) { e.config.DisableSweep = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPostingProfileVersion sets the version mixed into idempotency keys.
func WithPostingProfileVersion(v string) Option {
	return func(e *Extension) { e.config.PostingProfileVersion = v }
}

// WithSweepSchedule sets the cron spec of the retry sweep.
func WithSweepSchedule(spec string) Option {
	return func(e *Extension) { e.config.SweepSchedule = spec }
}

// WithSweepMaxAttempts caps the attempts after which the sweep gives up on an event.
func WithSweepMaxAttempts(n int) Option {
	return func(e *Extension) { e.config.SweepMaxAttempts = n }
}

// WithStaleLockAfter enables stale-lock reporting at the given age.
func WithStaleLockAfter(d time.Duration) Option {
	return func(e *Extension) { e.config.StaleLockAfter = d }
}

// WithResetStaleLocks lets the sweep release the stale locks it reports.
func WithResetStaleLocks() Option {
	return func(e *Extension) { e.config.ResetStaleLocks = true }
}

// WithRedis uses client for the distributed inventory lock.
func WithRedis(client *redis.Client) Option {
	return func(e *Extension) { e.redis = client }
}

// WithLockTTL sets the lease duration of the distributed inventory lock.
func WithLockTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.LockTTL = d }
}

// WithPubSubClient enables the Pub/Sub consumer on the given subscription.
func WithPubSubClient(client *pubsub.Client, subscription string) Option {
	return func(e *Extension) {
		e.pubsub = client
		e.config.ConsumerSubscription = subscription
	}
}
