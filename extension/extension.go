// Package extension provides the Forge extension adapter for farmledger.
//
// It implements the forge.Extension interface to integrate the posting
// engine into a Forge application with DI registration, lifecycle
// management, the retry sweep and an optional Pub/Sub consumer.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.farmledger" or
// "farmledger" keys.
package extension

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/consumer"
	"github.com/xraph/farmledger/lock"
	"github.com/xraph/farmledger/store"
	"github.com/xraph/farmledger/store/memory"
	"github.com/xraph/farmledger/sweep"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "farmledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Farm accounting posting engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the farmledger engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *farmledger.Engine
	store      store.Store
	engineOpts []farmledger.Option

	sweeper *sweep.Sweeper

	redis     *redis.Client
	ownsRedis bool

	pubsub     *pubsub.Client
	subscriber *consumer.Subscriber
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a new farmledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying posting engine.
// This is nil until Register is called.
func (e *Extension) Engine() *farmledger.Engine { return e.engine }

// Sweeper returns the retry sweeper, or nil when the sweep is disabled.
func (e *Extension) Sweeper() *sweep.Sweeper { return e.sweeper }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = farmledger.New(e.store, e.buildEngineOpts()...)

	if !e.config.DisableSweep {
		e.sweeper = sweep.New(e.engine, sweep.Config{
			Schedule:       e.config.SweepSchedule,
			MaxAttempts:    e.config.SweepMaxAttempts,
			StaleLockAfter: e.config.StaleLockAfter,
			ResetStale:     e.config.ResetStaleLocks,
		}, sweep.WithLogger(e.engine.Logger()))
	}

	if e.pubsub != nil && e.config.ConsumerSubscription != "" {
		e.subscriber = consumer.New(e.pubsub, e.engine, consumer.Config{
			Subscription: e.config.ConsumerSubscription,
		}, e.engine.Logger())
	}

	return vessel.Provide(fapp.Container(), func() (*farmledger.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("farmledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if e.sweeper != nil {
		if err := e.sweeper.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if e.subscriber != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.subscriber.Run(runCtx); err != nil {
				e.Logger().Error("farmledger: consumer stopped", forge.F("error", err.Error()))
			}
		}()
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.sweeper != nil {
		if err := e.sweeper.Stop(ctx); err != nil {
			e.Logger().Warn("farmledger: sweep did not stop cleanly", forge.F("error", err.Error()))
		}
	}
	e.wg.Wait()

	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.ownsRedis && e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("farmledger: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// buildEngineOpts constructs farmledger.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []farmledger.Option {
	opts := make([]farmledger.Option, 0, len(e.engineOpts)+2)

	if e.config.PostingProfileVersion != "" {
		opts = append(opts, farmledger.WithPostingProfileVersion(e.config.PostingProfileVersion))
	}

	if e.redis == nil && e.config.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: e.config.RedisAddr})
		e.ownsRedis = true
	}
	if e.redis != nil {
		opts = append(opts, farmledger.WithLocker(lock.NewRedis(redislock.New(e.redis), lock.RedisConfig{
			TTL: e.config.LockTTL,
		})))
	}

	// Pass-through engine options are applied last.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("farmledger: configuration is required but not found in config files; " +
				"ensure 'extensions.farmledger' or 'farmledger' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("farmledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("posting_profile_version", e.config.PostingProfileVersion),
		forge.F("disable_sweep", e.config.DisableSweep),
		forge.F("sweep_schedule", e.config.SweepSchedule),
		forge.F("sweep_max_attempts", e.config.SweepMaxAttempts),
		forge.F("stale_lock_after", e.config.StaleLockAfter),
		forge.F("distributed_lock", e.config.RedisAddr != "" || e.redis != nil),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.farmledger", "farmledger"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("farmledger: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("farmledger: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults. StaleLockAfter
// has no default.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.PostingProfileVersion == "" {
		cfg.PostingProfileVersion = defaults.PostingProfileVersion
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaults.SweepSchedule
	}
	if cfg.SweepMaxAttempts == 0 {
		cfg.SweepMaxAttempts = defaults.SweepMaxAttempts
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSweep {
		yamlConfig.DisableSweep = true
	}
	if programmaticConfig.ResetStaleLocks {
		yamlConfig.ResetStaleLocks = true
	}

	if yamlConfig.PostingProfileVersion == "" {
		yamlConfig.PostingProfileVersion = programmaticConfig.PostingProfileVersion
	}
	if yamlConfig.SweepSchedule == "" {
		yamlConfig.SweepSchedule = programmaticConfig.SweepSchedule
	}
	if yamlConfig.RedisAddr == "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}
	if yamlConfig.ConsumerSubscription == "" {
		yamlConfig.ConsumerSubscription = programmaticConfig.ConsumerSubscription
	}

	if yamlConfig.SweepMaxAttempts == 0 {
		yamlConfig.SweepMaxAttempts = programmaticConfig.SweepMaxAttempts
	}
	if yamlConfig.StaleLockAfter == 0 {
		yamlConfig.StaleLockAfter = programmaticConfig.StaleLockAfter
	}
	if yamlConfig.LockTTL == 0 {
		yamlConfig.LockTTL = programmaticConfig.LockTTL
	}

	return mergeWithDefaults(yamlConfig)
}
