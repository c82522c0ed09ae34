package extension

import "time"

// Config holds the farmledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.farmledger" or "farmledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// PostingProfileVersion is mixed into every idempotency key
	// (default: "v1"). Bump it only when posting rules change.
	PostingProfileVersion string `json:"posting_profile_version" mapstructure:"posting_profile_version" yaml:"posting_profile_version"`

	// DisableSweep turns off the scheduled retry of FAILED events.
	DisableSweep bool `json:"disable_sweep" mapstructure:"disable_sweep" yaml:"disable_sweep"`

	// SweepSchedule is the cron spec of the sweep (default: "@every 1m").
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`

	// SweepMaxAttempts stops retrying an event after this many claims
	// (default: 10).
	SweepMaxAttempts int `json:"sweep_max_attempts" mapstructure:"sweep_max_attempts" yaml:"sweep_max_attempts"`

	// StaleLockAfter reports PROCESSING events locked for longer than this.
	// Zero disables the check.
	StaleLockAfter time.Duration `json:"stale_lock_after" mapstructure:"stale_lock_after" yaml:"stale_lock_after"`

	// ResetStaleLocks releases reported stale locks. Off unless set.
	ResetStaleLocks bool `json:"reset_stale_locks" mapstructure:"reset_stale_locks" yaml:"reset_stale_locks"`

	// RedisAddr enables the distributed inventory lock. Empty keeps the
	// in-process lock, which is only correct with a single engine process.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// LockTTL bounds how long a crashed process can hold an inventory key
	// (default: 30s).
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// ConsumerSubscription is the Pub/Sub subscription the extension
	// receives posting requests from. It needs WithPubSubClient.
	ConsumerSubscription string `json:"consumer_subscription" mapstructure:"consumer_subscription" yaml:"consumer_subscription"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PostingProfileVersion: "v1",
		SweepSchedule:         "@every 1m",
		SweepMaxAttempts:      10,
		LockTTL:               30 * time.Second,
	}
}
