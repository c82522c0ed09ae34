package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{SweepMaxAttempts: 3})

	assert.Equal(t, "v1", cfg.PostingProfileVersion)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, 3, cfg.SweepMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Zero(t, cfg.StaleLockAfter, "stale-lock detection stays off unless configured")
	assert.False(t, cfg.ResetStaleLocks)
}

func TestMergeConfigurationsFilePrecedence(t *testing.T) {
	file := Config{PostingProfileVersion: "v2", SweepSchedule: "@every 5m"}
	prog := Config{
		PostingProfileVersion: "v9",
		SweepMaxAttempts:      4,
		StaleLockAfter:        time.Hour,
		DisableMigrate:        true,
		RedisAddr:             "localhost:6379",
	}

	cfg := mergeConfigurations(file, prog)

	assert.Equal(t, "v2", cfg.PostingProfileVersion)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, 4, cfg.SweepMaxAttempts)
	assert.Equal(t, time.Hour, cfg.StaleLockAfter)
	assert.True(t, cfg.DisableMigrate)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
}

func TestBuildEngineOptsUsesRedisLocker(t *testing.T) {
	e := New(WithConfig(Config{RedisAddr: "127.0.0.1:0"}))
	e.config = mergeWithDefaults(e.config)

	opts := e.buildEngineOpts()

	assert.Len(t, opts, 2)
	assert.NotNil(t, e.redis)
	assert.True(t, e.ownsRedis)
	_ = e.redis.Close()
}
