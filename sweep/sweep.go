// Package sweep periodically retries FAILED events and reports events whose
// posting lock looks abandoned.
//
// Locks are never released on a timeout by default: a PROCESSING event older
// than StaleLockAfter is logged and returned in the Report. Operators decide,
// unless ResetStale is set explicitly.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/tenant"
)

// Engine is the subset of *farmledger.Engine the sweeper drives.
type Engine interface {
	ListTenants(ctx context.Context) ([]*tenant.Tenant, error)
	ListEvents(ctx context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error)
	ProcessEvent(ctx context.Context, tenantID string, eventID id.EventID, lockerID string) (*farmledger.PostingResult, error)
	StaleLocks(ctx context.Context, tenantID string, cutoff time.Time) ([]*event.Event, error)
	ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string) error
}

// Config controls what a sweep pass does.
type Config struct {
	// Schedule is a robfig/cron spec (default: "@every 1m").
	Schedule string `json:"schedule" mapstructure:"schedule" yaml:"schedule"`

	// MaxAttempts stops retrying an event once it was claimed this many
	// times (default: 10).
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// BatchSize caps the FAILED events retried per tenant and pass
	// (default: 100).
	BatchSize int `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`

	// StaleLockAfter is the age at which a PROCESSING event is reported.
	// Zero disables stale-lock detection; there is no default.
	StaleLockAfter time.Duration `json:"stale_lock_after" mapstructure:"stale_lock_after" yaml:"stale_lock_after"`

	// ResetStale releases reported stale locks so the event can be retried.
	ResetStale bool `json:"reset_stale" mapstructure:"reset_stale" yaml:"reset_stale"`

	// LockerID is used when the sweep posts events. Empty uses the
	// engine's worker id.
	LockerID string `json:"locker_id" mapstructure:"locker_id" yaml:"locker_id"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:    "@every 1m",
		MaxAttempts: 10,
		BatchSize:   100,
	}
}

// StaleLock describes a PROCESSING event found past StaleLockAfter.
type StaleLock struct {
	TenantID string
	EventID  id.EventID
	LockedBy string
	LockedAt time.Time
	Released bool
}

// Report summarizes one sweep pass.
type Report struct {
	Retried int
	Posted  int
	Failed  int
	Stale   []StaleLock
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithClock overrides the time source used for stale-lock cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper runs sweep passes on a cron schedule.
type Sweeper struct {
	engine Engine
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
}

// New creates a Sweeper. Zero config fields take their defaults, except
// StaleLockAfter which stays disabled.
func New(engine Engine, cfg Config, opts ...Option) *Sweeper {
	defaults := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	s := &Sweeper{
		engine: engine,
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Sweeper) Config() Config { return s.config }

// Start schedules sweep passes. Each pass runs with ctx; a pass still
// running when the next one is due is skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("farmledger/sweep: already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.config.Schedule, func() {
		if !s.running.TryLock() {
			s.logger.Debug("sweep: previous pass still running, skipping")
			return
		}
		defer s.running.Unlock()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("sweep: pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("farmledger/sweep: schedule %q: %w", s.config.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweep scheduled",
		"schedule", s.config.Schedule,
		"max_attempts", s.config.MaxAttempts,
		"stale_lock_after", s.config.StaleLockAfter,
		"reset_stale", s.config.ResetStale,
	)
	return nil
}

// Stop unschedules the sweeper and waits for a running pass, or until ctx
// is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single pass over every tenant: stale locks first, so
// released events are retried in the same pass, then FAILED events.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	tenants, err := s.engine.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/sweep: list tenants: %w", err)
	}

	report := &Report{}
	var errs []error
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.config.StaleLockAfter > 0 {
			if err := s.sweepStale(ctx, t.ID, report); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.retryFailed(ctx, t.ID, report); err != nil {
			errs = append(errs, err)
		}
	}

	if report.Retried > 0 || len(report.Stale) > 0 {
		s.logger.Info("sweep pass complete",
			"retried", report.Retried,
			"posted", report.Posted,
			"failed", report.Failed,
			"stale", len(report.Stale),
		)
	}
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepStale(ctx context.Context, tenantID string, report *Report) error {
	cutoff := s.now().Add(-s.config.StaleLockAfter)
	stale, err := s.engine.StaleLocks(ctx, tenantID, cutoff)
	if err != nil {
		return fmt.Errorf("farmledger/sweep: stale locks for %s: %w", tenantID, err)
	}

	for _, evt := range stale {
		sl := StaleLock{TenantID: tenantID, EventID: evt.ID, LockedBy: evt.LockedBy}
		if evt.LockedAt != nil {
			sl.LockedAt = *evt.LockedAt
		}
		s.logger.Warn("sweep: stale event lock",
			"tenant_id", tenantID,
			"event_id", evt.ID.String(),
			"locked_by", evt.LockedBy,
			"locked_at", sl.LockedAt,
		)

		if s.config.ResetStale {
			reason := fmt.Sprintf("stale for more than %s", s.config.StaleLockAfter)
			err := s.engine.ReleaseLock(ctx, tenantID, evt.ID, evt.LockedBy, reason)
			switch {
			case err == nil:
				sl.Released = true
			case errors.Is(err, farmledger.ErrLockNotAcquired):
				// The holder finished between listing and releasing.
			default:
				return fmt.Errorf("farmledger/sweep: release %s: %w", evt.ID, err)
			}
		}
		report.Stale = append(report.Stale, sl)
	}
	return nil
}

func (s *Sweeper) retryFailed(ctx context.Context, tenantID string, report *Report) error {
	// Exhausted events stay FAILED; filtering them in the store keeps
	// them from filling every batch.
	failed, err := s.engine.ListEvents(ctx, tenantID, event.ListOpts{
		Status:        event.StatusFailed,
		AttemptsBelow: s.config.MaxAttempts,
		Limit:         s.config.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("farmledger/sweep: list failed events for %s: %w", tenantID, err)
	}

	for _, evt := range failed {
		report.Retried++

		res, err := s.engine.ProcessEvent(ctx, tenantID, evt.ID, s.config.LockerID)
		if err != nil {
			report.Failed++
			s.logger.Warn("sweep: retry failed",
				"tenant_id", tenantID,
				"event_id", evt.ID.String(),
				"attempt", evt.Attempts+1,
				"error", err,
			)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		report.Posted++
		s.logger.Debug("sweep: event posted on retry",
			"tenant_id", tenantID,
			"event_id", evt.ID.String(),
			"transaction_id", res.TransactionID.String(),
		)
	}
	return nil
}
