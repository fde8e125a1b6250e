// Package autorelease drives settlement of locked escrows whose time or
// performance condition is met, without waiting for a manual quorum.
package autorelease

import (
	"context"
	"errors"
	"time"

	"github.com/tradevault/settlement-router/internal/escrow"
	"github.com/tradevault/settlement-router/internal/interfaces"
)

// Settler is the part of the escrow engine the scheduler drives
type Settler interface {
	Release(ctx context.Context, id string) (*escrow.Escrow, error)
	Expire(ctx context.Context, id string) (*escrow.Escrow, error)
	SetPerformanceMetric(ctx context.Context, id string, value float64) (*escrow.Escrow, error)
}

// MetricSource supplies the performance metric for performance_based
// policies. The metric contract is deployment-specific, so it is pluggable.
type MetricSource interface {
	Metric(ctx context.Context, esc *escrow.Escrow) (float64, error)
}

// LedgerMetricSource reads the metric stored on the escrow record itself
type LedgerMetricSource struct{}

func (LedgerMetricSource) Metric(_ context.Context, esc *escrow.Escrow) (float64, error) {
	return esc.PerformanceMetric, nil
}

// Scheduler periodically scans locked escrows with auto-release enabled and
// releases the eligible ones. Each tick runs to completion even when the
// scheduler is stopped mid-tick, a failure on one escrow never aborts the
// rest of the batch.
type Scheduler struct {
	// config
	interval    time.Duration
	tickTimeout time.Duration

	// deps
	store   escrow.Store
	settler Settler
	metrics MetricSource
	now     func() time.Time
	log     interfaces.ILogger
}

func NewScheduler(store escrow.Store, settler Settler, metrics MetricSource, interval time.Duration, log interfaces.ILogger) *Scheduler {
	if metrics == nil {
		metrics = LedgerMetricSource{}
	}
	return &Scheduler{
		interval:    interval,
		tickTimeout: interval,
		store:       store,
		settler:     settler,
		metrics:     metrics,
		now:         time.Now,
		log:         log,
	}
}

// SetNowFunc overrides the scheduler time source, used by tests
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Run ticks until ctx is cancelled. The in-flight tick is drained before
// returning: ticks run on their own timeout-bounded context so a stop request
// never aborts an in-progress release.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("auto-release scheduler started, interval %s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("auto-release scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick processes one scan of the ledger. Exported so tests and operational
// tooling can drive the scheduler without the timer.
func (s *Scheduler) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	s.releaseEligible(ctx)
	s.expireOverdue(ctx)
}

func (s *Scheduler) releaseEligible(ctx context.Context) {
	autoRelease := true
	locked, err := s.store.ListEscrows(ctx, escrow.Filter{
		Statuses:    []escrow.Status{escrow.StatusLocked},
		AutoRelease: &autoRelease,
	})
	if err != nil {
		s.log.Errorf("listing locked escrows: %s", err)
		return
	}

	now := s.now()
	released := 0

	for _, esc := range locked {
		metric, err := s.metrics.Metric(ctx, esc)
		if err != nil {
			s.log.Warnf("escrow %s: metric unavailable: %s", esc.ID, err)
			continue
		}
		if !esc.AutoConditionMet(now, metric) {
			continue
		}

		// the release check inside the engine reads the stored metric, so the
		// freshly sourced value has to land on the record first
		if esc.Policy.Kind == escrow.PolicyPerformanceBased && esc.PerformanceMetric != metric {
			if _, err := s.settler.SetPerformanceMetric(ctx, esc.ID, metric); err != nil {
				s.log.Warnf("escrow %s: storing metric failed: %s", esc.ID, err)
				continue
			}
		}

		// release is idempotent, a concurrent manual release racing this
		// tick resolves to a no-op success
		_, err = s.settler.Release(ctx, esc.ID)
		switch {
		case err == nil:
			released++
		case errors.Is(err, escrow.ErrSettlementFailed):
			s.log.Warnf("escrow %s: settlement failed, will retry next tick: %s", esc.ID, err)
		case errors.Is(err, escrow.ErrInvalidStateTransition):
			// lost a race with a manual transition, nothing to do
			s.log.Debugf("escrow %s: no longer releasable: %s", esc.ID, err)
		default:
			s.log.Errorf("escrow %s: release failed: %s", esc.ID, err)
		}
	}

	if released > 0 {
		s.log.Infof("auto-released %d of %d candidate escrows", released, len(locked))
	}
}

func (s *Scheduler) expireOverdue(ctx context.Context) {
	open, err := s.store.ListEscrows(ctx, escrow.Filter{
		Statuses: []escrow.Status{escrow.StatusPending, escrow.StatusFunded, escrow.StatusLocked},
	})
	if err != nil {
		s.log.Errorf("listing open escrows: %s", err)
		return
	}

	now := s.now()

	for _, esc := range open {
		if !esc.IsExpiredWithoutDispute(now) {
			continue
		}
		if _, err := s.settler.Expire(ctx, esc.ID); err != nil {
			s.log.Warnf("escrow %s: expiry failed: %s", esc.ID, err)
		}
	}
}
