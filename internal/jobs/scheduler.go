// Package jobs runs the periodic work of the engine: publishing each month's
// rotation ring and rescanning validator performance.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"peer-validation/internal/metrics"
	"peer-validation/internal/models"
)

const (
	JobBuildRing    = "build_ring"
	JobScan         = "scan"
	JobScanPrevious = "scan_previous"
)

// Service is what the scheduler drives.
type Service interface {
	EnsureRotation(ctx context.Context, period string) ([]models.RingAssignment, bool, error)
	ScanPeriod(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error)
}

// Scheduler wakes up every interval. Each tick ensures the current period has
// a ring and scans the current period when scanInterval has passed since the
// last successful scan. The previous period keeps being rescanned on the same
// cadence until its last SLA window has expired; one successful scan after
// that settles it. A failed job is logged and retried on a later tick; it
// never stops the loop.
type Scheduler struct {
	svc          Service
	interval     time.Duration
	scanInterval time.Duration
	sla          time.Duration
	clock        func() time.Time
	metrics      metrics.JobMetrics
	log          zerolog.Logger

	period   string
	lastScan time.Time

	closing     string
	lastClosing time.Time
	settled     string
}

func NewScheduler(svc Service, interval, scanInterval, sla time.Duration, m metrics.JobMetrics, log zerolog.Logger) *Scheduler {
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	return &Scheduler{
		svc:          svc,
		interval:     interval,
		scanInterval: scanInterval,
		sla:          sla,
		clock:        func() time.Time { return time.Now().UTC() },
		metrics:      m,
		log:          log.With().Str("component", "jobs").Logger(),
	}
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("scan_interval", s.scanInterval).Msg("scheduler started")
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one round of due jobs.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()
	current := models.PeriodOf(now)
	if s.period != current.Key() {
		s.lastScan = time.Time{}
	}
	s.period = current.Key()

	ringErr := s.run(ctx, JobBuildRing, func(ctx context.Context) error {
		ring, created, err := s.svc.EnsureRotation(ctx, current.Key())
		if err == nil && created {
			s.log.Info().Str("period", current.Key()).Int("size", len(ring)).Msg("published rotation ring")
		}
		return err
	})

	s.scanPrevious(ctx, current.Previous(), now)

	if ringErr != nil || !due(s.lastScan, now, s.scanInterval) {
		return
	}
	if s.run(ctx, JobScan, func(ctx context.Context) error {
		_, err := s.svc.ScanPeriod(ctx, current.Key())
		return err
	}) == nil {
		s.lastScan = now
	}
}

// scanPrevious rescans prev until a scan started after its last submission's
// SLA deadline succeeds. A period without a ring has nothing to settle.
func (s *Scheduler) scanPrevious(ctx context.Context, prev models.Period, now time.Time) {
	key := prev.Key()
	if s.settled == key {
		return
	}
	if s.closing != key {
		s.closing = key
		s.lastClosing = time.Time{}
	}
	final := !now.Before(prev.End().Add(s.sla))
	if !final && !due(s.lastClosing, now, s.scanInterval) {
		return
	}
	noRing := false
	err := s.run(ctx, JobScanPrevious, func(ctx context.Context) error {
		_, err := s.svc.ScanPeriod(ctx, key)
		if errors.Is(err, models.ErrNotFound) {
			noRing = true
			return nil
		}
		return err
	})
	if err != nil {
		return
	}
	s.lastClosing = now
	if final || noRing {
		s.settled = key
		s.log.Info().Str("period", key).Bool("no_ring", noRing).Msg("closed period settled")
	}
}

func due(last, now time.Time, every time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= every
}

// run executes one job, converting a panic into an error.
func (s *Scheduler) run(ctx context.Context, job string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job, r)
			s.log.Error().Str("job", job).Str("stack", string(debug.Stack())).Msg("job panicked")
		}
		took := time.Since(start)
		s.metrics.JobFinished(job, err, took)
		if err != nil {
			s.log.Error().Err(err).Str("job", job).Dur("took", took).Msg("job failed, will retry on next tick")
			return
		}
		s.log.Debug().Str("job", job).Dur("took", took).Msg("job finished")
	}()
	return fn(ctx)
}
