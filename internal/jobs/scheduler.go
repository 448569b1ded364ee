// Package jobs runs the background maintenance tasks of the claims API.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Sweeper is the part of the service the scheduler drives.
type Sweeper interface {
	ReloadPrograms(ctx context.Context) error
	SweepLapsedStreaks(ctx context.Context, now time.Time) (map[string]int64, error)
}

// Scheduler runs the streak sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	now      func() time.Time
}

// NewScheduler creates a scheduler evaluating schedule in UTC. schedule
// accepts standard five-field expressions and descriptors such as
// "@every 15m".
func NewScheduler(sweeper Sweeper, schedule string) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		now:      time.Now,
	}
}

// Start registers the sweep and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("[CRON] scheduler started")
	return nil
}

// RunOnce refreshes the program snapshot and sweeps lapsed streaks. Errors
// are logged; the next tick tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if err := s.sweeper.ReloadPrograms(ctx); err != nil {
		log.WithError(err).Warn("[CRON] program reload failed, sweeping with the current snapshot")
	}

	now := s.now().UTC()
	reset, err := s.sweeper.SweepLapsedStreaks(ctx, now)
	if err != nil {
		log.WithError(err).Error("[CRON] streak sweep failed")
		return
	}

	var total int64
	for _, n := range reset {
		total += n
	}
	log.WithFields(log.Fields{"reset": total, "at": now.Format(time.RFC3339)}).Debug("[CRON] streak sweep done")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("[CRON] scheduler stopped")
}
