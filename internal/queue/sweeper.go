package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "*/1 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// LeaseNotifier is told about items whose lease expired.
type LeaseNotifier interface {
	LeaseExpired(ctx context.Context, items []models.QueueItem) error
}

// Sweeper runs reclaim and purge for every agent on a cron schedule, so
// expired leases surface even when the owning relay stops polling.
type Sweeper struct {
	store    *Store
	notifier LeaseNotifier
	schedule cron.Schedule
	log      zerolog.Logger
	now      func() time.Time
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Store    *Store
	Notifier LeaseNotifier // optional
	Schedule string        // defaults to DefaultSweepSchedule
	Logger   zerolog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("queue: sweeper: store is required")
	}
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("queue: sweeper: schedule %q: %w", expr, err)
	}
	return &Sweeper{
		store:    opts.Store,
		notifier: opts.Notifier,
		schedule: sched,
		log:      opts.Logger,
		now:      time.Now,
	}, nil
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Reclaimed []models.QueueItem
	Purged    int64
}

// SweepOnce reclaims expired leases and purges old terminal items across all
// agents. Reclaimed items are reported to the notifier; notifier failures
// are logged.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	reclaimed, err := s.store.ReclaimExpired(ctx, "")
	if err != nil {
		return res, err
	}
	res.Reclaimed = reclaimed
	if len(reclaimed) > 0 && s.notifier != nil {
		if err := s.notifier.LeaseExpired(ctx, reclaimed); err != nil {
			s.log.Warn().Err(err).Int("items", len(reclaimed)).Msg("lease expiry alert failed")
		}
	}
	purged, err := s.store.PurgeTerminal(ctx, "")
	if err != nil {
		return res, err
	}
	res.Purged = purged
	return res, nil
}

// Run sweeps on the schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			} else if len(res.Reclaimed) > 0 || res.Purged > 0 {
				s.log.Info().Int("reclaimed", len(res.Reclaimed)).Int64("purged", res.Purged).Msg("sweep")
			}
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Sweeper) untilNext() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
