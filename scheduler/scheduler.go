// Package scheduler runs floorman's periodic jobs: advancing clocks whose
// level has run out, finishing abandoned tournaments, starting-soon notices
// and closing stalled subscribers.
//
// Every job takes its own lock per tournament through the Manager, so jobs
// never need to coordinate with each other or with operators.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ts4z/floorman/dep"
	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/varz"
)

var (
	ticks         = varz.NewInt("ticks")
	advanceErrors = varz.NewInt("advanceErrors")
	staleScans    = varz.NewInt("staleScans")
	soonScans     = varz.NewInt("startingSoonScans")
	stalledClosed = varz.NewInt("stalledClosed")
)

type Config struct {
	Manager  *tournament.Manager
	Registry *gossip.Registry
	Clock    clockwork.Clock

	TickInterval         time.Duration
	AdvanceTimeout       time.Duration
	Concurrency          int
	StaleInterval        time.Duration
	StaleThreshold       time.Duration
	StartingSoonInterval time.Duration
	StartingSoonWindow   time.Duration
	StallTimeout         time.Duration
}

type Scheduler struct {
	m        *tournament.Manager
	registry *gossip.Registry
	clock    clockwork.Clock
	cfg      Config

	cron gocron.Scheduler
}

func New(cfg *Config) *Scheduler {
	s := &Scheduler{
		m:        dep.Required(cfg.Manager),
		registry: dep.Required(cfg.Registry),
		clock:    dep.Required(cfg.Clock),
		cfg:      *cfg,
	}
	if s.cfg.Concurrency < 1 {
		s.cfg.Concurrency = 1
	}
	return s
}

// Start schedules the jobs and returns.  Jobs run until ctx is done or
// Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return err
	}

	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{"tick", s.cfg.TickInterval, func(ctx context.Context) error { _, err := s.RunTick(ctx); return err }},
		{"stale", s.cfg.StaleInterval, func(ctx context.Context) error { _, err := s.RunStaleScan(ctx); return err }},
		{"starting_soon", s.cfg.StartingSoonInterval, func(ctx context.Context) error { _, err := s.RunStartingSoon(ctx); return err }},
		{"janitor", s.cfg.StallTimeout / 2, func(ctx context.Context) error { s.RunJanitor(); return nil }},
	}
	for _, j := range jobs {
		if j.every <= 0 {
			cron.Shutdown()
			return fmt.Errorf("job %s: interval %v must be positive", j.name, j.every)
		}
		_, err := cron.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(func() {
				if err := j.run(ctx); err != nil {
					log.Warn().Err(err).Str("job", j.name).Msg("scheduled job failed")
				}
			}),
			gocron.WithName(j.name),
			// A slow run delays the next one rather than overlapping it.
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cron.Shutdown()
			return fmt.Errorf("job %s: %w", j.name, err)
		}
		log.Info().Str("job", j.name).Dur("every", j.every).Msg("scheduled")
	}
	s.cron = cron
	cron.Start()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	return nil
}

func (s *Scheduler) Shutdown() {
	if s.cron == nil {
		return
	}
	if err := s.cron.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}
}

// RunTick advances every clock whose level has run out, at most
// Concurrency at a time, and returns how many advanced.  A failure on one
// tournament is logged and doesn't affect the others.
func (s *Scheduler) RunTick(ctx context.Context) (int, error) {
	ticks.Add(1)
	due, err := s.m.DueClocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying due clocks: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var advanced atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, d := range due {
		g.Go(func() error {
			actx := gctx
			if s.cfg.AdvanceTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(gctx, s.cfg.AdvanceTimeout)
				defer cancel()
			}
			ok, err := s.m.AdvanceIfDue(actx, d.TournamentID, d.CurrentLevel)
			if err != nil {
				advanceErrors.Add(1)
				log.Warn().Err(err).Stringer("tournament_id", d.TournamentID).Int("level", d.CurrentLevel).Msg("can't advance clock")
				return nil
			}
			if ok {
				advanced.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(advanced.Load()), nil
}

func (s *Scheduler) RunStaleScan(ctx context.Context) (int, error) {
	staleScans.Add(1)
	return s.m.FinishStale(ctx, s.cfg.StaleThreshold)
}

func (s *Scheduler) RunStartingSoon(ctx context.Context) (int, error) {
	soonScans.Add(1)
	return s.m.NotifyStartingSoon(ctx, s.cfg.StartingSoonWindow)
}

func (s *Scheduler) RunJanitor() int {
	n := s.registry.CleanupStalled(s.cfg.StallTimeout)
	stalledClosed.Add(int64(n))
	return n
}
