package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper re-queues failed confirmation deliveries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs the periodic confirmation sweep.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	ctx     context.Context
}

// New registers the sweep under spec (standard cron syntax or descriptors
// such as "@every 5m").
func New(spec string, sweeper Sweeper, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Scheduler{cron: c, sweeper: sweeper, logger: logger, ctx: context.Background()}
	if _, err := c.AddFunc(spec, s.runSweep); err != nil {
		return nil, fmt.Errorf("register confirmation sweep %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	queued, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("confirmation sweep failed", zap.Error(err))
		return
	}
	if queued > 0 {
		s.logger.Info("confirmation sweep queued redeliveries", zap.Int("queued", queued))
	}
}
