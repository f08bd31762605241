package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const enqueueTimeout = 5 * time.Second

// SweepEnqueuer queues an orphan sweep for the worker.
type SweepEnqueuer interface {
	EnqueueSweep(ctx context.Context) error
}

type Scheduler struct {
	cron     *cron.Cron
	queue    SweepEnqueuer
	schedule string
	log      zerolog.Logger
}

// NewScheduler takes a six-field (with seconds) cron schedule.
func NewScheduler(queue SweepEnqueuer, schedule string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		queue:    queue,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("orphan sweep scheduled")
	return nil
}

// Stop halts the scheduler and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	if err := s.queue.EnqueueSweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
	}
}
