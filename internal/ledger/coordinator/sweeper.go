package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper runs VerifySystemConsistency on a fixed interval.
type Sweeper struct {
	coord     *Coordinator
	scheduler gocron.Scheduler
	interval  time.Duration
	logger    *slog.Logger
	onReport  func(Report)
	cancel    context.CancelFunc
}

// NewSweeper prepares a sweeper. onReport, when non-nil, receives every
// completed report.
func NewSweeper(c *Coordinator, interval time.Duration, onReport func(Report)) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	return &Sweeper{
		coord:     c,
		scheduler: scheduler,
		interval:  interval,
		logger:    c.logger,
		onReport:  onReport,
	}, nil
}

// Start schedules the sweep. Runs never overlap; a sweep still in progress
// when the next is due causes that tick to be skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.run(ctx)
		}),
		gocron.WithName("ledger-consistency-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule consistency sweep: %w", err)
	}
	s.scheduler.Start()
	s.logger.InfoContext(ctx, "consistency sweep scheduled", "interval", s.interval.String())
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	rep, err := s.coord.VerifySystemConsistency(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "consistency sweep aborted", "error", err)
		return
	}
	if s.onReport != nil {
		s.onReport(rep)
	}
}

// Stop cancels any running sweep and shuts the scheduler down.
func (s *Sweeper) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.scheduler.Shutdown()
}
