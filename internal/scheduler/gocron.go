package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/genricoloni/presenced/internal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Gocron implements domain.Scheduler on a gocron scheduler. Jobs run in
// singleton mode so a slow run is never overlapped by the next one.
type Gocron struct {
	logger *zap.Logger
	s      gocron.Scheduler
}

// NewGocron creates a scheduler running in UTC. It does not start
// dispatching until Start is called.
func NewGocron(logger *zap.Logger) (*Gocron, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Gocron{logger: logger, s: s}, nil
}

// Register ties the scheduler to the fx lifecycle
func Register(lc fx.Lifecycle, g *Gocron) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			g.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return g.Shutdown()
		},
	})
}

// Start begins dispatching scheduled jobs
func (g *Gocron) Start() {
	g.s.Start()
	g.logger.Debug("Scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs
func (g *Gocron) Shutdown() error {
	if err := g.s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	g.logger.Debug("Scheduler stopped")
	return nil
}

// SchedulePeriodic runs task every interval until the returned CancelFunc is called
func (g *Gocron) SchedulePeriodic(name string, interval time.Duration, task func()) (domain.CancelFunc, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive, got %s", name, interval)
	}

	job, err := g.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}

	g.logger.Debug("Job scheduled",
		zap.String("job", name),
		zap.Duration("interval", interval))

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := g.s.RemoveJob(job.ID()); err != nil {
				g.logger.Debug("Job already removed", zap.String("job", name), zap.Error(err))
				return
			}
			g.logger.Debug("Job cancelled", zap.String("job", name))
		})
	}, nil
}
