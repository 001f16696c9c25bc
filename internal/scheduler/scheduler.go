package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/config"
	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

const jobTimeout = 2 * time.Minute

// Engine is the part of the blood bank engine driven by cron.
type Engine interface {
	SweepExpired(ctx context.Context) (models.SweepResult, error)
	ExpireOverdueRequests(ctx context.Context) ([]models.Request, error)
	AllocatePending(ctx context.Context) ([]models.ReservationResult, error)
	Flush(ctx context.Context) error
}

// Reporter produces the daily stock report.
type Reporter interface {
	GenerateDailyReport(ctx context.Context, now time.Time) (string, error)
}

type job struct {
	name     string
	schedule string
	run      func()
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	engine   Engine
	reporter Reporter
	cfg      config.SchedulerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewScheduler creates a new scheduler instance. Schedules use the standard
// five-field cron syntax evaluated in the configured timezone.
func NewScheduler(cfg config.SchedulerConfig, engine Engine, reporter Reporter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		engine:   engine,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start registers the jobs and starts the cron loop. The report job is
// skipped when no reporter is wired.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	jobs := []job{
		{"expiry sweep", s.cfg.ExpirySchedule, s.runSweep},
		{"allocation", s.cfg.AllocationSchedule, s.runAllocation},
	}
	if s.reporter != nil {
		jobs = append(jobs, job{"daily report", s.cfg.ReportSchedule, s.runReport})
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.schedule, j.run); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.schedule, err)
		}
		s.logger.Info("job scheduled", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_ = s.Sweep(ctx)
}

func (s *Scheduler) runAllocation() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_ = s.Allocate(ctx)
}

func (s *Scheduler) runReport() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_ = s.Report(ctx)
}

// Sweep runs one expiry pass and retries pending writes.
func (s *Scheduler) Sweep(ctx context.Context) error {
	res, err := s.engine.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return err
	}
	if err := s.engine.Flush(ctx); err != nil {
		s.logger.Error("flush after sweep failed", zap.Error(err))
		return err
	}
	s.logger.Info("expiry sweep completed", zap.Int("expired", res.ExpiredCount))
	return nil
}

// Allocate expires overdue requests and then allocates stock to the rest.
func (s *Scheduler) Allocate(ctx context.Context) error {
	expired, err := s.engine.ExpireOverdueRequests(ctx)
	if err != nil {
		s.logger.Error("expiring overdue requests failed", zap.Error(err))
		return err
	}
	results, err := s.engine.AllocatePending(ctx)
	if err != nil {
		s.logger.Error("allocation failed", zap.Error(err))
		return err
	}
	granted := 0
	for _, r := range results {
		granted += r.Granted
	}
	s.logger.Info("allocation completed",
		zap.Int("expired_requests", len(expired)),
		zap.Int("attempts", len(results)),
		zap.Int("units_granted", granted))
	return nil
}

// Report generates the daily stock report.
func (s *Scheduler) Report(ctx context.Context) error {
	s.logger.Info("generating daily report")
	summary, err := s.reporter.GenerateDailyReport(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to generate daily report", zap.Error(err))
		return err
	}
	s.logger.Info("daily report generated", zap.String("summary", summary))
	return nil
}
