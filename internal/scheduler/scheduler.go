// Package scheduler triggers sync runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/model"
	"CrmSync/internal/service"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	RunSync(ctx context.Context, trigger model.Trigger, objectTypes ...model.ObjectType) (*service.RunSummary, error)
}

type Scheduler struct {
	cron   *cron.Cron
	job    cron.Job
	runner Runner
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers runner under spec. A tick that fires while the previous run
// is still going is skipped.
func New(spec string, runner Runner, logger *logrus.Logger) (*Scheduler, error) {
	cl := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl)),
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.run))
	if _, err := s.cron.AddJob(spec, s.job); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started")
}

// RunNow runs one scheduled sync in the caller's goroutine, sharing the
// skip-if-running guard with the cron ticks.
func (s *Scheduler) RunNow() {
	s.job.Run()
}

// Stop halts the ticks, cancels the run in flight and waits for it until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	summary, err := s.runner.RunSync(s.ctx, model.TriggerScheduled)
	if err != nil {
		s.logger.WithError(err).Error("scheduled sync could not start")
		return
	}
	if summary.Failed() {
		s.logger.WithField("duration_ms", summary.DurationMs).Warn("scheduled sync finished with failures")
	}
}
