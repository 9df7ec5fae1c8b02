// Package scheduler runs cron-driven housekeeping fibers outside the
// request path: upstream health probes and periodic cleanup callbacks.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Prober is the subset of service.ProxyPass's surface the health-probe
// job needs — kept as an interface so this package doesn't import
// internal/service (which would create an import cycle, since service
// could plausibly want to report scheduler status back).
type Prober interface {
	ProbeHealth(timeout time.Duration, logger *slog.Logger)
}

// Scheduler owns one cron instance running a health-probe job per
// registered Prober plus an optional housekeeping callback — the cron-
// job-per-task shape of the teacher's backup scheduler, repurposed from
// "run a backup on this schedule" to "probe this upstream on this
// schedule".
type Scheduler struct {
	cron         *cron.Cron
	logger       *slog.Logger
	probeTimeout time.Duration
}

// New builds a Scheduler. probers are health-checked on healthProbeCron;
// housekeeping (if non-nil) runs on housekeepingCron.
func New(healthProbeCron, housekeepingCron string, probers []Prober, housekeeping func(), logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		logger:       logger,
		probeTimeout: 3 * time.Second,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	if len(probers) > 0 {
		if _, err := c.AddFunc(healthProbeCron, func() { s.runProbes(probers) }); err != nil {
			return nil, err
		}
	}
	if housekeeping != nil {
		if _, err := c.AddFunc(housekeepingCron, func() {
			s.logger.Debug("scheduler: running housekeeping")
			housekeeping()
		}); err != nil {
			return nil, err
		}
	}

	s.cron = c
	return s, nil
}

func (s *Scheduler) runProbes(probers []Prober) {
	for _, p := range probers {
		p.ProbeHealth(s.probeTimeout, s.logger)
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started")
	s.cron.Start()
}

// Stop cancels future runs and waits (up to the cron library's own
// internal bookkeeping) for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
}
