package persistence

import (
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/robfig/cron/v3"
)

// Sweeper runs the retention sweep: once at process start and then on the
// configured cron schedule (daily by default). Sweep failures are logged and
// retried on the next scheduled run, there is no immediate retry.
type Sweeper struct {
	persister Persister
	maxAge    time.Duration
	spec      string
	runner    *cron.Cron
}

func NewSweeper(persister Persister, cfg *config.Config) *Sweeper {
	days := cfg.RetentionConfig.MaxAgeDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	spec := cfg.RetentionConfig.CronSpec
	if spec == "" {
		spec = config.DefaultRetentionSpec
	}
	return &Sweeper{
		persister: persister,
		maxAge:    time.Duration(days) * 24 * time.Hour,
		spec:      spec,
	}
}

func (s *Sweeper) Start() error {
	if s.persister == nil {
		return nil
	}
	s.runner = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.runner.AddFunc(s.spec, s.sweep); err != nil {
		return err
	}
	s.runner.Start()
	go s.sweep()
	return nil
}

func (s *Sweeper) Stop() {
	if s.runner != nil {
		s.runner.Stop()
	}
}

func (s *Sweeper) sweep() {
	count, err := s.persister.SweepExpired(s.maxAge)
	if err != nil {
		globals.AppLogger.Error("retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		globals.AppLogger.Info("retention sweep deleted expired events", "count", count)
	}
}
