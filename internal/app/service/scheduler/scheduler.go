package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/app/service/statistics"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// Expired rows only matter at day granularity, but a tighter sweep keeps
	// the access flag honest soon after end_date passes.
	expirySweepSchedule = "*/10 * * * *"
	// Snapshot the previous day shortly after midnight.
	dailySnapshotSchedule = "10 0 * * *"
)

// Scheduler runs the periodic maintenance jobs: closing subscriptions whose
// period ended, and writing the nightly statistics snapshot.
type Scheduler struct {
	log    *zap.SugaredLogger
	ledger *ledger.Service
	stats  *statistics.Service
	cron   *cron.Cron
}

func New(log *zap.SugaredLogger, ledgerSvc *ledger.Service, stats *statistics.Service) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
	))
	return &Scheduler{log: log, ledger: ledgerSvc, stats: stats, cron: c}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(expirySweepSchedule, s.runExpirySweep); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(dailySnapshotSchedule, s.runDailySnapshot); err != nil {
		return fmt.Errorf("failed to schedule daily snapshot: %w", err)
	}
	s.cron.Start()
	s.log.Infow("scheduler started")
	return nil
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	expired, err := s.ledger.ExpireDue(ctx, time.Now())
	if err != nil {
		s.log.Errorf("expiry sweep failed: %v", err)
		return
	}
	if expired > 0 {
		s.log.Infow("expiry sweep closed subscriptions", "count", expired)
	}
}

func (s *Scheduler) runDailySnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	yesterday := time.Now().AddDate(0, 0, -1)
	if err := s.stats.WriteDailySnapshot(ctx, yesterday); err != nil {
		s.log.Errorf("daily snapshot failed: %v", err)
		return
	}
	s.log.Infow("daily snapshot written", "date", yesterday.Format(time.DateOnly))
}

func run(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			stopped := s.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(run),
)
