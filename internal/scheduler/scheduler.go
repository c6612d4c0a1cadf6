package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mining-api/internal/engine"
	"mining-api/internal/monitoring"
)

// Reconciler is the part of the mining engine a sweep needs
type Reconciler interface {
	PendingUsers(ctx context.Context) ([]string, error)
	ReconcileNow(ctx context.Context, userID string) (*engine.ReconcileResult, error)
}

type SweepResult struct {
	Users    int           `json:"users"`
	Applied  int           `json:"applied"`
	NoOps    int           `json:"no_ops"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns" swaggertype:"integer"`
}

// Scheduler periodically reconciles every user with pending earnings, so
// amounts staged by sessions that never came back still reach the balance
type Scheduler struct {
	reconciler  Reconciler
	metrics     monitoring.MetricsService
	logger      *logrus.Logger
	spec        string
	parallelism int
	timeout     time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewScheduler(reconciler Reconciler, metrics monitoring.MetricsService, logger *logrus.Logger, spec string, parallelism int) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	if metrics == nil {
		metrics = monitoring.NewNoopMetrics()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Scheduler{
		reconciler:  reconciler,
		metrics:     metrics,
		logger:      logger,
		spec:        spec,
		parallelism: parallelism,
		timeout:     5 * time.Minute,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// An overrunning sweep makes the next trigger a no-op instead of stacking
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("Scheduled reconciliation sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.WithField("spec", s.spec).Info("Reconciliation scheduler started")

	return nil
}

// Stop stops triggering sweeps and waits for a running one until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
		s.logger.Info("Reconciliation scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stopped before the running sweep finished")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweep reconciles every user with pending earnings. A failed user does not
// stop the sweep; its earnings stay pending for the next one.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()

	users, err := s.reconciler.PendingUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with pending earnings: %w", err)
	}

	var applied, noOps, failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if gctx.Err() != nil {
				atomic.AddInt64(&failed, 1)
				return nil
			}

			result, err := s.reconciler.ReconcileNow(gctx, userID)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.logger.WithFields(logrus.Fields{
					"user_id": userID,
					"error":   err.Error(),
				}).Warn("Sweep reconciliation failed, earnings remain pending")
				return nil
			}

			if result.NoOp {
				atomic.AddInt64(&noOps, 1)
			} else {
				atomic.AddInt64(&applied, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &SweepResult{
		Users:    len(users),
		Applied:  int(applied),
		NoOps:    int(noOps),
		Failed:   int(failed),
		Duration: time.Since(start),
	}
	s.metrics.RecordSweep(result.Users, result.Failed, result.Duration)

	if result.Users > 0 {
		s.logger.WithFields(logrus.Fields{
			"users":    result.Users,
			"applied":  result.Applied,
			"no_ops":   result.NoOps,
			"failed":   result.Failed,
			"duration": result.Duration.Milliseconds(),
		}).Info("Reconciliation sweep completed")
	}

	return result, nil
}
