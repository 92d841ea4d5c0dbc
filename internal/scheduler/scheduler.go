// Package scheduler runs the usage pipeline: aggregate, bill, invoice, back-fill.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	aggregationdomain "github.com/smallbiznis/meter/internal/aggregation/domain"
	backfilldomain "github.com/smallbiznis/meter/internal/backfill/domain"
	billingdomain "github.com/smallbiznis/meter/internal/billing/domain"
	"github.com/smallbiznis/meter/internal/clock"
	invoicingdomain "github.com/smallbiznis/meter/internal/invoicing/domain"
	"github.com/smallbiznis/meter/internal/lock"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownStage  = errors.New("unknown_pipeline_stage")
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Aggregation aggregationdomain.Service
	Billing     billingdomain.Service
	Invoicing   invoicingdomain.Service
	Backfill    backfilldomain.Service
	Locker      *lock.Locker                `optional:"true"`
	Metrics     *obsmetrics.PipelineMetrics `optional:"true"`
	Config      Config                      `optional:"true"`
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	genID   *snowflake.Node
	locker  *lock.Locker
	metrics *obsmetrics.PipelineMetrics
	stages  []stage
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil ||
		p.Aggregation == nil || p.Billing == nil || p.Invoicing == nil || p.Backfill == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		genID:   p.GenID,
		locker:  p.Locker,
		metrics: p.Metrics,
		stages: []stage{
			{obsmetrics.StageAggregate, p.Aggregation.AssignBatches},
			{obsmetrics.StageBill, p.Billing.BillPendingBatches},
			{obsmetrics.StageInvoice, p.Invoicing.TriggerInvoices},
			{obsmetrics.StageBackfill, p.Backfill.Backfill},
		},
	}, nil
}

// RunStage runs a single stage by name, outside the pipeline lock.
func (s *Scheduler) RunStage(ctx context.Context, name string) error {
	for _, st := range s.stages {
		if st.name == name {
			return s.runStage(ctx, st)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownStage, name)
}

// RunOnce runs every enabled stage in order. A failing stage never stops the ones
// after it; all failures are joined into the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	release, ok := s.acquire(ctx)
	if !ok {
		return nil
	}
	defer release()

	var err error
	for _, st := range s.stages {
		if !s.isStageEnabled(st.name) {
			continue
		}
		err = errors.Join(err, s.runStage(ctx, st))
	}
	return err
}

// RunForever runs the pipeline on every tick until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("pipeline run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runStage(parent context.Context, st stage) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.StageTimeout)
	defer cancel()

	ctx, run := s.startRun(ctx, st.name)
	s.logStageStart(ctx, run)
	s.metrics.IncStageRun(st.name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", st.name, r)
			s.metrics.IncStageError(st.name, err)
			s.logStageFinish(ctx, run, err)
		}
	}()

	stageErr := st.run(ctx)
	s.metrics.ObserveStageDuration(st.name, s.clock.Now().Sub(run.startedAt))
	s.logStageFinish(ctx, run, stageErr)
	if stageErr == nil {
		return nil
	}

	s.metrics.IncStageError(st.name, stageErr)
	// A stage that runs out of time stops between units of work; the next run resumes it.
	if errors.Is(stageErr, context.DeadlineExceeded) && parent.Err() == nil {
		s.metrics.IncStageTimeout(st.name)
		s.logger(ctx).Warn("pipeline stage timed out",
			zap.String("stage", st.name),
			zap.Duration("timeout", s.cfg.StageTimeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", st.name, stageErr)
}

func (s *Scheduler) acquire(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	token, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		// Stages tolerate overlapping runs; only the duplicate work is lost.
		s.log.Warn("pipeline lock unavailable, running without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		s.log.Info("pipeline already running on another replica")
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.Background(), s.cfg.LockKey, token); err != nil {
			s.log.Warn("pipeline lock release failed", zap.Error(err))
		}
	}, true
}

func (s *Scheduler) isStageEnabled(name string) bool {
	if len(s.cfg.EnabledStages) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledStages {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}
