package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/meter/internal/observability/context"
	obslogger "github.com/smallbiznis/meter/internal/observability/logger"
	"go.uber.org/zap"
)

type stageRun struct {
	stage     string
	runID     string
	startedAt time.Time
}

func (s *Scheduler) startRun(ctx context.Context, stage string) (context.Context, *stageRun) {
	run := &stageRun{
		stage:     stage,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	if obscontext.RequestIDFromContext(ctx) == "" {
		ctx = obscontext.WithRequestID(ctx, run.runID)
	}
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logStageStart(ctx context.Context, run *stageRun) {
	s.logger(ctx).Info("pipeline.stage.start",
		zap.String("stage", run.stage),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logStageFinish(ctx context.Context, run *stageRun, err error) {
	fields := []zap.Field{
		zap.String("stage", run.stage),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
	}
	if err != nil {
		s.logger(ctx).Warn("pipeline.stage.finish", append(fields, zap.Error(err))...)
		return
	}
	s.logger(ctx).Info("pipeline.stage.finish", fields...)
}
