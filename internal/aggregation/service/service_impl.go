package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	aggregationdomain "github.com/smallbiznis/meter/internal/aggregation/domain"
	"github.com/smallbiznis/meter/internal/clock"
	"github.com/smallbiznis/meter/internal/config"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Repo     usagedomain.Repository
	Metrics  *obsmetrics.Metrics         `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	location *time.Location
	repo     usagedomain.Repository
	metrics  *obsmetrics.Metrics
	pipeline *obsmetrics.PipelineMetrics
}

func NewService(p ServiceParam) aggregationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("aggregation.service"),
		clock:    p.Clock,
		location: p.Config.Location(),
		repo:     p.Repo,
		metrics:  p.Metrics,
		pipeline: p.Pipeline,
	}
}

// AssignBatches gives every unbatched, unpriced row a batch id: one id for rows
// recorded today and another for everything else in the same grouping. A failing
// grouping is logged and skipped.
func (s *Service) AssignBatches(ctx context.Context) error {
	groupings, err := s.repo.ListUnbatchedGroupings(ctx, s.db)
	if err != nil {
		return fmt.Errorf("list unbatched groupings: %w", err)
	}

	now := s.clock.Now()
	today := usagedomain.DayOf(now, s.location)

	var assigned int64
	failed := 0
	for _, g := range groupings {
		if err := ctx.Err(); err != nil {
			return err
		}

		currentID := newBatchID(now)
		priorID := newBatchID(now)
		rows, err := s.repo.AssignBatchIDs(ctx, s.db, g, currentID, priorID, today, now)
		if err != nil {
			failed++
			s.log.Warn("assign batch ids failed",
				zap.String("tenant_id", g.TenantID),
				zap.String("subscription_id", g.SubscriptionID),
				zap.String("unit_type", g.UnitType),
				zap.Error(err),
			)
			continue
		}

		assigned += rows
		s.metrics.RecordBatchesAssigned(ctx, g.UnitType, rows)
		s.log.Debug("batch ids assigned",
			zap.String("tenant_id", g.TenantID),
			zap.String("subscription_id", g.SubscriptionID),
			zap.String("unit_type", g.UnitType),
			zap.String("current_id", currentID),
			zap.String("prior_id", priorID),
			zap.Int64("rows", rows),
		)
	}

	s.pipeline.AddProcessed(obsmetrics.StageAggregate, len(groupings)-failed)
	s.pipeline.AddFailed(obsmetrics.StageAggregate, failed)
	s.log.Info("aggregation finished",
		zap.Int("groupings", len(groupings)),
		zap.Int("failed", failed),
		zap.Int64("rows", assigned),
	)
	return nil
}

func newBatchID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
