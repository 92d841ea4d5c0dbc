package service

import (
	"context"
	"errors"
	"fmt"

	billingdomain "github.com/smallbiznis/meter/internal/billing/domain"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     usagedomain.Repository
	Platform platformdomain.Client
	Metrics  *obsmetrics.Metrics         `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     usagedomain.Repository
	platform platformdomain.Client
	metrics  *obsmetrics.Metrics
	pipeline *obsmetrics.PipelineMetrics
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		repo:     p.Repo,
		platform: p.Platform,
		metrics:  p.Metrics,
		pipeline: p.Pipeline,
	}
}

// BillPendingBatches reports one rolled-up record per batched, unpriced batch. The
// batch id is sent as the tracking id, so a batch reported on an earlier pass is
// recognised upstream and counted as billed.
func (s *Service) BillPendingBatches(ctx context.Context) error {
	batches, err := s.repo.ListUnpricedBatches(ctx, s.db)
	if err != nil {
		return fmt.Errorf("list unpriced batches: %w", err)
	}

	counts := map[string]int{}
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := s.bill(ctx, batch)
		counts[result]++
		s.metrics.RecordBatchBilled(ctx, batch.UnitType, result)
	}

	s.pipeline.AddProcessed(obsmetrics.StageBill, len(batches)-counts[obsmetrics.ResultFailed])
	s.pipeline.AddFailed(obsmetrics.StageBill, counts[obsmetrics.ResultFailed])
	s.log.Info("billing finished",
		zap.Int("batches", len(batches)),
		zap.Int("reported", counts[obsmetrics.ResultOK]),
		zap.Int("already_reported", counts[obsmetrics.ResultDuplicate]),
		zap.Int("failed", counts[obsmetrics.ResultFailed]),
	)
	return nil
}

func (s *Service) bill(ctx context.Context, batch usagedomain.PendingBatch) string {
	log := s.log.With(
		zap.String("aggregation_id", batch.AggregationID),
		zap.String("tenant_id", batch.TenantID),
		zap.String("subscription_id", batch.SubscriptionID),
		zap.String("unit_type", batch.UnitType),
	)

	usage, err := s.repo.SumBatch(ctx, s.db, batch.AggregationID)
	if err != nil {
		log.Warn("sum batch failed", zap.Error(err))
		return obsmetrics.ResultFailed
	}

	sub, err := s.platform.GetSubscription(ctx, batch.TenantID, batch.SubscriptionID)
	if err != nil {
		log.Warn("resolve subscription failed", zap.Error(err))
		return obsmetrics.ResultFailed
	}

	err = s.platform.RecordUsage(ctx, batch.TenantID, platformdomain.UsageReport{
		SubscriptionID: sub.ID,
		TrackingID:     batch.AggregationID,
		UnitType:       batch.UnitType,
		Records: []platformdomain.UsageRecord{{
			RecordDate: usage.MaxRecordDate,
			Amount:     usage.Sum,
		}},
	})
	switch {
	case errors.Is(err, platformdomain.ErrDuplicateTrackingID):
		log.Debug("batch already reported")
		return obsmetrics.ResultDuplicate
	case err != nil:
		log.Warn("record usage failed", zap.Error(err))
		return obsmetrics.ResultFailed
	}

	log.Debug("usage recorded",
		zap.String("sum", usage.Sum.String()),
		zap.Time("max_record_date", usage.MaxRecordDate),
	)
	return obsmetrics.ResultOK
}
