package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/meter/internal/config"
	invoicingdomain "github.com/smallbiznis/meter/internal/invoicing/domain"
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
	Config   config.Config
	Repo     usagedomain.Repository
	Platform platformdomain.Client
	Metrics  *obsmetrics.Metrics         `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	location *time.Location
	repo     usagedomain.Repository
	platform platformdomain.Client
	metrics  *obsmetrics.Metrics
	pipeline *obsmetrics.PipelineMetrics
}

func NewService(p ServiceParam) invoicingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoicing.service"),
		location: p.Config.Location(),
		repo:     p.Repo,
		platform: p.Platform,
		metrics:  p.Metrics,
		pipeline: p.Pipeline,
	}
}

type triggerKey struct {
	tenantID   string
	accountID  string
	targetDate string
}

// TriggerInvoices requests an invoice for the account behind every batched, unpriced
// batch, targeted one month after the batch's latest record. Identical requests
// within one pass are sent once.
func (s *Service) TriggerInvoices(ctx context.Context) error {
	batches, err := s.repo.ListUnpricedBatches(ctx, s.db)
	if err != nil {
		return fmt.Errorf("list unpriced batches: %w", err)
	}

	sent := map[triggerKey]struct{}{}
	counts := map[string]int{}
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := s.trigger(ctx, batch, sent)
		if result == "" {
			continue
		}
		counts[result]++
		s.metrics.RecordInvoiceTriggered(ctx, result)
	}

	s.pipeline.AddProcessed(obsmetrics.StageInvoice, len(batches)-counts[obsmetrics.ResultFailed])
	s.pipeline.AddFailed(obsmetrics.StageInvoice, counts[obsmetrics.ResultFailed])
	s.log.Info("invoicing finished",
		zap.Int("batches", len(batches)),
		zap.Int("triggered", counts[obsmetrics.ResultOK]),
		zap.Int("nothing_to_invoice", counts[obsmetrics.ResultSkipped]),
		zap.Int("failed", counts[obsmetrics.ResultFailed]),
	)
	return nil
}

func (s *Service) trigger(ctx context.Context, batch usagedomain.PendingBatch, sent map[triggerKey]struct{}) string {
	log := s.log.With(
		zap.String("aggregation_id", batch.AggregationID),
		zap.String("tenant_id", batch.TenantID),
		zap.String("subscription_id", batch.SubscriptionID),
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

	target := TargetDate(usage.MaxRecordDate, s.location)
	key := triggerKey{tenantID: batch.TenantID, accountID: sub.AccountID, targetDate: target.Format(time.DateOnly)}
	if _, ok := sent[key]; ok {
		return ""
	}
	sent[key] = struct{}{}

	err = s.platform.TriggerInvoice(ctx, batch.TenantID, sub.AccountID, target)
	switch {
	case errors.Is(err, platformdomain.ErrNothingToInvoice):
		log.Debug("nothing to invoice", zap.String("account_id", sub.AccountID))
		return obsmetrics.ResultSkipped
	case err != nil:
		log.Warn("trigger invoice failed", zap.String("account_id", sub.AccountID), zap.Error(err))
		return obsmetrics.ResultFailed
	}

	log.Debug("invoice triggered",
		zap.String("account_id", sub.AccountID),
		zap.String("target_date", key.targetDate),
	)
	return obsmetrics.ResultOK
}
