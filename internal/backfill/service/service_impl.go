package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	backfilldomain "github.com/smallbiznis/meter/internal/backfill/domain"
	"github.com/smallbiznis/meter/internal/clock"
	"github.com/smallbiznis/meter/internal/config"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"github.com/smallbiznis/meter/internal/rating/allocator"
	ratingdomain "github.com/smallbiznis/meter/internal/rating/domain"
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
	Meter    *config.MeterConfigHolder
	Repo     usagedomain.Repository
	Platform platformdomain.Client
	Metrics  *obsmetrics.Metrics         `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	meter    *config.MeterConfigHolder
	repo     usagedomain.Repository
	platform platformdomain.Client
	metrics  *obsmetrics.Metrics
	pipeline *obsmetrics.PipelineMetrics
}

func NewService(p ServiceParam) backfilldomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("backfill.service"),
		clock:    p.Clock,
		meter:    p.Meter,
		repo:     p.Repo,
		platform: p.Platform,
		metrics:  p.Metrics,
		pipeline: p.Pipeline,
	}
}

// Backfill prices the rows behind every invoice that still references unpriced
// batches. Platform failures and unusable line items are skipped; a store failure
// stops the run.
func (s *Service) Backfill(ctx context.Context) error {
	invoices, err := s.repo.ListInvoicesPendingBackfill(ctx, s.db)
	if err != nil {
		return fmt.Errorf("list invoices pending backfill: %w", err)
	}

	chunkSize := s.meter.Get().PersistChunkSize
	var priced, failed int
	for _, pending := range invoices {
		if err := ctx.Err(); err != nil {
			return err
		}

		invoice, err := s.platform.GetInvoice(ctx, pending.TenantID, pending.InvoiceID)
		if err != nil {
			failed++
			s.log.Warn("fetch invoice failed",
				zap.String("invoice_id", pending.InvoiceID),
				zap.String("tenant_id", pending.TenantID),
				zap.Error(err),
			)
			continue
		}

		for _, item := range invoice.Items {
			n, err := s.backfillItem(ctx, invoice, item, chunkSize)
			if errors.Is(err, ratingdomain.ErrMalformedPayload) {
				s.log.Debug("invoice item skipped",
					zap.String("invoice_id", invoice.ID),
					zap.String("invoice_item_id", item.ID),
					zap.Error(err),
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("backfill invoice %s item %s: %w", pending.InvoiceID, item.ID, err)
			}
			priced += n
		}
	}

	s.pipeline.AddProcessed(obsmetrics.StageBackfill, len(invoices)-failed)
	s.pipeline.AddFailed(obsmetrics.StageBackfill, failed)
	s.log.Info("backfill finished",
		zap.Int("invoices", len(invoices)),
		zap.Int("failed", failed),
		zap.Int("rows", priced),
	)
	return nil
}

func (s *Service) backfillItem(
	ctx context.Context,
	invoice platformdomain.Invoice,
	item platformdomain.InvoiceItem,
	chunkSize int,
) (int, error) {
	tiers, err := ratingdomain.ParseTierDetails(item.ItemDetails)
	if err != nil {
		return 0, err
	}
	unitType := tiers[0].TierUnit

	rows, err := s.repo.ListByTrackingIDsAndUnit(ctx, s.db, invoice.TrackingIDs, unitType)
	if err != nil {
		return 0, fmt.Errorf("load rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Allocation starts from zero on every pass, so re-running a back-fill
	// recomputes the same charges instead of adding to them.
	for i := range rows {
		rows[i].Charges = decimal.NullDecimal{}
		rows[i].Tier = nil
	}

	allocated := allocator.Allocate(rows, tiers)
	touched := make([]usagedomain.RawUsage, 0, len(allocated))
	for _, row := range allocated {
		if row.Priced() {
			touched = append(touched, row)
		}
	}
	if len(touched) == 0 {
		return 0, nil
	}

	if err := s.repo.PersistCharges(ctx, s.db, touched, chunkSize, s.clock.Now()); err != nil {
		return 0, err
	}
	s.metrics.RecordRowsBackfilled(ctx, unitType, len(touched))
	s.log.Debug("invoice item back-filled",
		zap.String("invoice_id", invoice.ID),
		zap.String("invoice_item_id", item.ID),
		zap.String("unit_type", unitType),
		zap.Int("rows", len(touched)),
		zap.Int("tiers", len(tiers)),
	)
	return len(touched), nil
}
