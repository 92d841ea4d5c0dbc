package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/meter/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    usagedomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    usagedomain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Ingest flattens a submission into raw rows and stores them atomically.
func (s *Service) Ingest(ctx context.Context, req usagedomain.Submission) (usagedomain.IngestResult, error) {
	rows, err := s.buildRows(req)
	if err != nil {
		return usagedomain.IngestResult{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := s.repo.Insert(ctx, tx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return usagedomain.IngestResult{}, err
	}

	perUnit := map[string]int{}
	for _, row := range rows {
		perUnit[row.UnitType]++
	}
	for unit, count := range perUnit {
		s.metrics.RecordRowsIngested(ctx, unit, count)
	}

	s.log.Debug("usage recorded",
		zap.String("tenant_id", rows[0].TenantID),
		zap.String("subscription_id", rows[0].SubscriptionID),
		zap.String("tracking_id", rows[0].TrackingID),
		zap.Int("rows", len(rows)),
	)
	return usagedomain.IngestResult{Recorded: len(rows)}, nil
}

func (s *Service) buildRows(req usagedomain.Submission) ([]usagedomain.RawUsage, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return nil, usagedomain.ErrInvalidSubscription
	}
	trackingID := strings.TrimSpace(req.TrackingID)
	if trackingID == "" {
		return nil, usagedomain.ErrInvalidTrackingID
	}

	now := time.Now().UTC()
	var rows []usagedomain.RawUsage
	for _, unit := range req.UnitUsageRecords {
		unitType := strings.TrimSpace(unit.UnitType)
		if unitType == "" {
			return nil, usagedomain.ErrInvalidUnitType
		}
		for _, record := range unit.UsageRecords {
			if record.RecordDate.IsZero() {
				return nil, usagedomain.ErrInvalidRecordDate
			}
			if record.Amount.IsNegative() {
				return nil, usagedomain.ErrInvalidAmount
			}
			rows = append(rows, usagedomain.RawUsage{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				SubscriptionID: subscriptionID,
				TrackingID:     trackingID,
				UnitType:       unitType,
				RecordDate:     record.RecordDate.UTC(),
				Amount:         record.Amount,
				Version:        1,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}
	if len(rows) == 0 {
		return nil, usagedomain.ErrEmptySubmission
	}
	return rows, nil
}
