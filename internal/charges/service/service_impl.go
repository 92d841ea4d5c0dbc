package service

import (
	"context"
	"errors"
	"strings"

	chargesdomain "github.com/smallbiznis/meter/internal/charges/domain"
	"github.com/smallbiznis/meter/internal/config"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonNotFound = "no raw usage matches the requested key"
	reasonTooEarly = "charges are not computed yet"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Meter *config.MeterConfigHolder
	Repo  usagedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	meter *config.MeterConfigHolder
	repo  usagedomain.Repository
}

func NewService(p ServiceParam) chargesdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("charges.service"),
		meter: p.Meter,
		repo:  p.Repo,
	}
}

func (s *Service) GetCharges(ctx context.Context, key usagedomain.ChargeKey) (chargesdomain.ChargeDetails, error) {
	return s.lookup(ctx, key, []string{strings.TrimSpace(key.SubscriptionID)}, s.meter.Get())
}

func (s *Service) GetChargesForPG(ctx context.Context, key usagedomain.ChargeKey) (chargesdomain.ChargeDetails, error) {
	cfg := s.meter.Get()
	base := strings.TrimSpace(key.SubscriptionID)
	ids := make([]string, 0, len(cfg.PGSubscriptionSuffixes))
	for _, suffix := range cfg.PGSubscriptionSuffixes {
		ids = append(ids, base+suffix)
	}
	return s.lookup(ctx, key, ids, cfg)
}

func (s *Service) lookup(
	ctx context.Context,
	key usagedomain.ChargeKey,
	subscriptionIDs []string,
	cfg config.MeterConfig,
) (chargesdomain.ChargeDetails, error) {
	row, err := s.repo.FindByExactKey(ctx, s.db,
		strings.TrimSpace(key.TenantID),
		subscriptionIDs,
		strings.TrimSpace(key.UnitType),
		strings.TrimSpace(key.TrackingID),
	)
	switch {
	case errors.Is(err, usagedomain.ErrNotFound):
		return chargesdomain.ChargeDetails{Reason: reasonNotFound}, err
	case err != nil:
		s.log.Error("charge lookup failed",
			zap.String("tenant_id", key.TenantID),
			zap.String("tracking_id", key.TrackingID),
			zap.Error(err),
		)
		return chargesdomain.ChargeDetails{Reason: err.Error()}, err
	}

	if !row.Priced() {
		return chargesdomain.ChargeDetails{Reason: reasonTooEarly}, usagedomain.ErrTooEarly
	}

	charges := row.Charges.Decimal
	tax := charges.Mul(cfg.TaxRateDecimal())
	return chargesdomain.ChargeDetails{Charges: &charges, Tax: &tax}, nil
}
