package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Submission is one client usage report, fanned out into raw rows per unit and record.
type Submission struct {
	SubscriptionID   string            `json:"subscriptionId"`
	TrackingID       string            `json:"trackingId"`
	TenantID         string            `json:"tenantId"`
	UnitUsageRecords []UnitUsageRecord `json:"unitUsageRecords"`
}

type UnitUsageRecord struct {
	UnitType     string        `json:"unitType"`
	UsageRecords []UsageRecord `json:"usageRecords"`
}

type UsageRecord struct {
	RecordDate time.Time       `json:"recordDate"`
	Amount     decimal.Decimal `json:"amount"`
}

type IngestResult struct {
	Recorded int `json:"recorded"`
}

type Service interface {
	Ingest(context.Context, Submission) (IngestResult, error)
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidTrackingID   = errors.New("invalid_tracking_id")
	ErrInvalidUnitType     = errors.New("invalid_unit_type")
	ErrInvalidRecordDate   = errors.New("invalid_record_date")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrEmptySubmission     = errors.New("empty_submission")

	ErrNotFound = errors.New("raw_usage_not_found")
	ErrTooEarly = errors.New("charges_not_computed")
)
