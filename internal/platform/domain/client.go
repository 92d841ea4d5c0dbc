// Package domain is the contract the pipeline needs from the subscription billing platform.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUpstream            = errors.New("platform_upstream_error")
	ErrNotFound            = errors.New("platform_not_found")
	ErrDuplicateTrackingID = errors.New("platform_duplicate_tracking_id")
	ErrNothingToInvoice    = errors.New("platform_nothing_to_invoice")
	ErrMissingCredentials  = errors.New("platform_missing_credentials")
)

// Subscription is the platform view of a subscription looked up by external key.
type Subscription struct {
	ID          string
	AccountID   string
	ExternalKey string
}

// UsageRecord is one rolled-up amount reported for a day.
type UsageRecord struct {
	RecordDate time.Time
	Amount     decimal.Decimal
}

// UsageReport is a rolled-up usage submission. TrackingID makes the report
// idempotent on the platform side.
type UsageReport struct {
	SubscriptionID string
	TrackingID     string
	UnitType       string
	Records        []UsageRecord
}

type InvoiceItem struct {
	ID          string
	ItemDetails string
}

type Invoice struct {
	ID          string
	AccountID   string
	TrackingIDs []string
	Items       []InvoiceItem
}

// Client talks to the billing platform on behalf of a tenant.
type Client interface {
	GetSubscription(ctx context.Context, tenantID, externalKey string) (Subscription, error)
	RecordUsage(ctx context.Context, tenantID string, report UsageReport) error
	TriggerInvoice(ctx context.Context, tenantID, accountID string, targetDate time.Time) error
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (Invoice, error)
}
