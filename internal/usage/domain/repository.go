package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DayWindow is the half-open [Start, End) range treated as "today" when batching.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// Repository is the raw_usage store. Every method takes the *gorm.DB to run on so
// callers decide the transaction boundary.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, row *RawUsage) error

	ListUnbatchedGroupings(ctx context.Context, db *gorm.DB) ([]Grouping, error)
	// AssignBatchIDs claims every still-unbatched row of g in one conditional update,
	// stamping updated_at with now.
	AssignBatchIDs(ctx context.Context, db *gorm.DB, g Grouping, currentID, priorID string, today DayWindow, now time.Time) (int64, error)

	ListUnpricedBatches(ctx context.Context, db *gorm.DB) ([]PendingBatch, error)
	SumBatch(ctx context.Context, db *gorm.DB, aggregationID string) (AggregatedUsage, error)

	ListInvoicesPendingBackfill(ctx context.Context, db *gorm.DB) ([]InvoiceTenant, error)
	// ListByTrackingIDsAndUnit returns rows of the given batches ordered by id.
	ListByTrackingIDsAndUnit(ctx context.Context, db *gorm.DB, trackingIDs []string, unitType string) ([]RawUsage, error)
	// PersistCharges writes charges and tier for rows in chunks inside one transaction.
	PersistCharges(ctx context.Context, db *gorm.DB, rows []RawUsage, chunkSize int, now time.Time) error

	// FindByExactKey resolves exactly one row among subscriptionIDs or returns ErrNotFound.
	FindByExactKey(ctx context.Context, db *gorm.DB, tenantID string, subscriptionIDs []string, unitType, trackingID string) (*RawUsage, error)
}

// DayOf returns the calendar day containing now in loc.
func DayOf(now time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}
