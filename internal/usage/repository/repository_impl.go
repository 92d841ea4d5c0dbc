package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, row *usagedomain.RawUsage) error {
	return db.WithContext(ctx).Create(row).Error
}

func (r *repo) ListUnbatchedGroupings(ctx context.Context, db *gorm.DB) ([]usagedomain.Grouping, error) {
	var groupings []usagedomain.Grouping
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT tenant_id, subscription_id, unit_type
		 FROM raw_usage
		 WHERE charges IS NULL AND aggregation_id IS NULL
		 ORDER BY tenant_id, subscription_id, unit_type`,
	).Scan(&groupings).Error
	if err != nil {
		return nil, err
	}
	return groupings, nil
}

// The aggregation_id IS NULL predicate is evaluated per row at update time, so two
// concurrent passes can never move a row from one batch to another.
func (r *repo) AssignBatchIDs(
	ctx context.Context,
	db *gorm.DB,
	g usagedomain.Grouping,
	currentID, priorID string,
	today usagedomain.DayWindow,
	now time.Time,
) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE raw_usage
		 SET aggregation_id = CASE
		         WHEN record_date >= ? AND record_date < ? THEN ?
		         ELSE ?
		     END,
		     updated_at = ?
		 WHERE tenant_id = ?
		   AND subscription_id = ?
		   AND unit_type = ?
		   AND charges IS NULL
		   AND aggregation_id IS NULL`,
		today.Start.UTC(),
		today.End.UTC(),
		currentID,
		priorID,
		now.UTC(),
		g.TenantID,
		g.SubscriptionID,
		g.UnitType,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListUnpricedBatches(ctx context.Context, db *gorm.DB) ([]usagedomain.PendingBatch, error) {
	var batches []usagedomain.PendingBatch
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT aggregation_id, subscription_id, tenant_id, unit_type
		 FROM raw_usage
		 WHERE charges IS NULL AND aggregation_id IS NOT NULL
		 ORDER BY aggregation_id`,
	).Scan(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// SumBatch folds amounts in decimal instead of SQL SUM so the total stays exact on
// every dialect.
func (r *repo) SumBatch(ctx context.Context, db *gorm.DB, aggregationID string) (usagedomain.AggregatedUsage, error) {
	rows, err := db.WithContext(ctx).Raw(
		`SELECT amount, record_date
		 FROM raw_usage
		 WHERE aggregation_id = ?
		 ORDER BY id`,
		aggregationID,
	).Rows()
	if err != nil {
		return usagedomain.AggregatedUsage{}, err
	}
	defer rows.Close()

	sum := usagedomain.AggregatedUsage{Sum: decimal.Zero}
	for rows.Next() {
		var (
			amount     decimal.Decimal
			recordDate time.Time
		)
		if err := rows.Scan(&amount, &recordDate); err != nil {
			return usagedomain.AggregatedUsage{}, err
		}
		sum.Sum = sum.Sum.Add(amount)
		if recordDate.After(sum.MaxRecordDate) {
			sum.MaxRecordDate = recordDate
		}
		sum.Rows++
	}
	if err := rows.Err(); err != nil {
		return usagedomain.AggregatedUsage{}, err
	}
	if sum.Rows == 0 {
		return usagedomain.AggregatedUsage{}, fmt.Errorf("batch %s: %w", aggregationID, usagedomain.ErrNotFound)
	}
	sum.MaxRecordDate = sum.MaxRecordDate.UTC()
	return sum, nil
}

// ListInvoicesPendingBackfill reads the billing platform's invoice_tracking_ids and
// tenants tables, which live in the same database.
func (r *repo) ListInvoicesPendingBackfill(ctx context.Context, db *gorm.DB) ([]usagedomain.InvoiceTenant, error) {
	var invoices []usagedomain.InvoiceTenant
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT itid.invoice_id AS invoice_id, t.id AS tenant_id
		 FROM invoice_tracking_ids itid
		 JOIN tenants t ON t.record_id = itid.tenant_record_id
		 WHERE itid.tracking_id IN (
		     SELECT DISTINCT aggregation_id
		     FROM raw_usage
		     WHERE aggregation_id IS NOT NULL AND charges IS NULL
		 )
		 ORDER BY itid.invoice_id`,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListByTrackingIDsAndUnit(
	ctx context.Context,
	db *gorm.DB,
	trackingIDs []string,
	unitType string,
) ([]usagedomain.RawUsage, error) {
	if len(trackingIDs) == 0 {
		return nil, nil
	}
	var rows []usagedomain.RawUsage
	err := db.WithContext(ctx).
		Where("aggregation_id IN ? AND unit_type = ?", trackingIDs, unitType).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

const persistStatementPrefix = "UPDATE raw_usage SET charges = CASE id"

func (r *repo) PersistCharges(
	ctx context.Context,
	db *gorm.DB,
	rows []usagedomain.RawUsage,
	chunkSize int,
	now time.Time,
) error {
	if len(rows) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(rows)
	}

	now = now.UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += chunkSize {
			end := min(start+chunkSize, len(rows))
			if err := persistChunk(tx, rows[start:end], now); err != nil {
				return fmt.Errorf("persist charges rows %d-%d of %d: %w", start, end, len(rows), err)
			}
		}
		return nil
	})
}

func persistChunk(tx *gorm.DB, chunk []usagedomain.RawUsage, now time.Time) error {
	var (
		sql         strings.Builder
		chargeArgs  = make([]any, 0, len(chunk)*2)
		tierArgs    = make([]any, 0, len(chunk)*2)
		ids         = make([]any, 0, len(chunk))
		chargeCases = strings.Repeat(chargeCase(tx), len(chunk))
		tierCases   = strings.Repeat(" WHEN ? THEN ?", len(chunk))
	)
	for _, row := range chunk {
		if !row.Charges.Valid {
			return fmt.Errorf("row %d has no charges to persist", row.ID)
		}
		chargeArgs = append(chargeArgs, int64(row.ID), row.Charges.Decimal.String())
		tierArgs = append(tierArgs, int64(row.ID), row.Tier)
		ids = append(ids, int64(row.ID))
	}

	sql.WriteString(persistStatementPrefix)
	sql.WriteString(chargeCases)
	sql.WriteString(" END, tier = CASE id")
	sql.WriteString(tierCases)
	sql.WriteString(" END, updated_at = ? WHERE id IN ?")

	args := make([]any, 0, len(chargeArgs)+len(tierArgs)+2)
	args = append(args, chargeArgs...)
	args = append(args, tierArgs...)
	args = append(args, now, ids)

	return tx.Exec(sql.String(), args...).Error
}

// chargeCase binds the charge as text on sqlite, whose charges column is TEXT;
// a DECIMAL cast there would round through REAL.
func chargeCase(tx *gorm.DB) string {
	if tx.Dialector.Name() == "sqlite" {
		return " WHEN ? THEN ?"
	}
	return " WHEN ? THEN CAST(? AS DECIMAL(38,12))"
}

func (r *repo) FindByExactKey(
	ctx context.Context,
	db *gorm.DB,
	tenantID string,
	subscriptionIDs []string,
	unitType, trackingID string,
) (*usagedomain.RawUsage, error) {
	if len(subscriptionIDs) == 0 {
		return nil, usagedomain.ErrNotFound
	}
	var rows []usagedomain.RawUsage
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id IN ? AND unit_type = ? AND tracking_id = ?",
			tenantID, subscriptionIDs, unitType, trackingID).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usagedomain.ErrNotFound
		}
		return nil, err
	}
	if len(rows) != 1 {
		return nil, usagedomain.ErrNotFound
	}
	return &rows[0], nil
}
