package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"github.com/smallbiznis/meter/internal/usage/usagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	today = usagedomain.DayWindow{
		Start: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC),
	}
	stampedAt = time.Date(2024, 3, 15, 17, 45, 0, 0, time.UTC)
)

func TestAssignBatchIDsSplitsTodayFromPrior(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	usagetest.Seed(t, db, node,
		usagetest.Row{RecordDate: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
		usagetest.Row{RecordDate: time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC)},
		usagetest.Row{RecordDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		usagetest.Row{RecordDate: time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)},
	)

	groupings, err := r.ListUnbatchedGroupings(ctx, db)
	require.NoError(t, err)
	require.Len(t, groupings, 1)

	affected, err := r.AssignBatchIDs(ctx, db, groupings[0], "current", "prior", today, stampedAt)
	require.NoError(t, err)
	assert.EqualValues(t, 4, affected)

	rows := usagetest.Reload(t, db)
	assert.Equal(t, "current", *rows[0].AggregationID)
	assert.Equal(t, "prior", *rows[1].AggregationID)
	assert.Equal(t, "prior", *rows[2].AggregationID)
	assert.Equal(t, "current", *rows[3].AggregationID)
	for _, row := range rows {
		assert.True(t, row.UpdatedAt.Equal(stampedAt), "updated_at = %s", row.UpdatedAt)
	}
}

func TestAssignBatchIDsNeverReassigns(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	usagetest.Seed(t, db, node,
		usagetest.Row{AggregationID: "existing"},
		usagetest.Row{},
		usagetest.Row{Charges: "3"},
	)
	g := usagedomain.Grouping{TenantID: "tenant-1", SubscriptionID: "sub-1", UnitType: "api_calls"}

	affected, err := r.AssignBatchIDs(ctx, db, g, "c1", "p1", today, stampedAt)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	affected, err = r.AssignBatchIDs(ctx, db, g, "c2", "p2", today, stampedAt)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)

	rows := usagetest.Reload(t, db)
	assert.Equal(t, "existing", *rows[0].AggregationID)
	assert.Equal(t, "p1", *rows[1].AggregationID)
	assert.Nil(t, rows[2].AggregationID)

	groupings, err := r.ListUnbatchedGroupings(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, groupings)
}

func TestListUnpricedBatchesAndSum(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	usagetest.Seed(t, db, node,
		usagetest.Row{AggregationID: "b1", Amount: "1.25", RecordDate: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		usagetest.Row{AggregationID: "b1", Amount: "2.5", RecordDate: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)},
		usagetest.Row{AggregationID: "b1", Amount: "4", RecordDate: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)},
		usagetest.Row{AggregationID: "b2", UnitType: "storage_gb", Amount: "7"},
		usagetest.Row{AggregationID: "b3", Amount: "9", Charges: "90"},
		usagetest.Row{Amount: "11"},
	)

	batches, err := r.ListUnpricedBatches(ctx, db)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, usagedomain.PendingBatch{AggregationID: "b1", SubscriptionID: "sub-1", TenantID: "tenant-1", UnitType: "api_calls"}, batches[0])
	assert.Equal(t, "b2", batches[1].AggregationID)
	assert.Equal(t, "storage_gb", batches[1].UnitType)

	sum, err := r.SumBatch(ctx, db, "b1")
	require.NoError(t, err)
	assert.True(t, sum.Sum.Equal(decimal.RequireFromString("7.75")), "sum %s", sum.Sum)
	assert.Equal(t, time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC), sum.MaxRecordDate)
	assert.Equal(t, 3, sum.Rows)

	_, err = r.SumBatch(ctx, db, "missing")
	assert.ErrorIs(t, err, usagedomain.ErrNotFound)
}

func TestListInvoicesPendingBackfill(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	usagetest.Seed(t, db, node,
		usagetest.Row{AggregationID: "b1"},
		usagetest.Row{AggregationID: "b2", Charges: "5"},
	)
	usagetest.SeedInvoiceTracking(t, db, 1, "tenant-1", "inv-1", "b1")
	usagetest.SeedInvoiceTracking(t, db, 1, "tenant-1", "inv-2", "b2")
	usagetest.SeedInvoiceTracking(t, db, 1, "tenant-1", "inv-3", "unrelated")

	invoices, err := r.ListInvoicesPendingBackfill(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []usagedomain.InvoiceTenant{{InvoiceID: "inv-1", TenantID: "tenant-1"}}, invoices)
}

func TestListByTrackingIDsAndUnitOrdersByID(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	seeded := usagetest.Seed(t, db, node,
		usagetest.Row{AggregationID: "b2", Amount: "1"},
		usagetest.Row{AggregationID: "b1", Amount: "2"},
		usagetest.Row{AggregationID: "b1", Amount: "3", UnitType: "storage_gb"},
		usagetest.Row{AggregationID: "b3", Amount: "4"},
		usagetest.Row{AggregationID: "b1", Amount: "5"},
	)

	rows, err := r.ListByTrackingIDsAndUnit(ctx, db, []string{"b1", "b2"}, "api_calls")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, seeded[0].ID, rows[0].ID)
	assert.Equal(t, seeded[1].ID, rows[1].ID)
	assert.Equal(t, seeded[4].ID, rows[2].ID)

	rows, err = r.ListByTrackingIDsAndUnit(ctx, db, nil, "api_calls")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func priceAll(rows []usagedomain.RawUsage, charge string) []usagedomain.RawUsage {
	tier := "T1"
	for i := range rows {
		rows[i].Charges = decimal.NewNullDecimal(decimal.RequireFromString(charge))
		rows[i].Tier = &tier
	}
	return rows
}

func seedMany(t *testing.T, db *gorm.DB, n int) []usagedomain.RawUsage {
	t.Helper()
	node := usagetest.Node(t)
	specs := make([]usagetest.Row, n)
	for i := range specs {
		specs[i] = usagetest.Row{AggregationID: "b1"}
	}
	return usagetest.Seed(t, db, node, specs...)
}

func countPersistStatements(t *testing.T, db *gorm.DB, failOn int) *int {
	t.Helper()
	calls := 0
	err := db.Callback().Raw().Before("gorm:raw").Register("test:count_persist", func(tx *gorm.DB) {
		if !strings.HasPrefix(tx.Statement.SQL.String(), persistStatementPrefix) {
			return
		}
		calls++
		if calls == failOn {
			_ = tx.AddError(errors.New("injected chunk failure"))
		}
	})
	require.NoError(t, err)
	return &calls
}

func TestPersistChargesChunksInOneTransaction(t *testing.T) {
	db := usagetest.OpenDB(t)
	ctx := context.Background()
	r := Provide()

	rows := priceAll(seedMany(t, db, 2500), "1.5")
	calls := countPersistStatements(t, db, 0)

	require.NoError(t, r.PersistCharges(ctx, db, rows, 1000, stampedAt))
	assert.Equal(t, 3, *calls)

	for _, row := range usagetest.Reload(t, db) {
		require.True(t, row.Charges.Valid)
		assert.True(t, row.Charges.Decimal.Equal(decimal.RequireFromString("1.5")))
		require.NotNil(t, row.Tier)
		assert.Equal(t, "T1", *row.Tier)
		assert.True(t, row.Amount.Equal(decimal.NewFromInt(1)), "amount must never be rewritten")
		assert.True(t, row.UpdatedAt.Equal(stampedAt))
	}
}

func TestPersistChargesAbortsWholeCallOnChunkFailure(t *testing.T) {
	db := usagetest.OpenDB(t)
	ctx := context.Background()
	r := Provide()

	rows := priceAll(seedMany(t, db, 2500), "2")
	calls := countPersistStatements(t, db, 3)

	err := r.PersistCharges(ctx, db, rows, 1000, stampedAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows 2000-2500")
	assert.Equal(t, 3, *calls)

	for _, row := range usagetest.Reload(t, db) {
		assert.False(t, row.Charges.Valid, "row %d committed despite rollback", row.ID)
		assert.Nil(t, row.Tier)
	}
}

func TestPersistChargesRejectsUnpricedRow(t *testing.T) {
	db := usagetest.OpenDB(t)
	rows := seedMany(t, db, 2)

	err := Provide().PersistCharges(context.Background(), db, rows, 1000, stampedAt)
	assert.Error(t, err)
}

func TestDecimalsSurviveStoreExactly(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	batch := "b-exact"
	amounts := []string{"12345678901234.123456789012", "0.000000000001"}
	for _, amount := range amounts {
		row := usagedomain.RawUsage{
			ID:             node.Generate(),
			TenantID:       "tenant-1",
			SubscriptionID: "sub-1",
			TrackingID:     "trk-1",
			UnitType:       "api_calls",
			RecordDate:     time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
			Amount:         decimal.RequireFromString(amount),
			AggregationID:  &batch,
			Version:        1,
			CreatedAt:      stampedAt,
			UpdatedAt:      stampedAt,
		}
		require.NoError(t, r.Insert(ctx, db, &row))
	}

	rows := usagetest.Reload(t, db)
	require.Len(t, rows, 2)
	for i, row := range rows {
		assert.Equal(t, amounts[i], row.Amount.String())
	}

	sum, err := r.SumBatch(ctx, db, batch)
	require.NoError(t, err)
	assert.Equal(t, "12345678901234.123456789013", sum.Sum.String())

	tier := "T1"
	rows[0].Charges = decimal.NewNullDecimal(decimal.RequireFromString("98765432109876.543210987654"))
	rows[0].Tier = &tier
	require.NoError(t, r.PersistCharges(ctx, db, rows[:1], 1000, stampedAt))

	rows = usagetest.Reload(t, db)
	require.True(t, rows[0].Charges.Valid)
	assert.Equal(t, "98765432109876.543210987654", rows[0].Charges.Decimal.String())
	assert.Equal(t, amounts[0], rows[0].Amount.String(), "amount must never be rewritten")
}

func TestFindByExactKey(t *testing.T) {
	db := usagetest.OpenDB(t)
	node := usagetest.Node(t)
	ctx := context.Background()
	r := Provide()

	usagetest.Seed(t, db, node,
		usagetest.Row{SubscriptionID: "sub-1", TrackingID: "trk-1", Charges: "10"},
		usagetest.Row{SubscriptionID: "sub-1_VOLUME", TrackingID: "trk-2"},
		usagetest.Row{SubscriptionID: "sub-1_COUNT", TrackingID: "trk-3"},
		usagetest.Row{SubscriptionID: "sub-1_VOLUME", TrackingID: "trk-3"},
	)

	row, err := r.FindByExactKey(ctx, db, "tenant-1", []string{"sub-1"}, "api_calls", "trk-1")
	require.NoError(t, err)
	assert.True(t, row.Charges.Decimal.Equal(decimal.NewFromInt(10)))

	row, err = r.FindByExactKey(ctx, db, "tenant-1", []string{"sub-1_VOLUME", "sub-1_COUNT"}, "api_calls", "trk-2")
	require.NoError(t, err)
	assert.Equal(t, "sub-1_VOLUME", row.SubscriptionID)

	_, err = r.FindByExactKey(ctx, db, "tenant-1", []string{"sub-1_VOLUME", "sub-1_COUNT"}, "api_calls", "trk-3")
	assert.ErrorIs(t, err, usagedomain.ErrNotFound, "two matches are ambiguous")

	_, err = r.FindByExactKey(ctx, db, "tenant-2", []string{"sub-1"}, "api_calls", "trk-1")
	assert.ErrorIs(t, err, usagedomain.ErrNotFound)
}
