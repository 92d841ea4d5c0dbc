package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"github.com/smallbiznis/meter/internal/platform/platformtest"
	"github.com/smallbiznis/meter/internal/usage/repository"
	"github.com/smallbiznis/meter/internal/usage/usagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *platformtest.Stub) {
	t.Helper()
	db := usagetest.OpenDB(t)
	stub := platformtest.NewStub()
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repository.Provide(),
		Platform: stub,
	})
	return svc.(*Service), db, stub
}

func TestBillPendingBatchesReportsRollup(t *testing.T) {
	svc, db, stub := newTestService(t)
	stub.AddSubscription("sub-1", "acc-1")
	usagetest.Seed(t, db, usagetest.Node(t),
		usagetest.Row{AggregationID: "batch-1", Amount: "2.5", RecordDate: time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)},
		usagetest.Row{AggregationID: "batch-1", Amount: "5.25", RecordDate: time.Date(2024, 1, 9, 20, 0, 0, 0, time.UTC)},
		usagetest.Row{AggregationID: "batch-2", Amount: "1", Charges: "10"},
		usagetest.Row{Amount: "9"},
	)

	require.NoError(t, svc.BillPendingBatches(context.Background()))

	require.Len(t, stub.Reports, 1)
	report := stub.Reports[0]
	assert.Equal(t, "uuid-sub-1", report.SubscriptionID)
	assert.Equal(t, "batch-1", report.TrackingID)
	assert.Equal(t, "api_calls", report.UnitType)
	require.Len(t, report.Records, 1)
	assert.True(t, report.Records[0].Amount.Equal(decimal.RequireFromString("7.75")))
	assert.True(t, report.Records[0].RecordDate.Equal(time.Date(2024, 1, 9, 20, 0, 0, 0, time.UTC)))
}

func TestBillPendingBatchesRerunIsIdempotent(t *testing.T) {
	svc, db, stub := newTestService(t)
	stub.AddSubscription("sub-1", "acc-1")
	usagetest.Seed(t, db, usagetest.Node(t), usagetest.Row{AggregationID: "batch-1"})

	require.NoError(t, svc.BillPendingBatches(context.Background()))
	require.NoError(t, svc.BillPendingBatches(context.Background()))

	assert.Len(t, stub.Reports, 1)
}

func TestBillPendingBatchesIsolatesFailures(t *testing.T) {
	svc, db, stub := newTestService(t)
	stub.AddSubscription("sub-ok", "acc-1")
	stub.AddSubscription("sub-flaky", "acc-2")
	stub.UsageErrs["batch-flaky"] = platformdomain.ErrUpstream
	usagetest.Seed(t, db, usagetest.Node(t),
		usagetest.Row{SubscriptionID: "sub-missing", AggregationID: "batch-a"},
		usagetest.Row{SubscriptionID: "sub-flaky", AggregationID: "batch-flaky"},
		usagetest.Row{SubscriptionID: "sub-ok", AggregationID: "batch-z"},
	)

	require.NoError(t, svc.BillPendingBatches(context.Background()))

	require.Len(t, stub.Reports, 1)
	assert.Equal(t, "batch-z", stub.Reports[0].TrackingID)
}

func TestBillPendingBatchesReturnsListingFailure(t *testing.T) {
	svc, db, _ := newTestService(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = svc.BillPendingBatches(context.Background())
	assert.ErrorContains(t, err, "list unpriced batches")
}
