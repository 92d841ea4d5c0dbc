package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"github.com/smallbiznis/meter/internal/usage/repository"
	"github.com/smallbiznis/meter/internal/usage/usagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T, repo usagedomain.Repository) (usagedomain.Service, *gorm.DB) {
	t.Helper()
	db := usagetest.OpenDB(t)
	if repo == nil {
		repo = repository.Provide()
	}
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: usagetest.Node(t),
		Repo:  repo,
	})
	return svc, db
}

func submission() usagedomain.Submission {
	recorded := time.Date(2024, 5, 1, 10, 30, 0, 0, time.FixedZone("WIB", 7*3600))
	return usagedomain.Submission{
		SubscriptionID: "sub-1",
		TrackingID:     "trk-1",
		TenantID:       "tenant-1",
		UnitUsageRecords: []usagedomain.UnitUsageRecord{
			{
				UnitType: "api_calls",
				UsageRecords: []usagedomain.UsageRecord{
					{RecordDate: recorded, Amount: decimal.NewFromInt(50)},
					{RecordDate: recorded.Add(time.Hour), Amount: decimal.RequireFromString("80")},
				},
			},
			{
				UnitType: "storage_gb",
				UsageRecords: []usagedomain.UsageRecord{
					{RecordDate: recorded, Amount: decimal.RequireFromString("3")},
				},
			},
		},
	}
}

func TestIngestFlattensSubmission(t *testing.T) {
	svc, db := setupService(t, nil)

	result, err := svc.Ingest(context.Background(), submission())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recorded)

	rows := usagetest.Reload(t, db)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "tenant-1", row.TenantID)
		assert.Equal(t, "sub-1", row.SubscriptionID)
		assert.Equal(t, "trk-1", row.TrackingID)
		assert.Equal(t, 1, row.Version)
		assert.False(t, row.Batched())
		assert.False(t, row.Priced())
		assert.Nil(t, row.Tier)
	}
	assert.Equal(t, "api_calls", rows[0].UnitType)
	assert.True(t, rows[1].Amount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, "storage_gb", rows[2].UnitType)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC), rows[0].RecordDate.UTC())
}

func TestIngestValidation(t *testing.T) {
	svc, db := setupService(t, nil)

	cases := []struct {
		name   string
		mutate func(*usagedomain.Submission)
		want   error
	}{
		{"tenant", func(s *usagedomain.Submission) { s.TenantID = " " }, usagedomain.ErrInvalidTenant},
		{"subscription", func(s *usagedomain.Submission) { s.SubscriptionID = "" }, usagedomain.ErrInvalidSubscription},
		{"tracking", func(s *usagedomain.Submission) { s.TrackingID = "" }, usagedomain.ErrInvalidTrackingID},
		{"unit", func(s *usagedomain.Submission) { s.UnitUsageRecords[0].UnitType = "" }, usagedomain.ErrInvalidUnitType},
		{"record date", func(s *usagedomain.Submission) {
			s.UnitUsageRecords[1].UsageRecords[0].RecordDate = time.Time{}
		}, usagedomain.ErrInvalidRecordDate},
		{"negative amount", func(s *usagedomain.Submission) {
			s.UnitUsageRecords[0].UsageRecords[1].Amount = decimal.NewFromInt(-1)
		}, usagedomain.ErrInvalidAmount},
		{"empty", func(s *usagedomain.Submission) { s.UnitUsageRecords = nil }, usagedomain.ErrEmptySubmission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := submission()
			tc.mutate(&req)
			_, err := svc.Ingest(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, usagetest.Reload(t, db))
}

type failingRepo struct {
	usagedomain.Repository
	failAfter int
	inserts   int
}

func (r *failingRepo) Insert(ctx context.Context, db *gorm.DB, row *usagedomain.RawUsage) error {
	r.inserts++
	if r.inserts > r.failAfter {
		return errors.New("disk full")
	}
	return r.Repository.Insert(ctx, db, row)
}

func TestIngestIsAllOrNothing(t *testing.T) {
	repo := &failingRepo{Repository: repository.Provide(), failAfter: 2}
	svc, db := setupService(t, repo)

	_, err := svc.Ingest(context.Background(), submission())
	require.Error(t, err)
	assert.Empty(t, usagetest.Reload(t, db))
}

func TestIngestRecordsRepeatedSubmissions(t *testing.T) {
	svc, db := setupService(t, nil)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, submission())
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, submission())
	require.NoError(t, err, "identical submissions are separate usage events")
	assert.Equal(t, first.Recorded, second.Recorded)

	rows := usagetest.Reload(t, db)
	require.Len(t, rows, 6)
	ids := map[int64]bool{}
	for _, row := range rows {
		ids[int64(row.ID)] = true
	}
	assert.Len(t, ids, 6)
}
