// Package usagetest provides an in-memory raw_usage store for package tests.
package usagetest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meter/internal/migration"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"gorm.io/gorm"
)

// OpenDB returns an isolated sqlite database with raw_usage and the platform's
// invoice_tracking_ids and tenants tables.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.Apply(db); err != nil {
		t.Fatalf("migrate raw_usage: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			record_id INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_tracking_ids (
			record_id INTEGER PRIMARY KEY AUTOINCREMENT,
			tracking_id TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			tenant_record_id INTEGER NOT NULL
		)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create platform table: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for row ids.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Row describes a raw usage row to seed; zero values get defaults.
type Row struct {
	TenantID       string
	SubscriptionID string
	TrackingID     string
	UnitType       string
	RecordDate     time.Time
	Amount         string
	Charges        string
	Tier           string
	AggregationID  string
}

// Seed inserts rows in order, so ids ascend with the slice index.
func Seed(t testing.TB, db *gorm.DB, node *snowflake.Node, rows ...Row) []usagedomain.RawUsage {
	t.Helper()

	out := make([]usagedomain.RawUsage, 0, len(rows))
	for _, r := range rows {
		row := usagedomain.RawUsage{
			ID:             node.Generate(),
			TenantID:       orDefault(r.TenantID, "tenant-1"),
			SubscriptionID: orDefault(r.SubscriptionID, "sub-1"),
			TrackingID:     orDefault(r.TrackingID, "trk-1"),
			UnitType:       orDefault(r.UnitType, "api_calls"),
			RecordDate:     r.RecordDate.UTC(),
			Amount:         decimal.RequireFromString(orDefault(r.Amount, "1")),
			Version:        1,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if row.RecordDate.IsZero() {
			row.RecordDate = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
		}
		if r.Charges != "" {
			row.Charges = decimal.NewNullDecimal(decimal.RequireFromString(r.Charges))
		}
		if r.Tier != "" {
			tier := r.Tier
			row.Tier = &tier
		}
		if r.AggregationID != "" {
			id := r.AggregationID
			row.AggregationID = &id
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed raw usage: %v", err)
		}
		out = append(out, row)
	}
	return out
}

// SeedInvoiceTracking links invoiceID to trackingIDs for tenantID in the platform tables.
func SeedInvoiceTracking(t testing.TB, db *gorm.DB, tenantRecordID int, tenantID, invoiceID string, trackingIDs ...string) {
	t.Helper()

	if err := db.Exec(
		`INSERT INTO tenants (record_id, id) VALUES (?, ?) ON CONFLICT (record_id) DO NOTHING`,
		tenantRecordID, tenantID,
	).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	for _, trackingID := range trackingIDs {
		if err := db.Exec(
			`INSERT INTO invoice_tracking_ids (tracking_id, invoice_id, tenant_record_id) VALUES (?, ?, ?)`,
			trackingID, invoiceID, tenantRecordID,
		).Error; err != nil {
			t.Fatalf("seed invoice tracking id: %v", err)
		}
	}
}

// Reload reads every raw_usage row ordered by id.
func Reload(t testing.TB, db *gorm.DB) []usagedomain.RawUsage {
	t.Helper()
	var rows []usagedomain.RawUsage
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("reload raw usage: %v", err)
	}
	return rows
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
