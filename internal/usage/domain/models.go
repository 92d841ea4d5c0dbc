// Package domain contains the raw usage model and the store capability used by every pipeline stage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RawUsage is one metered observation. Only the aggregator writes AggregationID and
// only charge persistence writes Charges and Tier.
type RawUsage struct {
	ID             snowflake.ID        `gorm:"primaryKey;autoIncrement:false"`
	TenantID       string              `gorm:"type:text;not null"`
	SubscriptionID string              `gorm:"type:text;not null"`
	TrackingID     string              `gorm:"type:text;not null"`
	UnitType       string              `gorm:"type:text;not null"`
	RecordDate     time.Time           `gorm:"not null"`
	Amount         decimal.Decimal     `gorm:"type:numeric(38,12);not null"`
	Charges        decimal.NullDecimal `gorm:"type:numeric(38,12)"`
	Tier           *string             `gorm:"type:text"`
	AggregationID  *string             `gorm:"type:text;index"`
	Version        int                 `gorm:"not null;default:1"`
	CreatedAt      time.Time           `gorm:"not null"`
	UpdatedAt      time.Time           `gorm:"not null"`
}

// TableName sets the database table name.
func (RawUsage) TableName() string { return "raw_usage" }

func (r RawUsage) Batched() bool { return r.AggregationID != nil }

func (r RawUsage) Priced() bool { return r.Charges.Valid }

// Grouping is the key rows are batched under.
type Grouping struct {
	TenantID       string
	SubscriptionID string
	UnitType       string
}

// PendingBatch is a batch whose rows are not priced yet.
type PendingBatch struct {
	AggregationID  string
	SubscriptionID string
	TenantID       string
	UnitType       string
}

// AggregatedUsage is the rolled-up view of one batch, recomputed on demand.
type AggregatedUsage struct {
	Sum           decimal.Decimal
	MaxRecordDate time.Time
	Rows          int
}

// InvoiceTenant identifies an invoice whose tracking ids still point at unpriced rows.
type InvoiceTenant struct {
	InvoiceID string
	TenantID  string
}

// ChargeKey addresses a single raw usage row from the outside.
type ChargeKey struct {
	TenantID       string
	SubscriptionID string
	UnitType       string
	TrackingID     string
}
