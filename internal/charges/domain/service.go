package domain

import (
	"context"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
)

// ChargeDetails is the priced view of one raw usage row. On failure only Reason is set.
type ChargeDetails struct {
	Charges *decimal.Decimal `json:"charges,omitempty"`
	Tax     *decimal.Decimal `json:"tax,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// Service resolves a single raw usage row and prices it with tax. Errors are
// usage ErrNotFound, usage ErrTooEarly or a store failure, and the returned
// ChargeDetails always carries a Reason alongside them.
type Service interface {
	GetCharges(ctx context.Context, key usagedomain.ChargeKey) (ChargeDetails, error)
	// GetChargesForPG looks the row up under the configured payment-gateway
	// subscription suffixes instead of the raw subscription id.
	GetChargesForPG(ctx context.Context, key usagedomain.ChargeKey) (ChargeDetails, error)
}
