// Package domain describes the tier breakdown the billing platform attaches to invoice items.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedPayload = errors.New("malformed_tier_payload")

// TierDetail is one priced bucket of an invoice item's tier breakdown.
type TierDetail struct {
	Tier          TierLabel       `json:"tier"`
	TierUnit      string          `json:"tierUnit"`
	TierPrice     decimal.Decimal `json:"tierPrice"`
	TierBlockSize decimal.Decimal `json:"tierBlockSize"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// TierLabel accepts both numeric and string tier identifiers.
type TierLabel string

func (l *TierLabel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = TierLabel(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = TierLabel(n.String())
	return nil
}

type itemDetails struct {
	TierDetails []TierDetail `json:"tierDetails"`
}

// ParseTierDetails decodes an invoice item's itemDetails text. Every failure wraps
// ErrMalformedPayload so callers can skip the item.
func ParseTierDetails(raw string) ([]TierDetail, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}

	var details itemDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(details.TierDetails) == 0 {
		return nil, fmt.Errorf("%w: no tier details", ErrMalformedPayload)
	}

	for i, d := range details.TierDetails {
		switch {
		case strings.TrimSpace(d.TierUnit) == "":
			return nil, fmt.Errorf("%w: tier %d has no unit", ErrMalformedPayload, i)
		case !d.TierBlockSize.IsPositive():
			return nil, fmt.Errorf("%w: tier %d block size must be positive", ErrMalformedPayload, i)
		case d.TierPrice.IsNegative(), d.Quantity.IsNegative():
			return nil, fmt.Errorf("%w: tier %d has negative price or quantity", ErrMalformedPayload, i)
		}
	}
	return details.TierDetails, nil
}
