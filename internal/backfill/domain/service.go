package domain

import "context"

// Service copies the platform's tier breakdown back onto the raw usage rows an
// invoice was computed from.
type Service interface {
	Backfill(ctx context.Context) error
}
