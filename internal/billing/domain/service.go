package domain

import "context"

// Service reports batched usage to the billing platform.
type Service interface {
	BillPendingBatches(ctx context.Context) error
}
