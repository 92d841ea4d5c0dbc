package domain

import "context"

// Service groups unbatched raw usage into aggregation batches.
type Service interface {
	AssignBatches(ctx context.Context) error
}
