package domain

import "context"

// Service asks the billing platform to invoice accounts with batched usage.
type Service interface {
	TriggerInvoices(ctx context.Context) error
}
