// Package platformtest provides an in-memory billing platform for stage tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
)

type Trigger struct {
	TenantID   string
	AccountID  string
	TargetDate time.Time
}

// Stub answers from maps and records every write. Errors keyed by external key,
// tracking id, account id or invoice id are returned instead of the normal answer.
type Stub struct {
	mu sync.Mutex

	Subscriptions map[string]platformdomain.Subscription
	Invoices      map[string]platformdomain.Invoice

	SubscriptionErrs map[string]error
	UsageErrs        map[string]error
	TriggerErrs      map[string]error
	InvoiceErrs      map[string]error

	Reports  []platformdomain.UsageReport
	Triggers []Trigger
	Lookups  int
}

func NewStub() *Stub {
	return &Stub{
		Subscriptions:    map[string]platformdomain.Subscription{},
		Invoices:         map[string]platformdomain.Invoice{},
		SubscriptionErrs: map[string]error{},
		UsageErrs:        map[string]error{},
		TriggerErrs:      map[string]error{},
		InvoiceErrs:      map[string]error{},
	}
}

// AddSubscription registers externalKey with a derived subscription and account id.
func (s *Stub) AddSubscription(externalKey, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[externalKey] = platformdomain.Subscription{
		ID:          "uuid-" + externalKey,
		AccountID:   accountID,
		ExternalKey: externalKey,
	}
}

func (s *Stub) GetSubscription(_ context.Context, _ string, externalKey string) (platformdomain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	if err := s.SubscriptionErrs[externalKey]; err != nil {
		return platformdomain.Subscription{}, err
	}
	sub, ok := s.Subscriptions[externalKey]
	if !ok {
		return platformdomain.Subscription{}, fmt.Errorf("%w: subscription %s", platformdomain.ErrNotFound, externalKey)
	}
	return sub, nil
}

func (s *Stub) RecordUsage(_ context.Context, _ string, report platformdomain.UsageReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.UsageErrs[report.TrackingID]; err != nil {
		return err
	}
	for _, r := range s.Reports {
		if r.TrackingID == report.TrackingID {
			return fmt.Errorf("%w: %s", platformdomain.ErrDuplicateTrackingID, report.TrackingID)
		}
	}
	s.Reports = append(s.Reports, report)
	return nil
}

func (s *Stub) TriggerInvoice(_ context.Context, tenantID, accountID string, targetDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.TriggerErrs[accountID]; err != nil {
		return err
	}
	s.Triggers = append(s.Triggers, Trigger{TenantID: tenantID, AccountID: accountID, TargetDate: targetDate})
	return nil
}

func (s *Stub) GetInvoice(_ context.Context, _ string, invoiceID string) (platformdomain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.InvoiceErrs[invoiceID]; err != nil {
		return platformdomain.Invoice{}, err
	}
	invoice, ok := s.Invoices[invoiceID]
	if !ok {
		return platformdomain.Invoice{}, fmt.Errorf("%w: invoice %s", platformdomain.ErrNotFound, invoiceID)
	}
	return invoice, nil
}
