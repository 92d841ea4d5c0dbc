// Package killbill implements the platform client against the Kill Bill REST API.
package killbill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/meter/internal/config"
	platformdomain "github.com/smallbiznis/meter/internal/platform/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	headerAPIKey    = "X-Killbill-ApiKey"
	headerAPISecret = "X-Killbill-ApiSecret"
	headerCreatedBy = "X-Killbill-CreatedBy"

	dateLayout = "2006-01-02"
)

type Params struct {
	fx.In

	Config     config.Config
	Meter      *config.MeterConfigHolder
	Log        *zap.Logger
	HTTPClient *http.Client `optional:"true"`
}

type Client struct {
	baseURL   string
	username  string
	password  string
	createdBy string
	apiKey    string
	apiSecret string
	meter     *config.MeterConfigHolder
	client    *http.Client
	log       *zap.Logger
}

func New(p Params) *Client {
	kb := p.Config.KillBill
	httpClient := p.HTTPClient
	if httpClient == nil {
		timeout := kb.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(kb.URL), "/"),
		username:  kb.Username,
		password:  kb.Password,
		createdBy: kb.CreatedBy,
		apiKey:    strings.TrimSpace(kb.APIKey),
		apiSecret: strings.TrimSpace(kb.APISecret),
		meter:     p.Meter,
		client:    httpClient,
		log:       log.Named("platform.killbill"),
	}
}

type subscriptionJSON struct {
	SubscriptionID string `json:"subscriptionId"`
	AccountID      string `json:"accountId"`
	ExternalKey    string `json:"externalKey"`
}

type usageRecordJSON struct {
	RecordDate string      `json:"recordDate"`
	Amount     json.Number `json:"amount"`
}

type unitUsageRecordJSON struct {
	UnitType     string            `json:"unitType"`
	UsageRecords []usageRecordJSON `json:"usageRecords"`
}

type subscriptionUsageRecordJSON struct {
	SubscriptionID   string                `json:"subscriptionId"`
	TrackingID       string                `json:"trackingId"`
	UnitUsageRecords []unitUsageRecordJSON `json:"unitUsageRecords"`
}

type invoiceItemJSON struct {
	InvoiceItemID string `json:"invoiceItemId"`
	ItemDetails   string `json:"itemDetails"`
}

type invoiceJSON struct {
	InvoiceID   string            `json:"invoiceId"`
	AccountID   string            `json:"accountId"`
	Items       []invoiceItemJSON `json:"items"`
	TrackingIDs []string          `json:"trackingIds"`
}

type errorJSON struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusError is a non-2xx answer. It unwraps to platform ErrUpstream.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("killbill: status %d", e.Status)
	}
	return fmt.Sprintf("killbill: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return platformdomain.ErrUpstream }

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func (c *Client) GetSubscription(ctx context.Context, tenantID, externalKey string) (platformdomain.Subscription, error) {
	query := url.Values{}
	query.Set("externalKey", externalKey)

	var out subscriptionJSON
	if err := c.do(ctx, tenantID, http.MethodGet, "/1.0/kb/subscriptions", query, nil, &out); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return platformdomain.Subscription{}, fmt.Errorf("%w: subscription %s", platformdomain.ErrNotFound, externalKey)
		}
		return platformdomain.Subscription{}, err
	}
	if out.SubscriptionID == "" {
		return platformdomain.Subscription{}, fmt.Errorf("%w: subscription response without id", platformdomain.ErrUpstream)
	}
	return platformdomain.Subscription{
		ID:          out.SubscriptionID,
		AccountID:   out.AccountID,
		ExternalKey: out.ExternalKey,
	}, nil
}

func (c *Client) RecordUsage(ctx context.Context, tenantID string, report platformdomain.UsageReport) error {
	records := make([]usageRecordJSON, 0, len(report.Records))
	for _, r := range report.Records {
		records = append(records, usageRecordJSON{
			RecordDate: r.RecordDate.UTC().Format(time.RFC3339),
			Amount:     json.Number(r.Amount.String()),
		})
	}
	body := subscriptionUsageRecordJSON{
		SubscriptionID: report.SubscriptionID,
		TrackingID:     report.TrackingID,
		UnitUsageRecords: []unitUsageRecordJSON{{
			UnitType:     report.UnitType,
			UsageRecords: records,
		}},
	}

	err := c.do(ctx, tenantID, http.MethodPost, "/1.0/kb/usages", nil, body, nil)
	if statusOf(err) == http.StatusConflict {
		return fmt.Errorf("%w: %s", platformdomain.ErrDuplicateTrackingID, report.TrackingID)
	}
	return err
}

func (c *Client) TriggerInvoice(ctx context.Context, tenantID, accountID string, targetDate time.Time) error {
	query := url.Values{}
	query.Set("accountId", accountID)
	query.Set("targetDate", targetDate.Format(dateLayout))

	err := c.do(ctx, tenantID, http.MethodPost, "/1.0/kb/invoices", query, nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: account %s", platformdomain.ErrNothingToInvoice, accountID)
	}
	return err
}

func (c *Client) GetInvoice(ctx context.Context, tenantID, invoiceID string) (platformdomain.Invoice, error) {
	query := url.Values{}
	query.Set("withItems", "true")

	var out invoiceJSON
	if err := c.do(ctx, tenantID, http.MethodGet, "/1.0/kb/invoices/"+url.PathEscape(invoiceID), query, nil, &out); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return platformdomain.Invoice{}, fmt.Errorf("%w: invoice %s", platformdomain.ErrNotFound, invoiceID)
		}
		return platformdomain.Invoice{}, err
	}

	invoice := platformdomain.Invoice{
		ID:          out.InvoiceID,
		AccountID:   out.AccountID,
		TrackingIDs: out.TrackingIDs,
		Items:       make([]platformdomain.InvoiceItem, 0, len(out.Items)),
	}
	for _, item := range out.Items {
		invoice.Items = append(invoice.Items, platformdomain.InvoiceItem{
			ID:          item.InvoiceItemID,
			ItemDetails: item.ItemDetails,
		})
	}
	return invoice, nil
}

func (c *Client) credentials(tenantID string) (string, string, error) {
	if cred, ok := c.meter.Get().Tenant(tenantID); ok && cred.APIKey != "" {
		return cred.APIKey, cred.APISecret, nil
	}
	if c.apiKey == "" {
		return "", "", fmt.Errorf("%w: tenant %s", platformdomain.ErrMissingCredentials, tenantID)
	}
	return c.apiKey, c.apiSecret, nil
}

func (c *Client) do(
	ctx context.Context,
	tenantID string,
	method string,
	path string,
	query url.Values,
	body any,
	out any,
) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base url not configured", platformdomain.ErrMissingCredentials)
	}
	apiKey, apiSecret, err := c.credentials(tenantID)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set(headerAPIKey, apiKey)
	req.Header.Set(headerAPISecret, apiSecret)
	req.Header.Set("Accept", "application/json")
	if method != http.MethodGet {
		req.Header.Set(headerCreatedBy, c.createdBy)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", platformdomain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{Status: resp.StatusCode}
		var kbErr errorJSON
		if err := json.NewDecoder(resp.Body).Decode(&kbErr); err == nil {
			statusErr.Message = strings.TrimSpace(kbErr.Message)
		}
		c.log.Debug("killbill request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("tenant_id", tenantID),
			zap.Int("status", resp.StatusCode),
		)
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", platformdomain.ErrUpstream, path, err)
	}
	return nil
}
