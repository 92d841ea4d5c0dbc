package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
)

// Metrics exposes metering pipeline instruments.
type Metrics struct {
	rowsIngested      metric.Int64Counter
	batchesAssigned   metric.Int64Counter
	batchesBilled     metric.Int64Counter
	invoicesTriggered metric.Int64Counter
	rowsBackfilled    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the pipeline counters.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meter"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
	}{
		{&m.rowsIngested, "meter_usage_rows_ingested_total"},
		{&m.batchesAssigned, "meter_batches_assigned_total"},
		{&m.batchesBilled, "meter_batches_billed_total"},
		{&m.invoicesTriggered, "meter_invoices_triggered_total"},
		{&m.rowsBackfilled, "meter_rows_backfilled_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) RecordRowsIngested(ctx context.Context, unitType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("unit_type", strings.TrimSpace(unitType)))
	m.rowsIngested.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordBatchesAssigned(ctx context.Context, unitType string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("unit_type", strings.TrimSpace(unitType)))
	m.batchesAssigned.Add(ctx, rows, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordBatchBilled(ctx context.Context, unitType, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("unit_type", strings.TrimSpace(unitType)),
		attribute.String("result", result),
	)
	m.batchesBilled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoiceTriggered(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.invoicesTriggered.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRowsBackfilled(ctx context.Context, unitType string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("unit_type", strings.TrimSpace(unitType)))
	m.rowsBackfilled.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Tenant, subscription and batch ids are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"unit_type": {},
	"result":    {},
	"stage":     {},
	"reason":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
