package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	StageAggregate = "aggregate"
	StageBill      = "bill"
	StageInvoice   = "invoice"
	StageBackfill  = "backfill"
)

const (
	StageReasonDeadlineExceeded     = "deadline_exceeded"
	StageReasonCanceled             = "canceled"
	StageReasonDBLockTimeout        = "db_lock_timeout"
	StageReasonSerializationFailure = "serialization_failure"
	StageReasonUniqueViolation      = "unique_violation"
	StageReasonUnknown              = "unknown"
)

// PipelineMetrics captures health of the aggregate, bill, invoice and back-fill stages.
type PipelineMetrics struct {
	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageTimeouts  *prometheus.CounterVec
	stageErrors    *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	itemsFailed    *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// PipelineWithConfig returns the process-wide pipeline metrics registered on the default registry.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// NewPipelineMetrics registers a fresh set of collectors on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "meter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meter_pipeline_stage_runs_total",
			Help:        "Pipeline stage runs by name.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "meter_pipeline_stage_duration_seconds",
			Help:        "Pipeline stage latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"stage"}),
		stageTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meter_pipeline_stage_timeouts_total",
			Help:        "Pipeline stages that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meter_pipeline_stage_errors_total",
			Help:        "Pipeline stage failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"stage", "reason"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meter_pipeline_items_processed_total",
			Help:        "Units of work completed per stage (groupings, batches, invoices).",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meter_pipeline_items_failed_total",
			Help:        "Units of work that failed and were skipped.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "meter_pipeline_runloop_lag_seconds",
			Help:        "Delay between the scheduled tick and the actual pipeline start.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.stageRuns,
		m.stageDuration,
		m.stageTimeouts,
		m.stageErrors,
		m.itemsProcessed,
		m.itemsFailed,
		m.runLoopLag,
	)
	return m
}

func (m *PipelineMetrics) IncStageRun(stage string) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveStageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncStageTimeout(stage string) {
	if m == nil {
		return
	}
	m.stageTimeouts.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) IncStageError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage, ClassifyStageReason(err)).Inc()
}

func (m *PipelineMetrics) AddProcessed(stage string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(stage).Add(float64(count))
}

func (m *PipelineMetrics) AddFailed(stage string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsFailed.WithLabelValues(stage).Add(float64(count))
}

func (m *PipelineMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(d, 0).Seconds())
}

// ClassifyStageReason maps an error to a bounded reason label.
func ClassifyStageReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StageReasonDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return StageReasonCanceled
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return StageReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return StageReasonDBLockTimeout
		case "40001", "40P01":
			return StageReasonSerializationFailure
		case "23505":
			return StageReasonUniqueViolation
		}
	}
	return StageReasonUnknown
}
