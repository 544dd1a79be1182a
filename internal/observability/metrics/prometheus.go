package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// PrometheusMetrics collects synthesis, HTTP and storage metrics on a
// private registry
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	fitsTotal          *prometheus.CounterVec
	fitDuration        *prometheus.HistogramVec
	generationsTotal   *prometheus.CounterVec
	generatedRowsTotal *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	qualityScore       *prometheus.GaugeVec
	noiseMultiplier    *prometheus.GaugeVec
	storageOperations  *prometheus.CounterVec
	storageDuration    *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Port      int    `json:"port" mapstructure:"port"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = getDefaultPrometheusConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}
	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Start serves the registry on the configured port
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())

	pm.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", pm.config.Port),
		Handler: mux,
	}

	pm.logger.WithFields(logrus.Fields{
		"port": pm.config.Port,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// Handler exposes the registry over HTTP
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// HTTP Metrics
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFit records one generator fit
func (pm *PrometheusMetrics) RecordFit(generator string, duration time.Duration, err error) {
	pm.fitsTotal.WithLabelValues(generator, status(err)).Inc()
	pm.fitDuration.WithLabelValues(generator).Observe(duration.Seconds())
	pm.recordError("fit", err)
}

// RecordGeneration records one sampling call
func (pm *PrometheusMetrics) RecordGeneration(generator string, rows int, duration time.Duration, err error) {
	pm.generationsTotal.WithLabelValues(generator, status(err)).Inc()
	pm.generationDuration.WithLabelValues(generator).Observe(duration.Seconds())
	if err == nil {
		pm.generatedRowsTotal.WithLabelValues(generator).Add(float64(rows))
	}
	pm.recordError("generate", err)
}

// RecordEvaluation records one quality or privacy evaluation
func (pm *PrometheusMetrics) RecordEvaluation(kind string, duration time.Duration, err error) {
	pm.evaluationsTotal.WithLabelValues(kind, status(err)).Inc()
	pm.evaluationDuration.WithLabelValues(kind).Observe(duration.Seconds())
	pm.recordError("evaluate", err)
}

// SetQualityScore sets the last statistical similarity per generator
func (pm *PrometheusMetrics) SetQualityScore(generator string, score float64) {
	pm.qualityScore.WithLabelValues(generator).Set(score)
}

// SetNoiseMultiplier sets the last DP-SGD noise multiplier per generator
func (pm *PrometheusMetrics) SetNoiseMultiplier(generator string, multiplier float64) {
	pm.noiseMultiplier.WithLabelValues(generator).Set(multiplier)
}

// Storage Metrics
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	pm.storageOperations.WithLabelValues(backend, operation, status(err)).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	pm.recordError("storage", err)
}

func (pm *PrometheusMetrics) recordError(component string, err error) {
	if err == nil {
		return
	}
	errType := string(errors.ErrorTypeInternal)
	if appErr, ok := errors.AsAppError(err); ok {
		errType = string(appErr.Type)
	}
	pm.errorsTotal.WithLabelValues(component, errType).Inc()
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}

func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pm.fitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fits_total",
			Help:      "Total number of generator fits",
		},
		[]string{"generator", "status"},
	)

	pm.fitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fit_duration_seconds",
			Help:      "Generator fit duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"generator"},
	)

	pm.generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generations_total",
			Help:      "Total number of sampling calls",
		},
		[]string{"generator", "status"},
	)

	pm.generatedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generated_rows_total",
			Help:      "Total number of synthetic rows generated",
		},
		[]string{"generator"},
	)

	pm.generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Sampling duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"generator"},
	)

	pm.evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluations_total",
			Help:      "Total number of evaluations",
		},
		[]string{"kind", "status"},
	)

	pm.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_duration_seconds",
			Help:      "Evaluation duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 60},
		},
		[]string{"kind"},
	)

	pm.qualityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "quality_score",
			Help:      "Last statistical similarity score",
		},
		[]string{"generator"},
	)

	pm.noiseMultiplier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "noise_multiplier",
			Help:      "Last DP-SGD noise multiplier",
		},
		[]string{"generator"},
	)

	pm.storageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation"},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "type"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.fitsTotal,
		pm.fitDuration,
		pm.generationsTotal,
		pm.generatedRowsTotal,
		pm.generationDuration,
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.qualityScore,
		pm.noiseMultiplier,
		pm.storageOperations,
		pm.storageDuration,
		pm.errorsTotal,
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

func getDefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   true,
		Port:      constants.DefaultMetricsPort,
		Path:      "/metrics",
		Namespace: constants.AppName,
		Subsystem: "synthesis",
	}
}

// DefaultPrometheusConfig returns the default metrics configuration
func DefaultPrometheusConfig() *PrometheusConfig {
	return getDefaultPrometheusConfig()
}
