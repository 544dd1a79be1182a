package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/generators"
	"github.com/inferloop/tabsynth/internal/observability/health"
	"github.com/inferloop/tabsynth/internal/observability/metrics"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/interfaces"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Option configures a Server
type Option func(*Server)

// WithRunStore persists run records and serves GET /runs
func WithRunStore(store interfaces.RunStore) Option {
	return func(s *Server) { s.runs = store }
}

// WithReportStore persists evaluation reports
func WithReportStore(store interfaces.ReportStore) Option {
	return func(s *Server) { s.reports = store }
}

// WithTableStore persists synthetic tables
func WithTableStore(store interfaces.TableStore) Option {
	return func(s *Server) { s.tables = store }
}

// WithMetrics records HTTP and synthesis metrics
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTrainingObserver receives per-epoch statistics of every fit
func WithTrainingObserver(observer interfaces.TrainingObserver) Option {
	return func(s *Server) { s.observer = observer }
}

// WithBuildInfo sets the version reported by /health and /version
func WithBuildInfo(info BuildInfo) Option {
	return func(s *Server) { s.buildInfo = info }
}

// Server exposes synthesis over HTTP
type Server struct {
	config     *Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	generators *generators.Factory

	runs      interfaces.RunStore
	reports   interfaces.ReportStore
	tables    interfaces.TableStore
	metrics   *metrics.PrometheusMetrics
	observer  interfaces.TrainingObserver
	buildInfo BuildInfo
	health    *health.HealthMonitor
	startTime time.Time
}

// New creates a server and registers its routes
func New(config *Config, logger *logrus.Logger, opts ...Option) *Server {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxRequestBytes <= 0 {
		config.MaxRequestBytes = constants.MaxUploadSize
	}
	if config.MaxRows <= 0 {
		config.MaxRows = constants.MaxGenerationRows
	}

	s := &Server{
		config:     config,
		logger:     logger,
		generators: generators.NewFactory(logger),
		buildInfo:  BuildInfo{Version: constants.AppVersion},
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = s.healthMonitor()
	s.router = s.routes()

	return s
}

// healthMonitor probes every configured store. Only the run store is
// critical; reports and tables degrade the service.
func (s *Server) healthMonitor() *health.HealthMonitor {
	hm := health.NewHealthMonitor(nil, s.logger)
	if s.runs != nil {
		hm.RegisterCheck(health.HealthCheck{Name: "run_store", Check: s.runs.Ping, Critical: true})
	}
	if s.reports != nil {
		hm.RegisterCheck(health.HealthCheck{Name: "report_store", Check: s.reports.Ping})
	}
	if s.tables != nil {
		hm.RegisterCheck(health.HealthCheck{Name: "table_store", Check: s.tables.Ping})
	}
	return hm
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called
func (s *Server) ListenAndServe() error {
	addr := s.config.GetAddress()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
