package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/observability/metrics"
	"github.com/inferloop/tabsynth/internal/server"
	"github.com/inferloop/tabsynth/internal/storage"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/interfaces"
)

func main() {
	config, err := ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if config.Version {
		info := GetBuildInfo()
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Git Commit: %s\n", info.GitCommit)
		fmt.Printf("Build Date: %s\n", info.BuildDate)
		fmt.Printf("Go Version: %s\n", info.GoVersion)
		fmt.Printf("Platform: %s\n", info.Platform)
		return
	}

	logger := setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting tabular synthesis server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var pm *metrics.PrometheusMetrics
	if config.EnableMetrics {
		promConfig := metrics.DefaultPrometheusConfig()
		promConfig.Port = config.MetricsPort
		pm, err = metrics.NewPrometheusMetrics(promConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create metrics")
		}
		if err := pm.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start metrics server")
		}
	}

	var recorder storage.OperationRecorder
	if pm != nil {
		recorder = pm
	}
	backends, err := openBackends(ctx, config, recorder, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer backends.Close()

	srvConfig := server.DefaultConfig()
	srvConfig.Host = config.Host
	srvConfig.Port = config.Port
	srvConfig.MaxRows = config.MaxRows
	srvConfig.EnableDebug = config.EnableDebug
	if err := srvConfig.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid server configuration")
	}

	opts := []server.Option{
		server.WithBuildInfo(GetBuildInfo()),
		server.WithRunStore(backends.runs),
		server.WithReportStore(backends.reports),
		server.WithTableStore(backends.tables),
		server.WithTrainingObserver(backends.observer),
	}
	if pm != nil {
		opts = append(opts, server.WithMetrics(pm))
	}
	srv := server.New(srvConfig, logger, opts...)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if pm != nil {
		if err := pm.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("Metrics server shutdown failed")
		}
	}

	logger.Info("Server stopped")
}

// backends holds the connected stores selected on the command line
type backends struct {
	runs     interfaces.RunStore
	reports  interfaces.ReportStore
	tables   interfaces.TableStore
	observer interfaces.TrainingObserver
	opened   []interfaces.Storage
	logger   *logrus.Logger
}

func (b *backends) connect(ctx context.Context, s interfaces.Storage) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	b.opened = append(b.opened, s)
	return nil
}

// Close closes every connected store
func (b *backends) Close() {
	for _, s := range b.opened {
		if err := s.Close(); err != nil {
			b.logger.WithError(err).Warn("Failed to close storage")
		}
	}
}

// openBackends creates and connects the run, report and table stores and the
// optional training history sink. A backend named "none" is disabled.
func openBackends(ctx context.Context, config *Config, recorder storage.OperationRecorder, logger *logrus.Logger) (*backends, error) {
	factory := storage.NewFactory(logger)
	storageConfig := config.StorageConfig()
	b := &backends{logger: logger}

	fail := func(err error) (*backends, error) {
		b.Close()
		return nil, err
	}

	if config.RunStore != "none" {
		store, err := factory.CreateRunStore(config.RunStore, storageConfig)
		if err != nil {
			return fail(err)
		}
		if err := b.connect(ctx, store); err != nil {
			return fail(err)
		}
		b.runs = storage.InstrumentRunStore(store, config.RunStore, recorder)
	}

	if config.ReportStore != "none" {
		store, err := factory.CreateReportStore(config.ReportStore, storageConfig)
		if err != nil {
			return fail(err)
		}
		if err := b.connect(ctx, store); err != nil {
			return fail(err)
		}
		b.reports = storage.InstrumentReportStore(store, config.ReportStore, recorder)
	}

	if config.TableStore != "none" {
		store, err := factory.CreateTableStore(config.TableStore, storageConfig)
		if err != nil {
			return fail(err)
		}
		if err := b.connect(ctx, store); err != nil {
			return fail(err)
		}
		b.tables = storage.InstrumentTableStore(store, config.TableStore, recorder)
	}

	if config.InfluxURL != "" {
		sink, err := factory.CreateStorage(constants.StorageInfluxDB, storageConfig)
		if err != nil {
			return fail(err)
		}
		if err := b.connect(ctx, sink); err != nil {
			return fail(err)
		}
		if observer, ok := sink.(interfaces.TrainingObserver); ok {
			b.observer = observer
		}
	}

	logger.WithFields(logrus.Fields{
		"run_store":    config.RunStore,
		"report_store": config.ReportStore,
		"table_store":  config.TableStore,
		"history":      config.InfluxURL != "",
	}).Info("Storage ready")

	return b, nil
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
