package influxdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

const (
	measurement = "training"
	lossPrefix  = "loss_"
)

// InfluxDBConfig contains configuration for the training history sink
type InfluxDBConfig struct {
	URL          string        `json:"url" mapstructure:"url"`
	Token        string        `json:"token" mapstructure:"token"`
	Organization string        `json:"organization" mapstructure:"organization"`
	Bucket       string        `json:"bucket" mapstructure:"bucket"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	BatchSize    int           `json:"batch_size" mapstructure:"batch_size"`
	UseGZip      bool          `json:"use_gzip" mapstructure:"use_gzip"`
	Lookback     time.Duration `json:"lookback" mapstructure:"lookback"`
}

// InfluxDBStorage records one point per training epoch and reads the loss
// history of a run back. It implements interfaces.TrainingObserver.
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPI
	queryAPI  api.QueryAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "InfluxDB config cannot be nil")
	}
	if config.URL == "" || config.Organization == "" || config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "InfluxDB URL, organization and bucket are required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Lookback == 0 {
		config.Lookback = 30 * 24 * time.Hour
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect creates the client, pings the server and starts the
// asynchronous writer
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetBatchSize(uint(s.config.BatchSize))
	options.SetUseGZip(s.config.UseGZip)
	options.SetHTTPRequestTimeout(uint(s.config.Timeout / time.Second))

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Failed to connect to InfluxDB")
	}
	if !ok {
		client.Close()
		return errors.NewStorageError(errors.CodeStorageConnection, "InfluxDB ping failed")
	}

	s.client = client
	s.writeAPI = client.WriteAPI(s.config.Organization, s.config.Bucket)
	s.queryAPI = client.QueryAPI(s.config.Organization)
	s.connected = true

	go s.drainErrors(s.writeAPI.Errors())

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close flushes pending points and closes the client
func (s *InfluxDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.writeAPI.Flush()
	s.client.Close()
	s.connected = false

	s.logger.Info("Disconnected from InfluxDB")
	return nil
}

// Ping tests the connection
func (s *InfluxDBStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errors.NewStorageError(errors.CodeStorageNotConnected, "Not connected to InfluxDB")
	}
	ok, err := s.client.Ping(ctx)
	if err != nil || !ok {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "InfluxDB ping failed")
	}
	return nil
}

// OnEpoch queues one point for the epoch. Writes are batched and never
// block training; failures are logged.
func (s *InfluxDBStorage) OnEpoch(ctx context.Context, stats models.EpochStats) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return
	}
	s.writeAPI.WritePoint(epochPoint(stats))
}

// Flush forces pending points to be written
func (s *InfluxDBStorage) Flush() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.connected {
		s.writeAPI.Flush()
	}
}

// History returns the recorded epochs of a run ordered by epoch
func (s *InfluxDBStorage) History(ctx context.Context, runID string) ([]models.EpochStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errors.NewStorageError(errors.CodeStorageNotConnected, "Not connected to InfluxDB")
	}

	query := buildHistoryQuery(s.config.Bucket, runID, s.config.Lookback)
	s.logger.WithField("query", query).Debug("Executing InfluxDB query")

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "QUERY_FAILED", "Failed to execute InfluxDB query")
	}
	defer result.Close()

	var history []models.EpochStats
	for result.Next() {
		record := result.Record()
		history = append(history, epochFromValues(record.Values(), record.Time()))
	}
	if result.Err() != nil {
		return nil, errors.WrapError(result.Err(), errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Error reading query results")
	}

	sort.SliceStable(history, func(i, j int) bool { return history[i].Epoch < history[j].Epoch })
	return history, nil
}

func (s *InfluxDBStorage) drainErrors(errs <-chan error) {
	for err := range errs {
		s.logger.WithFields(logrus.Fields{
			"bucket": s.config.Bucket,
			"error":  err.Error(),
		}).Warn("Failed to write training point")
	}
}

func epochPoint(stats models.EpochStats) *write.Point {
	ts := stats.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"epoch":            stats.Epoch,
		"noise_multiplier": stats.NoiseMultiplier,
	}
	for name, value := range stats.Losses {
		fields[lossPrefix+name] = value
	}

	return influxdb2.NewPoint(measurement, map[string]string{
		"run_id":    stats.RunID,
		"generator": string(stats.Generator),
	}, fields, ts)
}

func epochFromValues(values map[string]interface{}, ts time.Time) models.EpochStats {
	stats := models.EpochStats{
		Losses:    make(map[string]float64),
		Timestamp: ts,
	}
	for key, value := range values {
		switch {
		case key == "run_id":
			stats.RunID, _ = value.(string)
		case key == "generator":
			if g, ok := value.(string); ok {
				stats.Generator = models.GeneratorType(g)
			}
		case key == "epoch":
			switch v := value.(type) {
			case int64:
				stats.Epoch = int(v)
			case float64:
				stats.Epoch = int(v)
			}
		case key == "noise_multiplier":
			stats.NoiseMultiplier, _ = value.(float64)
		case strings.HasPrefix(key, lossPrefix):
			if v, ok := value.(float64); ok {
				stats.Losses[strings.TrimPrefix(key, lossPrefix)] = v
			}
		}
	}
	return stats
}

func buildHistoryQuery(bucket, runID string, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %q and r.run_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`, bucket, lookback.String(), measurement, runID)
}
