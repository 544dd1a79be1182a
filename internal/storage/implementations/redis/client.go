package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// RedisConfig holds configuration for the Redis report cache
type RedisConfig struct {
	Addr         string        `json:"addr" mapstructure:"addr"`
	ClusterAddrs []string      `json:"cluster_addrs" mapstructure:"cluster_addrs"`
	Password     string        `json:"password" mapstructure:"password"`
	DB           int           `json:"db" mapstructure:"db"`
	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
	KeyPrefix    string        `json:"key_prefix" mapstructure:"key_prefix"`
}

// DefaultConfig returns a local single-node configuration
func DefaultConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
		TTL:          constants.DefaultReportTTL,
		KeyPrefix:    constants.AppName,
	}
}

// RedisStorage caches evaluation reports as JSON strings with a TTL
type RedisStorage struct {
	config *RedisConfig
	client redis.UniversalClient
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStorage creates a new Redis report store
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "Redis config cannot be nil")
	}
	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "Redis address or cluster addresses are required")
	}
	if config.TTL < 0 {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "Redis TTL cannot be negative")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect creates the client and pings the server
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewUniversalClient(r.universalOptions())
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"cluster":    len(r.config.ClusterAddrs) > 0,
		"db":         r.config.DB,
		"key_prefix": r.config.KeyPrefix,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.client == nil {
		r.closed = true
		return nil
	}

	err := r.client.Close()
	r.client = nil
	r.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close Redis connection")
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	client, err := r.handle()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Redis ping failed")
	}
	return nil
}

// SaveReport stores the report under the run's key, replacing any
// previous report and resetting its TTL
func (r *RedisStorage) SaveReport(ctx context.Context, runID string, report *models.EvaluationReport) error {
	if runID == "" || report == nil {
		return errors.NewValidationError("INVALID_DATA", "run ID and report are required")
	}
	client, err := r.handle()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize report")
	}

	start := time.Now()
	if err := client.Set(ctx, r.reportKey(runID), payload, r.config.TTL).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageWriteFailed, "Failed to write report to Redis").
			WithContext("run_id", runID)
	}

	r.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"bytes":    len(payload),
		"duration": time.Since(start),
	}).Debug("Cached report")

	return nil
}

// GetReport reads a cached report. Expired and missing reports are
// reported as NOT_FOUND.
func (r *RedisStorage) GetReport(ctx context.Context, runID string) (*models.EvaluationReport, error) {
	client, err := r.handle()
	if err != nil {
		return nil, err
	}

	payload, err := client.Get(ctx, r.reportKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, errors.NewStorageError(errors.CodeStorageNotFound, fmt.Sprintf("report for run '%s' not found", runID)).
			WithContext("run_id", runID)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to read report from Redis").
			WithContext("run_id", runID)
	}

	return decodeReport(payload)
}

func decodeReport(payload []byte) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to deserialize report")
	}
	return &report, nil
}

func (r *RedisStorage) handle() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeStorageNotConnected, "Redis not connected")
	}
	return r.client, nil
}

func (r *RedisStorage) universalOptions() *redis.UniversalOptions {
	addrs := r.config.ClusterAddrs
	if len(addrs) == 0 {
		addrs = []string{r.config.Addr}
	}
	return &redis.UniversalOptions{
		Addrs:        addrs,
		Password:     r.config.Password,
		DB:           r.config.DB,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
		PoolSize:     r.config.PoolSize,
		MaxRetries:   r.config.MaxRetries,
	}
}

func (r *RedisStorage) reportKey(runID string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:report:%s", r.config.KeyPrefix, runID)
	}
	return fmt.Sprintf("report:%s", runID)
}
