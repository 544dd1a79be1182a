package redis

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

func TestNewRedisStorage(t *testing.T) {
	config := &RedisConfig{
		Addr: "localhost:6379",
	}

	logger := logrus.New()
	storage, err := NewRedisStorage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
}

func TestNewRedisStorageInvalidConfig(t *testing.T) {
	_, err := NewRedisStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewRedisStorage(&RedisConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address or cluster addresses are required")

	_, err = NewRedisStorage(&RedisConfig{Addr: "localhost:6379", TTL: -1}, logrus.New())
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, constants.DefaultReportTTL, config.TTL)
	assert.Equal(t, constants.AppName, config.KeyPrefix)
}

func TestReportKey(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "test"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "test:report:run-1", storage.reportKey("run-1"))

	storage, err = NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "report:run-1", storage.reportKey("run-1"))
}

func TestUniversalOptions(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379", DB: 2}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:6379"}, storage.universalOptions().Addrs)
	assert.Equal(t, 2, storage.universalOptions().DB)

	cluster := []string{"a:7000", "b:7000"}
	storage, err = NewRedisStorage(&RedisConfig{ClusterAddrs: cluster}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, cluster, storage.universalOptions().Addrs)
}

func TestDecodeReport(t *testing.T) {
	report, err := decodeReport([]byte(`{"run_id":"r","quality":{"statistical_similarity":0.8},"privacy":{"dcr_mean":0.3}}`))
	require.NoError(t, err)
	assert.Equal(t, "r", report.RunID)
	assert.Equal(t, 0.8, report.Quality[models.MetricStatisticalSimilarity])
	assert.Equal(t, 0.3, report.Privacy[models.MetricDCRMean])

	_, err = decodeReport([]byte("{"))
	assert.Error(t, err)
}

func TestRedisStorageNotConnected(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.GetReport(ctx, "run-1")
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeStorageNotConnected, appErr.Code)

	assert.Error(t, storage.SaveReport(ctx, "", &models.EvaluationReport{}))
	assert.Error(t, storage.Ping(ctx))
	assert.NoError(t, storage.Close())
}
