package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/models"
)

func TestParseFlagsDefaults(t *testing.T) {
	config, err := ParseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, config.Port)
	assert.Equal(t, constants.StorageSQLite, config.RunStore)
	assert.Equal(t, constants.StorageFile, config.ReportStore)
	assert.Equal(t, constants.StorageFile, config.TableStore)
	assert.True(t, config.EnableMetrics)
	assert.Empty(t, config.InfluxURL)
}

func TestParseFlagsOverrides(t *testing.T) {
	config, err := ParseFlags([]string{
		"-port", "9000",
		"-run-store", "postgres",
		"-sql-dsn", "postgres://localhost/tabsynth",
		"-redis-ttl", "1h",
		"-s3-endpoint", "http://localhost:9000",
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Port)
	storageConfig := config.StorageConfig()
	assert.Equal(t, "postgres://localhost/tabsynth", storageConfig.SQL.DSN)
	assert.Equal(t, time.Hour, storageConfig.Redis.TTL)
	assert.True(t, storageConfig.S3.ForcePathStyle)
	assert.True(t, storageConfig.File.CreateDirs)

	_, err = ParseFlags([]string{"-port", "abc"})
	assert.Error(t, err)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	config, err := ParseFlags([]string{
		"-sql-dsn", filepath.Join(dir, "runs.db"),
		"-file-path", filepath.Join(dir, "out"),
	})
	require.NoError(t, err)

	logger := logrus.New()
	ctx := context.Background()
	b, err := openBackends(ctx, config, nil, logger)
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, b.runs)
	require.NotNil(t, b.reports)
	require.NotNil(t, b.tables)
	assert.Nil(t, b.observer)
	assert.Len(t, b.opened, 3)

	run := &models.SynthesisRun{ID: "run-1", Generator: models.GeneratorTypeCopula, CreatedAt: time.Now()}
	require.NoError(t, b.runs.SaveRun(ctx, run))
	got, err := b.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.GeneratorTypeCopula, got.Generator)
}

func TestOpenBackendsDisabledAndUnknown(t *testing.T) {
	config, err := ParseFlags([]string{"-run-store", "none", "-report-store", "none", "-table-store", "none"})
	require.NoError(t, err)

	b, err := openBackends(context.Background(), config, nil, logrus.New())
	require.NoError(t, err)
	assert.Nil(t, b.runs)
	assert.Empty(t, b.opened)

	config.RunStore = "mongodb"
	_, err = openBackends(context.Background(), config, nil, logrus.New())
	assert.Error(t, err)

	config.RunStore = "none"
	config.TableStore = constants.StorageRedis
	_, err = openBackends(context.Background(), config, nil, logrus.New())
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger("debug", "json")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = setupLogger("bogus", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
