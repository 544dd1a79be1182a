package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/internal/storage/implementations/file"
	"github.com/inferloop/tabsynth/internal/storage/implementations/sqlstore"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

type recordedOp struct {
	backend, operation string
	failed             bool
}

type recordingRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *recordingRecorder) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{backend, operation, err != nil})
}

func TestFactoryDefaults(t *testing.T) {
	factory := NewFactory(logrus.New())
	assert.Equal(t, []string{"file", "influxdb", "postgres", "redis", "s3", "sqlite"}, factory.GetSupportedTypes())
	assert.True(t, factory.IsSupported(constants.StorageRedis))
	assert.False(t, factory.IsSupported("clickhouse"))

	_, err := factory.CreateStorage("clickhouse", nil)
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "UNSUPPORTED_TYPE", appErr.Code)
}

func TestFactoryRoles(t *testing.T) {
	factory := NewFactory(logrus.New())
	config := &Config{
		SQL:  &sqlstore.SQLConfig{DSN: filepath.Join(t.TempDir(), "runs.db")},
		File: &file.FileStorageConfig{BasePath: t.TempDir()},
	}

	_, err := factory.CreateRunStore(constants.StorageSQLite, config)
	assert.NoError(t, err)
	_, err = factory.CreateRunStore(constants.StoragePostgres, config)
	assert.NoError(t, err)
	assert.Empty(t, config.SQL.Dialect, "caller config must not be mutated")

	_, err = factory.CreateReportStore(constants.StorageFile, config)
	assert.NoError(t, err)
	_, err = factory.CreateTableStore(constants.StorageFile, config)
	assert.NoError(t, err)

	_, err = factory.CreateRunStore(constants.StorageFile, config)
	assert.Error(t, err)
	_, err = factory.CreateTableStore(constants.StorageRedis, config)
	assert.Error(t, err)

	// s3 requires a bucket
	_, err = factory.CreateTableStore(constants.StorageS3, config)
	assert.Error(t, err)
}

func TestRegisterStorage(t *testing.T) {
	factory := NewFactory(logrus.New())
	assert.Error(t, factory.RegisterStorage("", nil))
	assert.Error(t, factory.RegisterStorage("x", nil))

	require.NoError(t, factory.RegisterStorage("memory", func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
		return file.NewFileStorage(&file.FileStorageConfig{BasePath: "mem"}, logger)
	}))
	assert.True(t, factory.IsSupported("memory"))
}

func TestInstrumentedStores(t *testing.T) {
	factory := NewFactory(logrus.New())
	config := &Config{
		SQL:  &sqlstore.SQLConfig{DSN: filepath.Join(t.TempDir(), "runs.db")},
		File: &file.FileStorageConfig{BasePath: t.TempDir()},
	}
	ctx := context.Background()
	recorder := &recordingRecorder{}

	runs, err := factory.CreateRunStore(constants.StorageSQLite, config)
	require.NoError(t, err)
	require.NoError(t, runs.Connect(ctx))
	defer runs.Close()
	runs = InstrumentRunStore(runs, constants.StorageSQLite, recorder)

	reports, err := factory.CreateReportStore(constants.StorageFile, config)
	require.NoError(t, err)
	require.NoError(t, reports.Connect(ctx))
	reports = InstrumentReportStore(reports, constants.StorageFile, recorder)

	require.NoError(t, runs.SaveRun(ctx, &models.SynthesisRun{ID: "r1", Generator: models.GeneratorTypeCopula, CreatedAt: time.Now()}))
	_, err = runs.GetRun(ctx, "missing")
	assert.True(t, errors.IsStorageNotFound(err))
	_, err = reports.GetReport(ctx, "missing")
	assert.Error(t, err)

	assert.Equal(t, []recordedOp{
		{"sqlite", "save_run", false},
		{"sqlite", "get_run", true},
		{"file", "get_report", true},
	}, recorder.ops)

	assert.Same(t, runs, InstrumentRunStore(runs, "x", nil))
}
