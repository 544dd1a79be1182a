package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/storage/implementations/file"
	"github.com/inferloop/tabsynth/internal/storage/implementations/influxdb"
	"github.com/inferloop/tabsynth/internal/storage/implementations/redis"
	"github.com/inferloop/tabsynth/internal/storage/implementations/s3"
	"github.com/inferloop/tabsynth/internal/storage/implementations/sqlstore"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
)

// Config carries the settings of every backend. Only the sections of the
// selected backends are read.
type Config struct {
	SQL      *sqlstore.SQLConfig      `json:"sql,omitempty" mapstructure:"sql"`
	Redis    *redis.RedisConfig       `json:"redis,omitempty" mapstructure:"redis"`
	S3       *s3.S3Config             `json:"s3,omitempty" mapstructure:"s3"`
	File     *file.FileStorageConfig  `json:"file,omitempty" mapstructure:"file"`
	InfluxDB *influxdb.InfluxDBConfig `json:"influxdb,omitempty" mapstructure:"influxdb"`
}

// CreateFunc builds an unconnected backend from its configuration
type CreateFunc func(config *Config, logger *logrus.Logger) (interfaces.Storage, error)

// Factory creates storage backends by name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()

	return factory
}

// CreateStorage creates a new storage instance
func (f *Factory) CreateStorage(storageType string, config *Config) (interfaces.Storage, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[storageType]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError("UNSUPPORTED_TYPE", fmt.Sprintf("Storage type '%s' is not supported", storageType)).
			WithContext("storage_type", storageType)
	}
	if config == nil {
		config = &Config{}
	}

	storage, err := createFunc(config, f.logger)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CREATION_FAILED", fmt.Sprintf("Failed to create %s storage", storageType))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Info("Created storage instance")

	return storage, nil
}

// CreateRunStore creates a backend that persists run records
func (f *Factory) CreateRunStore(storageType string, config *Config) (interfaces.RunStore, error) {
	storage, err := f.CreateStorage(storageType, config)
	if err != nil {
		return nil, err
	}
	store, ok := storage.(interfaces.RunStore)
	if !ok {
		return nil, unsupportedRole(storageType, "run store")
	}
	return store, nil
}

// CreateReportStore creates a backend that persists evaluation reports
func (f *Factory) CreateReportStore(storageType string, config *Config) (interfaces.ReportStore, error) {
	storage, err := f.CreateStorage(storageType, config)
	if err != nil {
		return nil, err
	}
	store, ok := storage.(interfaces.ReportStore)
	if !ok {
		return nil, unsupportedRole(storageType, "report store")
	}
	return store, nil
}

// CreateTableStore creates a backend that persists synthetic tables
func (f *Factory) CreateTableStore(storageType string, config *Config) (interfaces.TableStore, error) {
	storage, err := f.CreateStorage(storageType, config)
	if err != nil {
		return nil, err
	}
	store, ok := storage.(interfaces.TableStore)
	if !ok {
		return nil, unsupportedRole(storageType, "table store")
	}
	return store, nil
}

// GetSupportedTypes returns all registered storage types, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)

	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc CreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Debug("Registered storage type")

	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

func unsupportedRole(storageType, role string) error {
	return errors.NewStorageError("UNSUPPORTED_TYPE", fmt.Sprintf("Storage type '%s' cannot serve as a %s", storageType, role)).
		WithContext("storage_type", storageType)
}

func (f *Factory) registerDefaults() {
	sqlCreator := func(dialect string) CreateFunc {
		return func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
			sqlConfig := sqlstore.DefaultConfig()
			if config.SQL != nil {
				c := *config.SQL
				sqlConfig = &c
			}
			sqlConfig.Dialect = dialect
			return sqlstore.NewSQLStorage(sqlConfig, logger)
		}
	}
	f.RegisterStorage(constants.StoragePostgres, sqlCreator(sqlstore.DialectPostgres))
	f.RegisterStorage(constants.StorageSQLite, sqlCreator(sqlstore.DialectSQLite))

	f.RegisterStorage(constants.StorageRedis, func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
		redisConfig := config.Redis
		if redisConfig == nil {
			redisConfig = redis.DefaultConfig()
		}
		return redis.NewRedisStorage(redisConfig, logger)
	})

	f.RegisterStorage(constants.StorageS3, func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
		return s3.NewS3Storage(config.S3, logger)
	})

	f.RegisterStorage(constants.StorageFile, func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
		fileConfig := config.File
		if fileConfig == nil {
			fileConfig = &file.FileStorageConfig{BasePath: "output", CreateDirs: true}
		}
		return file.NewFileStorage(fileConfig, logger)
	})

	f.RegisterStorage(constants.StorageInfluxDB, func(config *Config, logger *logrus.Logger) (interfaces.Storage, error) {
		return influxdb.NewInfluxDBStorage(config.InfluxDB, logger)
	})
}
