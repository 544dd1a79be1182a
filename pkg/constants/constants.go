package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "tabsynth"
	AppDescription = "Privacy-preserving tabular synthetic data engine"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Profiling defaults
	DefaultMaxCategoricalDistinct = 20
	DefaultMaxModes               = 10
	DefaultModeWeightThreshold    = 0.005
	DefaultModeHistogramBins      = 10

	// Generation defaults
	DefaultGenerator           = "copula"
	DefaultSeed                = 42
	DefaultEpochs              = 300
	DefaultBatchSize           = 500
	DefaultEmbeddingDim        = 128
	DefaultGANLearningRate     = 2e-4
	DefaultVAELearningRate     = 1e-3
	DefaultHistogramBins       = 20
	DefaultGumbelTemperature   = 0.2
	DefaultMaxGradNorm         = 1.0
	DefaultEigenvalueFloor     = 1e-6
	DefaultSampleChunkSize     = 1024
	DefaultStatisticsBudgetPct = 0.1

	// Privacy defaults
	DefaultDelta = 1e-5

	// Evaluation defaults
	DefaultNearDuplicateThreshold = 0.01
	DefaultEvaluationMaxRows      = 5000
	DefaultEvaluationSeed         = 7

	// Size limits
	MaxUploadSize     = 100 * 1024 * 1024
	MaxGenerationRows = 1000000

	// Pagination defaults
	DefaultPageSize = 50
	MaxPageSize     = 500

	// Cache defaults
	DefaultReportTTL = 24 * time.Hour
)

// Content types
const (
	ContentTypeJSON    = "application/json"
	ContentTypeCSV     = "text/csv"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// HTTP headers
const (
	HeaderContentType = "Content-Type"
	HeaderRequestID   = "X-Request-ID"
)

// Table file formats
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatJSON    = "json"
)

// Storage backends
const (
	StorageFile     = "file"
	StorageRedis    = "redis"
	StorageS3       = "s3"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageInfluxDB = "influxdb"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"
)
