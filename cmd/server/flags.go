package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/inferloop/tabsynth/internal/storage"
	"github.com/inferloop/tabsynth/internal/storage/implementations/file"
	"github.com/inferloop/tabsynth/internal/storage/implementations/influxdb"
	"github.com/inferloop/tabsynth/internal/storage/implementations/redis"
	"github.com/inferloop/tabsynth/internal/storage/implementations/s3"
	"github.com/inferloop/tabsynth/internal/storage/implementations/sqlstore"
	"github.com/inferloop/tabsynth/pkg/constants"
)

type Config struct {
	Port          int
	Host          string
	LogLevel      string
	LogFormat     string
	MetricsPort   int
	EnableMetrics bool
	MaxRows       int
	EnableDebug   bool

	RunStore    string
	ReportStore string
	TableStore  string

	SQLDSN       string
	FilePath     string
	FileFormat   string
	RedisAddr    string
	RedisTTL     time.Duration
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3Prefix     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	Version bool
}

// ParseFlags parses the server command line
func ParseFlags(args []string) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("tabsynth-server", flag.ContinueOnError)

	fs.IntVar(&config.Port, "port", constants.DefaultPort, "Server port")
	fs.StringVar(&config.Host, "host", constants.DefaultHost, "Server host")
	fs.StringVar(&config.LogLevel, "log-level", constants.DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&config.LogFormat, "log-format", constants.DefaultLogFormat, "Log format (json, text)")
	fs.IntVar(&config.MetricsPort, "metrics-port", constants.DefaultMetricsPort, "Prometheus metrics port")
	fs.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Serve Prometheus metrics")
	fs.BoolVar(&config.EnableDebug, "enable-debug", false, "Expose /debug runtime endpoints")
	fs.IntVar(&config.MaxRows, "max-rows", constants.MaxGenerationRows, "Maximum rows per synthesis request")

	fs.StringVar(&config.RunStore, "run-store", constants.StorageSQLite, "Run record backend (sqlite, postgres, none)")
	fs.StringVar(&config.ReportStore, "report-store", constants.StorageFile, "Report backend (file, redis, s3, none)")
	fs.StringVar(&config.TableStore, "table-store", constants.StorageFile, "Synthetic table backend (file, s3, none)")

	fs.StringVar(&config.SQLDSN, "sql-dsn", "tabsynth.db", "SQLite path or PostgreSQL connection string")
	fs.StringVar(&config.FilePath, "file-path", "output", "Base directory of the file backend")
	fs.StringVar(&config.FileFormat, "file-format", constants.FormatCSV, "Table format of the file backend (csv, parquet)")
	fs.StringVar(&config.RedisAddr, "redis-addr", "localhost:6379", "Redis address")
	fs.DurationVar(&config.RedisTTL, "redis-ttl", constants.DefaultReportTTL, "Report expiry in Redis")
	fs.StringVar(&config.S3Bucket, "s3-bucket", "", "S3 bucket")
	fs.StringVar(&config.S3Region, "s3-region", "us-east-1", "S3 region")
	fs.StringVar(&config.S3Endpoint, "s3-endpoint", "", "S3 endpoint override")
	fs.StringVar(&config.S3Prefix, "s3-prefix", constants.AppName, "S3 key prefix")
	fs.StringVar(&config.InfluxURL, "influx-url", "", "InfluxDB URL; empty disables training history")
	fs.StringVar(&config.InfluxToken, "influx-token", "", "InfluxDB token")
	fs.StringVar(&config.InfluxOrg, "influx-org", "", "InfluxDB organization")
	fs.StringVar(&config.InfluxBucket, "influx-bucket", "training", "InfluxDB bucket")

	fs.BoolVar(&config.Version, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", fs.Name())
		fmt.Fprintf(os.Stderr, "\n%s\n\n", constants.AppDescription)
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// StorageConfig builds the backend settings selected by the flags
func (c *Config) StorageConfig() *storage.Config {
	sqlConfig := sqlstore.DefaultConfig()
	sqlConfig.DSN = c.SQLDSN

	redisConfig := redis.DefaultConfig()
	redisConfig.Addr = c.RedisAddr
	redisConfig.TTL = c.RedisTTL

	return &storage.Config{
		SQL:   sqlConfig,
		Redis: redisConfig,
		S3: &s3.S3Config{
			Region:         c.S3Region,
			Bucket:         c.S3Bucket,
			Endpoint:       c.S3Endpoint,
			ForcePathStyle: c.S3Endpoint != "",
			Prefix:         c.S3Prefix,
			MaxRetries:     3,
			UseCompression: true,
		},
		File: &file.FileStorageConfig{
			BasePath:   c.FilePath,
			Format:     c.FileFormat,
			CreateDirs: true,
		},
		InfluxDB: &influxdb.InfluxDBConfig{
			URL:          c.InfluxURL,
			Token:        c.InfluxToken,
			Organization: c.InfluxOrg,
			Bucket:       c.InfluxBucket,
		},
	}
}
