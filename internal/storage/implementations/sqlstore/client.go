package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Supported dialects
const (
	DialectPostgres = constants.StoragePostgres
	DialectSQLite   = constants.StorageSQLite
)

const defaultListLimit = 50

// SQLConfig holds configuration for the SQL run store
type SQLConfig struct {
	Dialect         string        `json:"dialect" mapstructure:"dialect"`
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	Table           string        `json:"table" mapstructure:"table"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
}

func getDefaultConfig() *SQLConfig {
	return &SQLConfig{
		Dialect:        DialectSQLite,
		DSN:            "tabsynth.db",
		Table:          "synthesis_runs",
		MaxConnections: 10,
		MaxIdleConns:   2,
		QueryTimeout:   30 * time.Second,
	}
}

// DefaultConfig returns a sqlite configuration writing tabsynth.db
func DefaultConfig() *SQLConfig {
	return getDefaultConfig()
}

// SQLStorage persists synthesis runs in a single table. Postgres and
// sqlite share the schema and differ only in placeholder syntax.
type SQLStorage struct {
	config *SQLConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSQLStorage creates a run store. Connect opens the database.
func NewSQLStorage(config *SQLConfig, logger *logrus.Logger) (*SQLStorage, error) {
	if config == nil {
		config = getDefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &SQLStorage{
		config: config,
		logger: logger,
	}, nil
}

// NewSQLStorageWithDB wraps an open database handle. The schema is not
// created; call InitSchema when needed.
func NewSQLStorageWithDB(db *sql.DB, config *SQLConfig, logger *logrus.Logger) (*SQLStorage, error) {
	if db == nil {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "database handle cannot be nil")
	}
	s, err := NewSQLStorage(config, logger)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func validateConfig(config *SQLConfig) error {
	switch config.Dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return errors.NewStorageError(errors.CodeStorageInvalidConfig,
			fmt.Sprintf("unsupported SQL dialect %q", config.Dialect))
	}
	if config.Table == "" {
		config.Table = "synthesis_runs"
	}
	for _, r := range config.Table {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.NewStorageError(errors.CodeStorageInvalidConfig,
				fmt.Sprintf("invalid table name %q", config.Table))
		}
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	return nil
}

// Connect opens the database, checks it and creates the schema
func (s *SQLStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if s.config.DSN == "" {
		return errors.NewStorageError(errors.CodeStorageInvalidConfig, "DSN is required")
	}

	db, err := sql.Open(driverName(s.config.Dialect), s.config.DSN)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Failed to open database connection")
	}

	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
	}
	if s.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.config.MaxIdleConns)
	}
	if s.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.config.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Failed to ping database")
	}

	s.db = db
	s.closed = false
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"dialect": s.config.Dialect,
		"table":   s.config.Table,
	}).Info("Connected to run store")

	return nil
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		s.closed = true
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close database connection")
	}

	s.logger.Info("Run store connection closed")
	return nil
}

// Ping tests the database connection
func (s *SQLStorage) Ping(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "Database ping failed")
	}
	return nil
}

// InitSchema creates the runs table and its index when missing
func (s *SQLStorage) InitSchema(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return errors.ErrStorageNotConnected
	}
	return s.initSchema(ctx)
}

func (s *SQLStorage) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.config.Dialect, s.config.Table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "SCHEMA_INIT_FAILED", "Failed to initialize schema")
		}
	}
	return nil
}

// SaveRun inserts a run or replaces the stored record with the same ID
func (s *SQLStorage) SaveRun(ctx context.Context, run *models.SynthesisRun) error {
	if run == nil || run.ID == "" {
		return errors.NewValidationError("INVALID_DATA", "run must have an ID")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	columns, quality, privacy, err := encodeRun(run)
	if err != nil {
		return err
	}

	var epsilon interface{}
	if run.Epsilon != nil {
		epsilon = *run.Epsilon
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	_, err = db.ExecContext(ctx, s.rebind(upsertQuery(s.config.Table)),
		run.ID, string(run.Generator), epsilon, run.Delta, run.Seed,
		run.SourceRows, run.GeneratedRows, columns, quality, privacy,
		int64(run.FitDuration), run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageWriteFailed, "Failed to save run").
			WithContext("run_id", run.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"duration": time.Since(start),
	}).Debug("Saved run")

	return nil
}

// GetRun reads a run by ID
func (s *SQLStorage) GetRun(ctx context.Context, id string) (*models.SynthesisRun, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns, s.config.Table)
	run, err := scanRun(db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, errors.NewStorageError(errors.CodeStorageNotFound, fmt.Sprintf("run '%s' not found", id)).
			WithContext("run_id", id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to read run").
			WithContext("run_id", id)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// selects the default page size.
func (s *SQLStorage) ListRuns(ctx context.Context, limit int) ([]*models.SynthesisRun, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC, id LIMIT ?", selectColumns, s.config.Table)
	rows, err := db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to list runs")
	}
	defer rows.Close()

	var runs []*models.SynthesisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to list runs")
	}
	return runs, nil
}

func (s *SQLStorage) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil, errors.NewStorageError(errors.CodeStorageNotConnected, "Run store not connected")
	}
	return s.db, nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStorage) rebind(query string) string {
	if s.config.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func driverName(dialect string) string {
	if dialect == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

const selectColumns = "id, generator, epsilon, delta, seed, source_rows, generated_rows, columns, quality, privacy, fit_duration, created_at"

func schemaStatements(dialect, table string) []string {
	floatType := "REAL"
	if dialect == DialectPostgres {
		floatType = "DOUBLE PRECISION"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	generator TEXT NOT NULL,
	epsilon %s,
	delta %s NOT NULL,
	seed BIGINT NOT NULL,
	source_rows BIGINT NOT NULL,
	generated_rows BIGINT NOT NULL,
	columns TEXT NOT NULL,
	quality TEXT,
	privacy TEXT,
	fit_duration BIGINT NOT NULL,
	created_at BIGINT NOT NULL
)`, table, floatType, floatType),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)", table, table),
	}
}

func upsertQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (%s)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	generator = excluded.generator,
	epsilon = excluded.epsilon,
	delta = excluded.delta,
	seed = excluded.seed,
	source_rows = excluded.source_rows,
	generated_rows = excluded.generated_rows,
	columns = excluded.columns,
	quality = excluded.quality,
	privacy = excluded.privacy,
	fit_duration = excluded.fit_duration,
	created_at = excluded.created_at`, table, selectColumns)
}

func encodeRun(run *models.SynthesisRun) (columns, quality, privacy string, err error) {
	c, err := json.Marshal(run.Columns)
	if err != nil {
		return "", "", "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize columns")
	}
	q, err := json.Marshal(run.Quality)
	if err != nil {
		return "", "", "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize quality report")
	}
	p, err := json.Marshal(run.Privacy)
	if err != nil {
		return "", "", "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize privacy report")
	}
	return string(c), string(q), string(p), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.SynthesisRun, error) {
	var (
		run                        models.SynthesisRun
		generator                  string
		epsilon                    sql.NullFloat64
		columns, quality, privacy  sql.NullString
		fitDuration, createdAtNano int64
	)
	err := row.Scan(&run.ID, &generator, &epsilon, &run.Delta, &run.Seed,
		&run.SourceRows, &run.GeneratedRows, &columns, &quality, &privacy,
		&fitDuration, &createdAtNano)
	if err != nil {
		return nil, err
	}

	run.Generator = models.GeneratorType(generator)
	if epsilon.Valid {
		eps := epsilon.Float64
		run.Epsilon = &eps
	}
	run.FitDuration = time.Duration(fitDuration)
	run.CreatedAt = time.Unix(0, createdAtNano).UTC()

	if columns.Valid && columns.String != "" {
		if err := json.Unmarshal([]byte(columns.String), &run.Columns); err != nil {
			return nil, err
		}
	}
	if quality.Valid && quality.String != "" {
		if err := json.Unmarshal([]byte(quality.String), &run.Quality); err != nil {
			return nil, err
		}
	}
	if privacy.Valid && privacy.String != "" {
		if err := json.Unmarshal([]byte(privacy.String), &run.Privacy); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
