package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" mapstructure:"base_path"`
	Format     string `json:"format" mapstructure:"format"` // csv or parquet
	CreateDirs bool   `json:"create_dirs" mapstructure:"create_dirs"`
}

// FileStorage keeps synthetic tables and evaluation reports under
// <base>/runs/<run>/
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.CodeStorageInvalidConfig, "FileStorageConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewValidationError(errors.CodeStorageInvalidConfig, "BasePath is required")
	}
	switch config.Format {
	case "":
		config.Format = constants.FormatCSV
	case constants.FormatCSV, constants.FormatParquet:
	default:
		return nil, errors.NewValidationError(errors.CodeStorageInvalidConfig,
			fmt.Sprintf("unsupported table format %q", config.Format))
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect verifies that the base directory exists and is writable
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0o755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "DIRECTORY_CREATION_FAILED",
				fmt.Sprintf("Failed to create directory: %s", fs.config.BasePath))
		}
	}

	if err := fs.checkWritable(); err != nil {
		return err
	}

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("File storage connected")

	return nil
}

// Close marks the storage disconnected
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.connected = false
	return nil
}

// Ping checks that the base directory is still writable
func (fs *FileStorage) Ping(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if !fs.connected {
		return errors.NewStorageError(errors.CodeStorageNotConnected, "File storage not connected")
	}
	return fs.checkWritable()
}

// SaveTable writes the table in the configured format
func (fs *FileStorage) SaveTable(ctx context.Context, runID string, table *models.Table) error {
	if runID == "" || table == nil {
		return errors.NewValidationError("INVALID_DATA", "run ID and table are required")
	}
	if err := fs.ready(); err != nil {
		return err
	}

	path := fs.tablePath(runID)
	if err := tableio.WriteTable(path, table); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageWriteFailed, "Failed to write table").
			WithContext("path", path)
	}

	fs.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"path":   path,
		"rows":   table.NumRows(),
	}).Debug("Wrote table")

	return nil
}

// GetTable reads a table written by SaveTable
func (fs *FileStorage) GetTable(ctx context.Context, runID string) (*models.Table, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}

	path := fs.tablePath(runID)
	if err := fs.exists(path, runID); err != nil {
		return nil, err
	}
	table, err := tableio.ReadTable(ctx, path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to read table").
			WithContext("path", path)
	}
	return table, nil
}

// SaveReport writes the report as indented JSON
func (fs *FileStorage) SaveReport(ctx context.Context, runID string, report *models.EvaluationReport) error {
	if runID == "" || report == nil {
		return errors.NewValidationError("INVALID_DATA", "run ID and report are required")
	}
	if err := fs.ready(); err != nil {
		return err
	}

	path := fs.reportPath(runID)
	if err := tableio.WriteReportFile(path, report); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageWriteFailed, "Failed to write report").
			WithContext("path", path)
	}
	return nil
}

// GetReport reads a report written by SaveReport
func (fs *FileStorage) GetReport(ctx context.Context, runID string) (*models.EvaluationReport, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}

	path := fs.reportPath(runID)
	if err := fs.exists(path, runID); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageReadFailed, "Failed to open report")
	}
	defer f.Close()

	report, err := tableio.ReadReport(f)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to parse report").
			WithContext("path", path)
	}
	return report, nil
}

func (fs *FileStorage) ready() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if !fs.connected {
		return errors.NewStorageError(errors.CodeStorageNotConnected, "File storage not connected")
	}
	return nil
}

func (fs *FileStorage) checkWritable() error {
	info, err := os.Stat(fs.config.BasePath)
	if err != nil || !info.IsDir() {
		return errors.NewStorageError("PATH_NOT_FOUND", fmt.Sprintf("Base path does not exist: %s", fs.config.BasePath))
	}

	probe, err := os.CreateTemp(fs.config.BasePath, ".write_test")
	if err != nil {
		return errors.NewStorageError("PERMISSION_DENIED", fmt.Sprintf("Cannot write to directory: %s", fs.config.BasePath))
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (fs *FileStorage) exists(path, runID string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.NewStorageError(errors.CodeStorageNotFound, fmt.Sprintf("run '%s' has no stored object", runID)).
			WithContext("path", path)
	}
	return nil
}

func (fs *FileStorage) runDir(runID string) string {
	return filepath.Join(fs.config.BasePath, "runs", filepath.Base(runID))
}

func (fs *FileStorage) tablePath(runID string) string {
	return filepath.Join(fs.runDir(runID), "synthetic."+fs.config.Format)
}

func (fs *FileStorage) reportPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "report.json")
}
