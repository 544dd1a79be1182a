package tableio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// FormatOf returns the table format implied by a file extension
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return constants.FormatCSV, nil
	case ".parquet", ".pq":
		return constants.FormatParquet, nil
	default:
		return "", errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unsupported table format for %q", path)).
			WithContext("path", path)
	}
}

// ReadTable reads a CSV or Parquet file chosen by extension
func ReadTable(ctx context.Context, path string) (*models.Table, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if format == constants.FormatParquet {
		return ReadParquet(ctx, f)
	}
	return ReadCSV(f)
}

// WriteTable writes a CSV or Parquet file chosen by extension, creating
// parent directories as needed
func WriteTable(path string, table *models.Table) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if format == constants.FormatParquet {
		err = WriteParquet(f, table)
	} else {
		err = WriteCSV(f, table)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteReportFile dumps a report to path as JSON
func WriteReportFile(path string, report *models.EvaluationReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteReport(f, report); err != nil {
		return err
	}
	return f.Close()
}
