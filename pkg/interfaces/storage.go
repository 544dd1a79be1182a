package interfaces

import (
	"context"

	"github.com/inferloop/tabsynth/pkg/models"
)

// Storage defines the lifecycle shared by all storage backends
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// RunStore persists synthesis run records
type RunStore interface {
	Storage

	// SaveRun inserts or replaces a run record
	SaveRun(ctx context.Context, run *models.SynthesisRun) error

	// GetRun reads a run record by ID
	GetRun(ctx context.Context, id string) (*models.SynthesisRun, error)

	// ListRuns returns the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]*models.SynthesisRun, error)
}

// ReportStore persists evaluation reports keyed by run ID
type ReportStore interface {
	Storage

	SaveReport(ctx context.Context, runID string, report *models.EvaluationReport) error
	GetReport(ctx context.Context, runID string) (*models.EvaluationReport, error)
}

// TableStore persists synthetic tables keyed by run ID
type TableStore interface {
	Storage

	SaveTable(ctx context.Context, runID string, table *models.Table) error
	GetTable(ctx context.Context, runID string) (*models.Table, error)
}
