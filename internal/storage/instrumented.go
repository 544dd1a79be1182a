package storage

import (
	"context"
	"time"

	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

// OperationRecorder observes storage calls
type OperationRecorder interface {
	RecordStorageOperation(backend, operation string, duration time.Duration, err error)
}

// InstrumentedRunStore reports every call of the wrapped store
type InstrumentedRunStore struct {
	interfaces.RunStore
	backend  string
	recorder OperationRecorder
}

// InstrumentRunStore wraps store so that each operation is recorded
func InstrumentRunStore(store interfaces.RunStore, backend string, recorder OperationRecorder) interfaces.RunStore {
	if recorder == nil {
		return store
	}
	return &InstrumentedRunStore{RunStore: store, backend: backend, recorder: recorder}
}

func (s *InstrumentedRunStore) SaveRun(ctx context.Context, run *models.SynthesisRun) error {
	start := time.Now()
	err := s.RunStore.SaveRun(ctx, run)
	s.recorder.RecordStorageOperation(s.backend, "save_run", time.Since(start), err)
	return err
}

func (s *InstrumentedRunStore) GetRun(ctx context.Context, id string) (*models.SynthesisRun, error) {
	start := time.Now()
	run, err := s.RunStore.GetRun(ctx, id)
	s.recorder.RecordStorageOperation(s.backend, "get_run", time.Since(start), err)
	return run, err
}

func (s *InstrumentedRunStore) ListRuns(ctx context.Context, limit int) ([]*models.SynthesisRun, error) {
	start := time.Now()
	runs, err := s.RunStore.ListRuns(ctx, limit)
	s.recorder.RecordStorageOperation(s.backend, "list_runs", time.Since(start), err)
	return runs, err
}

// InstrumentedReportStore reports every call of the wrapped store
type InstrumentedReportStore struct {
	interfaces.ReportStore
	backend  string
	recorder OperationRecorder
}

// InstrumentReportStore wraps store so that each operation is recorded
func InstrumentReportStore(store interfaces.ReportStore, backend string, recorder OperationRecorder) interfaces.ReportStore {
	if recorder == nil {
		return store
	}
	return &InstrumentedReportStore{ReportStore: store, backend: backend, recorder: recorder}
}

func (s *InstrumentedReportStore) SaveReport(ctx context.Context, runID string, report *models.EvaluationReport) error {
	start := time.Now()
	err := s.ReportStore.SaveReport(ctx, runID, report)
	s.recorder.RecordStorageOperation(s.backend, "save_report", time.Since(start), err)
	return err
}

func (s *InstrumentedReportStore) GetReport(ctx context.Context, runID string) (*models.EvaluationReport, error) {
	start := time.Now()
	report, err := s.ReportStore.GetReport(ctx, runID)
	s.recorder.RecordStorageOperation(s.backend, "get_report", time.Since(start), err)
	return report, err
}

// InstrumentedTableStore reports every call of the wrapped store
type InstrumentedTableStore struct {
	interfaces.TableStore
	backend  string
	recorder OperationRecorder
}

// InstrumentTableStore wraps store so that each operation is recorded
func InstrumentTableStore(store interfaces.TableStore, backend string, recorder OperationRecorder) interfaces.TableStore {
	if recorder == nil {
		return store
	}
	return &InstrumentedTableStore{TableStore: store, backend: backend, recorder: recorder}
}

func (s *InstrumentedTableStore) SaveTable(ctx context.Context, runID string, table *models.Table) error {
	start := time.Now()
	err := s.TableStore.SaveTable(ctx, runID, table)
	s.recorder.RecordStorageOperation(s.backend, "save_table", time.Since(start), err)
	return err
}

func (s *InstrumentedTableStore) GetTable(ctx context.Context, runID string) (*models.Table, error) {
	start := time.Now()
	table, err := s.TableStore.GetTable(ctx, runID)
	s.recorder.RecordStorageOperation(s.backend, "get_table", time.Since(start), err)
	return table, err
}
