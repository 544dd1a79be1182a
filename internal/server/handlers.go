package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/observability/health"
	"github.com/inferloop/tabsynth/internal/synthesizer"
	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// SynthesizeRequest is the body of POST /api/v1/synthesize
type SynthesizeRequest struct {
	Table  *models.Table       `json:"table"`
	Config *synthesizer.Config `json:"config,omitempty"`
	// NumRows defaults to the number of input rows
	NumRows *int `json:"num_rows,omitempty"`
	// Evaluate defaults to true
	Evaluate *bool `json:"evaluate,omitempty"`
}

// SynthesizeResponse is returned by POST /api/v1/synthesize
type SynthesizeResponse struct {
	RunID     string               `json:"run_id"`
	Generator models.GeneratorType `json:"generator"`
	Table     *models.Table        `json:"table"`
	Quality   models.QualityReport `json:"quality,omitempty"`
	Privacy   models.PrivacyReport `json:"privacy,omitempty"`
	Run       *models.SynthesisRun `json:"run"`
}

// RunResponse is returned by GET /api/v1/runs/{id}
type RunResponse struct {
	Run    *models.SynthesisRun     `json:"run"`
	Report *models.EvaluationReport `json:"report,omitempty"`
}

// GeneratorInfo describes one registered generator
type GeneratorInfo struct {
	Name       models.GeneratorType `json:"name"`
	Iterative  bool                 `json:"iterative"`
	DPTraining string               `json:"dp_training"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	*health.SystemStatus
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{SystemStatus: status, Version: s.buildInfo.Version})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildInfo)
}

func (s *Server) handleGenerators(w http.ResponseWriter, r *http.Request) {
	available := s.generators.GetAvailableGenerators()
	infos := make([]GeneratorInfo, 0, len(available))
	for _, g := range available {
		info := GeneratorInfo{Name: g, DPTraining: "none"}
		switch g {
		case models.GeneratorTypeCopula:
			info.DPTraining = "gaussian statistics"
		case models.GeneratorTypeAdversarial, models.GeneratorTypeVariational:
			info.Iterative = true
			info.DPTraining = "dp-sgd"
		}
		infos = append(infos, info)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"generators": infos})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SynthesizeRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if req.Table == nil {
		s.writeError(w, r, errors.NewConfigurationError(errors.CodeInvalidTable, "request has no table"))
		return
	}
	numRows := req.Table.NumRows()
	if req.NumRows != nil {
		numRows = *req.NumRows
	}
	if numRows < 0 || numRows > s.config.MaxRows {
		s.writeError(w, r, errors.NewConfigurationError(errors.CodeInvalidSampleCount,
			fmt.Sprintf("num_rows must be between 0 and %d, got %d", s.config.MaxRows, numRows)))
		return
	}
	evaluate := req.Evaluate == nil || *req.Evaluate

	synth, err := synthesizer.New(req.Table, req.Config, s.logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		synth.SetMetricsRecorder(s.metrics)
	}
	synth.SetTrainingObserver(s.observer)

	if err := synth.Fit(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}
	synthetic, err := synth.Generate(ctx, numRows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := &SynthesizeResponse{
		RunID:     synth.RunID(),
		Generator: synth.Generator(),
		Table:     synthetic,
	}
	if evaluate && numRows > 0 {
		if resp.Quality, err = synth.EvaluateQuality(synthetic); err != nil {
			s.writeError(w, r, err)
			return
		}
		if resp.Privacy, err = synth.EvaluatePrivacy(ctx, synthetic); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	run := synth.Run()
	run.Quality = resp.Quality
	run.Privacy = resp.Privacy
	resp.Run = run

	if err := s.persist(r, run, synthetic); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"generator":  run.Generator,
		"rows":       numRows,
		"request_id": requestID(r),
	}).Info("Synthesis run completed")

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) persist(r *http.Request, run *models.SynthesisRun, synthetic *models.Table) error {
	ctx := r.Context()
	if s.runs != nil {
		if err := s.runs.SaveRun(ctx, run); err != nil {
			return err
		}
	}
	if s.reports != nil && (run.Quality != nil || run.Privacy != nil) {
		report := &models.EvaluationReport{RunID: run.ID, Quality: run.Quality, Privacy: run.Privacy}
		if err := s.reports.SaveReport(ctx, run.ID, report); err != nil {
			return err
		}
	}
	if s.tables != nil {
		if err := s.tables.SaveTable(ctx, run.ID, synthetic); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, errors.NewStorageError(errors.CodeStorageNotConnected, "no run store configured"))
		return
	}

	limit := constants.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > constants.MaxPageSize {
			s.writeError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("limit must be between 1 and %d", constants.MaxPageSize)))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.SynthesisRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, errors.NewStorageError(errors.CodeStorageNotConnected, "no run store configured"))
		return
	}
	id := mux.Vars(r)["id"]

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := RunResponse{Run: run}
	if s.reports != nil {
		report, err := s.reports.GetReport(r.Context(), id)
		switch {
		case err == nil:
			resp.Report = report
		case !errors.IsStorageNotFound(err):
			s.logger.WithFields(logrus.Fields{
				"run_id": id,
				"error":  err.Error(),
			}).Warn("Failed to load report")
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	if s.tables == nil {
		s.writeError(w, r, errors.NewStorageError(errors.CodeStorageNotConnected, "no table store configured"))
		return
	}
	id := mux.Vars(r)["id"]

	table, err := s.tables.GetTable(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeCSV)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))
	w.WriteHeader(http.StatusOK)
	if err := tableio.WriteCSV(w, table); err != nil {
		s.logger.WithError(err).Warn("Failed to stream table")
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	appErr := errors.NewAppError(errors.ErrorTypeValidation, "ROUTE_NOT_FOUND",
		fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	appErr.HTTPStatus = http.StatusNotFound
	s.writeError(w, r, appErr)
}
