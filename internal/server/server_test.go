package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/internal/observability/health"
	"github.com/inferloop/tabsynth/internal/observability/metrics"
	"github.com/inferloop/tabsynth/internal/storage/implementations/file"
	"github.com/inferloop/tabsynth/internal/storage/implementations/sqlstore"
	"github.com/inferloop/tabsynth/internal/synthesizer"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/models"
)

func createTestTable(n int) *models.Table {
	rng := rand.New(rand.NewSource(3))
	age := make([]float64, n)
	income := make([]float64, n)
	segment := make([]string, n)
	for i := 0; i < n; i++ {
		age[i] = 20 + 40*rng.Float64()
		income[i] = 1000*age[i] + 5000*rng.NormFloat64()
		if rng.Float64() < 0.4 {
			segment[i] = "retail"
		} else {
			segment[i] = "business"
		}
	}
	return models.NewTable(
		models.NewFloatColumn("age", age),
		models.NewFloatColumn("income", income),
		models.NewStringColumn("segment", segment),
	)
}

type testEnv struct {
	server  *Server
	metrics *metrics.PrometheusMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	ctx := context.Background()

	runs, err := sqlstore.NewSQLStorage(&sqlstore.SQLConfig{
		Dialect: sqlstore.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "runs.db"),
	}, logger)
	require.NoError(t, err)
	require.NoError(t, runs.Connect(ctx))
	t.Cleanup(func() { runs.Close() })

	files, err := file.NewFileStorage(&file.FileStorageConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	require.NoError(t, files.Connect(ctx))

	m, err := metrics.NewPrometheusMetrics(nil, logger)
	require.NoError(t, err)

	srv := New(nil, logger,
		WithRunStore(runs),
		WithReportStore(files),
		WithTableStore(files),
		WithMetrics(m),
		WithBuildInfo(BuildInfo{Version: "test"}),
	)
	return &testEnv{server: srv, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body struct {
		Error map[string]interface{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Len(t, status.Checks, 3)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))

	rec = env.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestRequestIDPropagates(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(constants.HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(constants.HeaderRequestID))
}

func TestListGenerators(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/generators", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Generators []GeneratorInfo `json:"generators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	names := make([]models.GeneratorType, 0, len(body.Generators))
	training := make(map[models.GeneratorType]string)
	for _, g := range body.Generators {
		names = append(names, g.Name)
		training[g.Name] = g.DPTraining
	}
	assert.Equal(t, []models.GeneratorType{"adversarial", "copula", "variational"}, names)
	assert.Equal(t, "gaussian statistics", training[models.GeneratorTypeCopula])
	assert.Equal(t, "dp-sgd", training[models.GeneratorTypeAdversarial])
}

func TestSynthesizeAndFetchRun(t *testing.T) {
	env := newTestEnv(t)
	numRows := 40

	rec := env.do(t, http.MethodPost, "/api/v1/synthesize", SynthesizeRequest{
		Table:   createTestTable(120),
		Config:  &synthesizer.Config{Generator: "copula", Seed: 11},
		NumRows: &numRows,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SynthesizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, models.GeneratorTypeCopula, resp.Generator)
	require.NotNil(t, resp.Table)
	assert.Equal(t, numRows, resp.Table.NumRows())
	assert.Equal(t, []string{"age", "income", "segment"}, resp.Table.ColumnNames())
	assert.Contains(t, resp.Quality, models.MetricStatisticalSimilarity)
	assert.Contains(t, resp.Privacy, models.MetricDCRMean)
	assert.Equal(t, numRows, resp.Run.GeneratedRows)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, resp.RunID, run.Run.ID)
	assert.Equal(t, int64(11), run.Run.Seed)
	require.NotNil(t, run.Report)
	assert.InDelta(t, resp.Quality[models.MetricStatisticalSimilarity],
		run.Report.Quality[models.MetricStatisticalSimilarity], 1e-12)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/table", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.ContentTypeCSV, rec.Header().Get(constants.HeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "age,income,segment\n"))

	rec = env.do(t, http.MethodGet, "/api/v1/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), resp.RunID)

	fits, err := testutil.GatherAndCount(env.metrics.GetRegistry(), "tabsynth_synthesis_fits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, fits)
}

func TestSynthesizeWithoutEvaluation(t *testing.T) {
	env := newTestEnv(t)
	evaluate := false

	rec := env.do(t, http.MethodPost, "/api/v1/synthesize", SynthesizeRequest{
		Table:    createTestTable(60),
		Evaluate: &evaluate,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SynthesizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 60, resp.Table.NumRows())
	assert.Empty(t, resp.Quality)
	assert.Empty(t, resp.Privacy)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Nil(t, run.Report)
}

func TestSynthesizeRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	tooMany := constants.MaxGenerationRows + 1
	negative := -1

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{name: "invalid json", body: json.RawMessage(`{"table":`), code: ""},
		{name: "missing table", body: SynthesizeRequest{}, code: "INVALID_TABLE"},
		{name: "too many rows", body: SynthesizeRequest{Table: createTestTable(10), NumRows: &tooMany}, code: "INVALID_SAMPLE_COUNT"},
		{name: "negative rows", body: SynthesizeRequest{Table: createTestTable(10), NumRows: &negative}, code: "INVALID_SAMPLE_COUNT"},
		{name: "unknown generator", body: SynthesizeRequest{
			Table:  createTestTable(10),
			Config: &synthesizer.Config{Generator: "diffusion"},
		}, code: "INVALID_GENERATOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if raw, ok := tt.body.(json.RawMessage); ok {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/synthesize", bytes.NewReader(raw))
				rec = httptest.NewRecorder()
				env.server.Handler().ServeHTTP(rec, req)
			} else {
				rec = env.do(t, http.MethodPost, "/api/v1/synthesize", tt.body)
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/missing/table", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsInvalidLimit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "ROUTE_NOT_FOUND", body["code"])
}

func TestHealthUnhealthyRunStore(t *testing.T) {
	runs, err := sqlstore.NewSQLStorage(nil, nil)
	require.NoError(t, err)
	srv := New(nil, nil, WithRunStore(runs))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
}

func TestServerWithoutStores(t *testing.T) {
	srv := New(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugRoutes(t *testing.T) {
	config := DefaultConfig()
	config.EnableDebug = true
	srv := New(config, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goroutines"`)

	req = httptest.NewRequest(http.MethodGet, "/debug/routes", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"/api/v1/synthesize"`)

	req = httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec = httptest.NewRecorder()
	New(nil, nil).Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, "0.0.0.0:8080", config.GetAddress())

	config.Port = 70000
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.ReadTimeout = 0
	assert.Error(t, config.Validate())
}
