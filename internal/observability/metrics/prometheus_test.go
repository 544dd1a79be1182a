package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/errors"
)

func TestSynthesisMetrics(t *testing.T) {
	pm, err := NewPrometheusMetrics(nil, logrus.New())
	require.NoError(t, err)

	pm.RecordFit("copula", time.Second, nil)
	pm.RecordFit("adversarial", time.Second, errors.NewInvalidModelStateError(errors.CodeTrainingDiverged, "nan"))
	pm.RecordGeneration("copula", 250, time.Millisecond, nil)
	pm.RecordGeneration("copula", 100, time.Millisecond, fmt.Errorf("boom"))
	pm.RecordEvaluation("quality", time.Millisecond, nil)
	pm.SetQualityScore("copula", 0.93)
	pm.SetNoiseMultiplier("adversarial", 1.7)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.fitsTotal.WithLabelValues("copula", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.fitsTotal.WithLabelValues("adversarial", "error")))
	assert.Equal(t, 250.0, testutil.ToFloat64(pm.generatedRowsTotal.WithLabelValues("copula")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.errorsTotal.WithLabelValues("fit", "model_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.errorsTotal.WithLabelValues("generate", "internal")))
	assert.Equal(t, 0.93, testutil.ToFloat64(pm.qualityScore.WithLabelValues("copula")))
	assert.Equal(t, 1.7, testutil.ToFloat64(pm.noiseMultiplier.WithLabelValues("adversarial")))
}

func TestMetricsHandler(t *testing.T) {
	pm, err := NewPrometheusMetrics(nil, nil)
	require.NoError(t, err)
	pm.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	pm.RecordStorageOperation("redis", "save_report", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "tabsynth_synthesis_http_requests_total")
	assert.Contains(t, string(body), "tabsynth_synthesis_storage_operations_total")
}

func TestDisabledServerDoesNotStart(t *testing.T) {
	config := DefaultPrometheusConfig()
	config.Enabled = false
	pm, err := NewPrometheusMetrics(config, nil)
	require.NoError(t, err)

	require.NoError(t, pm.Start(context.Background()))
	assert.NoError(t, pm.Stop(context.Background()))
}
