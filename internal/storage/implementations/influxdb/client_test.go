package influxdb

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

var _ interfaces.TrainingObserver = (*InfluxDBStorage)(nil)

func TestNewInfluxDBStorage(t *testing.T) {
	_, err := NewInfluxDBStorage(nil, logrus.New())
	assert.Error(t, err)

	_, err = NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086"}, logrus.New())
	assert.Error(t, err)

	storage, err := NewInfluxDBStorage(&InfluxDBConfig{
		URL:          "http://localhost:8086",
		Organization: "org",
		Bucket:       "training",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, storage.config.Timeout)
	assert.Equal(t, 100, storage.config.BatchSize)
}

func TestEpochPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	point := epochPoint(models.EpochStats{
		RunID:           "run-1",
		Generator:       models.GeneratorTypeAdversarial,
		Epoch:           3,
		Losses:          map[string]float64{"generator": 1.5, "discriminator": -0.25},
		NoiseMultiplier: 1.1,
		Timestamp:       ts,
	})

	assert.Equal(t, "training", point.Name())
	assert.Equal(t, ts, point.Time())

	tags := map[string]string{}
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"run_id": "run-1", "generator": "adversarial"}, tags)

	fields := map[string]interface{}{}
	for _, field := range point.FieldList() {
		fields[field.Key] = field.Value
	}
	assert.Equal(t, int64(3), fields["epoch"])
	assert.Equal(t, 1.1, fields["noise_multiplier"])
	assert.Equal(t, 1.5, fields["loss_generator"])
	assert.Equal(t, -0.25, fields["loss_discriminator"])
}

func TestEpochFromValues(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	stats := epochFromValues(map[string]interface{}{
		"_measurement":     "training",
		"run_id":           "run-1",
		"generator":        "variational",
		"epoch":            int64(7),
		"noise_multiplier": 0.0,
		"loss_kl":          0.5,
		"loss_kl_weight":   1.0,
	}, ts)

	assert.Equal(t, models.EpochStats{
		RunID:     "run-1",
		Generator: models.GeneratorTypeVariational,
		Epoch:     7,
		Losses:    map[string]float64{"kl": 0.5, "kl_weight": 1.0},
		Timestamp: ts,
	}, stats)
}

func TestBuildHistoryQuery(t *testing.T) {
	query := buildHistoryQuery("training", "run-1", 24*time.Hour)
	assert.Contains(t, query, `from(bucket: "training")`)
	assert.Contains(t, query, "range(start: -24h0m0s)")
	assert.Contains(t, query, `r.run_id == "run-1"`)
	assert.Contains(t, query, "pivot(")
}

func TestNotConnected(t *testing.T) {
	storage, err := NewInfluxDBStorage(&InfluxDBConfig{
		URL:          "http://localhost:8086",
		Organization: "org",
		Bucket:       "training",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	storage.OnEpoch(ctx, models.EpochStats{Epoch: 1})
	_, err = storage.History(ctx, "run-1")
	assert.Error(t, err)
	assert.Error(t, storage.Ping(ctx))
	assert.NoError(t, storage.Close())
}
