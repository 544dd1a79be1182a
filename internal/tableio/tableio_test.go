package tableio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

func createTestTable() *models.Table {
	return models.NewTable(
		models.NewFloatColumn("age", []float64{23, 41, 35.5, 67}),
		models.NewStringColumn("gender", []string{"M", "F", "F", "M"}),
		models.NewFloatColumn("income", []float64{0.1, 1e-7, 123456.789, -3}),
	)
}

func TestCSVRoundTrip(t *testing.T) {
	table := createTestTable()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))
	assert.True(t, strings.HasPrefix(buf.String(), "age,gender,income\n"))

	read, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.True(t, table.Equal(read))
}

func TestCSVColumnTypeDetection(t *testing.T) {
	input := "id,code,score\n1,007,1.5\n2,A12,2\n3,13, 4e2\n"
	table, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	id, _ := table.Column("id")
	code, _ := table.Column("code")
	score, _ := table.Column("score")
	assert.Equal(t, models.ColumnTypeFloat, id.Type)
	assert.Equal(t, models.ColumnTypeString, code.Type)
	assert.Equal(t, []string{"007", "A12", "13"}, code.Strings)
	assert.Equal(t, []float64{1.5, 2, 400}, score.Floats)
}

func TestCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a,b\n1\n"))
	assert.Error(t, err)

	table, err := ReadCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, table.NumRows())
	assert.Equal(t, 2, table.NumColumns())
}

func TestParquetRoundTrip(t *testing.T) {
	table := createTestTable()

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, table))

	read, err := ReadParquet(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, table.Equal(read))
}

func TestWriteParquetLeavesSinkOpen(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.parquet"))
	require.NoError(t, err)

	require.NoError(t, WriteParquet(f, createTestTable()))
	_, err = f.Write(nil)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())
}

func TestFileRoundTripByExtension(t *testing.T) {
	dir := t.TempDir()
	table := createTestTable()

	for _, name := range []string{"out.csv", "nested/out.parquet"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteTable(path, table))

		read, err := ReadTable(context.Background(), path)
		require.NoError(t, err)
		assert.True(t, table.Equal(read), name)
	}

	err := WriteTable(filepath.Join(dir, "out.xlsx"), table)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestReportRoundTrip(t *testing.T) {
	report := &models.EvaluationReport{
		RunID:   "run-1",
		Quality: models.QualityReport{models.MetricStatisticalSimilarity: 0.91},
		Privacy: models.PrivacyReport{models.MetricDCRMean: 0.12},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))
	assert.Contains(t, buf.String(), `"quality"`)
	assert.Contains(t, buf.String(), `"privacy"`)

	read, err := ReadReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, report, read)

	path := filepath.Join(t.TempDir(), "reports", "report.json")
	require.NoError(t, WriteReportFile(path, report))
}
