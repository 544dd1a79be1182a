package tableio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inferloop/tabsynth/pkg/models"
)

// ReadCSV reads a headed CSV table. A column is numeric when every cell
// parses as a finite float; otherwise it is read as strings.
func ReadCSV(r io.Reader) (*models.Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("csv input is empty")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cells := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		for j, v := range record {
			cells[j] = append(cells[j], v)
		}
	}

	columns := make([]models.Column, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		if floats, ok := parseFloats(cells[j]); ok {
			columns[j] = models.NewFloatColumn(name, floats)
		} else {
			values := cells[j]
			if values == nil {
				values = []string{}
			}
			columns[j] = models.NewStringColumn(name, values)
		}
	}
	return models.NewTable(columns...), nil
}

// WriteCSV writes a headed CSV table. Floats use the shortest exact
// representation.
func WriteCSV(w io.Writer, table *models.Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(table.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i := 0; i < table.NumRows(); i++ {
		if err := writer.Write(table.Row(i)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func parseFloats(values []string) ([]float64, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
