package tableio

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/inferloop/tabsynth/pkg/models"
)

// WriteReport dumps an evaluation report as indented JSON
func WriteReport(w io.Writer, report *models.EvaluationReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// ReadReport parses a report written by WriteReport
func ReadReport(r io.Reader) (*models.EvaluationReport, error) {
	var report models.EvaluationReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}
