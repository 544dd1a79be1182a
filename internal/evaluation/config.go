package evaluation

import (
	"math/rand"
	"runtime"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Config contains configuration shared by the evaluators
type Config struct {
	// NearDuplicateThreshold is the normalised distance under which a
	// synthetic row counts as a copy of a real row.
	NearDuplicateThreshold float64 `json:"near_duplicate_threshold" mapstructure:"near_duplicate_threshold"`
	// MaxRows caps each table before evaluation; larger tables are
	// subsampled with a fixed seed. Zero disables the cap.
	MaxRows int   `json:"max_rows" mapstructure:"max_rows"`
	Seed    int64 `json:"seed" mapstructure:"seed"`
	Workers int   `json:"workers" mapstructure:"workers"`
}

func getDefaultConfig() *Config {
	return &Config{
		NearDuplicateThreshold: constants.DefaultNearDuplicateThreshold,
		MaxRows:                constants.DefaultEvaluationMaxRows,
		Seed:                   constants.DefaultEvaluationSeed,
		Workers:                runtime.NumCPU(),
	}
}

// DefaultConfig returns the default evaluation configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}

// subsample returns at most max rows of t, chosen without replacement by a
// generator seeded with seed. Row order is preserved.
func subsample(t *models.Table, max int, seed int64) *models.Table {
	n := t.NumRows()
	if max <= 0 || n <= max {
		return t
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)[:max]
	keep := make([]bool, n)
	for _, i := range perm {
		keep[i] = true
	}
	idx := make([]int, 0, max)
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// checkSchema verifies that both tables hold every spec column with a
// usable type and at least one row.
func checkSchema(specs []models.ColumnSpec, real, synthetic *models.Table) error {
	if len(specs) == 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "no column specs to evaluate")
	}
	for _, named := range []struct {
		name  string
		table *models.Table
	}{{"real", real}, {"synthetic", synthetic}} {
		if named.table.NumRows() == 0 {
			return errors.NewConfigurationError(errors.CodeInvalidTable, named.name+" table is empty")
		}
		for _, spec := range specs {
			col, ok := named.table.Column(spec.Name)
			if !ok {
				return errors.NewConfigurationError(errors.CodeSchemaMismatch,
					named.name+" table is missing column "+spec.Name).
					WithContext("column", spec.Name)
			}
			if !spec.IsCategorical() && col.Type != models.ColumnTypeFloat {
				return errors.NewConfigurationError(errors.CodeSchemaMismatch,
					named.name+" column "+spec.Name+" is not numeric").
					WithContext("column", spec.Name)
			}
		}
	}
	return nil
}
