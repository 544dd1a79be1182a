package encoding

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// ProfilerConfig controls column kind inference
type ProfilerConfig struct {
	// MaxCategoricalDistinct is the largest distinct-value count of a numeric
	// column that is still treated as categorical.
	MaxCategoricalDistinct int `json:"max_categorical_distinct" mapstructure:"max_categorical_distinct"`
	// CategoricalRatio additionally marks a column categorical when
	// distinct/rows is at most this ratio. Zero disables the rule.
	CategoricalRatio float64 `json:"categorical_ratio" mapstructure:"categorical_ratio"`
}

// Profiler inspects a table and resolves one ColumnSpec per column
type Profiler struct {
	config *ProfilerConfig
	logger *logrus.Logger
}

// NewProfiler creates a profiler
func NewProfiler(config *ProfilerConfig, logger *logrus.Logger) *Profiler {
	if config == nil {
		config = getDefaultProfilerConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Profiler{config: config, logger: logger}
}

// Infer resolves the specs of every column in table order. Names listed in
// categorical or numerical override inference for those columns.
func (p *Profiler) Infer(table *models.Table, categorical, numerical []string) ([]models.ColumnSpec, error) {
	if err := table.Validate(); err != nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable, err.Error())
	}
	if table.NumRows() == 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable, "table has no rows")
	}

	overrides, err := resolveOverrides(table, categorical, numerical)
	if err != nil {
		return nil, err
	}

	specs := make([]models.ColumnSpec, len(table.Columns))
	for i := range table.Columns {
		col := &table.Columns[i]

		kind, forced := overrides[col.Name]
		if !forced {
			kind = p.inferKind(col)
		}

		if kind == models.KindNumerical && col.Type == models.ColumnTypeString {
			return nil, errors.NewConfigurationError(errors.CodeInvalidColumnType,
				fmt.Sprintf("column %q holds strings and cannot be numerical", col.Name)).
				WithContext("column", col.Name)
		}

		specs[i] = BuildSpec(col, kind)
	}

	p.logger.WithFields(logrus.Fields{
		"columns":     len(specs),
		"rows":        table.NumRows(),
		"categorical": len(CategoricalNames(specs)),
		"numerical":   len(NumericalNames(specs)),
	}).Debug("Profiled table")

	return specs, nil
}

func (p *Profiler) inferKind(col *models.Column) models.ColumnKind {
	if col.Type == models.ColumnTypeString {
		return models.KindCategorical
	}

	distinct := make(map[float64]struct{})
	for _, v := range col.Floats {
		distinct[v] = struct{}{}
		if len(distinct) > p.config.MaxCategoricalDistinct && p.config.CategoricalRatio <= 0 {
			return models.KindNumerical
		}
	}

	if len(distinct) <= p.config.MaxCategoricalDistinct {
		return models.KindCategorical
	}
	if p.config.CategoricalRatio > 0 && float64(len(distinct))/float64(len(col.Floats)) <= p.config.CategoricalRatio {
		return models.KindCategorical
	}
	return models.KindNumerical
}

func resolveOverrides(table *models.Table, categorical, numerical []string) (map[string]models.ColumnKind, error) {
	overrides := make(map[string]models.ColumnKind, len(categorical)+len(numerical))

	for _, name := range categorical {
		if _, ok := table.Column(name); !ok {
			return nil, errors.NewConfigurationError(errors.CodeUnknownColumn,
				fmt.Sprintf("categorical override names unknown column %q", name)).
				WithContext("column", name)
		}
		overrides[name] = models.KindCategorical
	}

	for _, name := range numerical {
		if _, ok := table.Column(name); !ok {
			return nil, errors.NewConfigurationError(errors.CodeUnknownColumn,
				fmt.Sprintf("numerical override names unknown column %q", name)).
				WithContext("column", name)
		}
		if overrides[name] == models.KindCategorical {
			return nil, errors.NewConfigurationError(errors.CodeConflictingOverrides,
				fmt.Sprintf("column %q is listed as both categorical and numerical", name)).
				WithContext("column", name)
		}
		overrides[name] = models.KindNumerical
	}

	return overrides, nil
}

// BuildSpec computes the domain of a column for the given kind
func BuildSpec(col *models.Column, kind models.ColumnKind) models.ColumnSpec {
	spec := models.ColumnSpec{Name: col.Name, Kind: kind, Type: col.Type}
	if kind == models.KindCategorical {
		spec.Categorical = categoricalDomain(col)
	} else {
		spec.Numeric = numericDomain(col.Floats)
	}
	return spec
}

func numericDomain(values []float64) *models.NumericDomain {
	domain := &models.NumericDomain{
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
		Integer: true,
	}
	for _, v := range values {
		domain.Min = math.Min(domain.Min, v)
		domain.Max = math.Max(domain.Max, v)
		if v != math.Trunc(v) {
			domain.Integer = false
		}
	}
	domain.Family = chooseFamily(values)
	return domain
}

func categoricalDomain(col *models.Column) *models.CategoricalDomain {
	n := col.Len()
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		counts[col.Key(i)]++
	}

	categories := make([]string, 0, len(counts))
	for key := range counts {
		categories = append(categories, key)
	}
	if col.Type == models.ColumnTypeFloat {
		sort.Slice(categories, func(a, b int) bool {
			x, _ := strconv.ParseFloat(categories[a], 64)
			y, _ := strconv.ParseFloat(categories[b], 64)
			return x < y
		})
	} else {
		sort.Strings(categories)
	}

	frequencies := make([]float64, len(categories))
	for i, key := range categories {
		frequencies[i] = float64(counts[key]) / float64(n)
	}
	return &models.CategoricalDomain{Categories: categories, Frequencies: frequencies}
}

// WithFrequencies returns a copy of specs for a private model. Categorical
// frequencies come from released by column name; columns missing from
// released keep their categories and carry no frequencies.
func WithFrequencies(specs []models.ColumnSpec, released map[string][]float64) []models.ColumnSpec {
	out := make([]models.ColumnSpec, len(specs))
	for i, spec := range specs {
		out[i] = spec
		if !spec.IsCategorical() {
			continue
		}
		out[i].Categorical = &models.CategoricalDomain{
			Categories:  spec.Categorical.Categories,
			Frequencies: released[spec.Name],
		}
	}
	return out
}

// CategoricalNames returns the names of the categorical specs in order
func CategoricalNames(specs []models.ColumnSpec) []string {
	var names []string
	for _, s := range specs {
		if s.IsCategorical() {
			names = append(names, s.Name)
		}
	}
	return names
}

// NumericalNames returns the names of the numerical specs in order
func NumericalNames(specs []models.ColumnSpec) []string {
	var names []string
	for _, s := range specs {
		if !s.IsCategorical() {
			names = append(names, s.Name)
		}
	}
	return names
}

func getDefaultProfilerConfig() *ProfilerConfig {
	return &ProfilerConfig{
		MaxCategoricalDistinct: constants.DefaultMaxCategoricalDistinct,
	}
}

func getDefaultModeConfig() *ModeConfig {
	return &ModeConfig{
		MaxModes:        constants.DefaultMaxModes,
		MaxIterations:   100,
		Tolerance:       1e-6,
		WeightThreshold: constants.DefaultModeWeightThreshold,
		HistogramBins:   constants.DefaultModeHistogramBins,
	}
}
