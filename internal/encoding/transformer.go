package encoding

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// privateModePoints is the number of histogram quantiles a private mode
// model is fitted to
const privateModePoints = 500

// Activation is the output nonlinearity a network applies to a segment
type Activation string

const (
	ActivationTanh    Activation = "tanh"
	ActivationSoftmax Activation = "softmax"
)

// Segment is a contiguous block of an encoded row
type Segment struct {
	Offset     int        `json:"offset"`
	Width      int        `json:"width"`
	Activation Activation `json:"activation"`
}

// CategoricalSegment locates the one-hot block of a categorical column
type CategoricalSegment struct {
	Column int
	Name   string
	Offset int
	Width  int
}

type columnTransform struct {
	spec   models.ColumnSpec
	modes  []Mode
	offset int
	width  int
}

// Transformer is the reversible row encoding shared by the network
// generators. Numeric columns become a clipped residual followed by a mode
// one-hot; categorical columns become a one-hot over their domain.
type Transformer struct {
	columns  []columnTransform
	segments []Segment
	dim      int
}

// FitTransformer fits mode models for the numeric columns of table and lays
// out the encoded row in spec order.
func FitTransformer(table *models.Table, specs []models.ColumnSpec, config *ModeConfig) (*Transformer, error) {
	if config == nil {
		config = getDefaultModeConfig()
	}
	return buildTransformer(table, specs, func(_ models.ColumnSpec, values []float64) []Mode {
		return fitModes(values, config)
	})
}

// FitPrivateTransformer lays out the same encoding for a private model.
// Each numeric column is binned over its domain, perturb releases the bin
// counts and the modes are fitted to evenly spaced quantiles of the
// released histogram. Components are never pruned, so the encoded width
// does not depend on the data. The fitted specs carry no category
// frequencies.
func FitPrivateTransformer(table *models.Table, specs []models.ColumnSpec, config *ModeConfig, perturb func([]float64) []float64) (*Transformer, error) {
	if config == nil {
		config = getDefaultModeConfig()
	}
	bins := config.HistogramBins
	if bins <= 0 {
		bins = constants.DefaultModeHistogramBins
	}
	unpruned := *config
	unpruned.WeightThreshold = 0

	return buildTransformer(table, WithFrequencies(specs, nil), func(spec models.ColumnSpec, values []float64) []Mode {
		lo, hi := spec.Numeric.Min, spec.Numeric.Max
		marginal := NewHistogramMarginal(lo, hi, perturb(HistogramCounts(values, lo, hi, bins)))
		points := make([]float64, privateModePoints)
		for i := range points {
			points[i] = marginal.Quantile((float64(i) + 0.5) / privateModePoints)
		}
		return fitModes(points, &unpruned)
	})
}

func buildTransformer(table *models.Table, specs []models.ColumnSpec, modesOf func(models.ColumnSpec, []float64) []Mode) (*Transformer, error) {
	t := &Transformer{columns: make([]columnTransform, len(specs))}
	offset := 0
	for i, spec := range specs {
		col, ok := table.Column(spec.Name)
		if !ok {
			return nil, schemaMismatch(spec.Name)
		}

		ct := columnTransform{spec: spec, offset: offset}
		if spec.IsCategorical() {
			ct.width = len(spec.Categorical.Categories)
			t.segments = append(t.segments, Segment{Offset: offset, Width: ct.width, Activation: ActivationSoftmax})
		} else {
			if col.Type != models.ColumnTypeFloat {
				return nil, errors.NewConfigurationError(errors.CodeInvalidColumnType,
					fmt.Sprintf("numerical column %q is not numeric", spec.Name))
			}
			ct.modes = modesOf(spec, col.Floats)
			ct.width = 1 + len(ct.modes)
			t.segments = append(t.segments,
				Segment{Offset: offset, Width: 1, Activation: ActivationTanh},
				Segment{Offset: offset + 1, Width: len(ct.modes), Activation: ActivationSoftmax})
		}
		offset += ct.width
		t.columns[i] = ct
	}
	t.dim = offset
	return t, nil
}

// Dim returns the width of an encoded row
func (t *Transformer) Dim() int {
	return t.dim
}

// Segments returns the activation layout of an encoded row
func (t *Transformer) Segments() []Segment {
	return t.segments
}

// Specs returns the column specs in encoded order
func (t *Transformer) Specs() []models.ColumnSpec {
	specs := make([]models.ColumnSpec, len(t.columns))
	for i, c := range t.columns {
		specs[i] = c.spec
	}
	return specs
}

// Modes returns the fitted modes of a numeric column, or nil
func (t *Transformer) Modes(name string) []Mode {
	for _, c := range t.columns {
		if c.spec.Name == name {
			return c.modes
		}
	}
	return nil
}

// CategoricalSegments returns the one-hot blocks of the categorical columns
func (t *Transformer) CategoricalSegments() []CategoricalSegment {
	var segs []CategoricalSegment
	for i, c := range t.columns {
		if !c.spec.IsCategorical() {
			continue
		}
		segs = append(segs, CategoricalSegment{
			Column: i,
			Name:   c.spec.Name,
			Offset: c.offset,
			Width:  c.width,
		})
	}
	return segs
}

// Encode maps every row of table to its encoded vector
func (t *Transformer) Encode(table *models.Table) (*mat.Dense, error) {
	n := table.NumRows()
	if n == 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable, "cannot encode an empty table")
	}

	out := mat.NewDense(n, t.dim, nil)
	for _, c := range t.columns {
		col, ok := table.Column(c.spec.Name)
		if !ok {
			return nil, schemaMismatch(c.spec.Name)
		}
		if col.Len() != n {
			return nil, errors.NewConfigurationError(errors.CodeInvalidTable,
				fmt.Sprintf("column %q has %d rows, expected %d", col.Name, col.Len(), n))
		}

		if c.spec.IsCategorical() {
			index := CategoryIndex(c.spec.Categorical)
			for i := 0; i < n; i++ {
				key := col.Key(i)
				k, ok := index[key]
				if !ok {
					return nil, errors.NewUnknownCategoryError(c.spec.Name, key)
				}
				out.Set(i, c.offset+k, 1)
			}
			continue
		}

		if col.Type != models.ColumnTypeFloat {
			return nil, errors.NewConfigurationError(errors.CodeInvalidColumnType,
				fmt.Sprintf("numerical column %q is not numeric", c.spec.Name))
		}
		for i, x := range col.Floats {
			k := assignMode(x, c.modes)
			m := c.modes[k]
			residual := clip((x-m.Mean)/(4*m.Std), -0.99, 0.99)
			out.Set(i, c.offset, residual)
			out.Set(i, c.offset+1+k, 1)
		}
	}
	return out, nil
}

// Decode inverts Encode. Categorical blocks and mode blocks are read by
// argmax, so activated network outputs decode the same as one-hots.
func (t *Transformer) Decode(encoded mat.Matrix) (*models.Table, error) {
	n, d := encoded.Dims()
	if d != t.dim {
		return nil, errors.NewConfigurationError(errors.CodeSchemaMismatch,
			fmt.Sprintf("encoded width %d does not match transformer width %d", d, t.dim))
	}

	columns := make([]models.Column, len(t.columns))
	for j, c := range t.columns {
		spec := c.spec
		if spec.IsCategorical() {
			keys := make([]string, n)
			for i := 0; i < n; i++ {
				keys[i] = spec.Categorical.Categories[argmaxRow(encoded, i, c.offset, c.width)]
			}
			col, err := ColumnFromKeys(spec, keys)
			if err != nil {
				return nil, err
			}
			columns[j] = col
			continue
		}

		values := make([]float64, n)
		for i := 0; i < n; i++ {
			k := argmaxRow(encoded, i, c.offset+1, len(c.modes))
			m := c.modes[k]
			residual := clip(encoded.At(i, c.offset), -1, 1)
			values[i] = ClampToDomain(spec.Numeric, residual*4*m.Std+m.Mean)
		}
		columns[j] = models.NewFloatColumn(spec.Name, values)
	}
	return models.NewTable(columns...), nil
}

// ClampToDomain clamps x to the observed range and rounds integer columns
func ClampToDomain(domain *models.NumericDomain, x float64) float64 {
	if math.IsNaN(x) {
		x = (domain.Min + domain.Max) / 2
	}
	x = clip(x, domain.Min, domain.Max)
	if domain.Integer {
		x = math.Round(x)
	}
	return x
}

// ColumnFromKeys builds a column of the spec's physical type from category keys
func ColumnFromKeys(spec models.ColumnSpec, keys []string) (models.Column, error) {
	if spec.Type == models.ColumnTypeString {
		return models.NewStringColumn(spec.Name, keys), nil
	}
	values := make([]float64, len(keys))
	for i, key := range keys {
		v, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return models.Column{}, errors.NewUnknownCategoryError(spec.Name, key)
		}
		values[i] = v
	}
	return models.NewFloatColumn(spec.Name, values), nil
}

// EmptyTable returns a table with the columns of specs and no rows
func EmptyTable(specs []models.ColumnSpec) *models.Table {
	columns := make([]models.Column, len(specs))
	for i, s := range specs {
		if s.Type == models.ColumnTypeString {
			columns[i] = models.NewStringColumn(s.Name, []string{})
		} else {
			columns[i] = models.NewFloatColumn(s.Name, []float64{})
		}
	}
	return models.NewTable(columns...)
}

// CategoryIndex maps each category key of a domain to its position
func CategoryIndex(domain *models.CategoricalDomain) map[string]int {
	index := make(map[string]int, len(domain.Categories))
	for i, c := range domain.Categories {
		index[c] = i
	}
	return index
}

func argmaxRow(m mat.Matrix, row, offset, width int) int {
	best, bestVal := 0, math.Inf(-1)
	for k := 0; k < width; k++ {
		if v := m.At(row, offset+k); v > bestVal {
			best, bestVal = k, v
		}
	}
	return best
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func schemaMismatch(name string) error {
	return errors.NewConfigurationError(errors.CodeSchemaMismatch,
		fmt.Sprintf("table has no column %q", name)).
		WithContext("column", name)
}
