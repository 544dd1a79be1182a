package evaluation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tabsynth/pkg/models"
)

const distanceChunkSize = 256

// PrivacyEvaluator estimates how closely synthetic rows reproduce real ones
type PrivacyEvaluator struct {
	config *Config
	logger *logrus.Logger
}

// NewPrivacyEvaluator creates a new privacy evaluator
func NewPrivacyEvaluator(config *Config, logger *logrus.Logger) *PrivacyEvaluator {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PrivacyEvaluator{config: config, logger: logger}
}

// rowSet is a table projected into the evaluation distance space: numeric
// columns scaled by the real range, categorical columns as category codes.
type rowSet struct {
	numeric [][]float64
	codes   [][]int
	dims    int
}

func (r *rowSet) len() int {
	return len(r.numeric)
}

// distance is the Euclidean distance between row i of a and row j of b,
// divided by sqrt(dims) so it lies in [0,1] for in-range values.
func distance(a *rowSet, i int, b *rowSet, j int) float64 {
	sum := 0.0
	for k, v := range a.numeric[i] {
		d := v - b.numeric[j][k]
		sum += d * d
	}
	for k, c := range a.codes[i] {
		if c != b.codes[j][k] {
			sum++
		}
	}
	return math.Sqrt(sum / float64(a.dims))
}

// neighbours holds, for every query row, the distance to its nearest and
// second nearest reference row
type neighbours struct {
	first  []float64
	second []float64
}

// Evaluate computes distance-to-closest-record statistics of synthetic
// against real and a membership risk proxy. Larger distances and a lower
// risk mean stronger privacy.
func (e *PrivacyEvaluator) Evaluate(ctx context.Context, real, synthetic *models.Table, specs []models.ColumnSpec) (models.PrivacyReport, error) {
	if err := checkSchema(specs, real, synthetic); err != nil {
		return nil, err
	}
	start := time.Now()
	real = subsample(real, e.config.MaxRows, e.config.Seed)
	synthetic = subsample(synthetic, e.config.MaxRows, e.config.Seed+1)

	realRows, synthRows := project(specs, real, synthetic)

	toReal, err := e.nearest(ctx, synthRows, realRows)
	if err != nil {
		return nil, err
	}
	toSynth, err := e.nearest(ctx, realRows, synthRows)
	if err != nil {
		return nil, err
	}

	dcr := append([]float64(nil), toReal.first...)
	sort.Float64s(dcr)

	ratios := make([]float64, len(dcr))
	exact := 0
	for i, d1 := range toReal.first {
		if d2 := toReal.second[i]; d2 > 0 {
			ratios[i] = d1 / d2
		}
		if d1 == 0 {
			exact++
		}
	}

	members := 0
	for _, d := range toSynth.first {
		if d <= e.config.NearDuplicateThreshold {
			members++
		}
	}

	report := models.PrivacyReport{
		models.MetricDCRMean:        stat.Mean(dcr, nil),
		models.MetricDCRMin:         dcr[0],
		models.MetricDCRP05:         stat.Quantile(0.05, stat.Empirical, dcr, nil),
		models.MetricDCRMedian:      stat.Quantile(0.5, stat.Empirical, dcr, nil),
		models.MetricNNDRMean:       stat.Mean(ratios, nil),
		models.MetricMembershipRisk: float64(members) / float64(realRows.len()),
		models.MetricExactMatchRate: float64(exact) / float64(synthRows.len()),
	}

	e.logger.WithFields(logrus.Fields{
		"real_rows":       realRows.len(),
		"synthetic_rows":  synthRows.len(),
		"dcr_mean":        report[models.MetricDCRMean],
		"membership_risk": report[models.MetricMembershipRisk],
		"duration":        time.Since(start),
	}).Debug("Evaluated privacy")

	return report, nil
}

// nearest finds the two closest reference rows for every query row. Query
// rows are split into chunks scanned concurrently; each chunk writes only
// its own slots.
func (e *PrivacyEvaluator) nearest(ctx context.Context, query, reference *rowSet) (*neighbours, error) {
	n := query.len()
	out := &neighbours{first: make([]float64, n), second: make([]float64, n)}

	g, ctx := errgroup.WithContext(ctx)
	if e.config.Workers > 0 {
		g.SetLimit(e.config.Workers)
	}
	for lo := 0; lo < n; lo += distanceChunkSize {
		lo := lo
		hi := lo + distanceChunkSize
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				d1, d2 := math.Inf(1), math.Inf(1)
				for j := 0; j < reference.len(); j++ {
					d := distance(query, i, reference, j)
					if d < d1 {
						d1, d2 = d, d1
					} else if d < d2 {
						d2 = d
					}
				}
				if math.IsInf(d2, 1) {
					d2 = d1
				}
				out.first[i], out.second[i] = d1, d2
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// project maps both tables into the distance space fixed by the real table
func project(specs []models.ColumnSpec, real, synthetic *models.Table) (*rowSet, *rowSet) {
	dims := len(specs)
	realRows := newRowSet(real.NumRows(), dims)
	synthRows := newRowSet(synthetic.NumRows(), dims)

	for _, spec := range specs {
		rc, _ := real.Column(spec.Name)
		sc, _ := synthetic.Column(spec.Name)

		if spec.IsCategorical() {
			codes := make(map[string]int)
			appendCodes(realRows, rc, codes)
			appendCodes(synthRows, sc, codes)
			continue
		}

		lo, hi := rc.Floats[0], rc.Floats[0]
		for _, v := range rc.Floats {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		scale := 0.0
		if hi > lo {
			scale = 1 / (hi - lo)
		}
		for i, v := range rc.Floats {
			realRows.numeric[i] = append(realRows.numeric[i], (v-lo)*scale)
		}
		for i, v := range sc.Floats {
			synthRows.numeric[i] = append(synthRows.numeric[i], (v-lo)*scale)
		}
	}
	return realRows, synthRows
}

func newRowSet(n, dims int) *rowSet {
	return &rowSet{
		numeric: make([][]float64, n),
		codes:   make([][]int, n),
		dims:    dims,
	}
}

func appendCodes(rows *rowSet, col *models.Column, codes map[string]int) {
	for i := 0; i < col.Len(); i++ {
		key := col.Key(i)
		code, ok := codes[key]
		if !ok {
			code = len(codes)
			codes[key] = code
		}
		rows.codes[i] = append(rows.codes[i], code)
	}
}
