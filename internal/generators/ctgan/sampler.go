package ctgan

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
)

// condSampler draws conditional vectors. During training a categorical
// column is picked uniformly and a category by log-frequency so that rare
// categories are seen often enough; at sampling time categories follow
// their (possibly noised) frequencies.
type condSampler struct {
	segments    []encoding.CategoricalSegment
	offsets     []int
	dim         int
	trainProbs  [][]float64
	sampleProbs [][]float64
	rows        [][][]int
}

// condBatch is one batch of conditions
type condBatch struct {
	vectors *mat.Dense
	columns []int
	labels  []int
}

func newCondSampler(segments []encoding.CategoricalSegment, counts [][]float64, rows [][][]int) *condSampler {
	s := &condSampler{
		segments:    segments,
		offsets:     make([]int, len(segments)),
		trainProbs:  make([][]float64, len(segments)),
		sampleProbs: make([][]float64, len(segments)),
		rows:        rows,
	}
	for c, seg := range segments {
		s.offsets[c] = s.dim
		s.dim += seg.Width

		logFreq := make([]float64, seg.Width)
		freq := make([]float64, seg.Width)
		for k := 0; k < seg.Width; k++ {
			count := math.Max(counts[c][k], 0)
			logFreq[k] = math.Log(count + 1)
			freq[k] = count
		}
		s.trainProbs[c] = normalise(logFreq)
		s.sampleProbs[c] = normalise(freq)
	}
	return s
}

// empty reports whether the table has no categorical columns
func (s *condSampler) empty() bool {
	return len(s.segments) == 0
}

func (s *condSampler) sampleTrain(b int, rng *rand.Rand) *condBatch {
	return s.sample(b, s.trainProbs, rng)
}

func (s *condSampler) sampleOriginal(b int, rng *rand.Rand) *condBatch {
	return s.sample(b, s.sampleProbs, rng)
}

func (s *condSampler) sample(b int, probs [][]float64, rng *rand.Rand) *condBatch {
	if s.empty() {
		return &condBatch{}
	}
	batch := &condBatch{
		vectors: mat.NewDense(b, s.dim, nil),
		columns: make([]int, b),
		labels:  make([]int, b),
	}
	for i := 0; i < b; i++ {
		c := rng.Intn(len(s.segments))
		k := drawIndex(probs[c], rng)
		batch.columns[i] = c
		batch.labels[i] = k
		batch.vectors.Set(i, s.offsets[c]+k, 1)
	}
	return batch
}

// realRows picks, for every condition, a real row holding that category
func (s *condSampler) realRows(batch *condBatch, n int, rng *rand.Rand) []int {
	idx := make([]int, len(batch.columns))
	for i := range batch.columns {
		candidates := s.rows[batch.columns[i]][batch.labels[i]]
		if len(candidates) == 0 {
			idx[i] = rng.Intn(n)
			continue
		}
		idx[i] = candidates[rng.Intn(len(candidates))]
	}
	return idx
}

// conditionsOf builds the condition vectors that real rows satisfy: row i
// gets the one-hot of its own category in columns[i].
func (s *condSampler) conditionsOf(real *mat.Dense, columns []int) *mat.Dense {
	if s.empty() {
		return nil
	}
	out := mat.NewDense(len(columns), s.dim, nil)
	for i, c := range columns {
		seg := s.segments[c]
		row := real.RawRowView(i)
		label := 0
		for k := 0; k < seg.Width; k++ {
			if row[seg.Offset+k] == 1 {
				label = k
				break
			}
		}
		out.Set(i, s.offsets[c]+label, 1)
	}
	return out
}

func drawIndex(probs []float64, rng *rand.Rand) int {
	u := rng.Float64()
	cum := 0.0
	for k, p := range probs {
		cum += p
		if u < cum {
			return k
		}
	}
	return len(probs) - 1
}

func normalise(values []float64) []float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	out := make([]float64, len(values))
	for k, v := range values {
		if total > 0 {
			out[k] = v / total
		} else {
			out[k] = 1 / float64(len(values))
		}
	}
	return out
}
