package ctgan

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/nn"
)

// applyOutput activates generator logits segment by segment: tanh on
// residuals, gumbel-softmax with the given temperature on one-hot blocks.
func applyOutput(logits *mat.Dense, segments []encoding.Segment, temperature float64, rng *rand.Rand) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	buf := make([]float64, c)
	for i := 0; i < r; i++ {
		src := logits.RawRowView(i)
		dst := out.RawRowView(i)
		for _, seg := range segments {
			block := src[seg.Offset : seg.Offset+seg.Width]
			if seg.Activation == encoding.ActivationTanh {
				for k, v := range block {
					dst[seg.Offset+k] = tanh(v)
				}
				continue
			}
			noisy := buf[:seg.Width]
			for k, v := range block {
				noisy[k] = v + nn.Gumbel(rng)
			}
			nn.SoftmaxInto(dst[seg.Offset:seg.Offset+seg.Width], noisy, temperature)
		}
	}
	return out
}

// backwardOutput maps the gradient with respect to the activated output to
// the gradient with respect to the logits. For a softmax block y with
// temperature t the Jacobian-vector product is y * (dy - <dy, y>) / t.
func backwardOutput(activated, dOut *mat.Dense, segments []encoding.Segment, temperature float64) *mat.Dense {
	r, c := activated.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		y := activated.RawRowView(i)
		dy := dOut.RawRowView(i)
		dst := out.RawRowView(i)
		for _, seg := range segments {
			lo, hi := seg.Offset, seg.Offset+seg.Width
			if seg.Activation == encoding.ActivationTanh {
				for k := lo; k < hi; k++ {
					dst[k] = dy[k] * (1 - y[k]*y[k])
				}
				continue
			}
			dot := 0.0
			for k := lo; k < hi; k++ {
				dot += dy[k] * y[k]
			}
			for k := lo; k < hi; k++ {
				dst[k] = y[k] * (dy[k] - dot) / temperature
			}
		}
	}
	return out
}

// conditionLoss is the mean cross-entropy between the raw logits of each
// row's conditioned block and its conditioned category. The gradient,
// scaled by weight, is added into dLogits.
func conditionLoss(logits *mat.Dense, batch *condBatch, sampler *condSampler, weight float64, dLogits *mat.Dense) float64 {
	if sampler.empty() {
		return 0
	}
	b := len(batch.columns)
	loss := 0.0
	for i := 0; i < b; i++ {
		seg := sampler.segments[batch.columns[i]]
		row := logits.RawRowView(i)[seg.Offset : seg.Offset+seg.Width]
		probs := make([]float64, seg.Width)
		nn.SoftmaxInto(probs, row, 1)

		label := batch.labels[i]
		loss -= safeLog(probs[label])

		grad := dLogits.RawRowView(i)[seg.Offset : seg.Offset+seg.Width]
		for k := range probs {
			target := 0.0
			if k == label {
				target = 1
			}
			grad[k] += weight * (probs[k] - target) / float64(b)
		}
	}
	return loss / float64(b)
}
