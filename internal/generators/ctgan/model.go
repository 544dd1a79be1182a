package ctgan

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/nn"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Model is a trained conditional generator together with the encoding it
// produces rows in.
type Model struct {
	specs        []models.ColumnSpec
	transformer  *encoding.Transformer
	gen          *nn.MLP
	sampler      *condSampler
	embeddingDim int
	temperature  float64
}

// Specs returns the column specs the model was fitted against
func (m *Model) Specs() []models.ColumnSpec {
	return m.specs
}

// Sample draws noise and a condition from the fitted category frequencies,
// runs the generator and decodes the activated output.
func (m *Model) Sample(ctx context.Context, n int, rng *rand.Rand) (*models.Table, error) {
	if n < 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidSampleCount,
			fmt.Sprintf("sample count must be non-negative, got %d", n))
	}
	if n == 0 {
		return encoding.EmptyTable(m.specs), nil
	}

	d := m.transformer.Dim()
	out := mat.NewDense(n, d, nil)
	segments := m.transformer.Segments()
	for start := 0; start < n; start += constants.DefaultSampleChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + constants.DefaultSampleChunkSize
		if end > n {
			end = n
		}
		b := end - start

		cond := m.sampler.sampleOriginal(b, rng)
		noise := nn.StandardNormal(b, m.embeddingDim, rng)
		logits, _ := m.gen.Forward(nn.HStack(noise, cond.vectors))
		activated := applyOutput(logits, segments, m.temperature, rng)
		out.Slice(start, end, 0, d).(*mat.Dense).Copy(activated)
	}

	return m.transformer.Decode(out)
}
