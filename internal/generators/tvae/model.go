package tvae

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/nn"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

// Model is a trained decoder together with the encoding it reconstructs
type Model struct {
	specs        []models.ColumnSpec
	transformer  *encoding.Transformer
	decoder      *nn.MLP
	embeddingDim int
}

// Specs returns the column specs the model was fitted against
func (m *Model) Specs() []models.ColumnSpec {
	return m.specs
}

// Sample decodes standard normal latent draws into rows
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
	for start := 0; start < n; start += constants.DefaultSampleChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + constants.DefaultSampleChunkSize
		if end > n {
			end = n
		}

		z := nn.StandardNormal(end-start, m.embeddingDim, rng)
		decoded, _ := m.decoder.Forward(z)
		out.Slice(start, end, 0, d).(*mat.Dense).Copy(decoded)
	}

	for _, seg := range m.transformer.Segments() {
		if seg.Activation != encoding.ActivationTanh {
			continue
		}
		for i := 0; i < n; i++ {
			row := out.RawRowView(i)
			for k := seg.Offset; k < seg.Offset+seg.Width; k++ {
				row[k] = math.Tanh(row[k])
			}
		}
	}

	return m.transformer.Decode(out)
}
