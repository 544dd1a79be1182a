package tvae

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tabsynth/internal/encoding"
	"github.com/inferloop/tabsynth/internal/nn"
	"github.com/inferloop/tabsynth/internal/privacy"
	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/interfaces"
	"github.com/inferloop/tabsynth/pkg/models"
)

const logVarBound = 10.0

// Config contains configuration for the variational generator
type Config struct {
	Epochs         int     `json:"epochs" mapstructure:"epochs"`
	BatchSize      int     `json:"batch_size" mapstructure:"batch_size"`
	EmbeddingDim   int     `json:"embedding_dim" mapstructure:"embedding_dim"`
	CompressDims   []int   `json:"compress_dims" mapstructure:"compress_dims"`
	DecompressDims []int   `json:"decompress_dims" mapstructure:"decompress_dims"`
	LearningRate   float64 `json:"learning_rate" mapstructure:"learning_rate"`
	LossFactor     float64 `json:"loss_factor" mapstructure:"loss_factor"`
	// Sigma is the fixed standard deviation of the Gaussian likelihood on
	// numeric residuals.
	Sigma float64 `json:"sigma" mapstructure:"sigma"`
	// KLAnnealEpochs is the number of epochs over which the KL weight ramps
	// from 0 to 1. Zero means a quarter of Epochs.
	KLAnnealEpochs int                  `json:"kl_anneal_epochs" mapstructure:"kl_anneal_epochs"`
	MaxGradNorm    float64              `json:"max_grad_norm" mapstructure:"max_grad_norm"`
	// StatisticsBudget is the share of the privacy budget spent on the
	// released mode histograms; the rest drives DP-SGD.
	StatisticsBudget float64              `json:"statistics_budget" mapstructure:"statistics_budget"`
	Modes            *encoding.ModeConfig `json:"modes,omitempty" mapstructure:"modes"`

	Observer interfaces.TrainingObserver `json:"-" mapstructure:"-"`
}

// Generator trains variational autoencoders over mode-normalised rows
type Generator struct {
	config *Config
	logger *logrus.Logger
}

// NewGenerator creates a new variational generator
func NewGenerator(config *Config, logger *logrus.Logger) *Generator {
	if config == nil {
		config = getDefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Generator{config: config, logger: logger}
}

// GetType returns the generator type
func (g *Generator) GetType() models.GeneratorType {
	return models.GeneratorTypeVariational
}

type trainer struct {
	config   *Config
	rng      *rand.Rand
	noiseRNG *rand.Rand
	segments []encoding.Segment
	encoder  *nn.MLP
	decoder  *nn.MLP
	opt      *nn.AdamOptimizer
	noiseStd float64
}

// Fit trains the encoder and decoder and returns the decoder half. Privacy
// noise is drawn from its own stream, seeded from rng before any other draw.
func (g *Generator) Fit(ctx context.Context, table *models.Table, specs []models.ColumnSpec, budget *models.PrivacyBudget, rng *rand.Rand) (interfaces.Model, error) {
	budget, err := privacy.NormalizeBudget(budget)
	if err != nil {
		return nil, err
	}
	if err := g.validateConfig(); err != nil {
		return nil, err
	}
	n := table.NumRows()
	if n < 2 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidTable,
			fmt.Sprintf("variational fit needs at least 2 rows, got %d", n))
	}

	start := time.Now()
	noiseRNG := rand.New(rand.NewSource(rng.Int63()))
	private := !budget.NoNoise()

	var (
		transformer *encoding.Transformer
		ledger      *privacy.BudgetLedger
		trainBudget = budget
	)
	if private {
		ledger = privacy.NewBudgetLedger(budget, nil)
		numeric := len(specs) - len(encoding.CategoricalNames(specs))
		perturb := func(counts []float64) []float64 { return counts }
		if numeric > 0 {
			statsBudget := budget.Fraction(g.config.StatisticsBudget)
			sigma, err := privacy.NoiseScale(statsBudget, 1, numeric)
			if err != nil {
				return nil, err
			}
			share := statsBudget.Split(numeric)
			for _, spec := range specs {
				if spec.IsCategorical() {
					continue
				}
				if err := ledger.Spend("modes:"+spec.Name, "gaussian", share.Epsilon, share.Delta); err != nil {
					return nil, err
				}
			}
			perturb = privacy.NewGaussianMechanism(sigma, noiseRNG).PerturbCounts
			trainBudget = budget.Fraction(1 - g.config.StatisticsBudget)
		}
		if err := ledger.Spend("autoencoder", "sampled-gaussian", trainBudget.Epsilon, trainBudget.Delta); err != nil {
			return nil, err
		}
		transformer, err = encoding.FitPrivateTransformer(table, specs, g.config.Modes, perturb)
	} else {
		transformer, err = encoding.FitTransformer(table, specs, g.config.Modes)
	}
	if err != nil {
		return nil, err
	}
	data, err := transformer.Encode(table)
	if err != nil {
		return nil, err
	}

	d := transformer.Dim()
	emb := g.config.EmbeddingDim
	batch := g.config.BatchSize
	if batch > n {
		batch = n
	}
	stepsPerEpoch := (n + batch - 1) / batch

	t := &trainer{
		config:   g.config,
		rng:      rng,
		noiseRNG: noiseRNG,
		segments: transformer.Segments(),
		encoder:  nn.NewMLP(append(append([]int{d}, g.config.CompressDims...), 2*emb), nn.ReLU, nn.Identity, rng),
		decoder:  nn.NewMLP(append(append([]int{emb}, g.config.DecompressDims...), d), nn.ReLU, nn.Identity, rng),
		opt:      nn.NewAdamOptimizer(g.config.LearningRate, 0.9, 0.999),
	}

	var noiseMultiplier float64
	if private {
		noiseMultiplier, err = privacy.NewAccountant().NoiseMultiplier(trainBudget, float64(batch)/float64(n), g.config.Epochs*stepsPerEpoch)
		if err != nil {
			return nil, err
		}
		t.noiseStd = noiseMultiplier * g.config.MaxGradNorm
	}

	anneal := g.config.KLAnnealEpochs
	if anneal <= 0 {
		anneal = g.config.Epochs / 4
	}

	g.logger.WithFields(logrus.Fields{
		"generator":        models.GeneratorTypeVariational,
		"rows":             n,
		"encoded_dim":      d,
		"epochs":           g.config.Epochs,
		"batch_size":       batch,
		"noise_multiplier": noiseMultiplier,
	}).Info("Training variational generator")

	for epoch := 0; epoch < g.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		beta := 1.0
		if anneal > 0 {
			beta = math.Min(1, float64(epoch)/float64(anneal))
		}

		perm := rng.Perm(n)
		var reconSum, klSum float64
		for step := 0; step < stepsPerEpoch; step++ {
			lo := step * batch
			hi := lo + batch
			if hi > n {
				hi = n
			}
			x := takeRows(data, perm[lo:hi])
			recon, kl, ok := t.step(x, beta)
			if !ok {
				return nil, divergedError(epoch)
			}
			reconSum += recon
			klSum += kl
		}

		losses := map[string]float64{
			"reconstruction": reconSum / float64(stepsPerEpoch),
			"kl":             klSum / float64(stepsPerEpoch),
			"kl_weight":      beta,
		}
		if !finite(losses["reconstruction"]) || !finite(losses["kl"]) {
			return nil, divergedError(epoch)
		}

		g.logger.WithFields(logrus.Fields{
			"generator":           models.GeneratorTypeVariational,
			"epoch":               epoch,
			"reconstruction_loss": losses["reconstruction"],
			"kl_loss":             losses["kl"],
			"kl_weight":           beta,
		}).Debug("Finished epoch")

		if g.config.Observer != nil {
			g.config.Observer.OnEpoch(ctx, models.EpochStats{
				Generator:       models.GeneratorTypeVariational,
				Epoch:           epoch,
				Losses:          losses,
				NoiseMultiplier: noiseMultiplier,
				Timestamp:       time.Now(),
			})
		}
	}

	fields := logrus.Fields{
		"generator": models.GeneratorTypeVariational,
		"steps":     t.opt.GetTimeStep(),
		"duration":  time.Since(start),
	}
	if private {
		fields["spent_epsilon"], fields["spent_delta"] = ledger.Spent()
	}
	g.logger.WithFields(fields).Info("Fitted variational model")

	return &Model{
		specs:        transformer.Specs(),
		transformer:  transformer,
		decoder:      t.decoder,
		embeddingDim: emb,
	}, nil
}

func divergedError(epoch int) error {
	return errors.NewInvalidModelStateError(errors.CodeTrainingDiverged,
		fmt.Sprintf("variational training diverged at epoch %d", epoch)).
		WithContext("epoch", epoch)
}

// step runs one update on batch x and returns the mean reconstruction and
// KL losses of the batch, and whether the gradient was finite.
func (t *trainer) step(x *mat.Dense, beta float64) (float64, float64, bool) {
	b, _ := x.Dims()
	emb := t.config.EmbeddingDim

	encOut, encTrace := t.encoder.Forward(x)
	mu := nn.Columns(encOut, 0, emb)
	logVar := nn.Columns(encOut, emb, 2*emb)
	clamped := make([]bool, b*emb)
	lv := logVar.RawMatrix().Data
	for k, v := range lv {
		if v > logVarBound || v < -logVarBound {
			lv[k] = math.Max(-logVarBound, math.Min(logVarBound, v))
			clamped[k] = true
		}
	}

	eps := nn.StandardNormal(b, emb, t.rng)
	z := mat.NewDense(b, emb, nil)
	zd, md, ed := z.RawMatrix().Data, mu.RawMatrix().Data, eps.RawMatrix().Data
	for k := range zd {
		zd[k] = md[k] + ed[k]*math.Exp(0.5*lv[k])
	}

	out, decTrace := t.decoder.Forward(z)
	dOut, recon := t.reconstruction(x, out)

	// Per-row gradients stay unscaled until after clipping.
	kl := 0.0
	decDeltas, dZ := t.decoder.Backprop(decTrace, dOut)
	dEnc := mat.NewDense(b, 2*emb, nil)
	dzd := dZ.RawMatrix().Data
	for i := 0; i < b; i++ {
		row := dEnc.RawRowView(i)
		for j := 0; j < emb; j++ {
			k := i*emb + j
			m, v := md[k], lv[k]
			kl += -0.5 * (1 + v - m*m - math.Exp(v))
			row[j] = dzd[k] + beta*m
			if !clamped[k] {
				row[emb+j] = dzd[k]*ed[k]*0.5*math.Exp(0.5*v) + beta*0.5*(math.Exp(v)-1)
			}
		}
	}

	encDeltas, _ := t.encoder.Backprop(encTrace, dEnc)

	var scale []float64
	if t.noiseStd > 0 {
		scale = nn.ClipFactors(nn.SumSqNorms(
			t.encoder.PerExampleSqNorms(encTrace, encDeltas),
			t.decoder.PerExampleSqNorms(decTrace, decDeltas),
		), t.config.MaxGradNorm)
	}
	encGrads := t.encoder.Gradients(encTrace, encDeltas, scale)
	decGrads := t.decoder.Gradients(decTrace, decDeltas, scale)
	for _, g := range []*nn.Gradients{encGrads, decGrads} {
		g.AddNoise(t.noiseStd, t.noiseRNG)
		g.Scale(1 / float64(b))
	}
	if !encGrads.IsFinite() || !decGrads.IsFinite() {
		return recon / float64(b), kl / float64(b), false
	}

	params := append(t.encoder.Params(), t.decoder.Params()...)
	grads := append(encGrads.Flatten(), decGrads.Flatten()...)
	t.opt.UpdateWeights(params, grads)

	return recon / float64(b), kl / float64(b), true
}

// reconstruction returns the per-row gradient of the weighted
// reconstruction loss with respect to the decoder output, and the summed
// loss. Numeric residuals use a Gaussian likelihood on tanh(output),
// one-hot blocks use softmax cross-entropy.
func (t *trainer) reconstruction(x, out *mat.Dense) (*mat.Dense, float64) {
	b, d := out.Dims()
	grad := mat.NewDense(b, d, nil)
	sigma2 := t.config.Sigma * t.config.Sigma
	factor := t.config.LossFactor
	loss := 0.0
	for i := 0; i < b; i++ {
		xr := x.RawRowView(i)
		or := out.RawRowView(i)
		gr := grad.RawRowView(i)
		for _, seg := range t.segments {
			if seg.Activation == encoding.ActivationTanh {
				for k := seg.Offset; k < seg.Offset+seg.Width; k++ {
					th := math.Tanh(or[k])
					diff := xr[k] - th
					loss += factor * diff * diff / (2 * sigma2)
					gr[k] = factor * (-diff / sigma2) * (1 - th*th)
				}
				continue
			}
			probs := make([]float64, seg.Width)
			nn.SoftmaxInto(probs, or[seg.Offset:seg.Offset+seg.Width], 1)
			for k, p := range probs {
				target := xr[seg.Offset+k]
				if target == 1 {
					loss -= factor * math.Log(math.Max(p, 1e-12))
				}
				gr[seg.Offset+k] = factor * (p - target)
			}
		}
	}
	return grad, loss
}

func (g *Generator) validateConfig() error {
	c := g.config
	switch {
	case c.Epochs <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "epochs must be positive")
	case c.BatchSize <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "batch size must be positive")
	case c.EmbeddingDim <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "embedding dimension must be positive")
	case c.LearningRate <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "learning rate must be positive")
	case c.LossFactor <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "loss factor must be positive")
	case c.Sigma <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "sigma must be positive")
	case c.MaxGradNorm <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "max gradient norm must be positive")
	case c.StatisticsBudget <= 0 || c.StatisticsBudget >= 1:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "statistics budget share must be in (0, 1)")
	}
	return nil
}

func takeRows(data *mat.Dense, idx []int) *mat.Dense {
	_, d := data.Dims()
	out := mat.NewDense(len(idx), d, nil)
	for i, r := range idx {
		copy(out.RawRowView(i), data.RawRowView(r))
	}
	return out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func getDefaultConfig() *Config {
	return &Config{
		Epochs:           constants.DefaultEpochs,
		BatchSize:        constants.DefaultBatchSize,
		EmbeddingDim:     constants.DefaultEmbeddingDim,
		CompressDims:     []int{128, 128},
		DecompressDims:   []int{128, 128},
		LearningRate:     constants.DefaultVAELearningRate,
		LossFactor:       2,
		Sigma:            0.1,
		MaxGradNorm:      constants.DefaultMaxGradNorm,
		StatisticsBudget: constants.DefaultStatisticsBudgetPct,
	}
}

// DefaultConfig returns the default variational configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}
