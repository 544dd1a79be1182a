package ctgan

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

// Config contains configuration for the conditional adversarial generator
type Config struct {
	Epochs             int     `json:"epochs" mapstructure:"epochs"`
	BatchSize          int     `json:"batch_size" mapstructure:"batch_size"`
	EmbeddingDim       int     `json:"embedding_dim" mapstructure:"embedding_dim"`
	GeneratorDims      []int   `json:"generator_dims" mapstructure:"generator_dims"`
	DiscriminatorDims  []int   `json:"discriminator_dims" mapstructure:"discriminator_dims"`
	LearningRate       float64 `json:"learning_rate" mapstructure:"learning_rate"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	ConditionWeight    float64 `json:"condition_weight" mapstructure:"condition_weight"`
	MaxGradNorm        float64 `json:"max_grad_norm" mapstructure:"max_grad_norm"`
	DiscriminatorSteps int     `json:"discriminator_steps" mapstructure:"discriminator_steps"`
	// StatisticsBudget is the share of the privacy budget spent on the
	// released mode histograms and category frequencies; the rest drives
	// discriminator DP-SGD.
	StatisticsBudget float64              `json:"statistics_budget" mapstructure:"statistics_budget"`
	Modes            *encoding.ModeConfig `json:"modes,omitempty" mapstructure:"modes"`

	Observer interfaces.TrainingObserver `json:"-" mapstructure:"-"`
}

// Generator trains conditional GANs over mode-normalised rows
type Generator struct {
	config *Config
	logger *logrus.Logger
}

// NewGenerator creates a new adversarial generator
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
	return models.GeneratorTypeAdversarial
}

// trainer holds the mutable state of one fit
type trainer struct {
	config    *Config
	rng       *rand.Rand
	noiseRNG  *rand.Rand
	data      *mat.Dense
	segments  []encoding.Segment
	sampler   *condSampler
	gen       *nn.MLP
	disc      *nn.MLP
	genOpt    *nn.AdamOptimizer
	discOpt   *nn.AdamOptimizer
	batchSize int
	// noiseStd is the standard deviation of the noise added to the summed,
	// clipped discriminator gradient. Zero disables DP-SGD.
	noiseStd float64
	// private draws real rows uniformly and conditions from the released
	// frequencies, so every row is in a batch with probability at most
	// batch/n.
	private bool
}

// Fit trains the generator and discriminator and returns the generator half.
// Privacy noise is drawn from its own stream, seeded from rng before any
// other draw, so fits of one seed at different budgets share their noise.
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
			fmt.Sprintf("adversarial fit needs at least 2 rows, got %d", n))
	}

	start := time.Now()
	noiseRNG := rand.New(rand.NewSource(rng.Int63()))
	private := !budget.NoNoise()

	var (
		transformer *encoding.Transformer
		ledger      *privacy.BudgetLedger
		statsMech   *privacy.GaussianMechanism
		trainBudget = budget
	)
	if private {
		statsBudget := budget.Fraction(g.config.StatisticsBudget)
		sigma, err := privacy.NoiseScale(statsBudget, 1, len(specs))
		if err != nil {
			return nil, err
		}
		statsMech = privacy.NewGaussianMechanism(sigma, noiseRNG)

		ledger = privacy.NewBudgetLedger(budget, nil)
		share := statsBudget.Split(len(specs))
		for _, spec := range specs {
			operation := "modes:" + spec.Name
			if spec.IsCategorical() {
				operation = "frequencies:" + spec.Name
			}
			if err := ledger.Spend(operation, "gaussian", share.Epsilon, share.Delta); err != nil {
				return nil, err
			}
		}
		trainBudget = budget.Fraction(1 - g.config.StatisticsBudget)
		if err := ledger.Spend("discriminator", "sampled-gaussian", trainBudget.Epsilon, trainBudget.Delta); err != nil {
			return nil, err
		}
		transformer, err = encoding.FitPrivateTransformer(table, specs, g.config.Modes, statsMech.PerturbCounts)
		if err != nil {
			return nil, err
		}
	} else {
		transformer, err = encoding.FitTransformer(table, specs, g.config.Modes)
		if err != nil {
			return nil, err
		}
	}

	data, err := transformer.Encode(table)
	if err != nil {
		return nil, err
	}

	cats := transformer.CategoricalSegments()
	counts, rows := categoryRows(data, cats)
	if private {
		for c := range counts {
			counts[c] = statsMech.PerturbCounts(counts[c])
		}
	}

	sampler := newCondSampler(cats, counts, rows)
	d := transformer.Dim()
	batch := g.config.BatchSize
	if batch > n {
		batch = n
	}

	t := &trainer{
		config:    g.config,
		rng:       rng,
		noiseRNG:  noiseRNG,
		data:      data,
		segments:  transformer.Segments(),
		sampler:   sampler,
		gen:       nn.NewMLP(layerSizes(g.config.EmbeddingDim+sampler.dim, g.config.GeneratorDims, d), nn.ReLU, nn.Identity, rng),
		disc:      nn.NewMLP(layerSizes(d+sampler.dim, g.config.DiscriminatorDims, 1), nn.LeakyReLU, nn.Identity, rng),
		genOpt:    nn.NewAdamOptimizer(g.config.LearningRate, 0.5, 0.9),
		discOpt:   nn.NewAdamOptimizer(g.config.LearningRate, 0.5, 0.9),
		batchSize: batch,
		private:   private,
	}

	stepsPerEpoch := (n + batch - 1) / batch
	var noiseMultiplier float64
	if private {
		steps := g.config.Epochs * stepsPerEpoch * g.config.DiscriminatorSteps
		noiseMultiplier, err = privacy.NewAccountant().NoiseMultiplier(trainBudget, float64(batch)/float64(n), steps)
		if err != nil {
			return nil, err
		}
		t.noiseStd = noiseMultiplier * g.config.MaxGradNorm
	}

	g.logger.WithFields(logrus.Fields{
		"generator":        models.GeneratorTypeAdversarial,
		"rows":             n,
		"encoded_dim":      d,
		"epochs":           g.config.Epochs,
		"batch_size":       batch,
		"noise_multiplier": noiseMultiplier,
	}).Info("Training adversarial generator")

	for epoch := 0; epoch < g.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var dLossSum, gLossSum float64
		for step := 0; step < stepsPerEpoch; step++ {
			for s := 0; s < g.config.DiscriminatorSteps; s++ {
				dLoss, ok := t.discriminatorStep()
				if !ok {
					return nil, divergedError(epoch, "discriminator")
				}
				dLossSum += dLoss / float64(g.config.DiscriminatorSteps)
			}
			gLoss, ok := t.generatorStep()
			if !ok {
				return nil, divergedError(epoch, "generator")
			}
			gLossSum += gLoss
		}

		losses := map[string]float64{
			"discriminator": dLossSum / float64(stepsPerEpoch),
			"generator":     gLossSum / float64(stepsPerEpoch),
		}
		if !finite(losses["discriminator"]) {
			return nil, divergedError(epoch, "discriminator")
		}
		if !finite(losses["generator"]) {
			return nil, divergedError(epoch, "generator")
		}

		g.logger.WithFields(logrus.Fields{
			"generator":          models.GeneratorTypeAdversarial,
			"epoch":              epoch,
			"discriminator_loss": losses["discriminator"],
			"generator_loss":     losses["generator"],
		}).Debug("Finished epoch")

		if g.config.Observer != nil {
			g.config.Observer.OnEpoch(ctx, models.EpochStats{
				Generator:       models.GeneratorTypeAdversarial,
				Epoch:           epoch,
				Losses:          losses,
				NoiseMultiplier: noiseMultiplier,
				Timestamp:       time.Now(),
			})
		}
	}

	released := transformer.Specs()
	fields := logrus.Fields{
		"generator": models.GeneratorTypeAdversarial,
		"steps":     t.discOpt.GetTimeStep(),
		"duration":  time.Since(start),
	}
	if private {
		released = encoding.WithFrequencies(released, releasedFrequencies(cats, sampler))
		fields["spent_epsilon"], fields["spent_delta"] = ledger.Spent()
	}
	g.logger.WithFields(fields).Info("Fitted adversarial model")

	return &Model{
		specs:        released,
		transformer:  transformer,
		gen:          t.gen,
		sampler:      sampler,
		embeddingDim: g.config.EmbeddingDim,
		temperature:  g.config.Temperature,
	}, nil
}

func divergedError(epoch int, network string) error {
	return errors.NewInvalidModelStateError(errors.CodeTrainingDiverged,
		fmt.Sprintf("adversarial training diverged at epoch %d", epoch)).
		WithContext("epoch", epoch).
		WithContext("network", network)
}

// releasedFrequencies maps every categorical column to the noisy category
// frequencies the sampler draws conditions from
func releasedFrequencies(cats []encoding.CategoricalSegment, sampler *condSampler) map[string][]float64 {
	out := make(map[string][]float64, len(cats))
	for c, seg := range cats {
		out[seg.Name] = sampler.sampleProbs[c]
	}
	return out
}

// discriminatorStep performs one discriminator update with the logistic
// loss softplus(-D(real)) + softplus(D(fake)). It returns the batch loss and
// whether the gradient was finite.
func (t *trainer) discriminatorStep() (float64, bool) {
	b := t.batchSize

	var cond *condBatch
	var real, realCond *mat.Dense
	switch {
	case t.private:
		cond = t.sampler.sampleOriginal(b, t.rng)
		real = t.takeRows(randomRows(b, t.rowCount(), t.rng))
		realCond = t.sampler.conditionsOf(real, cond.columns)
	case t.sampler.empty():
		cond = t.sampler.sampleTrain(b, t.rng)
		real = t.takeRows(randomRows(b, t.rowCount(), t.rng))
	default:
		cond = t.sampler.sampleTrain(b, t.rng)
		real = t.takeRows(t.sampler.realRows(cond, t.rowCount(), t.rng))
		realCond = cond.vectors
	}
	fake := t.generate(cond, b)

	sReal, realTrace := t.disc.Forward(nn.HStack(real, realCond))
	sFake, fakeTrace := t.disc.Forward(nn.HStack(fake.activated, cond.vectors))

	dReal := mat.NewDense(b, 1, nil)
	dFake := mat.NewDense(b, 1, nil)
	loss := 0.0
	for i := 0; i < b; i++ {
		r, f := sReal.At(i, 0), sFake.At(i, 0)
		loss += nn.Softplus(-r) + nn.Softplus(f)
		dReal.Set(i, 0, nn.Sigmoid(r)-1)
		dFake.Set(i, 0, nn.Sigmoid(f))
	}
	loss /= float64(b)

	realDeltas, _ := t.disc.Backprop(realTrace, dReal)
	fakeDeltas, _ := t.disc.Backprop(fakeTrace, dFake)

	var realScale, fakeScale []float64
	if t.noiseStd > 0 {
		realScale = nn.ClipFactors(t.disc.PerExampleSqNorms(realTrace, realDeltas), t.config.MaxGradNorm)
		fakeScale = nn.ClipFactors(t.disc.PerExampleSqNorms(fakeTrace, fakeDeltas), t.config.MaxGradNorm)
	}
	grads := t.disc.Gradients(realTrace, realDeltas, realScale)
	grads.Add(t.disc.Gradients(fakeTrace, fakeDeltas, fakeScale))
	grads.AddNoise(t.noiseStd, t.noiseRNG)
	grads.Scale(1 / float64(b))
	if !grads.IsFinite() {
		return loss, false
	}

	t.discOpt.UpdateWeights(t.disc.Params(), grads.Flatten())
	return loss, true
}

// generatorStep performs one generator update with the non-saturating loss
// softplus(-D(fake)) plus the weighted condition cross-entropy.
func (t *trainer) generatorStep() (float64, bool) {
	b := t.batchSize
	var cond *condBatch
	if t.private {
		cond = t.sampler.sampleOriginal(b, t.rng)
	} else {
		cond = t.sampler.sampleTrain(b, t.rng)
	}
	fake := t.generate(cond, b)

	d := fake.activated.RawMatrix().Cols
	score, discTrace := t.disc.Forward(nn.HStack(fake.activated, cond.vectors))

	dScore := mat.NewDense(b, 1, nil)
	loss := 0.0
	for i := 0; i < b; i++ {
		s := score.At(i, 0)
		loss += nn.Softplus(-s)
		dScore.Set(i, 0, (nn.Sigmoid(s)-1)/float64(b))
	}
	loss /= float64(b)

	_, dInput := t.disc.Backprop(discTrace, dScore)
	dActivated := nn.Columns(dInput, 0, d)
	dLogits := backwardOutput(fake.activated, dActivated, t.segments, t.config.Temperature)
	loss += t.config.ConditionWeight * conditionLoss(fake.logits, cond, t.sampler, t.config.ConditionWeight, dLogits)

	deltas, _ := t.gen.Backprop(fake.trace, dLogits)
	grads := t.gen.Gradients(fake.trace, deltas, nil)
	if !grads.IsFinite() {
		return loss, false
	}
	t.genOpt.UpdateWeights(t.gen.Params(), grads.Flatten())
	return loss, true
}

type fakeBatch struct {
	logits    *mat.Dense
	activated *mat.Dense
	trace     *nn.Trace
}

func (t *trainer) generate(cond *condBatch, b int) *fakeBatch {
	noise := nn.StandardNormal(b, t.config.EmbeddingDim, t.rng)
	logits, trace := t.gen.Forward(nn.HStack(noise, cond.vectors))
	return &fakeBatch{
		logits:    logits,
		activated: applyOutput(logits, t.segments, t.config.Temperature, t.rng),
		trace:     trace,
	}
}

func (t *trainer) rowCount() int {
	r, _ := t.data.Dims()
	return r
}

func (t *trainer) takeRows(idx []int) *mat.Dense {
	_, d := t.data.Dims()
	out := mat.NewDense(len(idx), d, nil)
	for i, r := range idx {
		copy(out.RawRowView(i), t.data.RawRowView(r))
	}
	return out
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
	case c.Temperature <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "temperature must be positive")
	case c.MaxGradNorm <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "max gradient norm must be positive")
	case c.DiscriminatorSteps <= 0:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "discriminator steps must be positive")
	case c.StatisticsBudget <= 0 || c.StatisticsBudget >= 1:
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "statistics budget share must be in (0, 1)")
	}
	return nil
}

// categoryRows counts the categories of every categorical block and lists
// the rows holding each category.
func categoryRows(data *mat.Dense, cats []encoding.CategoricalSegment) ([][]float64, [][][]int) {
	n, _ := data.Dims()
	counts := make([][]float64, len(cats))
	rows := make([][][]int, len(cats))
	for c, seg := range cats {
		counts[c] = make([]float64, seg.Width)
		rows[c] = make([][]int, seg.Width)
		for i := 0; i < n; i++ {
			row := data.RawRowView(i)
			for k := 0; k < seg.Width; k++ {
				if row[seg.Offset+k] == 1 {
					counts[c][k]++
					rows[c][k] = append(rows[c][k], i)
					break
				}
			}
		}
	}
	return counts, rows
}

func randomRows(b, n int, rng *rand.Rand) []int {
	idx := make([]int, b)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

func layerSizes(in int, hidden []int, out int) []int {
	sizes := append([]int{in}, hidden...)
	return append(sizes, out)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func tanh(x float64) float64 {
	return math.Tanh(x)
}

func safeLog(p float64) float64 {
	return math.Log(math.Max(p, 1e-12))
}

func getDefaultConfig() *Config {
	return &Config{
		Epochs:             constants.DefaultEpochs,
		BatchSize:          constants.DefaultBatchSize,
		EmbeddingDim:       constants.DefaultEmbeddingDim,
		GeneratorDims:      []int{256, 256},
		DiscriminatorDims:  []int{256, 256},
		LearningRate:       constants.DefaultGANLearningRate,
		Temperature:        constants.DefaultGumbelTemperature,
		ConditionWeight:    1,
		MaxGradNorm:        constants.DefaultMaxGradNorm,
		DiscriminatorSteps: 1,
		StatisticsBudget:   constants.DefaultStatisticsBudgetPct,
	}
}

// DefaultConfig returns the default adversarial configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}
