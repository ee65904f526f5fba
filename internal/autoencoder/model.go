// Package autoencoder implements the symmetric dense autoencoder used as a
// per-user behavioral profile: it learns to reconstruct normalized gesture
// features and reports large reconstruction errors for unfamiliar behavior.
package autoencoder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Training defaults.
const (
	DefaultEpochs       = 40
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.001
)

var (
	ErrInputDim  = errors.New("autoencoder: input dimension too small")
	ErrShape     = errors.New("autoencoder: input shape mismatch")
	ErrNoSamples = errors.New("autoencoder: no training samples")
)

// Model is encoder(d→h relu, h→h relu) followed by decoder(h→h relu, h→d sigmoid)
// with h = floor(d/2).
type Model struct {
	inputDim  int
	hiddenDim int
	layers    []*dense
	opt       *adam
	rng       *rand.Rand
}

type options struct {
	lr   float64
	seed int64
}

// Option customises New.
type Option func(*options)

// WithLearningRate sets the Adam learning rate.
func WithLearningRate(lr float64) Option {
	return func(o *options) {
		if lr > 0 {
			o.lr = lr
		}
	}
}

// WithSeed makes weight initialisation and shuffling reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// New builds an untrained model for inputDim features.
func New(inputDim int, opts ...Option) (*Model, error) {
	if inputDim < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInputDim, inputDim)
	}
	o := options{lr: DefaultLearningRate, seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(&o)
	}

	rng := rand.New(rand.NewSource(o.seed))
	h := inputDim / 2
	return &Model{
		inputDim:  inputDim,
		hiddenDim: h,
		layers: []*dense{
			newDense("encoder_input", inputDim, h, ReLU, rng),
			newDense("encoder_hidden", h, h, ReLU, rng),
			newDense("decoder_hidden", h, h, ReLU, rng),
			newDense("decoder_output", h, inputDim, Sigmoid, rng),
		},
		opt: newAdam(o.lr),
		rng: rng,
	}, nil
}

// InputDim returns the feature count the model reconstructs.
func (m *Model) InputDim() int { return m.inputDim }

// HiddenDim returns the bottleneck width.
func (m *Model) HiddenDim() int { return m.hiddenDim }


// Predict reconstructs x (N×inputDim).
func (m *Model) Predict(x mat.Matrix) (*mat.Dense, error) {
	if _, c := x.Dims(); c != m.inputDim {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrShape, c, m.inputDim)
	}
	a := mat.DenseCopyOf(x)
	for _, l := range m.layers {
		a = l.forward(a)
	}
	return a, nil
}

// PredictRow reconstructs a single feature vector.
func (m *Model) PredictRow(row []float64) ([]float64, error) {
	in := mat.NewDense(1, len(row), append([]float64(nil), row...))
	out, err := m.Predict(in)
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, 0, out), nil
}

// FitConfig controls a training run.
type FitConfig struct {
	Epochs     int
	BatchSize  int
	Shuffle    bool
	OnEpochEnd func(epoch int, loss float64)
}

// DefaultFitConfig returns 40 epochs of shuffled 32-row mini-batches.
func DefaultFitConfig() FitConfig {
	return FitConfig{Epochs: DefaultEpochs, BatchSize: DefaultBatchSize, Shuffle: true}
}

// History records the mean training loss of every epoch.
type History struct {
	Loss []float64
}

// FinalLoss returns the loss of the last epoch, or 0 before training.
func (h History) FinalLoss() float64 {
	if len(h.Loss) == 0 {
		return 0
	}
	return h.Loss[len(h.Loss)-1]
}

// Fit trains the model to reconstruct x from itself. The context is checked
// between mini-batches.
func (m *Model) Fit(ctx context.Context, x *mat.Dense, cfg FitConfig) (History, error) {
	n, d := x.Dims()
	if d != m.inputDim {
		return History{}, fmt.Errorf("%w: got %d features, want %d", ErrShape, d, m.inputDim)
	}
	if n == 0 {
		return History{}, ErrNoSamples
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultEpochs
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	var hist History
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var total float64
		for start := 0; start < n; start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := min(start+cfg.BatchSize, n)
			batch := gatherRows(x, order[start:end])
			total += m.step(batch) * float64(end-start)
		}

		loss := total / float64(n)
		hist.Loss = append(hist.Loss, loss)
		if cfg.OnEpochEnd != nil {
			cfg.OnEpochEnd(epoch, loss)
		}
	}
	return hist, nil
}

// step runs one forward/backward pass and Adam update, returning the batch MSE.
func (m *Model) step(batch *mat.Dense) float64 {
	acts := make([]*mat.Dense, len(m.layers)+1)
	acts[0] = batch
	for i, l := range m.layers {
		acts[i+1] = l.forward(acts[i])
	}

	out := acts[len(acts)-1]
	r, c := out.Dims()

	var grad mat.Dense
	grad.Sub(out, batch)
	var loss float64
	for i := 0; i < r; i++ {
		for _, v := range grad.RawRowView(i) {
			loss += v * v
		}
	}
	loss /= float64(r * c)
	grad.Scale(2/float64(r*c), &grad)

	m.opt.tick()
	rate := m.opt.rate()

	upstream := &grad
	for i := len(m.layers) - 1; i >= 0; i-- {
		l := m.layers[i]
		delta := l.delta(upstream, acts[i+1])

		var dw mat.Dense
		dw.Mul(acts[i].T(), delta)
		db := columnSums(delta)

		if i > 0 {
			var prev mat.Dense
			prev.Mul(delta, l.w.T())
			upstream = &prev
		}

		m.opt.apply(l.w.RawMatrix().Data, dw.RawMatrix().Data, l.mw, l.vw, rate)
		m.opt.apply(l.b, db, l.mb, l.vb, rate)
	}
	return loss
}

func gatherRows(x *mat.Dense, idx []int) *mat.Dense {
	_, d := x.Dims()
	data := make([]float64, len(idx)*d)
	for k, i := range idx {
		copy(data[k*d:(k+1)*d], x.RawRowView(i))
	}
	return mat.NewDense(len(idx), d, data)
}

func columnSums(a *mat.Dense) []float64 {
	r, c := a.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i++ {
		for j, v := range a.RawRowView(i) {
			sums[j] += v
		}
	}
	return sums
}

// ReconstructionError is the mean squared error between x and its reconstruction.
func ReconstructionError(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d values", ErrShape, len(x), len(y))
	}
	var sum float64
	for i := range x {
		d := x[i] - y[i]
		sum += d * d
	}
	return sum / float64(len(x)), nil
}

// Layers returns the serialisable parameters of every layer.
func (m *Model) Layers() []LayerState {
	states := make([]LayerState, len(m.layers))
	for i, l := range m.layers {
		states[i] = l.state()
	}
	return states
}

// FromLayers rebuilds a model from serialised layers.
func FromLayers(states []LayerState) (*Model, error) {
	if len(states) != 4 {
		return nil, fmt.Errorf("autoencoder: expected 4 layers, got %d", len(states))
	}
	layers := make([]*dense, len(states))
	for i, s := range states {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if i > 0 && states[i-1].Out != s.In {
			return nil, fmt.Errorf("autoencoder: layer %s input %d does not match previous output %d", s.Name, s.In, states[i-1].Out)
		}
		layers[i] = fromWeights(s.Name, s.In, s.Out, s.Activation,
			append([]float64(nil), s.Weights...), append([]float64(nil), s.Bias...))
	}
	inputDim := states[0].In
	if states[3].Out != inputDim {
		return nil, fmt.Errorf("autoencoder: output width %d does not match input %d", states[3].Out, inputDim)
	}
	return &Model{
		inputDim:  inputDim,
		hiddenDim: states[0].Out,
		layers:    layers,
		opt:       newAdam(DefaultLearningRate),
		rng:       rand.New(rand.NewSource(1)),
	}, nil
}
