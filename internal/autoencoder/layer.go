package autoencoder

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation names a layer non-linearity.
type Activation string

const (
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
)

func (a Activation) apply(z float64) float64 {
	switch a {
	case ReLU:
		if z > 0 {
			return z
		}
		return 0
	case Sigmoid:
		return 1 / (1 + math.Exp(-z))
	default:
		return z
	}
}

// derivative is expressed in terms of the activation output.
func (a Activation) derivative(out float64) float64 {
	switch a {
	case ReLU:
		if out > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return out * (1 - out)
	default:
		return 1
	}
}

func (a Activation) valid() bool {
	return a == ReLU || a == Sigmoid
}

type dense struct {
	name string
	act  Activation
	w    *mat.Dense // in × out
	b    []float64

	// Adam moments, same layout as w's backing slice and b.
	mw, vw []float64
	mb, vb []float64
}

// newDense initialises weights with Glorot-uniform and biases with zero.
func newDense(name string, in, out int, act Activation, rng *rand.Rand) *dense {
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return fromWeights(name, in, out, act, data, make([]float64, out))
}

func fromWeights(name string, in, out int, act Activation, w, b []float64) *dense {
	return &dense{
		name: name,
		act:  act,
		w:    mat.NewDense(in, out, w),
		b:    b,
		mw:   make([]float64, in*out),
		vw:   make([]float64, in*out),
		mb:   make([]float64, out),
		vb:   make([]float64, out),
	}
}

func (l *dense) dims() (in, out int) {
	return l.w.Dims()
}

func (l *dense) forward(in mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(in, l.w)
	out.Apply(func(_, j int, v float64) float64 {
		return l.act.apply(v + l.b[j])
	}, &out)
	return &out
}

// delta turns the loss gradient w.r.t. this layer's output into the
// gradient w.r.t. its pre-activation.
func (l *dense) delta(upstream, out *mat.Dense) *mat.Dense {
	var d mat.Dense
	d.Apply(func(i, j int, g float64) float64 {
		return g * l.act.derivative(out.At(i, j))
	}, upstream)
	return &d
}

// LayerState is the serialisable form of one dense layer.
type LayerState struct {
	Name       string     `json:"name"`
	In         int        `json:"in"`
	Out        int        `json:"out"`
	Activation Activation `json:"activation"`
	Weights    []float64  `json:"weights"`
	Bias       []float64  `json:"bias"`
}

func (l *dense) state() LayerState {
	in, out := l.dims()
	return LayerState{
		Name:       l.name,
		In:         in,
		Out:        out,
		Activation: l.act,
		Weights:    mat.DenseCopyOf(l.w).RawMatrix().Data,
		Bias:       append([]float64(nil), l.b...),
	}
}

func (s LayerState) validate() error {
	if s.In <= 0 || s.Out <= 0 {
		return fmt.Errorf("layer %s: bad shape %dx%d", s.Name, s.In, s.Out)
	}
	if len(s.Weights) != s.In*s.Out || len(s.Bias) != s.Out {
		return fmt.Errorf("layer %s: parameter count mismatch", s.Name)
	}
	if !s.Activation.valid() {
		return fmt.Errorf("layer %s: unknown activation %q", s.Name, s.Activation)
	}
	return nil
}
