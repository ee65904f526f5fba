package autoencoder

import "math"

// adam holds the optimiser hyper-parameters and the shared step counter;
// per-parameter moments live on each layer.
type adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64
	t       int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, epsilon: 1e-7}
}

func (o *adam) tick() {
	o.t++
}

func (o *adam) rate() float64 {
	t := float64(o.t)
	return o.lr * math.Sqrt(1-math.Pow(o.beta2, t)) / (1 - math.Pow(o.beta1, t))
}

func (o *adam) apply(params, grads, m, v []float64, rate float64) {
	for k, g := range grads {
		m[k] = o.beta1*m[k] + (1-o.beta1)*g
		v[k] = o.beta2*v[k] + (1-o.beta2)*g*g
		params[k] -= rate * m[k] / (math.Sqrt(v[k]) + o.epsilon)
	}
}
