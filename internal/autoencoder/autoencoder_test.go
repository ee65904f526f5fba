package autoencoder

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gestureguard/internal/normalize"
)

func sampleMatrix(n, d int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*d)
	for i := 0; i < n; i++ {
		base := rng.Float64()*0.2 + 0.4
		for j := 0; j < d; j++ {
			data[i*d+j] = base + rng.Float64()*0.05
		}
	}
	return mat.NewDense(n, d, data)
}

func TestNewTopology(t *testing.T) {
	m, err := New(11, WithSeed(1))
	require.NoError(t, err)
	assert.Equal(t, 11, m.InputDim())
	assert.Equal(t, 5, m.HiddenDim())

	layers := m.Layers()
	require.Len(t, layers, 4)
	assert.Equal(t, [2]int{11, 5}, [2]int{layers[0].In, layers[0].Out})
	assert.Equal(t, [2]int{5, 5}, [2]int{layers[1].In, layers[1].Out})
	assert.Equal(t, [2]int{5, 5}, [2]int{layers[2].In, layers[2].Out})
	assert.Equal(t, [2]int{5, 11}, [2]int{layers[3].In, layers[3].Out})
	assert.Equal(t, Sigmoid, layers[3].Activation)
	for _, l := range layers[:3] {
		assert.Equal(t, ReLU, l.Activation)
	}
}

func TestNewRejectsTinyInput(t *testing.T) {
	_, err := New(1)
	assert.ErrorIs(t, err, ErrInputDim)
}

func TestPredictShapeAndRange(t *testing.T) {
	m, err := New(11, WithSeed(2))
	require.NoError(t, err)

	out, err := m.Predict(sampleMatrix(7, 11, 1))
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 7, r)
	assert.Equal(t, 11, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := out.At(i, j)
			assert.True(t, v > 0 && v < 1, "sigmoid output out of range: %v", v)
		}
	}

	_, err = m.Predict(sampleMatrix(2, 10, 1))
	assert.ErrorIs(t, err, ErrShape)
}

func TestFitReducesLoss(t *testing.T) {
	m, err := New(11, WithSeed(3), WithLearningRate(0.01))
	require.NoError(t, err)

	var epochs int
	hist, err := m.Fit(context.Background(), sampleMatrix(320, 11, 4), FitConfig{
		Epochs:    40,
		BatchSize: 32,
		Shuffle:   true,
		OnEpochEnd: func(int, float64) {
			epochs++
		},
	})
	require.NoError(t, err)
	require.Len(t, hist.Loss, 40)
	assert.Equal(t, 40, epochs)
	assert.Less(t, hist.FinalLoss(), hist.Loss[0])
}

func TestFitDeterministicWithSeed(t *testing.T) {
	x := sampleMatrix(64, 11, 5)
	train := func() []float64 {
		m, err := New(11, WithSeed(42))
		require.NoError(t, err)
		_, err = m.Fit(context.Background(), x, FitConfig{Epochs: 3, BatchSize: 16, Shuffle: true})
		require.NoError(t, err)
		out, err := m.PredictRow(x.RawRowView(0))
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, train(), train())
}

func TestFitHonorsCancellation(t *testing.T) {
	m, err := New(11, WithSeed(6))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Fit(ctx, sampleMatrix(64, 11, 6), DefaultFitConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitRejectsEmptyAndMismatched(t *testing.T) {
	m, err := New(4, WithSeed(7))
	require.NoError(t, err)

	_, err = m.Fit(context.Background(), sampleMatrix(8, 3, 1), DefaultFitConfig())
	assert.ErrorIs(t, err, ErrShape)
}

func TestReconstructionError(t *testing.T) {
	e, err := ReconstructionError([]float64{0, 0.5, 1}, []float64{0, 0.5, 1})
	require.NoError(t, err)
	assert.Zero(t, e)

	e, err = ReconstructionError([]float64{0, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, e, 1e-12)

	_, err = ReconstructionError([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrShape)
}

func TestArtifactRoundTrip(t *testing.T) {
	m, err := New(11, WithSeed(8))
	require.NoError(t, err)
	stats := &normalize.Stats{Min: make([]float64, 11), Max: make([]float64, 11)}
	for i := range stats.Max {
		stats.Max[i] = float64(i + 1)
	}

	a := NewArtifact(m, "alice@example.com", stats, 320, 0.01)
	data, err := a.Marshal(nil)
	require.NoError(t, err)

	got, err := UnmarshalArtifact(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.UserID)
	assert.Equal(t, stats, got.Normalization)

	restored, err := got.Model()
	require.NoError(t, err)

	row := sampleMatrix(1, 11, 9).RawRowView(0)
	want, err := m.PredictRow(row)
	require.NoError(t, err)
	have, err := restored.PredictRow(row)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, have, 1e-12)
}

func TestArtifactTamperDetected(t *testing.T) {
	m, err := New(6, WithSeed(9))
	require.NoError(t, err)
	data, err := NewArtifact(m, "bob", nil, 10, 0).Marshal([]byte("k"))
	require.NoError(t, err)

	_, err = UnmarshalArtifact(data, []byte("other"))
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = UnmarshalArtifact([]byte("not json"), nil)
	assert.Error(t, err)
}

func TestFromLayersValidates(t *testing.T) {
	m, err := New(6, WithSeed(10))
	require.NoError(t, err)
	layers := m.Layers()
	layers[1].Weights = layers[1].Weights[:1]
	_, err = FromLayers(layers)
	assert.Error(t, err)

	_, err = FromLayers(layers[:2])
	assert.Error(t, err)
}
