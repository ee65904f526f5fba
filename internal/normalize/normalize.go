// Package normalize implements per-feature min/max scaling.
package normalize

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon keeps constant columns from dividing by zero.
const Epsilon = 1e-7

var (
	ErrEmpty  = errors.New("normalize: empty matrix")
	ErrRagged = errors.New("normalize: rows have different lengths")

	// ErrNonFinite rejects NaN and infinite inputs.
	ErrNonFinite = errors.New("normalize: value is not finite")
)

// Stats holds the column-wise minimum and maximum of a training batch. The
// same Stats must be applied at training and inference time.
type Stats struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Fit computes column-wise min and max over rows.
func Fit(rows [][]float64) (*Stats, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmpty
	}
	dim := len(rows[0])
	for _, row := range rows {
		for _, x := range row {
			if !isFinite(x) {
				return nil, ErrNonFinite
			}
		}
	}
	s := &Stats{
		Min: append([]float64(nil), rows[0]...),
		Max: append([]float64(nil), rows[0]...),
	}
	for _, row := range rows[1:] {
		if len(row) != dim {
			return nil, ErrRagged
		}
		for j, x := range row {
			if x < s.Min[j] {
				s.Min[j] = x
			}
			if x > s.Max[j] {
				s.Max[j] = x
			}
		}
	}
	return s, nil
}

// Dim returns the number of features the stats cover.
func (s *Stats) Dim() int {
	return len(s.Min)
}

// Validate checks that s describes dim features.
func (s *Stats) Validate(dim int) error {
	if s == nil {
		return errors.New("normalize: nil stats")
	}
	if len(s.Min) != dim || len(s.Max) != dim {
		return fmt.Errorf("normalize: stats cover %d/%d features, want %d", len(s.Min), len(s.Max), dim)
	}
	for j := range s.Min {
		if !isFinite(s.Min[j]) || !isFinite(s.Max[j]) {
			return fmt.Errorf("feature %d: %w", j, ErrNonFinite)
		}
		if s.Min[j] > s.Max[j] {
			return fmt.Errorf("normalize: feature %d has min > max", j)
		}
	}
	return nil
}

// TransformRow scales one row as (x-min)/(max-min+ε). Values outside the
// fitted range are not clipped; at inference they are part of the signal.
func (s *Stats) TransformRow(row []float64) ([]float64, error) {
	if len(row) != s.Dim() {
		return nil, fmt.Errorf("normalize: row has %d features, want %d", len(row), s.Dim())
	}
	out := make([]float64, len(row))
	for j, x := range row {
		out[j] = s.scale(j, x)
	}
	return out, nil
}

func (s *Stats) scale(j int, x float64) float64 {
	lo, hi := s.Min[j], s.Max[j]
	if math.IsInf(hi-lo, 0) {
		// The span overflows; halving every term keeps the ratio finite.
		return (x/2 - lo/2) / (hi/2 - lo/2 + Epsilon)
	}
	return (x - lo) / (hi - lo + Epsilon)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Transform scales every row.
func (s *Stats) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		r, err := s.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits stats on rows and returns the scaled rows with them.
func FitTransform(rows [][]float64) ([][]float64, *Stats, error) {
	s, err := Fit(rows)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.Transform(rows)
	if err != nil {
		return nil, nil, err
	}
	return out, s, nil
}
