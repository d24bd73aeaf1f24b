// Package preprocessing provides the per-attribute standardization used to
// normalize proxy inputs and outputs.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// minStd is the threshold below which a standard deviation component is
// considered degenerate; such components are floored to 1.0 so that
// normalization never divides by zero and constant attributes round-trip
// exactly.
const minStd = 1e-8

// AttributeScaler holds frozen per-attribute (mean, std) vectors computed
// from a bootstrap sample of observations. Statistics are computed once by
// Fit and never recomputed; SetStats overwrites them only when restoring a
// checkpoint.
type AttributeScaler struct {
	means map[string][]float64
	stds  map[string][]float64
}

// NewAttributeScaler creates an empty scaler.
func NewAttributeScaler() *AttributeScaler {
	return &AttributeScaler{
		means: make(map[string][]float64),
		stds:  make(map[string][]float64),
	}
}

// Fit computes the elementwise mean and population standard deviation of
// the given samples for one attribute and freezes them. All samples must
// share the same width.
func (s *AttributeScaler) Fit(attr string, samples [][]float64) error {
	if len(samples) == 0 {
		return errors.NewValueError("AttributeScaler.Fit", "no samples for attribute "+attr)
	}
	width := len(samples[0])
	col := make([]float64, len(samples))
	mean := make([]float64, width)
	std := make([]float64, width)
	for j := 0; j < width; j++ {
		for i, row := range samples {
			if len(row) != width {
				return errors.NewDimensionError("AttributeScaler.Fit", width, len(row))
			}
			col[i] = row[j]
		}
		mean[j] = stat.Mean(col, nil)
		std[j] = math.Sqrt(stat.PopVariance(col, nil))
		if math.Abs(std[j]) < minStd {
			std[j] = 1.0
		}
	}
	s.means[attr] = mean
	s.stds[attr] = std
	return nil
}

// Transform normalizes v as (v - mean) / std for the given attribute.
func (s *AttributeScaler) Transform(attr string, v []float64) ([]float64, error) {
	mean, std, err := s.lookup("Transform", attr, len(v))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for j := range v {
		out[j] = (v[j] - mean[j]) / std[j]
	}
	return out, nil
}

// InverseTransform maps a normalized value back to the original scale as
// v*std + mean. It is the exact inverse of Transform within floating-point
// tolerance.
func (s *AttributeScaler) InverseTransform(attr string, v []float64) ([]float64, error) {
	mean, std, err := s.lookup("InverseTransform", attr, len(v))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for j := range v {
		out[j] = v[j]*std[j] + mean[j]
	}
	return out, nil
}

// Has reports whether statistics exist for the given attribute.
func (s *AttributeScaler) Has(attr string) bool {
	_, ok := s.means[attr]
	return ok
}

// Stats returns the frozen mean and std vectors for the given attribute.
func (s *AttributeScaler) Stats(attr string) (mean, std []float64, err error) {
	m, ok := s.means[attr]
	if !ok {
		return nil, nil, errors.NewNotInitializedError("AttributeScaler", "Stats("+attr+")")
	}
	return m, s.stds[attr], nil
}

// SetStats overwrites the statistics for one attribute. Intended only for
// restoring persisted metadata.
func (s *AttributeScaler) SetStats(attr string, mean, std []float64) error {
	if len(mean) != len(std) {
		return errors.NewDimensionError("AttributeScaler.SetStats", len(mean), len(std))
	}
	s.means[attr] = append([]float64(nil), mean...)
	s.stds[attr] = append([]float64(nil), std...)
	return nil
}

func (s *AttributeScaler) lookup(method, attr string, width int) (mean, std []float64, err error) {
	mean, ok := s.means[attr]
	if !ok {
		return nil, nil, errors.NewNotInitializedError("AttributeScaler", method+"("+attr+")")
	}
	if width != len(mean) {
		return nil, nil, errors.NewDimensionError("AttributeScaler."+method, len(mean), width)
	}
	return mean, s.stds[attr], nil
}
