package proxy

import "github.com/gridproxy/leapnet/pkg/errors"

// Observation provides named, fixed-shape numeric attributes extracted
// from one simulator snapshot. The set of attribute names and their widths
// must stay constant across the lifetime of a proxy; widths are fixed from
// the first observation seen.
type Observation interface {
	// Attr returns the value vector of the named attribute.
	Attr(name string) ([]float64, error)
}

// MapObservation is a plain map-backed Observation, convenient for tests
// and for adapting simulators that expose flat attribute dictionaries.
type MapObservation map[string][]float64

// Attr returns the named attribute vector.
func (m MapObservation) Attr(name string) ([]float64, error) {
	v, ok := m[name]
	if !ok {
		return nil, errors.Newf("leapnet: observation has no attribute %q", name)
	}
	return v, nil
}
