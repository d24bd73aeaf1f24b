package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates. Moment buffers are allocated lazily on the first step
// so the optimizer can be created before the graph.
type Adam struct {
	Beta1 float64
	Beta2 float64
	Eps   float64

	m []*mat.Dense
	v []*mat.Dense
	t int
}

// NewAdam creates an Adam optimizer with the usual defaults
// (beta1 0.9, beta2 0.999, eps 1e-8).
func NewAdam() *Adam {
	return &Adam{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// Step applies one update to params given grads, using lr as the effective
// learning rate for this step. params and grads must stay aligned across
// calls.
func (a *Adam) Step(params, grads []*mat.Dense, lr float64) error {
	if len(params) != len(grads) {
		return errors.NewDimensionError("Adam.Step", len(params), len(grads))
	}
	if a.m == nil {
		a.m = make([]*mat.Dense, len(params))
		a.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			a.m[i] = mat.NewDense(r, c, nil)
			a.v[i] = mat.NewDense(r, c, nil)
		}
	}
	if len(a.m) != len(params) {
		return errors.NewDimensionError("Adam.Step", len(a.m), len(params))
	}

	a.t++
	bc1 := 1.0 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1.0 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		if g == nil {
			return errors.NewValueError("Adam.Step", "nil gradient; run Backward before stepping")
		}
		r, c := p.Dims()
		m := a.m[i]
		v := a.v[i]
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				gv := g.At(ri, ci)
				mv := a.Beta1*m.At(ri, ci) + (1-a.Beta1)*gv
				vv := a.Beta2*v.At(ri, ci) + (1-a.Beta2)*gv*gv
				m.Set(ri, ci, mv)
				v.Set(ri, ci, vv)

				mHat := mv / bc1
				vHat := vv / bc2
				p.Set(ri, ci, p.At(ri, ci)-lr*mHat/(math.Sqrt(vHat)+a.Eps))
			}
		}
	}
	return nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }
