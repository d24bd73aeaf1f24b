package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

func smallArch() Architecture {
	return Architecture{
		AttrX:     []string{"prod_p", "load_p"},
		AttrTau:   []string{"line_status"},
		AttrY:     []string{"a_or", "rho"},
		SzX:       []int{2, 3},
		SzTau:     []int{3},
		SzY:       []int{3, 2},
		SizesEnc:  []int{4},
		SizesMain: []int{5},
		SizesOut:  []int{4},
		LineAttrs: []string{"a_or"},
		Seed:      17,
	}
}

func TestNewLeapNetValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Architecture)
	}{
		{"no x attributes", func(a *Architecture) { a.AttrX = nil; a.SzX = nil }},
		{"x widths misaligned", func(a *Architecture) { a.SzX = []int{2} }},
		{"tau widths misaligned", func(a *Architecture) { a.SzTau = nil }},
		{"no y attributes", func(a *Architecture) { a.AttrY = nil; a.SzY = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch := smallArch()
			tt.mutate(&arch)
			_, err := NewLeapNet(arch)
			require.Error(t, err)
			var verr *errors.ValueError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestLeapNetMaskLocation(t *testing.T) {
	net, err := NewLeapNet(smallArch())
	require.NoError(t, err)

	where, idx := net.MaskSource()
	assert.Equal(t, MaskInTau, where)
	assert.Equal(t, 0, idx)
	assert.True(t, net.Masked("a_or"))
	assert.False(t, net.Masked("rho"))

	arch := smallArch()
	arch.AttrX = []string{"prod_p", "line_status"}
	arch.AttrTau = []string{"topo_vect"}
	net, err = NewLeapNet(arch)
	require.NoError(t, err)
	where, idx = net.MaskSource()
	assert.Equal(t, MaskInX, where)
	assert.Equal(t, 1, idx)
}

func TestLeapNetMissingMaskWarns(t *testing.T) {
	var got error
	errors.SetWarningHandler(func(w error) { got = w })
	defer errors.SetWarningHandler(nil)

	arch := smallArch()
	arch.AttrTau = []string{"topo_vect"}
	net, err := NewLeapNet(arch)
	require.NoError(t, err)

	var warn *errors.MaskSourceWarning
	require.True(t, errors.As(got, &warn))
	assert.Equal(t, MaskAttr, warn.Attr)
	assert.False(t, net.Masked("a_or"))

	mask, err := net.Mask(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, mask)
}

func TestLeapNetMaskZeroesDisconnectedLines(t *testing.T) {
	net, err := NewLeapNet(smallArch())
	require.NoError(t, err)

	// uniform positive weights keep every unit active, so any nonzero
	// output entry is attributable to the mask alone
	ws := net.Weights()
	for _, w := range ws {
		for i := range w {
			w[i] = 0.1
		}
	}
	require.NoError(t, net.SetWeights(ws))

	xs := []*mat.Dense{
		mat.NewDense(2, 2, []float64{0.4, -1.1, 0.9, 0.2}),
		mat.NewDense(2, 3, []float64{1.0, 0.5, -0.2, 0.1, 0.1, 0.3}),
	}
	rawTau := mat.NewDense(2, 3, []float64{
		0, 1, 0,
		1, 0, 0,
	})
	taus := []*mat.Dense{rawTau}

	mask, err := net.Mask(xs, taus)
	require.NoError(t, err)
	require.NotNil(t, mask)
	assert.Equal(t, 1.0, mask.At(0, 0))
	assert.Equal(t, 0.0, mask.At(0, 1))

	outs, err := net.Forward(xs, taus, mask)
	require.NoError(t, err)
	require.Len(t, outs, 2)

	// a_or: disconnected lines exactly zero, connected lines not forced
	aor := outs[0]
	assert.Zero(t, aor.At(0, 1))
	assert.Zero(t, aor.At(1, 0))
	assert.NotZero(t, aor.At(0, 0))
	assert.NotZero(t, aor.At(1, 1))

	// rho is not line-indexed and stays untouched
	rho := outs[1]
	assert.NotZero(t, rho.At(0, 0))
	assert.NotZero(t, rho.At(1, 1))
}

func TestLeapNetMaskWidthMismatch(t *testing.T) {
	arch := smallArch()
	arch.SzTau = []int{2}
	net, err := NewLeapNet(arch)
	require.NoError(t, err)

	xs := []*mat.Dense{
		mat.NewDense(1, 2, []float64{0.4, -1.1}),
		mat.NewDense(1, 3, []float64{1.0, 0.5, -0.2}),
	}
	taus := []*mat.Dense{mat.NewDense(1, 2, []float64{0, 1})}

	mask, err := net.Mask(xs, taus)
	require.NoError(t, err)

	_, err = net.Forward(xs, taus, mask)
	require.Error(t, err)
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))
}

func TestLeapNetSameSeedSameForward(t *testing.T) {
	a, err := NewLeapNet(smallArch())
	require.NoError(t, err)
	b, err := NewLeapNet(smallArch())
	require.NoError(t, err)

	xs := []*mat.Dense{
		mat.NewDense(1, 2, []float64{0.3, 0.7}),
		mat.NewDense(1, 3, []float64{-0.1, 0.2, 0.5}),
	}
	taus := []*mat.Dense{mat.NewDense(1, 3, []float64{0, 0, 1})}
	mask, err := a.Mask(xs, taus)
	require.NoError(t, err)

	outA, err := a.Forward(xs, taus, mask)
	require.NoError(t, err)
	outB, err := b.Forward(xs, taus, mask)
	require.NoError(t, err)

	for i := range outA {
		assert.True(t, mat.Equal(outA[i], outB[i]), "output %d differs between identical builds", i)
	}
}

func TestLeapNetWeightsRoundTrip(t *testing.T) {
	src, err := NewLeapNet(smallArch())
	require.NoError(t, err)
	arch := smallArch()
	arch.Seed = 91
	dst, err := NewLeapNet(arch)
	require.NoError(t, err)

	require.NoError(t, dst.SetWeights(src.Weights()))

	xs := []*mat.Dense{
		mat.NewDense(1, 2, []float64{0.3, 0.7}),
		mat.NewDense(1, 3, []float64{-0.1, 0.2, 0.5}),
	}
	taus := []*mat.Dense{mat.NewDense(1, 3, []float64{0, 1, 0})}
	mask, err := src.Mask(xs, taus)
	require.NoError(t, err)

	outA, err := src.Forward(xs, taus, mask)
	require.NoError(t, err)
	outB, err := dst.Forward(xs, taus, mask)
	require.NoError(t, err)
	for i := range outA {
		assert.True(t, mat.Equal(outA[i], outB[i]))
	}
}

func TestLeapNetSetWeightsShapeMismatch(t *testing.T) {
	net, err := NewLeapNet(smallArch())
	require.NoError(t, err)

	ws := net.Weights()
	err = net.SetWeights(ws[:len(ws)-1])
	require.Error(t, err)

	ws = net.Weights()
	ws[0] = ws[0][:1]
	err = net.SetWeights(ws)
	require.Error(t, err)
}

// finite-difference check of the full graph gradient, including the leap
// correction and the disconnection mask, under L = sum(out^2)/2.
func TestLeapNetBackwardMatchesNumericGradient(t *testing.T) {
	const eps = 1e-6
	net, err := NewLeapNet(smallArch())
	require.NoError(t, err)

	xs := []*mat.Dense{
		mat.NewDense(2, 2, []float64{0.4, -1.1, 0.9, 0.2}),
		mat.NewDense(2, 3, []float64{1.0, 0.5, -0.2, 0.1, 0.1, 0.3}),
	}
	taus := []*mat.Dense{mat.NewDense(2, 3, []float64{0, 1, 0, 0, 0, 1})}
	mask, err := net.Mask(xs, taus)
	require.NoError(t, err)

	loss := func() float64 {
		outs, ferr := net.Forward(xs, taus, mask)
		require.NoError(t, ferr)
		var sum float64
		for _, out := range outs {
			r, c := out.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					sum += out.At(i, j) * out.At(i, j)
				}
			}
		}
		return sum / 2
	}

	outs, err := net.Forward(xs, taus, mask)
	require.NoError(t, err)
	require.NoError(t, net.Backward(outs))
	analytic := net.Grads()

	params := net.Params()
	require.Len(t, analytic, len(params))

	// spot-check a few entries of every parameter matrix
	for pi, p := range params {
		r, c := p.Dims()
		checks := [][2]int{{0, 0}, {r - 1, c - 1}, {r / 2, c / 2}}
		for _, rc := range checks {
			i, j := rc[0], rc[1]
			orig := p.At(i, j)
			p.Set(i, j, orig+eps)
			up := loss()
			p.Set(i, j, orig-eps)
			down := loss()
			p.Set(i, j, orig)

			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-analytic[pi].At(i, j)) > 1e-4 {
				t.Fatalf("param %d entry (%d,%d): numeric %v, analytic %v",
					pi, i, j, numeric, analytic[pi].At(i, j))
			}
		}
	}
}
