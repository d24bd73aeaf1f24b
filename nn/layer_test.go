package nn

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

func TestDenseForward(t *testing.T) {
	d := NewDense(2, 2, false, rand.NewSource(1))
	d.W = mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})
	d.B = mat.NewDense(1, 2, []float64{0.5, -0.5})

	x := mat.NewDense(1, 2, []float64{1, 1})
	out := d.Forward(x)

	if got, want := out.At(0, 0), 4.5; got != want {
		t.Errorf("out[0,0] = %v, want %v", got, want)
	}
	if got, want := out.At(0, 1), 5.5; got != want {
		t.Errorf("out[0,1] = %v, want %v", got, want)
	}
}

func TestDenseReluClampsNegative(t *testing.T) {
	d := NewDense(1, 2, true, rand.NewSource(1))
	d.W = mat.NewDense(1, 2, []float64{1, -1})
	d.B = mat.NewDense(1, 2, nil)

	out := d.Forward(mat.NewDense(1, 1, []float64{3}))
	if got := out.At(0, 0); got != 3 {
		t.Errorf("positive pre-activation: got %v, want 3", got)
	}
	if got := out.At(0, 1); got != 0 {
		t.Errorf("negative pre-activation: got %v, want 0", got)
	}
}

// numeric gradient check on a small dense layer with the squared-error
// objective L = sum(out^2)/2, so dL/dout = out.
func TestDenseBackwardMatchesNumericGradient(t *testing.T) {
	const eps = 1e-6
	src := rand.NewSource(7)
	d := NewDense(3, 2, true, src)
	x := mat.NewDense(2, 3, []float64{0.3, -1.2, 0.8, 1.1, 0.05, -0.4})

	loss := func() float64 {
		out := d.Forward(x)
		var sum float64
		r, c := out.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				sum += out.At(i, j) * out.At(i, j)
			}
		}
		return sum / 2
	}

	out := d.Forward(x)
	d.Backward(out)
	analytic := d.Grads()

	params := d.Params()
	for pi, p := range params {
		r, c := p.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := p.At(i, j)
				p.Set(i, j, orig+eps)
				up := loss()
				p.Set(i, j, orig-eps)
				down := loss()
				p.Set(i, j, orig)

				numeric := (up - down) / (2 * eps)
				if math.Abs(numeric-analytic[pi].At(i, j)) > 1e-4 {
					t.Fatalf("param %d at (%d,%d): numeric %v, analytic %v",
						pi, i, j, numeric, analytic[pi].At(i, j))
				}
			}
		}
	}
}

func TestLtauForward(t *testing.T) {
	l := NewLtau(2, 1, rand.NewSource(1))
	l.Wd = mat.NewDense(2, 1, []float64{1, 1})
	l.We = mat.NewDense(1, 2, []float64{2, 3})

	h := mat.NewDense(1, 2, []float64{1, 2})
	tau := mat.NewDense(1, 1, []float64{0.5})

	// d = h*Wd = 3; m = d*tau = 1.5; out = m*We = (3, 4.5)
	out := l.Forward(h, tau)
	if got := out.At(0, 0); got != 3 {
		t.Errorf("out[0,0] = %v, want 3", got)
	}
	if got := out.At(0, 1); got != 4.5 {
		t.Errorf("out[0,1] = %v, want 4.5", got)
	}
}

func TestLtauZeroTauGivesZeroCorrection(t *testing.T) {
	l := NewLtau(4, 3, rand.NewSource(99))
	h := mat.NewDense(2, 4, []float64{1, 2, 3, 4, -1, -2, -3, -4})
	tau := mat.NewDense(2, 3, nil)

	out := l.Forward(h, tau)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if out.At(i, j) != 0 {
				t.Fatalf("correction with zero tau must vanish, got %v at (%d,%d)", out.At(i, j), i, j)
			}
		}
	}
}
