// Package nn implements the leap-net computation graph: dense encoder,
// trunk and decoder stacks, the leap correction layer conditioned on
// auxiliary tau inputs, the Adam optimizer and learning-rate schedules.
// All math runs on gonum dense matrices in float64.
package nn

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dense is a fully connected layer y = act(x*W + b) with an optional ReLU
// non-linearity. Forward caches the activations needed by Backward, so a
// layer instance serves exactly one in-flight batch at a time.
type Dense struct {
	W *mat.Dense // in x out
	B *mat.Dense // 1 x out

	Relu bool

	// caches from the last Forward
	in  *mat.Dense
	pre *mat.Dense

	// gradients from the last Backward
	gW *mat.Dense
	gB *mat.Dense
}

// NewDense creates a dense layer with Glorot-uniform initialized weights
// and zero biases, drawing from src for reproducible builds.
func NewDense(in, out int, relu bool, src rand.Source) *Dense {
	return &Dense{
		W:    glorot(in, out, src),
		B:    mat.NewDense(1, out, nil),
		Relu: relu,
	}
}

// glorot samples an (in x out) weight matrix from the Glorot-uniform
// distribution.
func glorot(in, out int, src rand.Source) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}

	w := make([]float64, in*out)
	for i := range w {
		w[i] = dist.Rand()
	}
	return mat.NewDense(in, out, w)
}

// Forward computes the layer output for a (batch x in) input.
func (d *Dense) Forward(x *mat.Dense) *mat.Dense {
	batch, _ := x.Dims()
	_, out := d.W.Dims()

	pre := mat.NewDense(batch, out, nil)
	pre.Mul(x, d.W)
	for i := 0; i < batch; i++ {
		for j := 0; j < out; j++ {
			pre.Set(i, j, pre.At(i, j)+d.B.At(0, j))
		}
	}

	d.in = x
	d.pre = pre

	if !d.Relu {
		return pre
	}
	act := mat.NewDense(batch, out, nil)
	act.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, pre)
	return act
}

// Backward accumulates parameter gradients for the last Forward batch and
// returns the gradient with respect to the layer input.
func (d *Dense) Backward(dOut *mat.Dense) *mat.Dense {
	batch, out := dOut.Dims()
	in, _ := d.W.Dims()

	dPre := dOut
	if d.Relu {
		dPre = mat.NewDense(batch, out, nil)
		for i := 0; i < batch; i++ {
			for j := 0; j < out; j++ {
				if d.pre.At(i, j) > 0 {
					dPre.Set(i, j, dOut.At(i, j))
				}
			}
		}
	}

	d.gW = mat.NewDense(in, out, nil)
	d.gW.Mul(d.in.T(), dPre)

	d.gB = mat.NewDense(1, out, nil)
	for j := 0; j < out; j++ {
		var sum float64
		for i := 0; i < batch; i++ {
			sum += dPre.At(i, j)
		}
		d.gB.Set(0, j, sum)
	}

	dIn := mat.NewDense(batch, in, nil)
	dIn.Mul(dPre, d.W.T())
	return dIn
}

// Params returns the layer parameters in a stable order.
func (d *Dense) Params() []*mat.Dense { return []*mat.Dense{d.W, d.B} }

// Grads returns the gradients matching Params order.
func (d *Dense) Grads() []*mat.Dense { return []*mat.Dense{d.gW, d.gB} }
