package nn

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

// Ltau is the leap correction layer. Given the trunk encoding h (width n)
// and an auxiliary tau vector (width t) it computes
//
//	out = ((h * Wd) ⊙ tau) * We
//
// a bilinear gating term that lets the tau context reshape the trunk
// encoding multiplicatively. The layer carries no biases and no additive
// skip of its own; the caller accumulates the correction onto the trunk
// encoding, one tau attribute at a time, in input order.
type Ltau struct {
	Wd *mat.Dense // n x t
	We *mat.Dense // t x n

	// caches from the last Forward
	h   *mat.Dense
	tau *mat.Dense
	m   *mat.Dense

	// gradients from the last Backward
	gWd *mat.Dense
	gWe *mat.Dense
}

// NewLtau creates a leap layer mapping a trunk of width n through a tau
// vector of width t.
func NewLtau(n, t int, src rand.Source) *Ltau {
	return &Ltau{
		Wd: glorot(n, t, src),
		We: glorot(t, n, src),
	}
}

// Forward computes the correction term for a (batch x n) trunk encoding and
// a (batch x t) tau batch.
func (l *Ltau) Forward(h, tau *mat.Dense) *mat.Dense {
	batch, _ := h.Dims()
	_, t := l.Wd.Dims()
	_, n := l.We.Dims()

	d := mat.NewDense(batch, t, nil)
	d.Mul(h, l.Wd)

	m := mat.NewDense(batch, t, nil)
	m.MulElem(d, tau)

	out := mat.NewDense(batch, n, nil)
	out.Mul(m, l.We)

	l.h = h
	l.tau = tau
	l.m = m
	return out
}

// Backward computes parameter gradients for the last Forward and returns
// the gradient with respect to the trunk encoding. The tau input receives
// no gradient: it is an environment-provided context, not a learned value.
func (l *Ltau) Backward(dOut *mat.Dense) *mat.Dense {
	batch, _ := dOut.Dims()
	n, t := l.Wd.Dims()

	l.gWe = mat.NewDense(t, n, nil)
	l.gWe.Mul(l.m.T(), dOut)

	dM := mat.NewDense(batch, t, nil)
	dM.Mul(dOut, l.We.T())

	dD := mat.NewDense(batch, t, nil)
	dD.MulElem(dM, l.tau)

	l.gWd = mat.NewDense(n, t, nil)
	l.gWd.Mul(l.h.T(), dD)

	dH := mat.NewDense(batch, n, nil)
	dH.Mul(dD, l.Wd.T())
	return dH
}

// Params returns the layer parameters in a stable order.
func (l *Ltau) Params() []*mat.Dense { return []*mat.Dense{l.Wd, l.We} }

// Grads returns the gradients matching Params order.
func (l *Ltau) Grads() []*mat.Dense { return []*mat.Dense{l.gWd, l.gWe} }
