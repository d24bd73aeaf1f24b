package nn

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// MaskAttr is the attribute interpreted as the per-line connectivity flag.
const MaskAttr = "line_status"

// Mask source locations recognized by the builder.
const (
	MaskInTau = "tau"
	MaskInX   = "x"
	MaskNone  = ""
)

// DefaultLineAttrs lists the output attributes that are indexed by power
// line and therefore forced to zero for disconnected lines.
func DefaultLineAttrs() []string {
	return []string{"a_or", "a_ex", "p_or", "p_ex", "q_or", "q_ex", "v_or", "v_ex"}
}

// Architecture describes the shape of a leap net. Widths of zero for the
// Scale* fields mean the corresponding up-scaling projection is absent.
type Architecture struct {
	AttrX   []string
	AttrTau []string
	AttrY   []string

	SzX   []int
	SzTau []int
	SzY   []int

	SizesEnc  []int
	SizesMain []int
	SizesOut  []int

	ScaleMain     int
	ScaleInputEnc int
	ScaleInputDec int

	// LineAttrs is the set of line-indexed output attributes subject to
	// disconnection masking. Empty means DefaultLineAttrs.
	LineAttrs []string

	Seed uint64
}

// LeapNet is the proxy's computation graph: one encoder stack per X
// attribute, a shared trunk, one leap correction per tau attribute
// accumulated in input order, and one decoder stack plus linear head per Y
// attribute. Line-indexed outputs are multiplied by the disconnection mask
// before leaving the network.
type LeapNet struct {
	arch Architecture

	encScale map[string]*Dense
	encoders map[string][]*Dense
	mainUp   *Dense
	main     []*Dense
	leaps    []*Ltau
	decScale map[string]*Dense
	decoders map[string][]*Dense
	heads    map[string]*Dense

	maskWhere string
	maskIdx   int
	masked    map[string]bool

	// forward caches for the backward pass
	encOuts []*mat.Dense
	concat  *mat.Dense
	mask    *mat.Dense
}

// NewLeapNet constructs the graph described by arch. If the mask attribute
// is present in neither input group a warning is emitted once and masking
// is disabled.
func NewLeapNet(arch Architecture) (*LeapNet, error) {
	if len(arch.AttrX) == 0 || len(arch.AttrX) != len(arch.SzX) {
		return nil, errors.NewValueError("NewLeapNet", "attr_x and sz_x must be non-empty and aligned")
	}
	if len(arch.AttrTau) != len(arch.SzTau) {
		return nil, errors.NewValueError("NewLeapNet", "attr_tau and sz_tau must be aligned")
	}
	if len(arch.AttrY) == 0 || len(arch.AttrY) != len(arch.SzY) {
		return nil, errors.NewValueError("NewLeapNet", "attr_y and sz_y must be non-empty and aligned")
	}

	src := rand.NewSource(arch.Seed)
	net := &LeapNet{
		arch:      arch,
		encScale:  make(map[string]*Dense),
		encoders:  make(map[string][]*Dense),
		decScale:  make(map[string]*Dense),
		decoders:  make(map[string][]*Dense),
		heads:     make(map[string]*Dense),
		masked:    make(map[string]bool),
		maskWhere: MaskNone,
		maskIdx:   -1,
	}

	net.locateMask()

	// encoder stacks, one per X attribute
	encWidth := 0
	for i, attr := range arch.AttrX {
		in := arch.SzX[i]
		if arch.ScaleInputEnc > 0 {
			net.encScale[attr] = NewDense(in, arch.ScaleInputEnc, false, src)
			in = arch.ScaleInputEnc
		}
		var stack []*Dense
		for _, size := range arch.SizesEnc {
			stack = append(stack, NewDense(in, size, true, src))
			in = size
		}
		net.encoders[attr] = stack
		encWidth += in
	}

	// shared trunk
	trunkIn := encWidth
	if arch.ScaleMain > 0 {
		net.mainUp = NewDense(trunkIn, arch.ScaleMain, false, src)
		trunkIn = arch.ScaleMain
	}
	for _, size := range arch.SizesMain {
		net.main = append(net.main, NewDense(trunkIn, size, true, src))
		trunkIn = size
	}
	trunkWidth := trunkIn

	// one leap correction per tau attribute, applied in input order
	for _, sz := range arch.SzTau {
		net.leaps = append(net.leaps, NewLtau(trunkWidth, sz, src))
	}

	// decoder stacks and linear heads, one per Y attribute
	lineAttrs := arch.LineAttrs
	if len(lineAttrs) == 0 {
		lineAttrs = DefaultLineAttrs()
	}
	lineSet := make(map[string]bool, len(lineAttrs))
	for _, a := range lineAttrs {
		lineSet[a] = true
	}
	for i, attr := range arch.AttrY {
		in := trunkWidth
		if arch.ScaleInputDec > 0 {
			net.decScale[attr] = NewDense(in, arch.ScaleInputDec, true, src)
			in = arch.ScaleInputDec
		}
		var stack []*Dense
		for _, size := range arch.SizesOut {
			stack = append(stack, NewDense(in, size, true, src))
			in = size
		}
		net.decoders[attr] = stack
		net.heads[attr] = NewDense(in, arch.SzY[i], false, src)
		net.masked[attr] = net.maskWhere != MaskNone && lineSet[attr]
	}

	return net, nil
}

// locateMask searches for the mask attribute, tau group first, then x.
func (n *LeapNet) locateMask() {
	for i, attr := range n.arch.AttrTau {
		if attr == MaskAttr {
			n.maskWhere = MaskInTau
			n.maskIdx = i
			return
		}
	}
	for i, attr := range n.arch.AttrX {
		if attr == MaskAttr {
			n.maskWhere = MaskInX
			n.maskIdx = i
			return
		}
	}
	errors.Warn(errors.NewMaskSourceWarning(MaskAttr))
}

// MaskSource reports where the mask attribute lives ("tau", "x" or empty)
// and its index within that group.
func (n *LeapNet) MaskSource() (where string, idx int) {
	return n.maskWhere, n.maskIdx
}

// Masked reports whether the given output attribute is subject to
// disconnection masking.
func (n *LeapNet) Masked(attr string) bool { return n.masked[attr] }

// Mask computes the disconnection mask 1 - line_status from the raw (not
// normalized) input groups, so that disconnected lines zero their outputs
// exactly regardless of scaler state. It returns nil when masking is
// disabled.
func (n *LeapNet) Mask(rawXs, rawTaus []*mat.Dense) (*mat.Dense, error) {
	switch n.maskWhere {
	case MaskNone:
		return nil, nil
	case MaskInTau:
		return oneMinus(rawTaus[n.maskIdx]), nil
	case MaskInX:
		return oneMinus(rawXs[n.maskIdx]), nil
	default:
		return nil, errors.NewAmbiguousMaskSourceError(MaskAttr, n.maskWhere)
	}
}

func oneMinus(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return 1.0 - v }, m)
	return out
}

// Forward runs the graph on normalized input batches. xs and taus hold one
// (batch x width) matrix per attribute in configuration order; mask is the
// raw disconnection mask (nil when masking is disabled). The returned
// slice holds one output matrix per Y attribute.
func (n *LeapNet) Forward(xs, taus []*mat.Dense, mask *mat.Dense) ([]*mat.Dense, error) {
	if len(xs) != len(n.arch.AttrX) {
		return nil, errors.NewDimensionError("LeapNet.Forward/x", len(n.arch.AttrX), len(xs))
	}
	if len(taus) != len(n.arch.AttrTau) {
		return nil, errors.NewDimensionError("LeapNet.Forward/tau", len(n.arch.AttrTau), len(taus))
	}
	if n.maskWhere != MaskNone && n.maskWhere != MaskInTau && n.maskWhere != MaskInX {
		return nil, errors.NewAmbiguousMaskSourceError(MaskAttr, n.maskWhere)
	}

	batch, _ := xs[0].Dims()

	// per-attribute encoders
	n.encOuts = n.encOuts[:0]
	encWidth := 0
	for i, attr := range n.arch.AttrX {
		lay := xs[i]
		if up, ok := n.encScale[attr]; ok {
			lay = up.Forward(lay)
		}
		for _, d := range n.encoders[attr] {
			lay = d.Forward(lay)
		}
		n.encOuts = append(n.encOuts, lay)
		_, w := lay.Dims()
		encWidth += w
	}

	// concatenate the encodings
	n.concat = mat.NewDense(batch, encWidth, nil)
	col := 0
	for _, enc := range n.encOuts {
		_, w := enc.Dims()
		n.concat.Slice(0, batch, col, col+w).(*mat.Dense).Copy(enc)
		col += w
	}

	// shared trunk
	lay := n.concat
	if n.mainUp != nil {
		lay = n.mainUp.Forward(lay)
	}
	for _, d := range n.main {
		lay = d.Forward(lay)
	}

	// leap corrections, accumulated onto the trunk output in tau input
	// order; every correction reads the trunk output itself, not the
	// partially accumulated state
	state := lay
	for i, leap := range n.leaps {
		corr := leap.Forward(lay, taus[i])
		next := mat.DenseCopyOf(state)
		next.Add(next, corr)
		state = next
	}

	n.mask = mask

	// per-attribute decoders
	outs := make([]*mat.Dense, len(n.arch.AttrY))
	for i, attr := range n.arch.AttrY {
		lay := state
		if up, ok := n.decScale[attr]; ok {
			lay = up.Forward(lay)
		}
		for _, d := range n.decoders[attr] {
			lay = d.Forward(lay)
		}
		raw := n.heads[attr].Forward(lay)
		if n.masked[attr] {
			if mask == nil {
				return nil, errors.NewAmbiguousMaskSourceError(MaskAttr, n.maskWhere)
			}
			_, mw := mask.Dims()
			_, rw := raw.Dims()
			if mw != rw {
				return nil, errors.NewDimensionError("LeapNet.Forward/mask "+attr, rw, mw)
			}
			masked := mat.NewDense(batch, rw, nil)
			masked.MulElem(raw, mask)
			outs[i] = masked
		} else {
			outs[i] = raw
		}
	}
	return outs, nil
}

// Backward propagates per-output gradients through the graph, accumulating
// parameter gradients for the optimizer. dOuts holds one gradient matrix
// per Y attribute, aligned with the Forward return.
func (n *LeapNet) Backward(dOuts []*mat.Dense) error {
	if len(dOuts) != len(n.arch.AttrY) {
		return errors.NewDimensionError("LeapNet.Backward", len(n.arch.AttrY), len(dOuts))
	}

	batch, _ := dOuts[0].Dims()
	var trunkWidth int
	if len(n.main) > 0 {
		_, trunkWidth = n.main[len(n.main)-1].W.Dims()
	} else if n.mainUp != nil {
		_, trunkWidth = n.mainUp.W.Dims()
	} else {
		_, trunkWidth = n.concat.Dims()
	}

	// decoders, accumulating into the corrected trunk state
	dState := mat.NewDense(batch, trunkWidth, nil)
	for i, attr := range n.arch.AttrY {
		grad := dOuts[i]
		if n.masked[attr] {
			_, w := grad.Dims()
			g := mat.NewDense(batch, w, nil)
			g.MulElem(grad, n.mask)
			grad = g
		}
		d := n.heads[attr].Backward(grad)
		stack := n.decoders[attr]
		for j := len(stack) - 1; j >= 0; j-- {
			d = stack[j].Backward(d)
		}
		if up, ok := n.decScale[attr]; ok {
			d = up.Backward(d)
		}
		dState.Add(dState, d)
	}

	// leap corrections in reverse accumulation order. Each correction
	// feeds from the trunk output, so its input gradient folds back into
	// the trunk gradient alongside the pass-through term.
	dTrunk := dState
	for i := len(n.leaps) - 1; i >= 0; i-- {
		dH := n.leaps[i].Backward(dState)
		dTrunk = mat.DenseCopyOf(dTrunk)
		dTrunk.Add(dTrunk, dH)
	}

	// shared trunk
	d := dTrunk
	for j := len(n.main) - 1; j >= 0; j-- {
		d = n.main[j].Backward(d)
	}
	if n.mainUp != nil {
		d = n.mainUp.Backward(d)
	}

	// split the concat gradient back to the encoder stacks
	col := 0
	for i, attr := range n.arch.AttrX {
		_, w := n.encOuts[i].Dims()
		dEnc := mat.DenseCopyOf(d.Slice(0, batch, col, col+w))
		col += w
		stack := n.encoders[attr]
		for j := len(stack) - 1; j >= 0; j-- {
			dEnc = stack[j].Backward(dEnc)
		}
		if up, ok := n.encScale[attr]; ok {
			up.Backward(dEnc)
		}
	}
	return nil
}

// Params returns every learned parameter matrix in a deterministic builder
// order: encoder stacks in X order, trunk, leap layers in tau order,
// decoder stacks and heads in Y order.
func (n *LeapNet) Params() []*mat.Dense {
	var ps []*mat.Dense
	for _, attr := range n.arch.AttrX {
		if up, ok := n.encScale[attr]; ok {
			ps = append(ps, up.Params()...)
		}
		for _, d := range n.encoders[attr] {
			ps = append(ps, d.Params()...)
		}
	}
	if n.mainUp != nil {
		ps = append(ps, n.mainUp.Params()...)
	}
	for _, d := range n.main {
		ps = append(ps, d.Params()...)
	}
	for _, l := range n.leaps {
		ps = append(ps, l.Params()...)
	}
	for _, attr := range n.arch.AttrY {
		if up, ok := n.decScale[attr]; ok {
			ps = append(ps, up.Params()...)
		}
		for _, d := range n.decoders[attr] {
			ps = append(ps, d.Params()...)
		}
		ps = append(ps, n.heads[attr].Params()...)
	}
	return ps
}

// Grads returns every parameter gradient, aligned with Params.
func (n *LeapNet) Grads() []*mat.Dense {
	var gs []*mat.Dense
	for _, attr := range n.arch.AttrX {
		if up, ok := n.encScale[attr]; ok {
			gs = append(gs, up.Grads()...)
		}
		for _, d := range n.encoders[attr] {
			gs = append(gs, d.Grads()...)
		}
	}
	if n.mainUp != nil {
		gs = append(gs, n.mainUp.Grads()...)
	}
	for _, d := range n.main {
		gs = append(gs, d.Grads()...)
	}
	for _, l := range n.leaps {
		gs = append(gs, l.Grads()...)
	}
	for _, attr := range n.arch.AttrY {
		if up, ok := n.decScale[attr]; ok {
			gs = append(gs, up.Grads()...)
		}
		for _, d := range n.decoders[attr] {
			gs = append(gs, d.Grads()...)
		}
		gs = append(gs, n.heads[attr].Grads()...)
	}
	return gs
}

// Weights snapshots every parameter matrix as flat float64 slices in Params
// order, suitable for gob persistence.
func (n *LeapNet) Weights() [][]float64 {
	params := n.Params()
	out := make([][]float64, len(params))
	for i, p := range params {
		r, c := p.Dims()
		flat := make([]float64, r*c)
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				flat[ri*c+ci] = p.At(ri, ci)
			}
		}
		out[i] = flat
	}
	return out
}

// SetWeights restores a snapshot produced by Weights into the existing
// graph. The architecture must match the one the snapshot was taken from.
func (n *LeapNet) SetWeights(ws [][]float64) error {
	params := n.Params()
	if len(ws) != len(params) {
		return errors.NewDimensionError("LeapNet.SetWeights", len(params), len(ws))
	}
	for i, p := range params {
		r, c := p.Dims()
		if len(ws[i]) != r*c {
			return errors.NewDimensionError("LeapNet.SetWeights", r*c, len(ws[i]))
		}
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				p.Set(ri, ci, ws[i][ri*c+ci])
			}
		}
	}
	return nil
}
