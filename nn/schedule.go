package nn

import "math"

// Schedule adjusts the learning rate across training steps. Next is called
// once per step with the zero-based step index and the total loss of the
// previous step (NaN on the very first call).
type Schedule interface {
	Next(step int, lastLoss float64) float64
}

// ConstantLR keeps the learning rate fixed.
type ConstantLR struct {
	LR float64
}

// Next returns the constant learning rate.
func (c ConstantLR) Next(int, float64) float64 { return c.LR }

// ExponentialDecay decays the learning rate monotonically as
// base * rate^(step/decaySteps).
type ExponentialDecay struct {
	Base       float64
	DecayRate  float64
	DecaySteps int
}

// Next returns the decayed learning rate for the given step.
func (e ExponentialDecay) Next(step int, _ float64) float64 {
	if e.DecaySteps <= 0 {
		return e.Base
	}
	return e.Base * math.Pow(e.DecayRate, float64(step)/float64(e.DecaySteps))
}

// ReduceOnPlateau multiplies the learning rate by Factor whenever the loss
// has not improved for Patience consecutive steps, never going below MinLR.
type ReduceOnPlateau struct {
	Base     float64
	Factor   float64
	Patience int
	MinLR    float64

	current float64
	best    float64
	wait    int
	started bool
}

// Next updates the plateau bookkeeping with the previous step's loss and
// returns the learning rate to use.
func (r *ReduceOnPlateau) Next(_ int, lastLoss float64) float64 {
	if !r.started {
		r.current = r.Base
		r.best = math.Inf(1)
		r.started = true
	}
	if !math.IsNaN(lastLoss) {
		if lastLoss < r.best {
			r.best = lastLoss
			r.wait = 0
		} else {
			r.wait++
			if r.wait >= r.Patience {
				r.current *= r.Factor
				if r.current < r.MinLR {
					r.current = r.MinLR
				}
				r.wait = 0
			}
		}
	}
	return r.current
}
