package hmc

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Default step-size adaptation settings.
const (
	DefaultTargetAcceptProb = 0.75
	DefaultAdaptationRate   = 0.01
)

// KernelResult is the sampler bookkeeping after a step. It is all that is
// needed, together with the last chain snapshot, to continue a chain.
type KernelResult struct {
	// Step counts iterations taken by the adaptive kernel over the whole chain.
	Step     int
	StepSize float64

	NumAdaptationSteps int
	TargetAcceptProb   float64
	AdaptationRate     float64

	IsAccepted     bool
	LogAcceptRatio float64
	TargetLogProb  float64
	NumAccepted    int
}

// AcceptanceRate is the fraction of accepted proposals so far.
func (r KernelResult) AcceptanceRate() float64 {
	if r.Step == 0 {
		return 0
	}
	return float64(r.NumAccepted) / float64(r.Step)
}

// Adapting reports whether the next step still tunes the step size.
func (r KernelResult) Adapting() bool {
	return r.Step < r.NumAdaptationSteps
}

// state is the current position with its cached density and gradient.
type state struct {
	x       []float64
	logProb float64
	grad    []float64
}

func newState(target Target, x []float64) state {
	s := state{x: x, grad: make([]float64, len(x))}
	s.logProb = target.LogProbGrad(s.x, s.grad)
	return s
}

func (s state) finite() bool {
	if math.IsNaN(s.logProb) || math.IsInf(s.logProb, 0) {
		return false
	}
	for _, g := range s.grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return false
		}
	}
	return true
}

// kernel simulates Hamiltonian dynamics with an identity mass matrix.
type kernel struct {
	target           Target
	numLeapfrogSteps int
	rng              *rand.Rand
}

// proposal is the result of one leapfrog trajectory.
type proposal struct {
	next           state
	logAcceptRatio float64
}

// propose draws a momentum and integrates numLeapfrogSteps leapfrog steps of
// size eps from cur.
func (k *kernel) propose(cur state, eps float64) proposal {
	n := len(cur.x)
	p := make([]float64, n)
	for i := range p {
		p[i] = k.rng.NormFloat64()
	}
	h0 := -cur.logProb + 0.5*floats.Dot(p, p)

	x := append([]float64(nil), cur.x...)
	grad := append([]float64(nil), cur.grad...)
	var logProb float64
	floats.AddScaled(p, 0.5*eps, grad)
	for l := 0; l < k.numLeapfrogSteps; l++ {
		floats.AddScaled(x, eps, p)
		logProb = k.target.LogProbGrad(x, grad)
		if l < k.numLeapfrogSteps-1 {
			floats.AddScaled(p, eps, grad)
		}
	}
	floats.AddScaled(p, 0.5*eps, grad)

	next := state{x: x, logProb: logProb, grad: grad}
	h1 := -logProb + 0.5*floats.Dot(p, p)
	return proposal{next: next, logAcceptRatio: h0 - h1}
}

// accept applies the Metropolis criterion to a log acceptance ratio.
func (k *kernel) accept(logAcceptRatio float64) bool {
	if logAcceptRatio >= 0 {
		return true
	}
	return math.Log(k.rng.Float64()) < logAcceptRatio
}

// adaptStepSize nudges the step size toward the target acceptance
// probability while the adaptation window is open.
func adaptStepSize(r *KernelResult) {
	if !r.Adapting() {
		return
	}
	acceptProb := math.Exp(math.Min(r.LogAcceptRatio, 0))
	if acceptProb > r.TargetAcceptProb {
		r.StepSize *= 1 + r.AdaptationRate
	} else {
		r.StepSize *= 1 - r.AdaptationRate
	}
}
