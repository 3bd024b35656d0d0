package hmc

import (
	"gonum.org/v1/gonum/diff/fd"

	"hmcbnn/params"
)

// Target is an unnormalized log-density over a flattened parameter vector.
type Target interface {
	// LogProbGrad returns log p(x) and writes ∂log p/∂x into grad, which has len(x).
	LogProbGrad(x, grad []float64) float64
}

// TargetFunc adapts a function to Target.
type TargetFunc func(x, grad []float64) float64

func (f TargetFunc) LogProbGrad(x, grad []float64) float64 { return f(x, grad) }

// FiniteDifference wraps a log-density that has no analytic gradient; the
// gradient is estimated with central differences.
func FiniteDifference(logProb func(x []float64) float64) Target {
	settings := &fd.Settings{Formula: fd.Central}
	return TargetFunc(func(x, grad []float64) float64 {
		fd.Gradient(grad, logProb, x, settings)
		return logProb(x)
	})
}

// FromVector adapts a log-density over parameter vectors of the given
// layout, differentiated numerically.
func FromVector(layout params.Layout, logProb func(params.Vector) float64) Target {
	v := params.Zeros(layout)
	return FiniteDifference(func(x []float64) float64 {
		v.Set(x)
		return logProb(v)
	})
}
