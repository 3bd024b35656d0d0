package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LossFunction defines the interface for computing a batch loss and its gradient.
type LossFunction interface {
	// Compute returns the loss averaged over the rows of the batch.
	Compute(output, target *mat.Dense) float64
	// Gradient returns ∂L/∂output with the same shape as output.
	Gradient(output, target *mat.Dense) *mat.Dense
}

// MSE is the mean squared error over the leading target columns. Output
// columns beyond the target's width do not contribute.
type MSE struct{}

// Compute returns the mean squared error.
func (m MSE) Compute(output, target *mat.Dense) float64 {
	n, k := target.Dims()
	var loss float64
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			d := output.At(i, j) - target.At(i, j)
			loss += d * d
		}
	}
	return loss / float64(n*k)
}

// Gradient returns 2(output - target)/(n*k) on the target columns.
func (m MSE) Gradient(output, target *mat.Dense) *mat.Dense {
	n, k := target.Dims()
	_, c := output.Dims()
	grad := mat.NewDense(n, c, nil)
	scale := 2 / float64(n*k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			grad.Set(i, j, scale*(output.At(i, j)-target.At(i, j)))
		}
	}
	return grad
}

// GaussianNLL is the negative log-likelihood of a single regression target
// under a normal distribution. Column 0 of the output is the mean. With a
// second output column the variance is softplus(column 1) + MinVariance,
// otherwise it is NoiseStd².
type GaussianNLL struct {
	NoiseStd    float64
	MinVariance float64
}

// Variance returns the predictive variance encoded in row i of output.
func (g GaussianNLL) Variance(output mat.Matrix, i int) float64 {
	if _, c := output.Dims(); c > 1 {
		return Softplus{}.Activate(output.At(i, 1)) + g.MinVariance
	}
	return g.NoiseStd * g.NoiseStd
}

// Sum returns the total negative log-likelihood over the batch and its
// gradient with respect to output.
func (g GaussianNLL) Sum(output, target *mat.Dense) (float64, *mat.Dense) {
	n, c := output.Dims()
	grad := mat.NewDense(n, c, nil)
	var nll float64
	for i := 0; i < n; i++ {
		mu := output.At(i, 0)
		v := g.Variance(output, i)
		r := target.At(i, 0) - mu
		nll += 0.5 * (math.Log(2*math.Pi*v) + r*r/v)
		grad.Set(i, 0, -r/v)
		if c > 1 {
			dv := 0.5 * (1/v - r*r/(v*v))
			grad.Set(i, 1, dv*Softplus{}.Derivative(output.At(i, 1)))
		}
	}
	return nll, grad
}

// Compute returns the mean negative log-likelihood.
func (g GaussianNLL) Compute(output, target *mat.Dense) float64 {
	nll, _ := g.Sum(output, target)
	n, _ := output.Dims()
	return nll / float64(n)
}

// Gradient returns the gradient of the mean negative log-likelihood.
func (g GaussianNLL) Gradient(output, target *mat.Dense) *mat.Dense {
	_, grad := g.Sum(output, target)
	n, _ := output.Dims()
	grad.Scale(1/float64(n), grad)
	return grad
}
