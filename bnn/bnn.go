// Package bnn defines the Bayesian neural network whose weight posterior is
// sampled: the network builder used for prediction and the unnormalized
// log-posterior used as the sampling target.
package bnn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"hmcbnn/neuralnet"
	"hmcbnn/params"
	"hmcbnn/predict"
)

// Architecture is a fully connected ReLU network with a linear output layer.
// Outputs is 1 for a fixed-noise regression head and 2 when the network also
// predicts its own noise variance.
type Architecture struct {
	Inputs  int   `yaml:"inputs"`
	Hidden  []int `yaml:"hidden"`
	Outputs int   `yaml:"outputs"`
}

// Layout returns the parameter-vector layout: (in, out) weights then (out,) biases per layer.
func (a Architecture) Layout() params.Layout {
	sizes := append(append([]int{a.Inputs}, a.Hidden...), a.Outputs)
	l := make(params.Layout, 0, 2*(len(sizes)-1))
	for i := 0; i < len(sizes)-1; i++ {
		l = append(l, tensor.Shape{sizes[i], sizes[i+1]}, tensor.Shape{sizes[i+1]})
	}
	return l
}

// NodesPerLayer lists units per dense layer, output layer included.
func (a Architecture) NodesPerLayer() []int {
	return append(append([]int{}, a.Hidden...), a.Outputs)
}

// Validate rejects architectures the likelihood cannot handle.
func (a Architecture) Validate() error {
	if a.Inputs < 1 {
		return errors.Errorf("architecture needs at least one input, got %d", a.Inputs)
	}
	for i, h := range a.Hidden {
		if h < 1 {
			return errors.Errorf("hidden layer %d has %d units", i+1, h)
		}
	}
	if a.Outputs != 1 && a.Outputs != 2 {
		return errors.Errorf("regression head needs 1 or 2 outputs, got %d", a.Outputs)
	}
	return nil
}

// Builder instantiates inference networks from parameter vectors.
type Builder struct {
	// Likelihood maps raw network outputs to a predictive variance.
	Likelihood neuralnet.GaussianNLL
}

// Build implements predict.Builder.
func (b Builder) Build(v params.Vector) (predict.Model, error) {
	nn, err := neuralnet.FromParams(v, neuralnet.ReLU{}, neuralnet.Linear{})
	if err != nil {
		return nil, errors.Wrap(err, "building network")
	}
	return &model{nn: nn, lik: b.Likelihood}, nil
}

type model struct {
	nn  *neuralnet.NeuralNetwork
	lik neuralnet.GaussianNLL
}

// Predict returns the predictive mean and variance for each row of x.
func (m *model) Predict(x *mat.Dense) (mean, variance []float64, err error) {
	out := m.nn.FeedForward(x)
	n, _ := out.Dims()
	mean = make([]float64, n)
	variance = make([]float64, n)
	for i := 0; i < n; i++ {
		mean[i] = out.At(i, 0)
		variance[i] = m.lik.Variance(out, i)
	}
	return mean, variance, nil
}

// Posterior is the unnormalized log-posterior of the network weights given
// training data: a Gaussian likelihood plus an isotropic Gaussian prior
// N(0, PriorStd²) on every weight and bias.
//
// A Posterior reuses one network for every evaluation and is not safe for
// concurrent use.
type Posterior struct {
	X, Y       *mat.Dense
	PriorStd   float64
	Likelihood neuralnet.GaussianNLL

	nn *neuralnet.NeuralNetwork
}

// NewPosterior checks the data against the architecture.
func NewPosterior(arch Architecture, x, y *mat.Dense, priorStd float64, lik neuralnet.GaussianNLL) (*Posterior, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n, c := x.Dims()
	if c != arch.Inputs {
		return nil, errors.Errorf("data has %d features, architecture expects %d", c, arch.Inputs)
	}
	if ny, _ := y.Dims(); ny != n {
		return nil, errors.Errorf("%d samples but %d targets", n, ny)
	}
	if priorStd <= 0 {
		return nil, errors.Errorf("prior std must be positive, got %v", priorStd)
	}
	if arch.Outputs == 1 && lik.NoiseStd <= 0 {
		return nil, errors.Errorf("a single-output network needs a positive noise std, got %v", lik.NoiseStd)
	}
	nn, err := neuralnet.FromParams(params.Zeros(arch.Layout()), neuralnet.ReLU{}, neuralnet.Linear{})
	if err != nil {
		return nil, err
	}
	return &Posterior{X: x, Y: y, PriorStd: priorStd, Likelihood: lik, nn: nn}, nil
}

// LogProbGrad returns log p(theta | X, Y) up to a constant and writes its
// gradient with respect to theta into grad.
func (p *Posterior) LogProbGrad(theta, grad []float64) float64 {
	p.nn.SetFlat(theta)
	out := p.nn.FeedForward(p.X)
	nll, dOut := p.Likelihood.Sum(out, p.Y)
	g := p.nn.Backpropagate(dOut).Flatten(grad[:0])

	s2 := p.PriorStd * p.PriorStd
	var sq float64
	for i, w := range theta {
		sq += w * w
		// the likelihood gradient is of the negative log-likelihood
		g[i] = -g[i] - w/s2
	}
	logPrior := -0.5*sq/s2 - float64(len(theta))*math.Log(p.PriorStd*math.Sqrt(2*math.Pi))
	return logPrior - nll
}
