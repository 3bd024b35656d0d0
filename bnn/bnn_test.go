package bnn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"hmcbnn/neuralnet"
	"hmcbnn/params"
)

func regressionData(n, features int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(5))
	x := mat.NewDense(n, features, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < features; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
		y.Set(i, 0, math.Sin(x.At(i, 0))+0.1*rng.NormFloat64())
	}
	return x, y
}

func randomTheta(layout params.Layout, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	theta := make([]float64, layout.Size())
	for i := range theta {
		theta[i] = 0.5 * rng.NormFloat64()
	}
	return theta
}

func TestLayout(t *testing.T) {
	a := Architecture{Inputs: 5, Hidden: []int{8}, Outputs: 1}
	want := [][]int{{5, 8}, {8}, {8, 1}, {1}}
	l := a.Layout()
	if len(l) != len(want) {
		t.Fatalf("len(Layout()) = %d; want %d", len(l), len(want))
	}
	for i := range want {
		if !l[i].Eq(want[i]) {
			t.Errorf("Layout()[%d] = %v; want %v", i, l[i], want[i])
		}
	}
	if got := a.NodesPerLayer(); len(got) != 2 || got[0] != 8 || got[1] != 1 {
		t.Errorf("NodesPerLayer() = %v; want [8 1]", got)
	}
}

func TestArchitectureValidate(t *testing.T) {
	bad := []Architecture{
		{Inputs: 0, Outputs: 1},
		{Inputs: 2, Hidden: []int{0}, Outputs: 1},
		{Inputs: 2, Outputs: 3},
	}
	for _, a := range bad {
		if err := a.Validate(); err == nil {
			t.Errorf("Validate(%+v) did not fail", a)
		}
	}
}

func TestPosteriorGradient(t *testing.T) {
	for _, outputs := range []int{1, 2} {
		arch := Architecture{Inputs: 3, Hidden: []int{4}, Outputs: outputs}
		x, y := regressionData(12, 3)
		post, err := NewPosterior(arch, x, y, 1.5, neuralnet.GaussianNLL{NoiseStd: 0.3, MinVariance: 1e-6})
		if err != nil {
			t.Fatalf("NewPosterior: %v", err)
		}
		theta := randomTheta(arch.Layout(), int64(outputs))
		grad := make([]float64, len(theta))
		post.LogProbGrad(theta, grad)

		scratch := make([]float64, len(theta))
		numeric := fd.Gradient(nil, func(p []float64) float64 {
			return post.LogProbGrad(p, scratch)
		}, theta, &fd.Settings{Formula: fd.Central})
		for i := range theta {
			if math.Abs(grad[i]-numeric[i]) > 1e-4*math.Max(1, math.Abs(numeric[i])) {
				t.Errorf("outputs=%d: grad[%d] = %v; want approx %v", outputs, i, grad[i], numeric[i])
			}
		}
	}
}

func TestPosteriorPrefersFit(t *testing.T) {
	arch := Architecture{Inputs: 1, Outputs: 1}
	x := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewDense(3, 1, []float64{-2, 0, 2})
	post, err := NewPosterior(arch, x, y, 10, neuralnet.GaussianNLL{NoiseStd: 0.1})
	if err != nil {
		t.Fatalf("NewPosterior: %v", err)
	}
	grad := make([]float64, 2)
	good := post.LogProbGrad([]float64{2, 0}, grad)
	bad := post.LogProbGrad([]float64{-2, 0}, grad)
	if good <= bad {
		t.Errorf("log posterior of the true slope %v <= wrong slope %v", good, bad)
	}
}

func TestNewPosteriorRejectsMismatch(t *testing.T) {
	x, y := regressionData(4, 3)
	arch := Architecture{Inputs: 2, Outputs: 1}
	if _, err := NewPosterior(arch, x, y, 1, neuralnet.GaussianNLL{NoiseStd: 1}); err == nil {
		t.Error("NewPosterior accepted 3 features for a 2-input network")
	}
	arch.Inputs = 3
	if _, err := NewPosterior(arch, x, y, 0, neuralnet.GaussianNLL{NoiseStd: 1}); err == nil {
		t.Error("NewPosterior accepted a zero prior std")
	}
	if _, err := NewPosterior(arch, x, y, 1, neuralnet.GaussianNLL{}); err == nil {
		t.Error("NewPosterior accepted a single output without noise std")
	}
}

func TestBuilderVariances(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{1, -1})
	homo, _ := params.New(Architecture{Inputs: 1, Outputs: 1}.Layout(), []float64{2, 0.5})
	m, err := Builder{Likelihood: neuralnet.GaussianNLL{NoiseStd: 0.2}}.Build(homo)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	mean, variance, _ := m.Predict(x)
	if mean[0] != 2.5 || mean[1] != -1.5 {
		t.Errorf("mean = %v; want [2.5 -1.5]", mean)
	}
	for _, v := range variance {
		if math.Abs(v-0.04) > 1e-12 {
			t.Errorf("variance = %v; want 0.04", v)
		}
	}

	// second output is a constant 0 pre-activation: variance softplus(0) + min
	hetero, _ := params.New(Architecture{Inputs: 1, Outputs: 2}.Layout(), []float64{1, 0, 0, 0})
	m, err = Builder{Likelihood: neuralnet.GaussianNLL{MinVariance: 1e-3}}.Build(hetero)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, variance, _ = m.Predict(x)
	for _, v := range variance {
		if want := math.Log(2) + 1e-3; math.Abs(v-want) > 1e-12 {
			t.Errorf("heteroscedastic variance = %v; want %v", v, want)
		}
	}
}
