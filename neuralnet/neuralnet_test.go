package neuralnet

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func sineData(n int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := rng.NormFloat64()
		x.Set(i, 0, v)
		y.Set(i, 0, math.Sin(v))
	}
	return x, y
}

func TestLayoutMatchesArchitecture(t *testing.T) {
	nn := NewNeuralNetwork(5, []int{8}, 1, NewParams(0.01), ReLU{}, Linear{})
	want := [][]int{{5, 8}, {8}, {8, 1}, {1}}
	l := nn.Layout()
	if len(l) != len(want) {
		t.Fatalf("len(Layout()) = %d; want %d", len(l), len(want))
	}
	for i := range want {
		if !l[i].Eq(want[i]) {
			t.Errorf("Layout()[%d] = %v; want %v", i, l[i], want[i])
		}
	}
}

func TestFromParamsRoundTrip(t *testing.T) {
	nn := NewNeuralNetwork(3, []int{4, 2}, 2, NewParams(0.01), Tanh{}, Linear{})
	v, err := nn.ParamVector()
	if err != nil {
		t.Fatalf("ParamVector: %v", err)
	}
	rebuilt, err := FromParams(v, Tanh{}, Linear{})
	if err != nil {
		t.Fatalf("FromParams: %v", err)
	}
	x := mat.NewDense(2, 3, []float64{0.1, -0.2, 0.3, 1, 2, -1})
	a, b := nn.FeedForward(x), rebuilt.FeedForward(x)
	if !mat.EqualApprox(a, b, 1e-12) {
		t.Errorf("rebuilt network output %v; want %v", mat.Formatted(b), mat.Formatted(a))
	}
}

func TestFromParamsRejectsBrokenLayers(t *testing.T) {
	nn := NewNeuralNetwork(3, []int{4}, 1, NewParams(0.01), ReLU{}, Linear{})
	v, err := nn.ParamVector()
	if err != nil {
		t.Fatalf("ParamVector: %v", err)
	}
	if _, err := FromParams(v[:3], ReLU{}, Linear{}); err == nil {
		t.Error("FromParams accepted an odd number of tensors")
	}
	v[2], v[0] = v[0], v[2]
	if _, err := FromParams(v, ReLU{}, Linear{}); err == nil {
		t.Error("FromParams accepted mismatched layer shapes")
	}
}

func TestBackpropagateMatchesFiniteDifferences(t *testing.T) {
	nn := NewNeuralNetwork(2, []int{3}, 2, NewParams(0.01), Tanh{}, Linear{})
	x := mat.NewDense(4, 2, []float64{0.5, -1, 0.3, 0.8, -0.7, 0.1, 1.2, -0.4})
	y := mat.NewDense(4, 1, []float64{0.2, -0.1, 0.9, 0.4})
	loss := GaussianNLL{MinVariance: 1e-6}

	theta := nn.Flatten(nil)
	f := func(p []float64) float64 {
		nn.SetFlat(p)
		return loss.Compute(nn.FeedForward(x), y)
	}
	numeric := fd.Gradient(nil, f, theta, &fd.Settings{Formula: fd.Central})

	nn.SetFlat(theta)
	out := nn.FeedForward(x)
	analytic := nn.Backpropagate(loss.Gradient(out, y)).Flatten(nil)
	for i := range theta {
		if !floatEquals(analytic[i], numeric[i], 1e-5) {
			t.Errorf("gradient[%d] = %v; want approx %v", i, analytic[i], numeric[i])
		}
	}
}

func TestTrainMiniBatchReducesLoss(t *testing.T) {
	x, y := sineData(200, 1)
	nn := NewNeuralNetwork(1, []int{16}, 1, NewParams(0.01), ReLU{}, Linear{})
	history, err := nn.TrainMiniBatch(x, y, 50, 32, MSE{}, &Adam{}, rand.New(rand.NewSource(2)), nil)
	if err != nil {
		t.Fatalf("TrainMiniBatch: %v", err)
	}
	if len(history) != 50 {
		t.Fatalf("len(history) = %d; want 50", len(history))
	}
	if history[len(history)-1] >= history[0] {
		t.Errorf("loss did not decrease: first %v, last %v", history[0], history[len(history)-1])
	}
	if r2 := nn.Evaluate(x, y); r2 < 0.5 {
		t.Errorf("Evaluate() R² = %v; want > 0.5", r2)
	}
}

func TestTrainMiniBatchRejectsMismatchedTargets(t *testing.T) {
	x, _ := sineData(10, 1)
	_, y := sineData(9, 1)
	nn := NewNeuralNetwork(1, []int{4}, 1, NewParams(0.01), ReLU{}, Linear{})
	if _, err := nn.TrainMiniBatch(x, y, 1, 4, MSE{}, &SGD{}, rand.New(rand.NewSource(1)), nil); err == nil {
		t.Error("TrainMiniBatch accepted 10 samples with 9 targets")
	}
}

func TestEvaluate(t *testing.T) {
	nn := NewNeuralNetwork(1, nil, 1, NewParams(0.01), ReLU{}, Linear{})
	nn.SetFlat([]float64{2, 1})
	x := mat.NewDense(4, 1, []float64{-1, 0, 1, 2})
	tests := []struct {
		name string
		y    []float64
		want float64
	}{
		{"exact", []float64{-1, 1, 3, 5}, 1},
		{"poor fit", []float64{1, 1, 3, 3}, -1},
		{"constant targets", []float64{2, 2, 2, 2}, 0},
	}
	for _, tt := range tests {
		got := nn.Evaluate(x, mat.NewDense(4, 1, tt.y))
		if !floatEquals(got, tt.want, 1e-12) {
			t.Errorf("%s: Evaluate() = %v; want %v", tt.name, got, tt.want)
		}
	}
}
