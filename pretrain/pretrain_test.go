package pretrain

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"hmcbnn/neuralnet"
)

func sine(n int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(9))
	x := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := rng.NormFloat64()
		x.Set(i, 0, v)
		y.Set(i, 0, math.Sin(v))
	}
	return x, y
}

func TestPreTrain(t *testing.T) {
	x, y := sine(300)
	v, nn, err := PreTrain(x, y, []int{32, 32, 2}, Options{Epochs: 60, Params: neuralnet.NewParams(0.01)})
	if err != nil {
		t.Fatalf("PreTrain: %v", err)
	}
	want := [][]int{{1, 32}, {32}, {32, 32}, {32}, {32, 2}, {2}}
	if len(v) != len(want) {
		t.Fatalf("PreTrain returned %d tensors; want %d", len(v), len(want))
	}
	for i := range want {
		if !v[i].Shape().Eq(want[i]) {
			t.Errorf("tensor %d shape %v; want %v", i, v[i].Shape(), want[i])
		}
	}
	if r2 := nn.Evaluate(x, y); r2 < 0.8 {
		t.Errorf("R² after pre-training = %v; want > 0.8", r2)
	}
	// the returned vector is the trained network's
	flat := nn.Flatten(nil)
	for i, got := range v.Flatten(nil) {
		if got != flat[i] {
			t.Fatalf("parameter %d differs from the network", i)
		}
	}
}

func TestPreTrainRejectsNarrowOutput(t *testing.T) {
	x, _ := sine(10)
	y := mat.NewDense(10, 2, nil)
	if _, _, err := PreTrain(x, y, []int{4, 1}, Options{Epochs: 1}); err == nil {
		t.Error("PreTrain accepted 1 output for 2 target columns")
	}
	if _, _, err := PreTrain(x, y, nil, Options{}); err == nil {
		t.Error("PreTrain accepted no layers")
	}
}
