package neuralnet

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"hmcbnn/params"
)

// Layer is a dense layer computing activation(input·Weights + Biases).
type Layer struct {
	Weights    *mat.Dense // in x out
	Biases     []float64
	activation ActivationFunction

	// cached by FeedForward for Backpropagate
	input *mat.Dense
	z     *mat.Dense
}

// Gradients holds ∂L/∂Weights and ∂L/∂Biases per layer.
type Gradients struct {
	Weights []*mat.Dense
	Biases  [][]float64
}

// Flatten appends the gradients in parameter-vector order to dst.
func (g *Gradients) Flatten(dst []float64) []float64 {
	for i := range g.Weights {
		dst = append(dst, g.Weights[i].RawMatrix().Data...)
		dst = append(dst, g.Biases[i]...)
	}
	return dst
}

// NeuralNetwork is a feed-forward stack of dense layers operating on row batches.
type NeuralNetwork struct {
	Layers []*Layer
	Params Params
}

// NewNeuralNetwork builds input -> hidden... -> output with xavier-initialised
// weights. Hidden layers use hidden, the last layer uses output.
func NewNeuralNetwork(inputSize int, hiddenSizes []int, outputSize int, p Params, hidden, output ActivationFunction) *NeuralNetwork {
	rng := rand.New(rand.NewSource(int64(NNSeed(inputSize, hiddenSizes, outputSize))))
	sizes := append(append([]int{inputSize}, hiddenSizes...), outputSize)
	nn := &NeuralNetwork{
		Layers: make([]*Layer, len(sizes)-1),
		Params: p,
	}
	for i := range nn.Layers {
		in, out := sizes[i], sizes[i+1]
		w := make([]float64, in*out)
		for k := range w {
			w[k] = xavierInit(rng, in, out)
		}
		act := hidden
		if i == len(nn.Layers)-1 {
			act = output
		}
		nn.Layers[i] = &Layer{
			Weights:    mat.NewDense(in, out, w),
			Biases:     make([]float64, out),
			activation: act,
		}
	}
	return nn
}

// FromParams builds a network whose weights are copied from v.
func FromParams(v params.Vector, hidden, output ActivationFunction) (*NeuralNetwork, error) {
	layers, err := v.Layers()
	if err != nil {
		return nil, err
	}
	nn := &NeuralNetwork{Layers: make([]*Layer, len(layers)), Params: NewParams(0)}
	for i, l := range layers {
		ws, bs := l.Weights.Shape(), l.Biases.Shape()
		if len(ws) != 2 || bs.TotalSize() != ws[1] {
			return nil, errors.Errorf("layer %d: weights %v and biases %v do not form a dense layer", i+1, ws, bs)
		}
		if i > 0 && ws[0] != layers[i-1].Weights.Shape()[1] {
			return nil, errors.Errorf("layer %d: %d inputs after a layer of %d units", i+1, ws[0], layers[i-1].Weights.Shape()[1])
		}
		w := make([]float64, ws.TotalSize())
		copy(w, l.Weights.Float64s())
		b := make([]float64, bs.TotalSize())
		copy(b, l.Biases.Float64s())
		act := hidden
		if i == len(layers)-1 {
			act = output
		}
		nn.Layers[i] = &Layer{Weights: mat.NewDense(ws[0], ws[1], w), Biases: b, activation: act}
	}
	return nn, nil
}

// Layout is the parameter-vector layout of the network.
func (nn *NeuralNetwork) Layout() params.Layout {
	l := make(params.Layout, 0, 2*len(nn.Layers))
	for _, layer := range nn.Layers {
		r, c := layer.Weights.Dims()
		l = append(l, tensor.Shape{r, c}, tensor.Shape{c})
	}
	return l
}

// ParamVector copies the weights out as a parameter vector.
func (nn *NeuralNetwork) ParamVector() (params.Vector, error) {
	v, err := params.New(nn.Layout(), nn.Flatten(nil))
	if err != nil {
		return nil, errors.Wrap(err, "exporting parameters")
	}
	return v, nil
}

// Flatten appends every weight and bias in parameter-vector order to dst.
func (nn *NeuralNetwork) Flatten(dst []float64) []float64 {
	for _, layer := range nn.Layers {
		dst = append(dst, layer.Weights.RawMatrix().Data...)
		dst = append(dst, layer.Biases...)
	}
	return dst
}

// SetFlat overwrites every weight and bias from flat, in parameter-vector order.
func (nn *NeuralNetwork) SetFlat(flat []float64) {
	off := 0
	for _, layer := range nn.Layers {
		w := layer.Weights.RawMatrix().Data
		off += copy(w, flat[off:off+len(w)])
		off += copy(layer.Biases, flat[off:off+len(layer.Biases)])
	}
}

// SetActivation replaces the activation of one layer.
func (nn *NeuralNetwork) SetActivation(layerIndex int, activation ActivationFunction) {
	nn.Layers[layerIndex].activation = activation
}

func NNSeed(inputSize int, hidden []int, outputSize int) int {
	seed := inputSize
	for _, h := range hidden {
		seed = seed + h
	}
	return seed + outputSize
}

// FeedForward runs a batch (one sample per row) through the network and
// caches the intermediate values for Backpropagate.
func (nn *NeuralNetwork) FeedForward(input *mat.Dense) *mat.Dense {
	a := input
	for _, layer := range nn.Layers {
		n, _ := a.Dims()
		_, out := layer.Weights.Dims()
		z := mat.NewDense(n, out, nil)
		z.Mul(a, layer.Weights)
		z.Apply(func(_, j int, v float64) float64 {
			return v + layer.Biases[j]
		}, z)
		act := mat.NewDense(n, out, nil)
		act.Apply(func(_, _ int, v float64) float64 {
			return layer.activation.Activate(v)
		}, z)
		layer.input, layer.z = a, z
		a = act
	}
	return a
}

// Backpropagate turns ∂L/∂output of the last FeedForward into per-layer gradients.
func (nn *NeuralNetwork) Backpropagate(dOut *mat.Dense) *Gradients {
	g := &Gradients{
		Weights: make([]*mat.Dense, len(nn.Layers)),
		Biases:  make([][]float64, len(nn.Layers)),
	}
	delta := dOut
	for i := len(nn.Layers) - 1; i >= 0; i-- {
		layer := nn.Layers[i]
		n, out := layer.z.Dims()
		dz := mat.NewDense(n, out, nil)
		dz.Apply(func(r, c int, v float64) float64 {
			return delta.At(r, c) * layer.activation.Derivative(v)
		}, layer.z)

		in, _ := layer.Weights.Dims()
		dw := mat.NewDense(in, out, nil)
		dw.Mul(layer.input.T(), dz)
		db := make([]float64, out)
		for r := 0; r < n; r++ {
			for c := 0; c < out; c++ {
				db[c] += dz.At(r, c)
			}
		}
		g.Weights[i], g.Biases[i] = dw, db

		if i > 0 {
			prev := mat.NewDense(n, in, nil)
			prev.Mul(dz, layer.Weights.T())
			delta = prev
		}
	}
	return g
}

// TrainMiniBatch minimises loss over shuffled mini-batches for the given
// number of epochs and returns the mean loss of each epoch.
func (nn *NeuralNetwork) TrainMiniBatch(x, y *mat.Dense, epochs, batchSize int, loss LossFunction, opt Optimizer, rng *rand.Rand, logger *slog.Logger) ([]float64, error) {
	n, _ := x.Dims()
	if ny, _ := y.Dims(); ny != n {
		return nil, errors.Errorf("%d samples but %d targets", n, ny)
	}
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}
	if logger == nil {
		logger = slog.Default()
	}
	batches := (n + batchSize - 1) / batchSize
	total := epochs * batches
	history := make([]float64, 0, epochs)
	step := 0
	for e := 0; e < epochs; e++ {
		perm := rng.Perm(n)
		var epochLoss float64
		for b := 0; b < batches; b++ {
			idx := perm[b*batchSize : min((b+1)*batchSize, n)]
			bx, by := selectRows(x, idx), selectRows(y, idx)
			out := nn.FeedForward(bx)
			epochLoss += loss.Compute(out, by) * float64(len(idx))
			nn.Params.Lr = calculateCurrentLr(&nn.Params, step, total)
			if err := opt.Apply(nn, nn.Backpropagate(loss.Gradient(out, by))); err != nil {
				return history, err
			}
			step++
		}
		epochLoss /= float64(n)
		if math.IsNaN(epochLoss) {
			return history, errors.Errorf("loss diverged at epoch %d", e)
		}
		history = append(history, epochLoss)
		if nn.Params.LrSchedule == "exponential" && nn.Params.Decay > 0 {
			nn.Params.TargetLr *= nn.Params.Decay
		}
		logger.Debug("epoch done", slog.Int("epoch", e), slog.Float64("loss", epochLoss), slog.Float64("lr", nn.Params.Lr))
	}
	return history, nil
}

// Evaluate returns the R² score of the first output column against y.
func (nn *NeuralNetwork) Evaluate(x, y *mat.Dense) float64 {
	out := nn.FeedForward(x)
	targets := mat.Col(nil, 0, y)
	if stat.Variance(targets, nil) == 0 {
		return 0
	}
	return stat.RSquaredFrom(mat.Col(nil, 0, out), targets, nil)
}

func selectRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

func xavierInit(rng *rand.Rand, numInputs int, numOutputs int) float64 {
	limit := math.Sqrt(6.0 / float64(numInputs+numOutputs))
	return 2*rng.Float64()*limit - limit
}

// Debug
func (l *Layer) String() string {
	var sb strings.Builder
	in, out := l.Weights.Dims()
	sb.WriteString(fmt.Sprintf("Dense %d -> %d (%T)\n", in, out, l.activation))
	sb.WriteString(fmt.Sprintf("Biases: %.3f\n", l.Biases))
	return sb.String()
}

func (nn *NeuralNetwork) String() string {
	var sb strings.Builder
	for i, layer := range nn.Layers {
		sb.WriteString(fmt.Sprintf("Layer %d:\n%s\n", i, layer.String()))
	}
	return sb.String()
}
