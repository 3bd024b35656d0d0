package neuralnet

import (
	"errors"
	"math"
)

// Optimizer applies batch gradients to a network using nn.Params.Lr.
type Optimizer interface {
	Apply(nn *NeuralNetwork, g *Gradients) error
}

// SGD implements plain gradient descent with L2 weight decay.
type SGD struct{}

// Apply takes one step against g.
func (o *SGD) Apply(nn *NeuralNetwork, g *Gradients) error {
	if err := g.check(nn); err != nil {
		return err
	}
	lr, l2 := nn.Params.Lr, nn.Params.L2
	for i, layer := range nn.Layers {
		w := layer.Weights.RawMatrix().Data
		for k, gw := range g.Weights[i].RawMatrix().Data {
			w[k] -= lr * (gw + l2*w[k])
		}
		for k, gb := range g.Biases[i] {
			layer.Biases[k] -= lr * gb
		}
	}
	return nil
}

// Adam implements the Adam optimizer. Moments are allocated lazily on the
// first Apply and tied to the network's shape from then on.
type Adam struct {
	t  int
	mW [][]float64
	vW [][]float64
	mB [][]float64
	vB [][]float64
}

// Apply takes one bias-corrected Adam step against g.
func (o *Adam) Apply(nn *NeuralNetwork, g *Gradients) error {
	if err := g.check(nn); err != nil {
		return err
	}
	if o.mW == nil {
		for _, layer := range nn.Layers {
			n := len(layer.Weights.RawMatrix().Data)
			o.mW = append(o.mW, make([]float64, n))
			o.vW = append(o.vW, make([]float64, n))
			o.mB = append(o.mB, make([]float64, len(layer.Biases)))
			o.vB = append(o.vB, make([]float64, len(layer.Biases)))
		}
	}
	p := nn.Params
	o.t++
	c1 := 1 - math.Pow(p.Beta1, float64(o.t))
	c2 := 1 - math.Pow(p.Beta2, float64(o.t))
	step := func(x, m, v []float64, grad []float64, l2 float64) {
		for k, gk := range grad {
			gk += l2 * x[k]
			m[k] = p.Beta1*m[k] + (1-p.Beta1)*gk
			v[k] = p.Beta2*v[k] + (1-p.Beta2)*gk*gk
			x[k] -= p.Lr * (m[k] / c1) / (math.Sqrt(v[k]/c2) + p.Epsilon)
		}
	}
	for i, layer := range nn.Layers {
		step(layer.Weights.RawMatrix().Data, o.mW[i], o.vW[i], g.Weights[i].RawMatrix().Data, p.L2)
		step(layer.Biases, o.mB[i], o.vB[i], g.Biases[i], 0)
	}
	return nil
}

func (g *Gradients) check(nn *NeuralNetwork) error {
	if g == nil || len(g.Weights) != len(nn.Layers) || len(g.Biases) != len(nn.Layers) {
		return errors.New("gradients do not match network layers")
	}
	return nil
}
