// Package params holds the flattened parameter vector of a feed-forward
// network: weight matrix and bias vector per layer, in layer order.
package params

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// ErrOddLength is returned when a vector does not hold a (weights, biases)
// pair for every layer.
var ErrOddLength = errors.New("parameter vector must hold a weight and a bias tensor per layer")

// Vector is an ordered sequence of tensors: w1, b1, w2, b2, ...
type Vector []*tensor.Dense

// Layout is the per-tensor shape of a Vector.
type Layout []tensor.Shape

// Size is the number of scalars across all tensors.
func (l Layout) Size() int {
	n := 0
	for _, s := range l {
		n += s.TotalSize()
	}
	return n
}

// Equal reports whether both layouts describe the same tensors.
func (l Layout) Equal(other Layout) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if !l[i].Eq(other[i]) {
			return false
		}
	}
	return true
}

func (l Layout) String() string {
	return fmt.Sprintf("%v", []tensor.Shape(l))
}

// Name returns the positional name of the i-th tensor: w1, b1, w2, b2, ...
func Name(i int) string {
	prefix := "w"
	if i%2 == 1 {
		prefix = "b"
	}
	return fmt.Sprintf("%s%d", prefix, i/2+1)
}

// NewDense allocates a float64 tensor of the given shape over data.
// A nil data slice is replaced with zeros.
func NewDense(shape tensor.Shape, data []float64) *tensor.Dense {
	if data == nil {
		data = make([]float64, shape.TotalSize())
	}
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape.Clone()...), tensor.WithBacking(data))
}

// New splits flat into tensors of the given layout. The values are copied.
func New(layout Layout, flat []float64) (Vector, error) {
	if len(layout)%2 != 0 {
		return nil, ErrOddLength
	}
	if len(flat) != layout.Size() {
		return nil, errors.Errorf("flat vector has %d values, layout %v needs %d", len(flat), layout, layout.Size())
	}
	v := make(Vector, len(layout))
	off := 0
	for i, shape := range layout {
		n := shape.TotalSize()
		data := make([]float64, n)
		copy(data, flat[off:off+n])
		v[i] = NewDense(shape, data)
		off += n
	}
	return v, nil
}

// Zeros allocates a zero-valued vector of the given layout.
func Zeros(layout Layout) Vector {
	v := make(Vector, len(layout))
	for i, shape := range layout {
		v[i] = NewDense(shape, nil)
	}
	return v
}

// Validate checks the pairing invariant and that every tensor holds float64s.
func (v Vector) Validate() error {
	if len(v) == 0 || len(v)%2 != 0 {
		return ErrOddLength
	}
	for i, t := range v {
		if t == nil {
			return errors.Errorf("tensor %s is nil", Name(i))
		}
		if t.Dtype() != tensor.Float64 {
			return errors.Errorf("tensor %s has dtype %v, want float64", Name(i), t.Dtype())
		}
	}
	return nil
}

// Layout returns the shapes of the tensors in order.
func (v Vector) Layout() Layout {
	l := make(Layout, len(v))
	for i, t := range v {
		l[i] = t.Shape().Clone()
	}
	return l
}

// Size is the number of scalars in the vector.
func (v Vector) Size() int {
	n := 0
	for _, t := range v {
		n += t.Shape().TotalSize()
	}
	return n
}

// Flatten appends all values, tensor by tensor, to dst and returns it.
func (v Vector) Flatten(dst []float64) []float64 {
	for _, t := range v {
		dst = append(dst, t.Float64s()...)
	}
	return dst
}

// Set overwrites the values of v from flat, which must match v's size.
func (v Vector) Set(flat []float64) {
	off := 0
	for _, t := range v {
		data := t.Float64s()
		copy(data, flat[off:off+len(data)])
		off += len(data)
	}
}

// Clone deep-copies the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for i, t := range v {
		data := make([]float64, len(t.Float64s()))
		copy(data, t.Float64s())
		out[i] = NewDense(t.Shape(), data)
	}
	return out
}

// Layer is one (weights, biases) pair.
type Layer struct {
	Weights *tensor.Dense
	Biases  *tensor.Dense
}

// Layers groups the vector into consecutive (weights, biases) pairs.
func (v Vector) Layers() ([]Layer, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	layers := make([]Layer, len(v)/2)
	for i := range layers {
		layers[i] = Layer{Weights: v[2*i], Biases: v[2*i+1]}
	}
	return layers, nil
}

// Mean averages vectors of identical layout entry-wise.
func Mean(vs []Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, errors.New("mean of zero parameter vectors")
	}
	layout := vs[0].Layout()
	out := Zeros(layout)
	for k, v := range vs {
		if !v.Layout().Equal(layout) {
			return nil, errors.Errorf("vector %d has layout %v, want %v", k, v.Layout(), layout)
		}
		for i, t := range v {
			floats.Add(out[i].Float64s(), t.Float64s())
		}
	}
	scale := 1 / float64(len(vs))
	for _, t := range out {
		floats.Scale(scale, t.Float64s())
	}
	return out, nil
}
