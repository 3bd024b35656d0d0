// Package chain stores Markov chains of parameter vectors, one stack of
// snapshots per tensor, and merges chain segments produced by resumed runs.
package chain

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"hmcbnn/params"
)

// ShapeMismatchError is returned when two chains (or a chain and a
// snapshot) disagree on per-tensor shapes.
type ShapeMismatchError struct {
	Tensor string
	Want   tensor.Shape
	Got    tensor.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("tensor %s: shape %v does not match %v", e.Tensor, e.Got, e.Want)
}

// Stack holds n snapshots of one tensor, iteration axis first.
type Stack struct {
	shape tensor.Shape
	n     int
	data  []float64
}

// NewStack returns an empty stack for tensors of the given shape.
func NewStack(shape tensor.Shape) Stack {
	return Stack{shape: shape.Clone()}
}

// StackOf builds a stack from the raw contiguous values of n snapshots.
func StackOf(shape tensor.Shape, n int, data []float64) (Stack, error) {
	if len(data) != n*shape.TotalSize() {
		return Stack{}, errors.Errorf("stack of %d x %v needs %d values, got %d", n, shape, n*shape.TotalSize(), len(data))
	}
	return Stack{shape: shape.Clone(), n: n, data: data}, nil
}

// Shape is the per-snapshot shape.
func (s Stack) Shape() tensor.Shape { return s.shape }

// Len is the number of snapshots.
func (s Stack) Len() int { return s.n }

// Values returns the contiguous backing values of all snapshots.
func (s Stack) Values() []float64 { return s.data }

// At returns a copy of the i-th snapshot.
func (s Stack) At(i int) *tensor.Dense {
	size := s.shape.TotalSize()
	data := make([]float64, size)
	copy(data, s.data[i*size:(i+1)*size])
	return params.NewDense(s.shape, data)
}

// Dense returns the whole stack as one (n, shape...) tensor, or nil when
// the stack is empty.
func (s Stack) Dense() *tensor.Dense {
	if s.n == 0 {
		return nil
	}
	shape := append(tensor.Shape{s.n}, s.shape...)
	data := make([]float64, len(s.data))
	copy(data, s.data)
	return params.NewDense(shape, data)
}

// Slice returns snapshots [from, to) as a new stack.
func (s Stack) Slice(from, to int) Stack {
	size := s.shape.TotalSize()
	data := make([]float64, (to-from)*size)
	copy(data, s.data[from*size:to*size])
	return Stack{shape: s.shape.Clone(), n: to - from, data: data}
}

func (s *Stack) push(t *tensor.Dense) {
	s.data = append(s.data, t.Float64s()...)
	s.n++
}

// Concat appends other's snapshots after s's.
func (s Stack) Concat(other Stack) (Stack, error) {
	if !s.shape.Eq(other.shape) {
		return Stack{}, &ShapeMismatchError{Want: s.shape, Got: other.shape}
	}
	data := make([]float64, 0, len(s.data)+len(other.data))
	data = append(data, s.data...)
	data = append(data, other.data...)
	return Stack{shape: s.shape.Clone(), n: s.n + other.n, data: data}, nil
}

// Chain is a sequence of parameter vector snapshots stored per tensor.
type Chain struct {
	Stacks []Stack
}

// New returns an empty chain for vectors of the given layout.
func New(layout params.Layout) Chain {
	stacks := make([]Stack, len(layout))
	for i, shape := range layout {
		stacks[i] = NewStack(shape)
	}
	return Chain{Stacks: stacks}
}

// FromSnapshots builds a chain from vectors in order.
func FromSnapshots(vs []params.Vector) (Chain, error) {
	if len(vs) == 0 {
		return Chain{}, errors.New("chain needs at least one snapshot to infer its layout")
	}
	c := New(vs[0].Layout())
	for _, v := range vs {
		if err := c.Append(v); err != nil {
			return Chain{}, err
		}
	}
	return c, nil
}

// Layout is the per-tensor shape of the chain's snapshots.
func (c Chain) Layout() params.Layout {
	l := make(params.Layout, len(c.Stacks))
	for i, s := range c.Stacks {
		l[i] = s.shape.Clone()
	}
	return l
}

// Len is the number of snapshots; every stack has the same length.
func (c Chain) Len() int {
	if len(c.Stacks) == 0 {
		return 0
	}
	return c.Stacks[0].n
}

// Append copies v onto the end of the chain.
func (c *Chain) Append(v params.Vector) error {
	if len(v) != len(c.Stacks) {
		return errors.Errorf("snapshot has %d tensors, chain has %d", len(v), len(c.Stacks))
	}
	for i, t := range v {
		if !t.Shape().Eq(c.Stacks[i].shape) {
			return &ShapeMismatchError{Tensor: params.Name(i), Want: c.Stacks[i].shape, Got: t.Shape()}
		}
	}
	for i, t := range v {
		c.Stacks[i].push(t)
	}
	return nil
}

// At returns a copy of the i-th snapshot.
func (c Chain) At(i int) params.Vector {
	v := make(params.Vector, len(c.Stacks))
	for k, s := range c.Stacks {
		v[k] = s.At(i)
	}
	return v
}

// Last returns a copy of the newest snapshot.
func (c Chain) Last() (params.Vector, error) {
	if c.Len() == 0 {
		return nil, errors.New("chain is empty")
	}
	return c.At(c.Len() - 1), nil
}

// Slice returns snapshots [from, to).
func (c Chain) Slice(from, to int) Chain {
	stacks := make([]Stack, len(c.Stacks))
	for i, s := range c.Stacks {
		stacks[i] = s.Slice(from, to)
	}
	return Chain{Stacks: stacks}
}

// Split returns everything but the last n snapshots as burn-in and the last
// n snapshots as retained samples. n is clamped to the chain length.
func (c Chain) Split(n int) (burnin, samples Chain) {
	if n > c.Len() {
		n = c.Len()
	}
	if n < 0 {
		n = 0
	}
	cut := c.Len() - n
	return c.Slice(0, cut), c.Slice(cut, c.Len())
}

// Concat appends other's snapshots after c's, tensor by tensor.
// A chain without stacks is the identity.
func (c Chain) Concat(other Chain) (Chain, error) {
	switch {
	case len(c.Stacks) == 0:
		return other.Slice(0, other.Len()), nil
	case len(other.Stacks) == 0:
		return c.Slice(0, c.Len()), nil
	}
	if len(c.Stacks) != len(other.Stacks) {
		return Chain{}, errors.Errorf("cannot concatenate chains with %d and %d tensors", len(c.Stacks), len(other.Stacks))
	}
	stacks := make([]Stack, len(c.Stacks))
	for i := range c.Stacks {
		s, err := c.Stacks[i].Concat(other.Stacks[i])
		if err != nil {
			if mismatch, ok := err.(*ShapeMismatchError); ok {
				mismatch.Tensor = params.Name(i)
			}
			return Chain{}, err
		}
		stacks[i] = s
	}
	return Chain{Stacks: stacks}, nil
}

// Snapshots unstacks the chain into one vector per iteration.
func (c Chain) Snapshots() []params.Vector {
	out := make([]params.Vector, c.Len())
	for i := range out {
		out[i] = c.At(i)
	}
	return out
}

// Mean averages every tensor across the iteration axis.
func (c Chain) Mean() (params.Vector, error) {
	if c.Len() == 0 {
		return nil, errors.New("mean of an empty chain")
	}
	return params.Mean(c.Snapshots())
}
