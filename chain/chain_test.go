package chain

import (
	"testing"

	"hmcbnn/params"
)

var testLayout = params.Layout{{2, 3}, {3}, {3, 1}, {1}}

// seq builds n snapshots whose every entry equals start+i.
func seq(t *testing.T, start, n int) Chain {
	t.Helper()
	c := New(testLayout)
	for i := 0; i < n; i++ {
		flat := make([]float64, testLayout.Size())
		for j := range flat {
			flat[j] = float64(start + i)
		}
		v, err := params.New(testLayout, flat)
		if err != nil {
			t.Fatalf("params.New: %v", err)
		}
		if err := c.Append(v); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return c
}

func equalVectors(a, b params.Vector) bool {
	fa, fb := a.Flatten(nil), b.Flatten(nil)
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

func TestAppendRejectsWrongShape(t *testing.T) {
	c := New(testLayout)
	v := params.Zeros(params.Layout{{2, 2}, {2}, {2, 1}, {1}})
	err := c.Append(v)
	mismatch, ok := err.(*ShapeMismatchError)
	if !ok {
		t.Fatalf("Append err = %v; want *ShapeMismatchError", err)
	}
	if mismatch.Tensor != "w1" {
		t.Errorf("mismatch.Tensor = %q; want w1", mismatch.Tensor)
	}
	if c.Len() != 0 {
		t.Errorf("failed Append changed length to %d", c.Len())
	}
}

func TestMergePreservesOrder(t *testing.T) {
	a, b := seq(t, 0, 4), seq(t, 100, 3)
	m, err := Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if m.Len() != 7 {
		t.Fatalf("merged length = %d; want 7", m.Len())
	}
	for i := 0; i < a.Len(); i++ {
		if !equalVectors(m.At(i), a.At(i)) {
			t.Errorf("merged[%d] differs from old[%d]", i, i)
		}
	}
	for i := 0; i < b.Len(); i++ {
		if !equalVectors(m.At(a.Len()+i), b.At(i)) {
			t.Errorf("merged[%d] differs from new[%d]", a.Len()+i, i)
		}
	}
	for i, s := range m.Stacks {
		if !s.Shape().Eq(testLayout[i]) {
			t.Errorf("stack %d shape = %v; want %v", i, s.Shape(), testLayout[i])
		}
	}
	// Inputs are untouched.
	if a.Len() != 4 || b.Len() != 3 {
		t.Error("Merge mutated its inputs")
	}
}

func TestMergeEmptySegment(t *testing.T) {
	a := seq(t, 0, 2)
	m, err := Merge(a, New(testLayout))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("merged length = %d; want 2", m.Len())
	}
}

func TestMergeZeroValueChain(t *testing.T) {
	a := seq(t, 3, 2)
	for _, pair := range [][2]Chain{{Chain{}, a}, {a, Chain{}}} {
		m, err := Merge(pair[0], pair[1])
		if err != nil {
			t.Fatalf("Merge with a zero chain: %v", err)
		}
		if m.Len() != 2 || !m.Layout().Equal(testLayout) {
			t.Errorf("merged chain has %d snapshots of layout %v; want 2 of %v", m.Len(), m.Layout(), testLayout)
		}
		if !equalVectors(m.At(1), a.At(1)) {
			t.Error("merged snapshot differs from its source")
		}
	}
	m, err := Merge(Chain{}, Chain{})
	if err != nil || m.Len() != 0 {
		t.Errorf("Merge of two zero chains = %d snapshots, %v", m.Len(), err)
	}
}

func TestMergeShapeMismatch(t *testing.T) {
	a := seq(t, 0, 2)
	b := New(params.Layout{{2, 3}, {3}, {3, 2}, {2}})
	if _, err := Merge(a, b); err == nil {
		t.Fatal("Merge of mismatched chains did not fail")
	} else if mismatch, ok := err.(*ShapeMismatchError); !ok || mismatch.Tensor != "w2" {
		t.Errorf("Merge err = %v; want mismatch on w2", err)
	}
}

func TestSplit(t *testing.T) {
	c := seq(t, 0, 70)
	burnin, samples := c.Split(20)
	if burnin.Len() != 50 || samples.Len() != 20 {
		t.Fatalf("Split(20) lengths = %d, %d; want 50, 20", burnin.Len(), samples.Len())
	}
	if got := samples.At(0).Flatten(nil)[0]; got != 50 {
		t.Errorf("first retained value = %v; want 50", got)
	}
	burnin, samples = c.Split(0)
	if burnin.Len() != 70 || samples.Len() != 0 {
		t.Errorf("Split(0) lengths = %d, %d; want 70, 0", burnin.Len(), samples.Len())
	}
	burnin, samples = c.Split(100)
	if burnin.Len() != 0 || samples.Len() != 70 {
		t.Errorf("Split(100) lengths = %d, %d; want 0, 70", burnin.Len(), samples.Len())
	}
}

func TestMeanAndDense(t *testing.T) {
	c := seq(t, 1, 3)
	m, err := c.Mean()
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	for _, x := range m.Flatten(nil) {
		if x != 2 {
			t.Fatalf("Mean entry = %v; want 2", x)
		}
	}
	d := c.Stacks[0].Dense()
	if want := []int{3, 2, 3}; !d.Shape().Eq(want) {
		t.Errorf("Dense().Shape() = %v; want %v", d.Shape(), want)
	}
	if New(testLayout).Stacks[0].Dense() != nil {
		t.Error("Dense() of empty stack is not nil")
	}
	last, err := c.Last()
	if err != nil || last.Flatten(nil)[0] != 3 {
		t.Errorf("Last() = %v, %v; want entries of 3", last, err)
	}
}
