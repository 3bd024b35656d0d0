// Package predict turns a chain of posterior samples into predictions with
// aleatoric and epistemic uncertainty.
package predict

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hmcbnn/chain"
	"hmcbnn/params"
)

// Mode selects which uncertainty components a prediction carries.
type Mode int

const (
	// Aleatoric evaluates one network at the posterior mean parameters.
	Aleatoric Mode = iota
	// AleatoricEpistemic evaluates one network per posterior sample.
	AleatoricEpistemic
)

func (m Mode) String() string {
	switch m {
	case Aleatoric:
		return "aleatoric"
	case AleatoricEpistemic:
		return "aleatoric+epistemic"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// InvalidArgumentError names an unrecognised uncertainty mode.
type InvalidArgumentError struct {
	Value string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("unrecognized uncertainty type: %q", e.Value)
}

// ParseMode maps "aleatoric" and "aleatoric+epistemic" to their Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "aleatoric":
		return Aleatoric, nil
	case "aleatoric+epistemic":
		return AleatoricEpistemic, nil
	}
	return 0, &InvalidArgumentError{Value: s}
}

// Model is an inference-mode network.
type Model interface {
	// Predict returns the predictive mean and variance of every row of x.
	Predict(x *mat.Dense) (mean, variance []float64, err error)
}

// Builder instantiates a Model from a parameter vector.
type Builder interface {
	Build(v params.Vector) (Model, error)
}

// Estimate is the posterior predictive distribution at each test point.
// Variance is Aleatoric + Epistemic.
type Estimate struct {
	Mean      []float64
	Variance  []float64
	Aleatoric []float64
	Epistemic []float64
}

// Engine predicts from retained chains.
type Engine struct {
	Builder Builder
	// Workers bounds the parallel forward passes in AleatoricEpistemic mode;
	// <= 0 means one per CPU.
	Workers int
}

// Predict evaluates the chain on x in the given mode.
func (e *Engine) Predict(c chain.Chain, x *mat.Dense, mode Mode) (*Estimate, error) {
	if c.Len() == 0 {
		return nil, errors.New("cannot predict from an empty chain")
	}
	switch mode {
	case Aleatoric:
		return e.aleatoric(c, x)
	case AleatoricEpistemic:
		return e.epistemic(c, x)
	}
	return nil, &InvalidArgumentError{Value: mode.String()}
}

func (e *Engine) aleatoric(c chain.Chain, x *mat.Dense) (*Estimate, error) {
	mean, err := c.Mean()
	if err != nil {
		return nil, err
	}
	m, err := e.Builder.Build(mean)
	if err != nil {
		return nil, err
	}
	mu, v, err := m.Predict(x)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Mean:      mu,
		Variance:  append([]float64(nil), v...),
		Aleatoric: v,
		Epistemic: make([]float64, len(v)),
	}, nil
}

func (e *Engine) epistemic(c chain.Chain, x *mat.Dense) (*Estimate, error) {
	n := c.Len()
	means := make([][]float64, n)
	vars := make([][]float64, n)
	errs := make([]error, n)
	e.forEach(n, func(i int) {
		m, err := e.Builder.Build(c.At(i))
		if err != nil {
			errs[i] = errors.Wrapf(err, "sample %d", i)
			return
		}
		means[i], vars[i], errs[i] = m.Predict(x)
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	points := len(means[0])
	est := &Estimate{
		Mean:      make([]float64, points),
		Variance:  make([]float64, points),
		Aleatoric: make([]float64, points),
		Epistemic: make([]float64, points),
	}
	col := make([]float64, n)
	for j := 0; j < points; j++ {
		for i := range means {
			col[i] = means[i][j]
		}
		est.Mean[j], est.Epistemic[j] = stat.PopMeanVariance(col, nil)
		for i := range vars {
			col[i] = vars[i][j]
		}
		est.Aleatoric[j] = stat.Mean(col, nil)
		est.Variance[j] = est.Epistemic[j] + est.Aleatoric[j]
	}
	return est, nil
}

// forEach runs f over [0, n) on a bounded pool of goroutines.
func (e *Engine) forEach(n int, f func(int)) {
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	next := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if next >= n {
					mu.Unlock()
					return
				}
				i := next
				next++
				mu.Unlock()
				f(i)
			}
		}()
	}
	wg.Wait()
}
