// Package bench measures how long posterior predictions take as the number
// of test points grows.
package bench

import (
	"encoding/csv"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hmcbnn/chain"
	"hmcbnn/predict"
)

// Predictor is a model whose predictions are timed.
type Predictor interface {
	Predict(x *mat.Dense) (*predict.Estimate, error)
}

// Posterior predicts from a retained chain with a fixed uncertainty mode.
type Posterior struct {
	Engine *predict.Engine
	Chain  chain.Chain
	Mode   predict.Mode
}

func (p Posterior) Predict(x *mat.Dense) (*predict.Estimate, error) {
	return p.Engine.Predict(p.Chain, x, p.Mode)
}

// Timing is the mean prediction time of every model for one input size.
type Timing struct {
	NumPoints int
	Seconds   []float64
}

// Bench holds the benchmark settings shared by all measurements.
type Bench struct {
	Models   []Predictor
	Features int
	Trials   int
	Seed     uint64
	// Progress, when set, is called after each input size of a sweep.
	Progress func(done, total int)

	rng *rand.Rand
}

func (b *Bench) input(n int) *mat.Dense {
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(b.Seed, 0))
	}
	data := make([]float64, n*b.Features)
	for i := range data {
		data[i] = b.rng.NormFloat64()
	}
	return mat.NewDense(n, b.Features, data)
}

// MeasurePredictionTime returns the mean time each model takes to predict on
// numPoints standard normal inputs, averaged over b.Trials fresh draws.
func (b *Bench) MeasurePredictionTime(numPoints int) (Timing, error) {
	if numPoints < 1 || b.Features < 1 || b.Trials < 1 {
		return Timing{}, errors.Errorf("cannot time %d points of %d features over %d trials", numPoints, b.Features, b.Trials)
	}
	used := make([][]float64, len(b.Models))
	for j := range used {
		used[j] = make([]float64, b.Trials)
	}
	for i := 0; i < b.Trials; i++ {
		for j, m := range b.Models {
			x := b.input(numPoints)
			start := time.Now()
			if _, err := m.Predict(x); err != nil {
				return Timing{}, errors.Wrapf(err, "model %d", j)
			}
			used[j][i] = time.Since(start).Seconds()
		}
	}
	t := Timing{NumPoints: numPoints, Seconds: make([]float64, len(b.Models))}
	for j := range used {
		t.Seconds[j] = stat.Mean(used[j], nil)
	}
	return t, nil
}

// VsNumPoints times 2^i points for i = 0, step, 2*step, ... below logMax.
func (b *Bench) VsNumPoints(logMax, step int) ([]Timing, error) {
	if step < 1 {
		return nil, errors.Errorf("sweep step must be positive, got %d", step)
	}
	total := (logMax + step - 1) / step
	var out []Timing
	for i := 0; i < logMax; i += step {
		t, err := b.MeasurePredictionTime(1 << i)
		if err != nil {
			return out, err
		}
		out = append(out, t)
		if b.Progress != nil {
			b.Progress(len(out), total)
		}
	}
	return out, nil
}

// WriteCSV writes one row per input size with each model's time in milliseconds.
func WriteCSV(w io.Writer, names []string, timings []Timing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"num_points"}, names...)); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, t := range timings {
		if len(t.Seconds) != len(names) {
			return errors.Errorf("%d points: %d timings for %d models", t.NumPoints, len(t.Seconds), len(names))
		}
		row := []string{strconv.Itoa(t.NumPoints)}
		for _, s := range t.Seconds {
			row = append(row, strconv.FormatFloat(s*1e3, 'g', 6, 64))
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
