package main

import (
	"bufio"
	"encoding/csv"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// dataset is a regression problem: one row of X per target row of Y.
type dataset struct {
	X, Y *mat.Dense
}

// loadCSV reads a numeric table whose last `targets` columns are targets.
// A first row that does not parse is taken as a header.
func loadCSV(path string, targets int) (dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return dataset{}, errors.Wrap(err, "opening data")
	}
	defer file.Close()
	return readCSV(bufio.NewReader(file), targets)
}

func readCSV(r io.Reader, targets int) (dataset, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return dataset{}, errors.Wrap(err, "reading csv")
	}
	var data []float64
	cols := 0
	for i, row := range rows {
		vals := make([]float64, len(row))
		for j, s := range row {
			if vals[j], err = strconv.ParseFloat(s, 64); err != nil {
				break
			}
		}
		if err != nil {
			if i == 0 {
				err = nil
				continue
			}
			return dataset{}, errors.Wrapf(err, "row %d", i+1)
		}
		if cols == 0 {
			cols = len(row)
		}
		data = append(data, vals...)
	}
	if cols <= targets || targets < 1 {
		return dataset{}, errors.Errorf("need at least one feature and %d target columns, got %d columns", targets, cols)
	}
	n := len(data) / cols
	all := mat.NewDense(n, cols, data)
	return dataset{
		X: mat.DenseCopyOf(all.Slice(0, n, 0, cols-targets)),
		Y: mat.DenseCopyOf(all.Slice(0, n, cols-targets, cols)),
	}, nil
}

// synthetic generates one of the toy regression problems:
// "sin" is y = sin(x) + noise on x ~ U(-3, 3); "franke" is the Franke
// function on the unit square.
func synthetic(name string, n int, noise float64, seed uint64) (dataset, error) {
	rng := rand.New(rand.NewPCG(seed, 1))
	var (
		x *mat.Dense
		f func(row []float64) float64
	)
	switch name {
	case "sin":
		x = mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			x.Set(i, 0, -3+6*rng.Float64())
		}
		f = func(r []float64) float64 { return math.Sin(r[0]) }
	case "franke":
		x = mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			x.Set(i, 0, rng.Float64())
			x.Set(i, 1, rng.Float64())
		}
		f = func(r []float64) float64 { return franke(r[0], r[1]) }
	default:
		return dataset{}, errors.Errorf("unknown synthetic dataset %q", name)
	}
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		y.Set(i, 0, f(x.RawRowView(i))+noise*rng.NormFloat64())
	}
	return dataset{X: x, Y: y}, nil
}

func franke(x, y float64) float64 {
	t1 := 0.75 * math.Exp(-(9*x-2)*(9*x-2)/4-(9*y-2)*(9*y-2)/4)
	t2 := 0.75 * math.Exp(-(9*x+1)*(9*x+1)/49-(9*y+1)/10)
	t3 := 0.5 * math.Exp(-(9*x-7)*(9*x-7)/4-(9*y-3)*(9*y-3)/4)
	t4 := -0.2 * math.Exp(-(9*x-4)*(9*x-4)-(9*y-7)*(9*y-7))
	return t1 + t2 + t3 + t4
}

// split shuffles the rows and holds out testFrac of them.
func (d dataset) split(testFrac float64, seed uint64) (train, test dataset) {
	n, _ := d.X.Dims()
	perm := rand.New(rand.NewPCG(seed, 2)).Perm(n)
	nTest := int(math.Round(testFrac * float64(n)))
	return d.rows(perm[nTest:]), d.rows(perm[:nTest])
}

func (d dataset) rows(idx []int) dataset {
	_, xc := d.X.Dims()
	_, yc := d.Y.Dims()
	if len(idx) == 0 {
		return dataset{}
	}
	x := mat.NewDense(len(idx), xc, nil)
	y := mat.NewDense(len(idx), yc, nil)
	for i, r := range idx {
		x.SetRow(i, d.X.RawRowView(r))
		y.SetRow(i, d.Y.RawRowView(r))
	}
	return dataset{X: x, Y: y}
}

// standardize scales every feature column to zero mean and unit variance
// using the statistics of d, and applies the same transform to others.
func (d dataset) standardize(others ...*mat.Dense) {
	_, c := d.X.Dims()
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, d.X)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		for _, m := range append([]*mat.Dense{d.X}, others...) {
			if m == nil {
				continue
			}
			r, _ := m.Dims()
			for i := 0; i < r; i++ {
				m.Set(i, j, (m.At(i, j)-mean)/std)
			}
		}
	}
}
