package diag

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// histogramBins is the number of equal-width buckets written per histogram.
const histogramBins = 30

// Event is one line of a FileSink's output.
type Event struct {
	Run   string    `json:"run"`
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Name  string    `json:"name"`
	Step  int       `json:"step"`
	Value float64   `json:"value,omitempty"`

	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Mean   float64   `json:"mean,omitempty"`
	StdDev float64   `json:"std,omitempty"`
	Edges  []float64 `json:"edges,omitempty"`
	Counts []int     `json:"counts,omitempty"`
}

// FileSink appends JSON-lines events to <dir>/events.<run>.jsonl.
type FileSink struct {
	RunID uuid.UUID
	path  string
	f     *os.File
	w     *bufio.Writer
	enc   *json.Encoder
}

// OpenFile creates dir if needed and opens a fresh event file named after a new run id.
func OpenFile(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating diagnostics directory %s", dir)
	}
	id := uuid.New()
	path := filepath.Join(dir, "events."+id.String()+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating diagnostics file %s", path)
	}
	w := bufio.NewWriter(f)
	return &FileSink{RunID: id, path: path, f: f, w: w, enc: json.NewEncoder(w)}, nil
}

// Path is the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) write(e Event) error {
	if s.f == nil {
		return errors.New("diagnostics file is closed")
	}
	e.Run = s.RunID.String()
	e.Time = time.Now().UTC()
	return s.enc.Encode(e)
}

// Histogram writes summary statistics and equal-width bucket counts of values.
func (s *FileSink) Histogram(name string, step int, values []float64) error {
	e := Event{Kind: "histogram", Name: name, Step: step}
	if len(values) > 0 {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		e.Min, e.Max = sorted[0], sorted[len(sorted)-1]
		e.Mean, e.StdDev = stat.PopMeanStdDev(sorted, nil)
		e.Edges = make([]float64, histogramBins+1)
		width := (e.Max - e.Min) / histogramBins
		for i := range e.Edges {
			e.Edges[i] = e.Min + float64(i)*width
		}
		if width == 0 {
			e.Edges = []float64{e.Min, e.Max}
			e.Counts = []int{len(values)}
		} else {
			// the upper edge is inclusive so that Max lands in the last bucket
			e.Edges[histogramBins] = e.Max + width*1e-9
			counts := stat.Histogram(nil, e.Edges, sorted, nil)
			e.Counts = make([]int, len(counts))
			for i, c := range counts {
				e.Counts[i] = int(c)
			}
		}
	}
	return s.write(e)
}

// Scalar writes a single named value.
func (s *FileSink) Scalar(name string, step int, value float64) error {
	return s.write(Event{Kind: "scalar", Name: name, Step: step, Value: value})
}

// Flush pushes buffered events to the file.
func (s *FileSink) Flush() error {
	if s.f == nil {
		return errors.New("diagnostics file is closed")
	}
	return s.w.Flush()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	ferr := s.w.Flush()
	cerr := s.f.Close()
	s.f = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}
