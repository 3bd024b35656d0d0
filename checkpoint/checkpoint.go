// Package checkpoint persists the (chain, trace, kernel result) bundle
// between sampler invocations.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"hmcbnn/chain"
	"hmcbnn/hmc"
)

func init() {
	// observer outputs are stored as interface values
	gob.Register(float64(0))
	gob.Register([]float64(nil))
	gob.Register(int(0))
	gob.Register("")
	gob.Register(map[string]float64(nil))
}

// Register makes a custom observer output type storable.
func Register(value any) {
	gob.Register(value)
}

// Bundle is one saved sampler run.
type Bundle struct {
	RunID   uuid.UUID
	Created time.Time
	Resume  *hmc.Resume
}

type stackFile struct {
	Shape []int
	Len   int
	Data  []float64
}

type file struct {
	RunID   uuid.UUID
	Created time.Time
	Stacks  []stackFile
	Trace   hmc.Trace
	Kernel  hmc.KernelResult
}

// New wraps a resume bundle with a fresh run id.
func New(r *hmc.Resume) *Bundle {
	return &Bundle{RunID: uuid.New(), Created: time.Now().UTC(), Resume: r}
}

// Save writes b to path atomically.
func Save(path string, b *Bundle) error {
	if b == nil || b.Resume == nil {
		return errors.New("nothing to checkpoint")
	}
	f := file{RunID: b.RunID, Created: b.Created, Trace: b.Resume.Trace, Kernel: b.Resume.Kernel}
	for _, s := range b.Resume.Chain.Stacks {
		f.Stacks = append(f.Stacks, stackFile{Shape: s.Shape(), Len: s.Len(), Data: s.Values()})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating checkpoint directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating checkpoint")
	}
	defer os.Remove(tmp.Name())
	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(&f); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding checkpoint %s", path)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing checkpoint %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing checkpoint %s", path)
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replacing checkpoint")
}

// Load reads a bundle written by Save.
func Load(path string) (*Bundle, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint")
	}
	defer fh.Close()
	var f file
	if err := gob.NewDecoder(bufio.NewReader(fh)).Decode(&f); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %s", path)
	}

	c := chain.Chain{Stacks: make([]chain.Stack, len(f.Stacks))}
	for i, s := range f.Stacks {
		st, err := chain.StackOf(tensor.Shape(s.Shape), s.Len, s.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "checkpoint %s tensor %d", path, i)
		}
		if i > 0 && st.Len() != c.Stacks[0].Len() {
			return nil, errors.Errorf("checkpoint %s: tensor %d has %d snapshots, tensor 0 has %d", path, i, st.Len(), c.Stacks[0].Len())
		}
		c.Stacks[i] = st
	}
	if len(f.Trace) != c.Len() {
		return nil, errors.Errorf("checkpoint %s: trace has %d records for %d snapshots", path, len(f.Trace), c.Len())
	}
	return &Bundle{
		RunID:   f.RunID,
		Created: f.Created,
		Resume:  &hmc.Resume{Chain: c, Trace: f.Trace, Kernel: f.Kernel},
	}, nil
}
