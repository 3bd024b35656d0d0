package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"hmcbnn/chain"
	"hmcbnn/hmc"
	"hmcbnn/params"
)

func testResume(t *testing.T) *hmc.Resume {
	t.Helper()
	layout := params.Layout{{3, 2}, {2}, {2, 1}, {1}}
	c := chain.New(layout)
	var trace hmc.Trace
	for i := 0; i < 4; i++ {
		flat := make([]float64, layout.Size())
		for j := range flat {
			flat[j] = float64(i*100 + j)
		}
		v, err := params.New(layout, flat)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Append(v); err != nil {
			t.Fatal(err)
		}
		trace = append(trace, hmc.Record{
			Kernel:   hmc.KernelResult{Step: i + 1, StepSize: 0.01 * float64(i+1), IsAccepted: i%2 == 0, NumAccepted: i/2 + 1},
			Observed: []any{float64(i), []float64{1, 2}},
		})
	}
	return &hmc.Resume{Chain: c, Trace: trace, Kernel: trace[3].Kernel}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "run.gob")
	in := New(testResume(t))
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.RunID != in.RunID {
		t.Errorf("RunID = %v; want %v", out.RunID, in.RunID)
	}
	if !out.Resume.Chain.Layout().Equal(in.Resume.Chain.Layout()) {
		t.Errorf("layout = %v; want %v", out.Resume.Chain.Layout(), in.Resume.Chain.Layout())
	}
	if out.Resume.Chain.Len() != 4 {
		t.Fatalf("chain length = %d; want 4", out.Resume.Chain.Len())
	}
	for i := 0; i < 4; i++ {
		a, b := in.Resume.Chain.At(i).Flatten(nil), out.Resume.Chain.At(i).Flatten(nil)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("snapshot %d value %d = %v; want %v", i, j, b[j], a[j])
			}
		}
		if out.Resume.Trace[i].Kernel != in.Resume.Trace[i].Kernel {
			t.Errorf("trace record %d = %+v; want %+v", i, out.Resume.Trace[i].Kernel, in.Resume.Trace[i].Kernel)
		}
		if got := out.Resume.Trace[i].Observed[0].(float64); got != float64(i) {
			t.Errorf("observed value %d = %v; want %v", i, got, i)
		}
	}
	if out.Resume.Kernel != in.Resume.Kernel {
		t.Errorf("kernel = %+v; want %+v", out.Resume.Kernel, in.Resume.Kernel)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("Load of a missing file did not fail")
	}
	garbage := filepath.Join(dir, "garbage")
	os.WriteFile(garbage, []byte("not a checkpoint"), 0o644)
	if _, err := Load(garbage); err == nil {
		t.Error("Load of garbage did not fail")
	}
	if err := Save(filepath.Join(dir, "x"), nil); err == nil {
		t.Error("Save(nil) did not fail")
	}
}
