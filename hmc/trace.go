package hmc

import (
	"fmt"
	"log/slog"

	"hmcbnn/diag"
	"hmcbnn/params"
)

// DefaultSummaryFreq is how often, in steps, histograms are written.
const DefaultSummaryFreq = 20

// Observer is called with a copy of the state after every step, so it may
// keep or return it. Its return value is stored verbatim in the trace.
type Observer func(state params.Vector) any

// Record is the trace entry for one step.
type Record struct {
	Kernel   KernelResult
	Observed []any
}

// Trace is index-aligned with the chain it was collected with.
type Trace []Record

// Len is the number of records.
func (t Trace) Len() int { return len(t) }

// Concat appends other after t without aliasing either.
func (t Trace) Concat(other Trace) (Trace, error) {
	out := make(Trace, 0, len(t)+len(other))
	out = append(out, t...)
	return append(out, other...), nil
}

// StepSizes returns the step size recorded at every step.
func (t Trace) StepSizes() []float64 {
	out := make([]float64, len(t))
	for i, r := range t {
		out[i] = r.Kernel.StepSize
	}
	return out
}

// Collector records per-step diagnostics. It never touches the sampler's
// state: histograms go to the sink, observer outputs go into the Record.
type Collector struct {
	// SummaryFreq writes summaries on steps divisible by it; <= 0 uses DefaultSummaryFreq.
	SummaryFreq int
	Observers   []Observer
	Logger      *slog.Logger

	sink diag.Sink
}

// NewCollector returns a collector with the given observers.
func NewCollector(summaryFreq int, observers ...Observer) *Collector {
	return &Collector{SummaryFreq: summaryFreq, Observers: observers}
}

func (c *Collector) attach(sink diag.Sink, logger *slog.Logger) {
	c.sink = sink
	if c.Logger == nil {
		c.Logger = logger
	}
}

func (c *Collector) detach() {
	c.sink = nil
}

// Collect builds the trace record of one step.
func (c *Collector) Collect(state params.Vector, r KernelResult) Record {
	freq := c.SummaryFreq
	if freq <= 0 {
		freq = DefaultSummaryFreq
	}
	if c.sink != nil && r.Step%freq == 0 {
		c.summarize(state, r)
	}
	rec := Record{Kernel: r}
	if len(c.Observers) > 0 {
		rec.Observed = make([]any, len(c.Observers))
		for i, obs := range c.Observers {
			// state is reused by the sampler; observers keep their own copy
			rec.Observed[i] = obs(state.Clone())
		}
	}
	return rec
}

// summarize writes to the sink; failures are logged and dropped.
func (c *Collector) summarize(state params.Vector, r KernelResult) {
	defer func() {
		if p := recover(); p != nil {
			c.logger().Warn("diagnostics sink panicked", slog.Int("step", r.Step), slog.String("panic", fmt.Sprint(p)))
		}
	}()
	for i, t := range state {
		if err := c.sink.Histogram(params.Name(i), r.Step, t.Float64s()); err != nil {
			c.logger().Warn("writing histogram", slog.String("tensor", params.Name(i)), slog.Int("step", r.Step), slog.Any("error", err))
		}
	}
	scalars := []struct {
		name  string
		value float64
	}{
		{"step_size", r.StepSize},
		{"acceptance_rate", r.AcceptanceRate()},
		{"target_log_prob", r.TargetLogProb},
	}
	for _, s := range scalars {
		if err := c.sink.Scalar(s.name, r.Step, s.value); err != nil {
			c.logger().Warn("writing scalar", slog.String("name", s.name), slog.Int("step", r.Step), slog.Any("error", err))
		}
	}
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
