// Package hmc runs Hamiltonian Monte Carlo with step-size adaptation over
// the flattened weights of a network, and supports resuming a chain from a
// previous run's chain, trace and final kernel result.
package hmc

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"hmcbnn/chain"
	"hmcbnn/diag"
	"hmcbnn/params"
)

// Resume is what a previous run hands to the next one.
type Resume struct {
	Chain  chain.Chain
	Trace  Trace
	Kernel KernelResult
}

// Options configures Run. Exactly one of CurrentState and Resume is used;
// Resume wins when both are set.
type Options struct {
	StepSize         float64
	NumLeapfrogSteps int
	NumBurninSteps   int
	NumResults       int

	CurrentState params.Vector
	Resume       *Resume

	// TargetAcceptProb and AdaptationRate default to 0.75 and 0.01 for fresh
	// chains; resumed chains keep the values in Resume.Kernel.
	TargetAcceptProb float64
	AdaptationRate   float64

	Seed uint64

	Collector *Collector
	// OpenSink is called once per run; the sink is closed when Run returns.
	OpenSink func() (diag.Sink, error)

	Logger *slog.Logger
	// LogEvery logs progress every LogEvery iterations; <= 0 disables it.
	LogEvery int
	// Progress, when set, is called after every iteration.
	Progress func(done, total int)
}

// Result holds the split chain, the full trace and the final kernel result.
type Result struct {
	Burnin  chain.Chain
	Samples chain.Chain
	Trace   Trace
	Final   KernelResult
}

// Checkpoint returns the bundle needed to resume this run. The whole merged
// chain is carried over.
func (r *Result) Checkpoint() (*Resume, error) {
	full, err := chain.Merge(r.Burnin, r.Samples)
	if err != nil {
		return nil, err
	}
	return &Resume{Chain: full, Trace: r.Trace, Kernel: r.Final}, nil
}

func (o *Options) validate() error {
	if o.Resume == nil && o.CurrentState == nil {
		return ErrNoInitialState
	}
	if o.Resume != nil && o.Resume.Chain.Len() == 0 {
		return PreconditionError{"resume bundle has an empty chain"}
	}
	if o.Resume != nil && o.Resume.Trace.Len() != o.Resume.Chain.Len() {
		return PreconditionError{fmt.Sprintf("resume bundle has %d trace records for %d chain states", o.Resume.Trace.Len(), o.Resume.Chain.Len())}
	}
	if o.Resume == nil && o.StepSize <= 0 {
		return PreconditionError{"step size must be positive"}
	}
	if o.NumLeapfrogSteps < 1 {
		return PreconditionError{"at least one leapfrog step is required"}
	}
	if o.NumBurninSteps < 0 || o.NumResults < 0 {
		return PreconditionError{"burn-in and result counts must not be negative"}
	}
	if o.CurrentState != nil && o.Resume == nil {
		if err := o.CurrentState.Validate(); err != nil {
			return errors.Wrap(err, "current state")
		}
	}
	return nil
}

// Run draws NumBurninSteps + NumResults states from target. The step size
// adapts during the first NumBurninSteps steps of a fresh chain and stays
// frozen after that.
//
// When resuming, the new states are appended to Resume.Chain and the
// returned Samples are the last NumResults states of the new segment; every
// earlier state, including samples retained by previous runs, is returned
// as burn-in.
func Run(target Target, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "hmc"))

	var (
		start  params.Vector
		result KernelResult
		offset int
		err    error
	)
	if opts.Resume != nil {
		start, err = opts.Resume.Chain.Last()
		if err != nil {
			return nil, err
		}
		result = opts.Resume.Kernel
		offset = opts.Resume.Chain.Len()
	} else {
		start = opts.CurrentState.Clone()
		result = bootstrap(opts)
	}
	layout := start.Layout()

	sink := diag.Discard
	if opts.OpenSink != nil {
		guard(logger, "opening diagnostics", func() error {
			s, err := opts.OpenSink()
			if err == nil && s != nil {
				sink = s
			}
			return err
		})
	}
	defer guard(logger, "closing diagnostics", sink.Close)
	collector := opts.Collector
	if collector == nil {
		collector = &Collector{}
	}
	collector.attach(sink, logger)
	defer collector.detach()

	k := &kernel{
		target:           target,
		numLeapfrogSteps: opts.NumLeapfrogSteps,
		rng:              rand.New(rand.NewPCG(opts.Seed, uint64(offset))),
	}
	cur := newState(target, start.Flatten(nil))
	if !cur.finite() {
		return nil, &NumericInstabilityError{Step: result.Step, LogProb: cur.logProb}
	}
	result.TargetLogProb = cur.logProb

	total := opts.NumBurninSteps + opts.NumResults
	logger.Info("sampling",
		slog.Int("iterations", total),
		slog.Int("from_step", result.Step),
		slog.Float64("step_size", result.StepSize),
		slog.Int("leapfrog_steps", opts.NumLeapfrogSteps),
		slog.Int("dim", len(cur.x)))
	began := time.Now()

	segment := chain.New(layout)
	trace := make(Trace, 0, total)
	snap := params.Zeros(layout)
	for i := 0; i < total; i++ {
		prop := k.propose(cur, result.StepSize)
		if !prop.next.finite() {
			return nil, &NumericInstabilityError{Step: result.Step, LogProb: prop.next.logProb}
		}
		result.LogAcceptRatio = prop.logAcceptRatio
		result.IsAccepted = k.accept(prop.logAcceptRatio)
		if result.IsAccepted {
			cur = prop.next
			result.NumAccepted++
		}
		result.TargetLogProb = cur.logProb
		adaptStepSize(&result)
		result.Step++

		snap.Set(cur.x)
		if err := segment.Append(snap); err != nil {
			return nil, err
		}
		trace = append(trace, collector.Collect(snap, result))
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}

		if opts.LogEvery > 0 && (i+1)%opts.LogEvery == 0 {
			logger.Info("progress",
				slog.Int("step", result.Step),
				slog.Float64("step_size", result.StepSize),
				slog.Float64("acceptance_rate", result.AcceptanceRate()),
				slog.Float64("log_prob", cur.logProb))
		}
	}

	// the equivalent of a graph/trace export: one record at the resume offset
	guard(logger, "exporting trace summary", func() error {
		return sink.Scalar("hmc_trace", offset, float64(total))
	})
	guard(logger, "flushing diagnostics", sink.Flush)

	full := segment
	if opts.Resume != nil {
		if full, err = chain.Merge(opts.Resume.Chain, segment); err != nil {
			return nil, errors.Wrap(err, "merging resumed chain")
		}
		if trace, err = chain.Merge(opts.Resume.Trace, trace); err != nil {
			return nil, errors.Wrap(err, "merging resumed trace")
		}
	}
	burnin, samples := full.Split(opts.NumResults)

	logger.Info("sampling done",
		slog.Duration("elapsed", time.Since(began)),
		slog.Int("burnin", burnin.Len()),
		slog.Int("samples", samples.Len()),
		slog.Float64("acceptance_rate", result.AcceptanceRate()),
		slog.Float64("step_size", result.StepSize))
	return &Result{Burnin: burnin, Samples: samples, Trace: trace, Final: result}, nil
}

// guard runs one diagnostics call. Errors and panics are logged, never returned.
func guard(logger *slog.Logger, what string, call func() error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn(what+" panicked", slog.String("panic", fmt.Sprint(p)))
		}
	}()
	if err := call(); err != nil {
		logger.Warn(what, slog.Any("error", err))
	}
}

func bootstrap(opts Options) KernelResult {
	r := KernelResult{
		StepSize:           opts.StepSize,
		NumAdaptationSteps: opts.NumBurninSteps,
		TargetAcceptProb:   opts.TargetAcceptProb,
		AdaptationRate:     opts.AdaptationRate,
	}
	if r.TargetAcceptProb <= 0 {
		r.TargetAcceptProb = DefaultTargetAcceptProb
	}
	if r.AdaptationRate <= 0 {
		r.AdaptationRate = DefaultAdaptationRate
	}
	return r
}
