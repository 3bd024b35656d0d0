// Command hmcbnn samples the weight posterior of a Bayesian neural network
// with Hamiltonian Monte Carlo and predicts with the retained samples.
//
// Subcommands:
//   - init: write the default config file
//   - sample: pre-train, run (or resume) the chain and save a checkpoint
//   - predict: print the posterior predictive for a dataset as CSV
//   - bench: time posterior predictions against the number of test points
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/mat"

	"hmcbnn/bench"
	"hmcbnn/bnn"
	"hmcbnn/chain"
	"hmcbnn/checkpoint"
	"hmcbnn/config"
	"hmcbnn/diag"
	"hmcbnn/hmc"
	"hmcbnn/neuralnet"
	"hmcbnn/params"
	"hmcbnn/predict"
	"hmcbnn/pretrain"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Config file path")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] init|sample|predict|bench [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init" {
		if err := config.Default().Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config initialized at: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "sample":
		err = runSample(cfg, args)
	case "predict":
		err = runPredict(cfg, args)
	case "bench":
		err = runBench(cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// dataFlags are the dataset flags shared by sample and predict.
type dataFlags struct {
	path      string
	synthetic string
	n         int
	noise     float64
	seed      uint64
	testFrac  float64
}

func (d *dataFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.path, "data", "", "CSV file; the last columns are targets")
	fs.StringVar(&d.synthetic, "synthetic", "sin", "Synthetic dataset when -data is empty: sin or franke")
	fs.IntVar(&d.n, "n", 500, "Synthetic dataset size")
	fs.Float64Var(&d.noise, "noise", 0.1, "Synthetic observation noise")
	fs.Uint64Var(&d.seed, "data-seed", 1, "Seed for synthetic data and the train/test split")
	fs.Float64Var(&d.testFrac, "test", 0.2, "Held-out fraction")
}

func (d *dataFlags) load() (train, test dataset, err error) {
	var all dataset
	if d.path != "" {
		all, err = loadCSV(d.path, 1)
	} else {
		all, err = synthetic(d.synthetic, d.n, d.noise, d.seed)
	}
	if err != nil {
		return dataset{}, dataset{}, err
	}
	train, test = all.split(d.testFrac, d.seed)
	train.standardize(test.X)
	return train, test, nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server stopped", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	slog.Info("serving metrics", slog.String("addr", addr))
}

func openSink(cfg *config.Config) func() (diag.Sink, error) {
	return func() (diag.Sink, error) {
		var sinks []diag.Sink
		if cfg.Diagnostics.Enabled {
			f, err := diag.OpenFile(cfg.Diagnostics.LogDir)
			if err != nil {
				return nil, err
			}
			slog.Info("writing diagnostics", slog.String("path", f.Path()))
			sinks = append(sinks, f)
		}
		if cfg.Diagnostics.MetricsAddr != "" {
			p, err := diag.NewPromSink(prometheus.DefaultRegisterer)
			if err != nil {
				return nil, errors.Wrap(err, "registering metrics")
			}
			sinks = append(sinks, p)
		}
		return diag.Multi(sinks...), nil
	}
}

func runSample(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	var data dataFlags
	data.register(fs)
	resume := fs.Bool("resume", false, "Continue the chain stored in the checkpoint")
	ckptPath := fs.String("checkpoint", cfg.Checkpoint.Path, "Checkpoint file")
	metrics := fs.String("metrics", cfg.Diagnostics.MetricsAddr, "Serve prometheus metrics on this address")
	fs.Parse(args)
	cfg.Diagnostics.MetricsAddr = *metrics
	serveMetrics(*metrics)

	train, test, err := data.load()
	if err != nil {
		return err
	}
	arch := cfg.Network.Architecture
	post, err := bnn.NewPosterior(arch, train.X, train.Y, cfg.Network.PriorStd, cfg.Network.Likelihood())
	if err != nil {
		return err
	}

	s := cfg.Sampler
	bar := newProgressBar(os.Stderr, "sampling")
	opts := hmc.Options{
		StepSize:         s.StepSize,
		NumLeapfrogSteps: s.NumLeapfrogSteps,
		NumBurninSteps:   s.NumBurninSteps,
		NumResults:       s.NumResults,
		TargetAcceptProb: s.TargetAcceptProb,
		AdaptationRate:   s.AdaptationRate,
		Seed:             s.Seed,
		Collector:        hmc.NewCollector(cfg.Diagnostics.SummaryFreq),
		OpenSink:         openSink(cfg),
		LogEvery:         s.LogEvery,
		Progress:         bar.Update,
	}

	var prev *checkpoint.Bundle
	if *resume {
		if prev, err = checkpoint.Load(*ckptPath); err != nil {
			return err
		}
		if got := prev.Resume.Chain.Layout(); !got.Equal(arch.Layout()) {
			return errors.Errorf("checkpoint layout %v does not match the configured network %v", got, arch.Layout())
		}
		opts.Resume = prev.Resume
		slog.Info("resuming", slog.String("run", prev.RunID.String()), slog.Int("from_step", prev.Resume.Kernel.Step))
	} else if opts.CurrentState, err = initialState(cfg, train); err != nil {
		return err
	}

	res, err := hmc.Run(post, opts)
	if err != nil {
		return err
	}
	r, err := res.Checkpoint()
	if err != nil {
		return err
	}
	b := checkpoint.New(r)
	if prev != nil {
		b.RunID = prev.RunID
	}
	if err := checkpoint.Save(*ckptPath, b); err != nil {
		return err
	}
	slog.Info("checkpoint saved", slog.String("path", *ckptPath), slog.Int("steps", res.Final.Step))

	if test.X == nil || res.Samples.Len() == 0 {
		return nil
	}
	engine := &predict.Engine{Builder: bnn.Builder{Likelihood: cfg.Network.Likelihood()}, Workers: cfg.Predict.Workers}
	mode, _ := predict.ParseMode(cfg.Predict.Uncertainty)
	est, err := engine.Predict(res.Samples, test.X, mode)
	if err != nil {
		return err
	}
	slog.Info("held-out fit", slog.Float64("rmse", rmse(est.Mean, test.Y)), slog.Float64("mean_std", meanStd(est.Variance)))
	return nil
}

// initialState pre-trains a point estimate, or returns the untrained network
// when pre-training is disabled.
func initialState(cfg *config.Config, train dataset) (params.Vector, error) {
	arch := cfg.Network.Architecture
	p := cfg.Pretrain
	if !p.Enabled {
		nn := neuralnet.NewNeuralNetwork(arch.Inputs, arch.Hidden, arch.Outputs, p.Params(), neuralnet.ReLU{}, neuralnet.Linear{})
		return nn.ParamVector()
	}
	v, _, err := pretrain.PreTrain(train.X, train.Y, arch.NodesPerLayer(), pretrain.Options{
		Epochs:    p.Epochs,
		BatchSize: p.BatchSize,
		Params:    p.Params(),
		Seed:      p.Seed,
	})
	return v, err
}

// retained loads a checkpoint and returns the last num_results samples.
func retained(cfg *config.Config, path string) (chain.Chain, error) {
	b, err := checkpoint.Load(path)
	if err != nil {
		return chain.Chain{}, err
	}
	if got := b.Resume.Chain.Layout(); !got.Equal(cfg.Network.Architecture.Layout()) {
		return chain.Chain{}, errors.Errorf("checkpoint %s layout %v does not match the configured network", path, got)
	}
	_, samples := b.Resume.Chain.Split(cfg.Sampler.NumResults)
	return samples, nil
}

func runPredict(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	var data dataFlags
	data.register(fs)
	ckptPath := fs.String("checkpoint", cfg.Checkpoint.Path, "Checkpoint file")
	uncertainty := fs.String("uncertainty", cfg.Predict.Uncertainty, "aleatoric or aleatoric+epistemic")
	fs.Parse(args)

	mode, err := predict.ParseMode(*uncertainty)
	if err != nil {
		return err
	}
	samples, err := retained(cfg, *ckptPath)
	if err != nil {
		return err
	}
	_, test, err := data.load()
	if err != nil {
		return err
	}
	if test.X == nil {
		return errors.New("no held-out rows to predict; raise -test")
	}
	engine := &predict.Engine{Builder: bnn.Builder{Likelihood: cfg.Network.Likelihood()}, Workers: cfg.Predict.Workers}
	est, err := engine.Predict(samples, test.X, mode)
	if err != nil {
		return err
	}

	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"target", "mean", "variance", "aleatoric", "epistemic"})
	for i := range est.Mean {
		w.Write([]string{
			ftoa(test.Y.At(i, 0)), ftoa(est.Mean[i]), ftoa(est.Variance[i]), ftoa(est.Aleatoric[i]), ftoa(est.Epistemic[i]),
		})
	}
	w.Flush()
	slog.Info("predicted", slog.Int("points", len(est.Mean)), slog.Int("samples", samples.Len()), slog.String("mode", mode.String()),
		slog.Float64("rmse", rmse(est.Mean, test.Y)))
	return w.Error()
}

func runBench(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	out := fs.String("out", cfg.Bench.Output, "CSV output")
	fs.Parse(args)
	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{cfg.Checkpoint.Path}
	}

	mode, _ := predict.ParseMode(cfg.Predict.Uncertainty)
	engine := &predict.Engine{Builder: bnn.Builder{Likelihood: cfg.Network.Likelihood()}, Workers: cfg.Predict.Workers}
	b := &bench.Bench{Features: cfg.Network.Architecture.Inputs, Trials: cfg.Bench.Trials}
	for _, p := range paths {
		samples, err := retained(cfg, p)
		if err != nil {
			return err
		}
		b.Models = append(b.Models, bench.Posterior{Engine: engine, Chain: samples, Mode: mode})
	}
	bar := newProgressBar(os.Stderr, "timing")
	b.Progress = bar.Update
	timings, err := b.VsNumPoints(cfg.Bench.LogMax, cfg.Bench.Step)
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return errors.Wrap(err, "creating benchmark output")
	}
	defer f.Close()
	if err := bench.WriteCSV(f, paths, timings); err != nil {
		return err
	}
	slog.Info("benchmark written", slog.String("path", *out), slog.Int("sizes", len(timings)))
	return nil
}

func rmse(mean []float64, y *mat.Dense) float64 {
	var s float64
	for i, m := range mean {
		d := m - y.At(i, 0)
		s += d * d
	}
	return math.Sqrt(s / float64(len(mean)))
}

func meanStd(variance []float64) float64 {
	var s float64
	for _, v := range variance {
		s += math.Sqrt(v)
	}
	return s / float64(len(variance))
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
