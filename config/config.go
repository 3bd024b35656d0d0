// Package config handles loading of run configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hmcbnn/bnn"
	"hmcbnn/hmc"
	"hmcbnn/neuralnet"
	"hmcbnn/predict"
)

// Config is the root configuration structure.
type Config struct {
	Network     NetworkConfig     `yaml:"network"`
	Pretrain    PretrainConfig    `yaml:"pretrain"`
	Sampler     SamplerConfig     `yaml:"sampler"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Predict     PredictConfig     `yaml:"predict"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Bench       BenchConfig       `yaml:"bench"`
}

// NetworkConfig holds the architecture and the likelihood/prior settings.
type NetworkConfig struct {
	Architecture bnn.Architecture `yaml:"architecture"`
	PriorStd     float64          `yaml:"prior_std"`
	// NoiseStd is the fixed observation noise of a single-output network.
	NoiseStd    float64 `yaml:"noise_std"`
	MinVariance float64 `yaml:"min_variance"`
}

// Likelihood returns the Gaussian likelihood these settings describe.
func (n NetworkConfig) Likelihood() neuralnet.GaussianNLL {
	return neuralnet.GaussianNLL{NoiseStd: n.NoiseStd, MinVariance: n.MinVariance}
}

// PretrainConfig holds point-estimate training settings.
type PretrainConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	// LrSchedule is one of none, cosine and exponential.
	LrSchedule  string  `yaml:"lr_schedule"`
	WarmupSteps int     `yaml:"warmup_steps"`
	DecaySteps  int     `yaml:"decay_steps"`
	TargetLr    float64 `yaml:"target_lr"`
	// Decay multiplies the target rate once per epoch under the exponential schedule.
	Decay float64 `yaml:"decay"`
	L2    float64 `yaml:"l2"`
	Seed  int64   `yaml:"seed"`
}

// Params converts the settings into a learning-rate schedule.
func (p PretrainConfig) Params() neuralnet.Params {
	decay := p.Decay
	if decay <= 0 {
		decay = 1
	}
	np := neuralnet.NewParamsFull(p.LearningRate, decay, p.L2)
	if p.LrSchedule != "" {
		np.LrSchedule = p.LrSchedule
	}
	np.WarmupSteps = p.WarmupSteps
	np.DecaySteps = p.DecaySteps
	if p.TargetLr > 0 {
		np.TargetLr = p.TargetLr
	}
	return np
}

// SamplerConfig holds the HMC settings.
type SamplerConfig struct {
	StepSize         float64 `yaml:"step_size"`
	NumLeapfrogSteps int     `yaml:"num_leapfrog_steps"`
	NumBurninSteps   int     `yaml:"num_burnin_steps"`
	NumResults       int     `yaml:"num_results"`
	TargetAcceptProb float64 `yaml:"target_accept_prob"`
	AdaptationRate   float64 `yaml:"adaptation_rate"`
	Seed             uint64  `yaml:"seed"`
	LogEvery         int     `yaml:"log_every"`
}

// DiagnosticsConfig controls the trace summaries.
type DiagnosticsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogDir      string `yaml:"log_dir"`
	SummaryFreq int    `yaml:"summary_freq"`
	// MetricsAddr serves prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// PredictConfig controls the posterior predictive.
type PredictConfig struct {
	Uncertainty string `yaml:"uncertainty"`
	Workers     int    `yaml:"workers"`
}

// CheckpointConfig holds the checkpoint location.
type CheckpointConfig struct {
	Path string `yaml:"path"`
}

// BenchConfig controls the prediction-time benchmark.
type BenchConfig struct {
	Trials int    `yaml:"trials"`
	LogMax int    `yaml:"log_max"`
	Step   int    `yaml:"step"`
	Output string `yaml:"output"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Architecture: bnn.Architecture{Inputs: 1, Hidden: []int{32, 32}, Outputs: 1},
			PriorStd:     1,
			NoiseStd:     0.1,
			MinVariance:  1e-6,
		},
		Pretrain: PretrainConfig{
			Enabled:      true,
			Epochs:       100,
			BatchSize:    32,
			LearningRate: 0.001,
			LrSchedule:   "none",
			Decay:        1,
		},
		Sampler: SamplerConfig{
			StepSize:         0.01,
			NumLeapfrogSteps: 10,
			NumBurninSteps:   500,
			NumResults:       200,
			TargetAcceptProb: hmc.DefaultTargetAcceptProb,
			AdaptationRate:   hmc.DefaultAdaptationRate,
			LogEvery:         100,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:     true,
			LogDir:      "logs/hmc/",
			SummaryFreq: hmc.DefaultSummaryFreq,
		},
		Predict: PredictConfig{
			Uncertainty: predict.AleatoricEpistemic.String(),
		},
		Checkpoint: CheckpointConfig{
			Path: "checkpoints/hmc.gob",
		},
		Bench: BenchConfig{
			Trials: 10,
			LogMax: 16,
			Step:   1,
			Output: "prediction_time.csv",
		},
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if err := c.Network.Architecture.Validate(); err != nil {
		return errors.Wrap(err, "network")
	}
	if c.Network.PriorStd <= 0 {
		return errors.Errorf("network: prior_std must be positive, got %v", c.Network.PriorStd)
	}
	if c.Network.Architecture.Outputs == 1 && c.Network.NoiseStd <= 0 {
		return errors.Errorf("network: noise_std must be positive for a single output, got %v", c.Network.NoiseStd)
	}
	switch c.Pretrain.LrSchedule {
	case "", "none", "cosine", "exponential":
	default:
		return errors.Errorf("pretrain: unknown lr_schedule %q", c.Pretrain.LrSchedule)
	}
	s := c.Sampler
	if s.StepSize <= 0 {
		return errors.Errorf("sampler: step_size must be positive, got %v", s.StepSize)
	}
	if s.NumLeapfrogSteps < 1 {
		return errors.Errorf("sampler: num_leapfrog_steps must be at least 1, got %d", s.NumLeapfrogSteps)
	}
	if s.NumBurninSteps < 0 || s.NumResults < 0 {
		return errors.New("sampler: step counts must not be negative")
	}
	if s.TargetAcceptProb <= 0 || s.TargetAcceptProb >= 1 {
		return errors.Errorf("sampler: target_accept_prob must be in (0, 1), got %v", s.TargetAcceptProb)
	}
	if s.AdaptationRate < 0 || s.AdaptationRate >= 1 {
		return errors.Errorf("sampler: adaptation_rate must be in [0, 1), got %v", s.AdaptationRate)
	}
	if _, err := predict.ParseMode(c.Predict.Uncertainty); err != nil {
		return errors.Wrap(err, "predict")
	}
	return nil
}

// Load loads configuration from a file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "failed to write config file")
}
