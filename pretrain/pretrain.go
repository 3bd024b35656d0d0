// Package pretrain fits a point-estimate network by gradient descent to give
// the sampler a starting point close to a posterior mode.
package pretrain

import (
	"log/slog"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"hmcbnn/neuralnet"
	"hmcbnn/params"
)

// Options controls the pre-training run. Zero values select the defaults.
type Options struct {
	Epochs    int // default 100
	BatchSize int // default 32
	// Params is the learning-rate schedule; a zero value uses Adam at 0.001.
	Params neuralnet.Params
	Seed   int64
	Logger *slog.Logger
}

// PreTrain builds a network with len(nodesPerLayer) dense layers (ReLU on all
// but the last, which is linear), minimises the mean squared error on
// (x, y) and returns the learned parameters and the network.
func PreTrain(x, y *mat.Dense, nodesPerLayer []int, opts Options) (params.Vector, *neuralnet.NeuralNetwork, error) {
	if len(nodesPerLayer) == 0 {
		return nil, nil, errors.New("pre-training needs at least one layer")
	}
	_, inputs := x.Dims()
	_, targets := y.Dims()
	outputs := nodesPerLayer[len(nodesPerLayer)-1]
	if outputs < targets {
		return nil, nil, errors.Errorf("network has %d outputs for %d target columns", outputs, targets)
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Params.LrSchedule == "" {
		opts.Params = neuralnet.NewParams(0.001)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pretrain"))

	hidden := nodesPerLayer[:len(nodesPerLayer)-1]
	nn := neuralnet.NewNeuralNetwork(inputs, hidden, outputs, opts.Params, neuralnet.ReLU{}, neuralnet.Linear{})
	rng := rand.New(rand.NewSource(opts.Seed))
	history, err := nn.TrainMiniBatch(x, y, opts.Epochs, opts.BatchSize, neuralnet.MSE{}, &neuralnet.Adam{}, rng, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "pre-training")
	}
	logger.Info("pre-training done",
		slog.Int("epochs", opts.Epochs),
		slog.Float64("loss", history[len(history)-1]),
		slog.Float64("r2", nn.Evaluate(x, y)))
	v, err := nn.ParamVector()
	if err != nil {
		return nil, nil, err
	}
	return v, nn, nil
}
