package neuralnet

import "math"

// Params holds the training hyper-parameters of a network.
type Params struct {
	// Lr is the learning rate currently in use; it is rewritten every step
	// from the schedule below.
	Lr float64

	InitialLr   float64
	TargetLr    float64
	WarmupSteps int
	// DecaySteps bounds the cosine decay; <= 0 decays over every step after warm-up.
	DecaySteps int
	// LrSchedule is one of "none", "cosine" or "exponential".
	LrSchedule string
	// Decay multiplies TargetLr once per epoch under the exponential schedule.
	Decay float64

	L2 float64

	// Adam moments.
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// NewParams returns a constant learning rate schedule with Adam defaults.
func NewParams(learningRate float64) Params {
	return NewParamsFull(learningRate, 1, 0)
}

// NewParamsFull returns a constant schedule with per-epoch decay and L2 regularization.
func NewParamsFull(learningRate, decay, regularization float64) Params {
	return Params{
		Lr:         learningRate,
		InitialLr:  learningRate,
		TargetLr:   learningRate,
		LrSchedule: "none",
		Decay:      decay,
		L2:         regularization,
		Beta1:      0.9,
		Beta2:      0.999,
		Epsilon:    1e-7,
	}
}

// calculateCurrentLr returns the learning rate for the given global step:
// a linear warm-up from InitialLr to TargetLr, then the configured schedule.
func calculateCurrentLr(p *Params, currentGlobalStep, totalTrainingSteps int) float64 {
	if currentGlobalStep < p.WarmupSteps {
		frac := float64(currentGlobalStep) / float64(p.WarmupSteps)
		return p.InitialLr + (p.TargetLr-p.InitialLr)*frac
	}
	switch p.LrSchedule {
	case "cosine":
		decaySteps := p.DecaySteps
		if decaySteps <= 0 {
			decaySteps = totalTrainingSteps - p.WarmupSteps
		}
		if decaySteps <= 0 {
			return p.TargetLr
		}
		frac := float64(currentGlobalStep-p.WarmupSteps) / float64(decaySteps)
		if frac > 1 {
			frac = 1
		}
		return p.TargetLr * 0.5 * (1 + math.Cos(math.Pi*frac))
	default:
		// "exponential" decays TargetLr between epochs, see NeuralNetwork.TrainMiniBatch.
		return p.TargetLr
	}
}
