package hmc

import "fmt"

// PreconditionError is returned before any sampling work when the run
// cannot be started.
type PreconditionError struct{ string }

func (err PreconditionError) Error() string {
	return err.string
}

// ErrNoInitialState is returned when neither a start state nor a resume
// bundle is given.
var ErrNoInitialState = PreconditionError{"either a current state or a resume bundle is required"}

// NumericInstabilityError reports a non-finite log-density or gradient.
// The run is aborted; restart from the last checkpoint.
type NumericInstabilityError struct {
	Step    int
	LogProb float64
}

func (err *NumericInstabilityError) Error() string {
	return fmt.Sprintf("non-finite log-density or gradient at step %d (log prob %v)", err.Step, err.LogProb)
}
