// Package diag provides best-effort sinks for sampler diagnostics: named
// histograms and scalars keyed by step.
package diag

import (
	"errors"
)

// Sink receives summaries from the sampler. Implementations report
// failures through their return values; callers treat every error as
// non-fatal.
type Sink interface {
	Histogram(name string, step int, values []float64) error
	Scalar(name string, step int, value float64) error
	Flush() error
	Close() error
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Histogram(string, int, []float64) error { return nil }
func (discard) Scalar(string, int, float64) error      { return nil }
func (discard) Flush() error                           { return nil }
func (discard) Close() error                           { return nil }

// Multi fans every call out to all sinks and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Histogram(name string, step int, values []float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Histogram(name, step, values))
	}
	return errors.Join(errs...)
}

func (m multi) Scalar(name string, step int, value float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Scalar(name, step, value))
	}
	return errors.Join(errs...)
}

func (m multi) Flush() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
