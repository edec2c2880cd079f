package timeseries

import (
	"fmt"

	"github.com/mlweather/datapipes/store"
)

// Coupler computes auxiliary per-timestep fields for a set of source
// variables, independently of the main windowing logic. The dataset
// concatenates the result onto its input channels. New coupling strategies
// implement this interface without touching the dataset core.
type Coupler interface {
	// Variables returns the coupled variable names, in channel order.
	Variables() []string

	// Compute builds the coupled field for the given time indices. The
	// result has axes (channel, time, face, height, width) with the
	// channel axis matching Variables() and the time axis matching
	// timeIndices, so concatenation onto the base input channels is
	// well-defined.
	Compute(timeIndices []int) (*store.Array, error)
}

// validateCoupledVariables checks every requested variable exists in the
// source and is time-indexed.
func validateCoupledVariables(ds *store.Dataset, variables []string) error {
	if len(variables) == 0 {
		return fmt.Errorf("%w: coupler requires at least one variable", ErrUnknownVariable)
	}
	for _, name := range variables {
		a, err := ds.Var(name)
		if err != nil {
			return fmt.Errorf("%w: coupled variable %q is not present in the dataset", ErrUnknownVariable, name)
		}
		if len(a.Axes) == 0 || a.Axes[0] != store.AxisTime {
			return fmt.Errorf("%w: coupled variable %q has no time axis", ErrUnknownVariable, name)
		}
	}
	return nil
}

// ConstantCoupler holds each coupled variable fixed at its value at the
// first (anchor) requested time index, broadcast across the remaining
// indices. Used to feed a forecast with externally-modeled fields frozen at
// the initialization time.
type ConstantCoupler struct {
	dataset   *store.Dataset
	batchSize int
	variables []string
}

// NewConstantCoupler validates the requested variables against the source.
func NewConstantCoupler(ds *store.Dataset, batchSize int, variables []string) (*ConstantCoupler, error) {
	if err := validateCoupledVariables(ds, variables); err != nil {
		return nil, err
	}
	return &ConstantCoupler{dataset: ds, batchSize: batchSize, variables: append([]string(nil), variables...)}, nil
}

// Dataset returns the source dataset reference.
func (c *ConstantCoupler) Dataset() *store.Dataset { return c.dataset }

// BatchSize returns the configured batch size.
func (c *ConstantCoupler) BatchSize() int { return c.batchSize }

// Variables returns the coupled variable names.
func (c *ConstantCoupler) Variables() []string { return c.variables }

// Compute broadcasts each variable's value at timeIndices[0] over the whole
// index set.
func (c *ConstantCoupler) Compute(timeIndices []int) (*store.Array, error) {
	if len(timeIndices) == 0 {
		return nil, fmt.Errorf("coupler: no time indices requested")
	}
	anchor := timeIndices[0]
	perVar := make([]*store.Array, 0, len(c.variables))
	for _, name := range c.variables {
		a, err := c.dataset.Var(name)
		if err != nil {
			return nil, err
		}
		if anchor < 0 || anchor >= a.Dims[0] {
			return nil, fmt.Errorf("coupler: anchor time index %d out of range for variable %q with %d steps", anchor, name, a.Dims[0])
		}
		at := a.Index(anchor)
		steps := make([]*store.Array, len(timeIndices))
		for i := range timeIndices {
			steps[i] = at
		}
		stacked, err := store.Stack(store.AxisTime, steps...)
		if err != nil {
			return nil, err
		}
		perVar = append(perVar, stacked)
	}
	return store.Stack("channel", perVar...)
}

// TrailingAverageCoupler emits, for each requested time index, the mean of
// each coupled variable over the trailing window of native steps ending at
// that index. The averaging window must be a multiple of the data time step.
type TrailingAverageCoupler struct {
	dataset       *store.Dataset
	batchSize     int
	variables     []string
	averagingSteps int
}

// NewTrailingAverageCoupler validates the requested variables and resolves
// the averaging window against the data time step. Empty averagingWindow
// defaults to one native step (no averaging).
func NewTrailingAverageCoupler(ds *store.Dataset, batchSize int, variables []string, averagingWindow, dataTimeStep string) (*TrailingAverageCoupler, error) {
	if err := validateCoupledVariables(ds, variables); err != nil {
		return nil, err
	}
	steps := 1
	if averagingWindow != "" {
		ts, err := ValidateTimeSteps(dataTimeStep, averagingWindow, "")
		if err != nil {
			return nil, fmt.Errorf("averaging window: %w", err)
		}
		steps = ts.Interval
	}
	return &TrailingAverageCoupler{
		dataset:        ds,
		batchSize:      batchSize,
		variables:      append([]string(nil), variables...),
		averagingSteps: steps,
	}, nil
}

// Dataset returns the source dataset reference.
func (c *TrailingAverageCoupler) Dataset() *store.Dataset { return c.dataset }

// BatchSize returns the configured batch size.
func (c *TrailingAverageCoupler) BatchSize() int { return c.batchSize }

// Variables returns the coupled variable names.
func (c *TrailingAverageCoupler) Variables() []string { return c.variables }

// AveragingSteps returns the trailing window length in native steps.
func (c *TrailingAverageCoupler) AveragingSteps() int { return c.averagingSteps }

// Compute averages each variable over [t-averagingSteps+1, t] for every
// requested index t. Windows reaching before the start of the series are
// clamped at step zero.
func (c *TrailingAverageCoupler) Compute(timeIndices []int) (*store.Array, error) {
	if len(timeIndices) == 0 {
		return nil, fmt.Errorf("coupler: no time indices requested")
	}
	perVar := make([]*store.Array, 0, len(c.variables))
	for _, name := range c.variables {
		a, err := c.dataset.Var(name)
		if err != nil {
			return nil, err
		}
		steps := make([]*store.Array, len(timeIndices))
		for i, t := range timeIndices {
			if t < 0 || t >= a.Dims[0] {
				return nil, fmt.Errorf("coupler: time index %d out of range for variable %q with %d steps", t, name, a.Dims[0])
			}
			lo := t - c.averagingSteps + 1
			if lo < 0 {
				lo = 0
			}
			window := make([]*store.Array, 0, t-lo+1)
			for j := lo; j <= t; j++ {
				window = append(window, a.Index(j))
			}
			mean, err := store.MeanStack(window...)
			if err != nil {
				return nil, err
			}
			steps[i] = mean
		}
		stacked, err := store.Stack(store.AxisTime, steps...)
		if err != nil {
			return nil, err
		}
		perVar = append(perVar, stacked)
	}
	return store.Stack("channel", perVar...)
}
