package timeseries

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for the construction-time failure taxonomy.
var (
	// ErrInvalidTimeStep marks a configured step or gap that is not an
	// exact multiple of the dataset's native data time step.
	ErrInvalidTimeStep = errors.New("invalid time step configuration")

	// ErrUnknownVariable marks a scaling or coupling reference to a
	// variable absent from the source dataset.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrIndexOutOfRange marks an item access outside [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidFormat marks a data_format outside the supported set.
	ErrInvalidFormat = errors.New("invalid data format")

	// ErrForecastBatchSize marks forecast mode combined with a batch size
	// other than 1, surfaced as an error when warnings are fatal.
	ErrForecastBatchSize = errors.New("forecast mode requires batch_size=1")
)

// Default step durations used when the configuration leaves them empty.
const (
	DefaultDataTimeStep = "3h"
	DefaultTimeStep     = "6h"
)

// TimeSteps holds the resolved step configuration of a dataset: the parsed
// durations plus the derived integer ratios used by the windowing logic.
type TimeSteps struct {
	Data time.Duration
	Step time.Duration
	Gap  time.Duration

	// Interval is Step/Data, the number of native steps per configured step.
	Interval int
	// GapSteps is Gap/Data, zero when no gap is configured.
	GapSteps int
}

// ParseStep parses a duration string such as "3h", "90m" or "1d". A "d"
// suffix means whole days; everything else goes through time.ParseDuration.
func ParseStep(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("parsing duration %q: %w", s, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	return d, nil
}

// ValidateTimeSteps parses and validates the step configuration. timeStep
// must be an exact multiple of dataTimeStep, and gap, when supplied, must be
// as well. Empty dataTimeStep and timeStep fall back to the defaults; an
// empty gap means no gap. The error names the offending field.
func ValidateTimeSteps(dataTimeStep, timeStep, gap string) (TimeSteps, error) {
	if dataTimeStep == "" {
		dataTimeStep = DefaultDataTimeStep
	}
	if timeStep == "" {
		timeStep = DefaultTimeStep
	}

	var ts TimeSteps
	var err error
	if ts.Data, err = ParseStep(dataTimeStep); err != nil {
		return TimeSteps{}, fmt.Errorf("%w: 'data_time_step': %v", ErrInvalidTimeStep, err)
	}
	if ts.Data <= 0 {
		return TimeSteps{}, fmt.Errorf("%w: 'data_time_step' must be positive, got %s", ErrInvalidTimeStep, ts.Data)
	}
	if ts.Step, err = ParseStep(timeStep); err != nil {
		return TimeSteps{}, fmt.Errorf("%w: 'time_step': %v", ErrInvalidTimeStep, err)
	}
	if ts.Step%ts.Data != 0 {
		return TimeSteps{}, fmt.Errorf("%w: 'time_step' must be a multiple of 'data_time_step' (time_step=%s, data_time_step=%s)",
			ErrInvalidTimeStep, timeStep, dataTimeStep)
	}
	ts.Interval = int(ts.Step / ts.Data)

	if gap != "" {
		if ts.Gap, err = ParseStep(gap); err != nil {
			return TimeSteps{}, fmt.Errorf("%w: 'gap': %v", ErrInvalidTimeStep, err)
		}
		if ts.Gap%ts.Data != 0 {
			return TimeSteps{}, fmt.Errorf("%w: 'gap' must be a multiple of 'data_time_step' (gap=%s, data_time_step=%s)",
				ErrInvalidTimeStep, gap, dataTimeStep)
		}
		ts.GapSteps = int(ts.Gap / ts.Data)
	}
	return ts, nil
}
