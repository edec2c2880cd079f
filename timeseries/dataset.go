package timeseries

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/mlweather/datapipes/store"
)

// DatasetConfig configures a TimeSeriesDataset. Zero values fall back to the
// documented defaults; the source dataset itself is passed separately and is
// shared read-only.
type DatasetConfig struct {
	// DataTimeStep is the native step of the source data, default "3h".
	DataTimeStep string
	// TimeStep is the configured model step, default "6h". Must be a
	// multiple of DataTimeStep.
	TimeStep string
	// Gap is an optional spacing between the input window and the target
	// step. Must be a multiple of DataTimeStep when set.
	Gap string

	// Scaling maps variable name to normalization parameters; nil means
	// values pass through unmodified.
	Scaling ScalingMap

	// BatchSize is the number of samples per item, default 1.
	BatchSize int

	// DropLast shifts the final window back so it is always complete
	// instead of returning an empty target collection.
	DropLast bool

	// AddInsolation appends a solar irradiance channel to the inputs.
	AddInsolation bool

	// InputVariables selects the source variables feeding the input
	// channels, in order. Empty means every time-indexed variable except
	// the reserved "targets".
	InputVariables []string

	// ForecastInitTimes switches the dataset into forecast mode: items are
	// inputs anchored at these timestamps, and BatchSize must be 1.
	ForecastInitTimes []time.Time

	// Coupler optionally injects externally-computed auxiliary channels.
	Coupler Coupler

	// WarningsAsErrors escalates usage warnings (such as forecast mode
	// with BatchSize > 1) to construction errors.
	WarningsAsErrors bool

	// Logger receives usage warnings; nil means slog.Default().
	Logger *slog.Logger
}

// TimeSeriesDataset is an indexable sequence of fixed-shape training or
// forecast samples over a windowed spatio-temporal array store. Instances
// are immutable after construction and safe for shared read access.
type TimeSeriesDataset struct {
	ds              *store.Dataset
	steps           TimeSteps
	batchSize       int
	dropLast        bool
	addInsolation   bool
	inputVariables  []string
	scaling         *ScalingRegistry
	coupler         Coupler
	forecastIndices []int // nil in training mode
	constants       *store.Array
	logger          *slog.Logger
}

// NewTimeSeriesDataset validates the configuration against the source
// dataset and precomputes the derived state (step ratios, constants tensor,
// forecast anchors). All configuration errors surface here, never at item
// access.
func NewTimeSeriesDataset(ds *store.Dataset, cfg DatasetConfig) (*TimeSeriesDataset, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	steps, err := ValidateTimeSteps(cfg.DataTimeStep, cfg.TimeStep, cfg.Gap)
	if err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 1
	}
	if batchSize < 0 {
		return nil, fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidTimeStep, batchSize)
	}

	inputVariables := append([]string(nil), cfg.InputVariables...)
	if len(inputVariables) == 0 {
		for _, name := range ds.VarNames() {
			a := ds.Vars[name]
			if name == store.VarTargets || len(a.Axes) == 0 || a.Axes[0] != store.AxisTime {
				continue
			}
			inputVariables = append(inputVariables, name)
		}
	}

	// Scaling keys may refer to any variable or channel the source knows.
	known := ds.VarNames()
	for _, names := range ds.Coords {
		known = append(known, names...)
	}
	scaling, err := NewScalingRegistry(cfg.Scaling, known)
	if err != nil {
		return nil, err
	}

	var forecastIndices []int
	if len(cfg.ForecastInitTimes) > 0 {
		if batchSize != 1 {
			msg := fmt.Sprintf("providing 'forecast_init_times' to TimeSeriesDataset requires batch_size=1, got batch_size=%d", batchSize)
			if cfg.WarningsAsErrors {
				return nil, fmt.Errorf("%w: %s", ErrForecastBatchSize, msg)
			}
			logger.Warn(msg)
		}
		forecastIndices = make([]int, len(cfg.ForecastInitTimes))
		for i, t := range cfg.ForecastInitTimes {
			idx, ok := ds.TimeIndex(t)
			if !ok {
				return nil, fmt.Errorf("%w: forecast init time %s is not on the dataset time axis", ErrUnknownVariable, t.Format(time.RFC3339))
			}
			forecastIndices[i] = idx
		}
	}

	var constants *store.Array
	if c, err := ds.Var(store.VarConstants); err == nil {
		if c.Rank() != 4 {
			return nil, fmt.Errorf("constants variable must have rank 4 (got %v)", c.Dims)
		}
		constants = c.Transpose(1, 0, 2, 3)
	}

	if cfg.AddInsolation && (ds.Lat == nil || ds.Lon == nil) {
		return nil, fmt.Errorf("%w: add_insolation requires lat/lon coordinates on the dataset", ErrUnknownVariable)
	}

	return &TimeSeriesDataset{
		ds:              ds,
		steps:           steps,
		batchSize:       batchSize,
		dropLast:        cfg.DropLast,
		addInsolation:   cfg.AddInsolation,
		inputVariables:  inputVariables,
		scaling:         scaling,
		coupler:         cfg.Coupler,
		forecastIndices: forecastIndices,
		constants:       constants,
		logger:          logger,
	}, nil
}

// Source returns the underlying array store.
func (d *TimeSeriesDataset) Source() *store.Dataset { return d.ds }

// BatchSize returns the configured batch size.
func (d *TimeSeriesDataset) BatchSize() int { return d.batchSize }

// ForecastMode reports whether the dataset serves forecast-style items.
func (d *TimeSeriesDataset) ForecastMode() bool { return d.forecastIndices != nil }

// windowLength is the number of lead (input) steps per sample.
func (d *TimeSeriesDataset) windowLength() int { return d.steps.Interval }

// targetOffset is the distance in native steps from a sample's anchor to
// its target step.
func (d *TimeSeriesDataset) targetOffset() int { return d.steps.Interval + d.steps.GapSteps }

// Len returns the number of addressable items. In forecast mode this is the
// number of init times; in training mode the number of window positions,
// advancing batchSize steps per item.
func (d *TimeSeriesDataset) Len() int {
	if d.ForecastMode() {
		return len(d.forecastIndices)
	}
	n := (d.ds.NumTimes() - (d.windowLength() - 1)) / d.batchSize
	if n < 0 {
		return 0
	}
	return n
}

// Item is one dataset element: a collection of per-channel input arrays and,
// in training mode, one target array per sample in the batch. Targets is
// empty when the requested window runs past the end of the series and
// DropLast is false.
type Item struct {
	Inputs  []*store.Array
	Targets []*store.Array
}

// Tensors converts the item to gomlx tensors for consumption by a training
// loop.
func (it *Item) Tensors() (inputs []*tensors.Tensor, targets []*tensors.Tensor, err error) {
	inputs = make([]*tensors.Tensor, len(it.Inputs))
	for i, a := range it.Inputs {
		inputs[i] = tensors.FromFlatDataAndDimensions(a.Data, a.Dims...)
	}
	targets = make([]*tensors.Tensor, len(it.Targets))
	for i, a := range it.Targets {
		targets[i] = tensors.FromFlatDataAndDimensions(a.Data, a.Dims...)
	}
	return inputs, targets, nil
}

// GetItem returns the item at index. Negative indices count from the end,
// -1 being the last item. Indices outside [0, Len()) after normalization are
// a range error naming the index and the length.
func (d *TimeSeriesDataset) GetItem(index int) (*Item, error) {
	length := d.Len()
	resolved := index
	if resolved < 0 {
		resolved += length
	}
	if resolved < 0 || resolved >= length {
		return nil, fmt.Errorf("%w: index %d out of range for dataset with length %d", ErrIndexOutOfRange, index, length)
	}

	if d.ForecastMode() {
		return d.forecastItem(resolved)
	}
	return d.trainItem(resolved)
}

func (d *TimeSeriesDataset) forecastItem(index int) (*Item, error) {
	anchor := d.forecastIndices[index]
	if anchor+d.windowLength()-1 >= d.ds.NumTimes() {
		return nil, fmt.Errorf("%w: forecast init time at index %d leaves no room for a %d-step input window",
			ErrIndexOutOfRange, index, d.windowLength())
	}
	inputs, err := d.buildInputs([]int{anchor})
	if err != nil {
		return nil, err
	}
	return &Item{Inputs: inputs}, nil
}

func (d *TimeSeriesDataset) trainItem(index int) (*Item, error) {
	start := index * d.batchSize
	total := d.ds.NumTimes()

	lastTarget := start + d.batchSize - 1 + d.targetOffset()
	complete := lastTarget < total
	if !complete && d.dropLast {
		last := total - d.targetOffset() - d.batchSize
		if last >= 0 {
			// Clamp to the start of the last complete item so the shifted
			// window stays batch-aligned.
			start = last / d.batchSize * d.batchSize
			complete = true
		}
	}

	anchors := make([]int, d.batchSize)
	for j := range anchors {
		anchors[j] = start + j
	}
	inputs, err := d.buildInputs(anchors)
	if err != nil {
		return nil, err
	}

	item := &Item{Inputs: inputs}
	if !complete {
		// Incomplete trailing window: empty target collection, not an
		// error, when DropLast is false.
		return item, nil
	}
	for j := range anchors {
		target, err := d.buildTarget(anchors[j] + d.targetOffset())
		if err != nil {
			return nil, err
		}
		item.Targets = append(item.Targets, target)
	}
	return item, nil
}

// buildInputs assembles the per-channel input collection for the given
// sample anchors: one entry per input variable, then constants (when
// present), insolation (when configured) and coupled fields (when a coupler
// is attached).
func (d *TimeSeriesDataset) buildInputs(anchors []int) ([]*store.Array, error) {
	wl := d.windowLength()
	total := d.ds.NumTimes()

	var inputs []*store.Array
	for _, name := range d.inputVariables {
		a, err := d.ds.Var(name)
		if err != nil {
			return nil, err
		}
		perSample := make([]*store.Array, len(anchors))
		for j, anchor := range anchors {
			steps := make([]*store.Array, wl)
			for k := 0; k < wl; k++ {
				t := anchor + k
				if t >= total {
					return nil, fmt.Errorf("%w: input window for anchor %d runs past %d available time steps",
						ErrIndexOutOfRange, anchor, total)
				}
				steps[k] = a.Index(t)
			}
			stacked, err := store.Stack(store.AxisTime, steps...)
			if err != nil {
				return nil, err
			}
			perSample[j] = stacked
		}
		entry, err := store.Stack("sample", perSample...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, d.scaling.Apply(name, entry))
	}

	if d.constants != nil {
		inputs = append(inputs, d.constants)
	}

	if d.addInsolation {
		perSample := make([]*store.Array, len(anchors))
		for j, anchor := range anchors {
			steps := make([]*store.Array, wl)
			for k := 0; k < wl; k++ {
				field, err := insolationField(d.ds, d.ds.Times[anchor+k])
				if err != nil {
					return nil, err
				}
				steps[k] = field
			}
			stacked, err := store.Stack(store.AxisTime, steps...)
			if err != nil {
				return nil, err
			}
			perSample[j] = stacked
		}
		entry, err := store.Stack("sample", perSample...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, entry)
	}

	if d.coupler != nil {
		perSample := make([]*store.Array, len(anchors))
		for j, anchor := range anchors {
			lead := make([]int, wl)
			for k := range lead {
				lead[k] = anchor + k
			}
			coupled, err := d.coupler.Compute(lead)
			if err != nil {
				return nil, fmt.Errorf("computing coupled fields: %w", err)
			}
			perSample[j] = coupled
		}
		entry, err := store.Stack("sample", perSample...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, entry)
	}

	return inputs, nil
}

// buildTarget returns the scaled target slice for one time index: the
// precomputed "targets" variable when the source carries one, otherwise the
// input variables stacked along a channel axis.
func (d *TimeSeriesDataset) buildTarget(t int) (*store.Array, error) {
	if tv, err := d.ds.Var(store.VarTargets); err == nil {
		slice := tv.Index(t)
		names := d.ds.Coords[store.AxisChannelOut]
		return d.scaling.ApplyChannels(names, store.AxisChannelOut, slice), nil
	}

	perVar := make([]*store.Array, len(d.inputVariables))
	for i, name := range d.inputVariables {
		a, err := d.ds.Var(name)
		if err != nil {
			return nil, err
		}
		perVar[i] = d.scaling.Apply(name, a.Index(t))
	}
	stacked, err := store.Stack(store.AxisChannelOut, perVar...)
	if err != nil {
		return nil, err
	}
	// Match the stored target layout (face, channel_out, height, width).
	return stacked.Transpose(1, 0, 2, 3), nil
}

// GetConstants returns the constants tensor with the static/per-location
// axis moved behind the face axis, or nil when the source has no constants
// variable.
func (d *TimeSeriesDataset) GetConstants() *store.Array { return d.constants }
