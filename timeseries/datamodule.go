package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mlweather/datapipes/store"
)

// ValidFormats enumerates the supported data_format values. "zarr" is the
// on-disk store layout; "memory" feeds an in-process dataset directly.
var ValidFormats = []string{"zarr", "memory"}

// Splits carves the source time axis into disjoint, ordered train/val/test
// date ranges (bounds inclusive).
type Splits struct {
	TrainStart time.Time
	TrainEnd   time.Time
	ValStart   time.Time
	ValEnd     time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// DataModuleConfig is the constructor surface of the DataModule. Directory
// fields apply to the "zarr" format; the "memory" format takes the source
// dataset directly via Dataset.
type DataModuleConfig struct {
	// SrcDirectory holds raw per-variable stores to be merged when
	// Prebuilt is false.
	SrcDirectory string
	// DstDirectory holds (or receives) the merged store.
	DstDirectory string
	// DatasetName is the store's directory stem under DstDirectory.
	DatasetName string `validate:"required"`
	// DataFormat selects the storage engine, default "zarr". Must be a
	// member of ValidFormats.
	DataFormat string
	// Prebuilt loads an existing merged store instead of building one.
	Prebuilt bool
	// Dataset is the in-process source for the "memory" format.
	Dataset *store.Dataset

	BatchSize     int `validate:"omitempty,min=1"`
	DropLast      bool
	Shuffle       bool
	AddInsolation bool

	// InputVariables selects the source variables feeding input channels.
	InputVariables []string
	// Constants maps source constant channel names to the names they are
	// exposed under, subsetting the channels to the mapping's keys. An
	// empty map means constants are not used even when the store carries
	// them.
	Constants map[string]string

	Scaling      ScalingMap
	DataTimeStep string
	TimeStep     string
	Gap          string

	// Splits is the optional train/val/test date-range configuration;
	// absent means the whole dataset serves all three roles.
	Splits *Splits

	// ForecastInitTimes switches the forecast-role dataset into forecast
	// mode. Requires BatchSize 1.
	ForecastInitTimes []time.Time

	// Coupler is shared by every split dataset.
	Coupler Coupler

	WarningsAsErrors bool

	// Seed drives the shuffling samplers.
	Seed int64
	// ShardRank is this process's rank when dataloaders are built with
	// more than one shard. The process group itself is owned elsewhere.
	ShardRank int

	Logger *slog.Logger
}

// DataModule owns the lifecycle of the merged source dataset and its
// per-split windowed datasets, and hands out batched iteration handles.
type DataModule struct {
	cfg    DataModuleConfig
	logger *slog.Logger

	source *store.Dataset
	train  *TimeSeriesDataset
	val    *TimeSeriesDataset
	test   *TimeSeriesDataset
}

// NewDataModule validates the configuration, loads or builds the merged
// source store, carves it into splits and constructs one windowed dataset
// per split. The raw-to-prebuilt merge is the one expensive step and runs
// here, synchronously.
func NewDataModule(ctx context.Context, cfg DataModuleConfig) (*DataModule, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid data module configuration: %w", err)
	}
	format := cfg.DataFormat
	if format == "" {
		format = "zarr"
	}
	if !formatSupported(format) {
		return nil, fmt.Errorf("%w: 'data_format' must be one of %v, got %q", ErrInvalidFormat, ValidFormats, format)
	}

	source, err := loadSource(ctx, format, cfg, logger)
	if err != nil {
		return nil, err
	}

	// An empty constants mapping disables the constants channel entirely;
	// a populated one subsets and renames the channels it names.
	if source.HasVar(store.VarConstants) {
		if len(cfg.Constants) == 0 {
			source = source.DropVar(store.VarConstants)
		} else if source, err = selectConstants(source, cfg.Constants); err != nil {
			return nil, err
		}
	}

	m := &DataModule{cfg: cfg, logger: logger, source: source}

	dsCfg := DatasetConfig{
		DataTimeStep:     cfg.DataTimeStep,
		TimeStep:         cfg.TimeStep,
		Gap:              cfg.Gap,
		Scaling:          cfg.Scaling,
		BatchSize:        cfg.BatchSize,
		DropLast:         cfg.DropLast,
		AddInsolation:    cfg.AddInsolation,
		InputVariables:   cfg.InputVariables,
		Coupler:          cfg.Coupler,
		WarningsAsErrors: cfg.WarningsAsErrors,
		Logger:           logger,
	}

	if cfg.Splits == nil {
		// The whole dataset serves all three roles; init times attach to
		// the single shared dataset.
		dsCfg.ForecastInitTimes = cfg.ForecastInitTimes
		shared, err := NewTimeSeriesDataset(source, dsCfg)
		if err != nil {
			return nil, err
		}
		m.train, m.val, m.test = shared, shared, shared
		return m, nil
	}

	trainCfg := dsCfg
	if m.train, err = NewTimeSeriesDataset(source.SelTime(cfg.Splits.TrainStart, cfg.Splits.TrainEnd), trainCfg); err != nil {
		return nil, fmt.Errorf("building train split: %w", err)
	}
	valCfg := dsCfg
	if m.val, err = NewTimeSeriesDataset(source.SelTime(cfg.Splits.ValStart, cfg.Splits.ValEnd), valCfg); err != nil {
		return nil, fmt.Errorf("building val split: %w", err)
	}
	testCfg := dsCfg
	testCfg.ForecastInitTimes = cfg.ForecastInitTimes
	if m.test, err = NewTimeSeriesDataset(source.SelTime(cfg.Splits.TestStart, cfg.Splits.TestEnd), testCfg); err != nil {
		return nil, fmt.Errorf("building test split: %w", err)
	}
	return m, nil
}

func formatSupported(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func loadSource(ctx context.Context, format string, cfg DataModuleConfig, logger *slog.Logger) (*store.Dataset, error) {
	switch format {
	case "memory":
		if cfg.Dataset == nil {
			return nil, fmt.Errorf("%w: 'data_format' \"memory\" requires a Dataset", ErrInvalidFormat)
		}
		return cfg.Dataset, nil
	case "zarr":
		path := filepath.Join(cfg.DstDirectory, cfg.DatasetName+store.Ext)
		if !cfg.Prebuilt {
			merged, err := store.Merge(ctx, cfg.SrcDirectory, cfg.DstDirectory, cfg.DatasetName, logger)
			if err != nil {
				return nil, fmt.Errorf("building dataset: %w", err)
			}
			path = merged
		}
		ds, err := store.OpenZarr(path)
		if err != nil {
			return nil, fmt.Errorf("loading dataset: %w", err)
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("%w: 'data_format' must be one of %v, got %q", ErrInvalidFormat, ValidFormats, format)
	}
}

// selectConstants subsets and renames the constants channels per the name
// mapping: keys are source channel names, values the exposed names. Channels
// are selected in sorted key order; keys outside the source's channel_c
// coordinate are a lookup error.
func selectConstants(ds *store.Dataset, mapping map[string]string) (*store.Dataset, error) {
	c, err := ds.Var(store.VarConstants)
	if err != nil {
		return nil, err
	}
	coords := ds.Coords[store.AxisChannelC]
	position := make(map[string]int, len(coords))
	for i, name := range coords {
		position[name] = i
	}

	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	channels := make([]*store.Array, len(keys))
	renamed := make([]string, len(keys))
	for i, key := range keys {
		j, ok := position[key]
		if !ok {
			return nil, fmt.Errorf("%w: constant %q is not present in the dataset", ErrUnknownVariable, key)
		}
		channels[i] = c.Index(j)
		renamed[i] = mapping[key]
	}
	selected, err := store.Stack(store.AxisChannelC, channels...)
	if err != nil {
		return nil, err
	}

	out := ds.DropVar(store.VarConstants)
	if err := out.SetVar(store.VarConstants, selected); err != nil {
		return nil, err
	}
	out.Coords[store.AxisChannelC] = renamed
	return out, nil
}

// TrainDataset returns the train-split dataset.
func (m *DataModule) TrainDataset() *TimeSeriesDataset { return m.train }

// ValDataset returns the val-split dataset.
func (m *DataModule) ValDataset() *TimeSeriesDataset { return m.val }

// TestDataset returns the test-split dataset.
func (m *DataModule) TestDataset() *TimeSeriesDataset { return m.test }

// GetConstants returns the constants tensor, or nil when constants are
// disabled or absent. With splits configured the constants come from the
// train split, keeping forecast-time statics on the training distribution.
func (m *DataModule) GetConstants() *store.Array {
	return m.train.GetConstants()
}

// TrainDataloader returns the training iteration handle. With one shard the
// sampler is nil and iteration order follows the Shuffle flag; with more
// shards a DistributedSampler partitions indices across shards without
// overlap.
func (m *DataModule) TrainDataloader(numShards int) (*Loader, *DistributedSampler, error) {
	return m.dataloader(m.train, numShards, m.cfg.Shuffle)
}

// ValDataloader returns the validation iteration handle; never shuffled.
func (m *DataModule) ValDataloader(numShards int) (*Loader, *DistributedSampler, error) {
	return m.dataloader(m.val, numShards, false)
}

// TestDataloader returns the test iteration handle; never shuffled.
func (m *DataModule) TestDataloader(numShards int) (*Loader, *DistributedSampler, error) {
	return m.dataloader(m.test, numShards, false)
}

func (m *DataModule) dataloader(ds *TimeSeriesDataset, numShards int, shuffle bool) (*Loader, *DistributedSampler, error) {
	if numShards < 1 {
		return nil, nil, fmt.Errorf("num_shards must be >= 1, got %d", numShards)
	}
	if numShards == 1 {
		var sampler Sampler
		if shuffle {
			sampler = NewRandomSampler(ds.Len(), m.cfg.Seed)
		}
		return NewLoader(ds, sampler), nil, nil
	}
	dist, err := NewDistributedSampler(ds.Len(), numShards, m.cfg.ShardRank, shuffle, m.cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	return NewLoader(ds, dist), dist, nil
}
