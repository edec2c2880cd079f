package timeseries

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Loader iterates a dataset in sampler order and presents batches both as
// plain Items and, via Yield, as gomlx tensors. It implements the gomlx
// train.Dataset contract (Name/Yield/Restart) so a training loop can consume
// it directly. A Loader is pulled from a single goroutine; prefetching
// parallelism belongs to the caller.
type Loader struct {
	dataset *TimeSeriesDataset
	sampler Sampler
	order   []int
	pos     int
}

// NewLoader wraps a dataset with a sampler. A nil sampler means sequential
// order.
func NewLoader(dataset *TimeSeriesDataset, sampler Sampler) *Loader {
	if sampler == nil {
		sampler = NewSequentialSampler(dataset.Len())
	}
	return &Loader{
		dataset: dataset,
		sampler: sampler,
		order:   sampler.Indices(),
	}
}

// Dataset returns the wrapped dataset.
func (l *Loader) Dataset() *TimeSeriesDataset { return l.dataset }

// Len returns the number of items per pass.
func (l *Loader) Len() int { return len(l.order) }

// Next returns the next item in sampler order, or io.EOF when the pass is
// exhausted.
func (l *Loader) Next() (*Item, error) {
	if l.pos >= len(l.order) {
		return nil, io.EOF
	}
	item, err := l.dataset.GetItem(l.order[l.pos])
	if err != nil {
		return nil, err
	}
	l.pos++
	return item, nil
}

// Name implements gomlx's train.Dataset.
func (l *Loader) Name() string { return "TimeSeriesLoader(" + l.dataset.Source().Name + ")" }

// Yield returns the next batch as gomlx tensors for the gomlx train.Dataset
// interface. Returns io.EOF at the end of a pass; call Restart to begin the
// next one.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	item, err := l.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs, labels, err = item.Tensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, inputs, labels, nil
}

// Restart resets the pass, re-querying the sampler so epoch-dependent
// shuffles take effect.
func (l *Loader) Restart() error {
	l.order = l.sampler.Indices()
	l.pos = 0
	return nil
}
