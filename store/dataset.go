package store

import (
	"fmt"
	"sort"
	"time"
)

// Axis names with reserved meaning throughout the module.
const (
	AxisTime       = "time"
	AxisFace       = "face"
	AxisHeight     = "height"
	AxisWidth      = "width"
	AxisChannelIn  = "channel_in"
	AxisChannelOut = "channel_out"
	AxisChannelC   = "channel_c"
)

// Variable names with reserved meaning.
const (
	VarConstants = "constants"
	VarTargets   = "targets"
)

// Dataset is a labeled multi-dimensional array store: named variables sharing
// a time axis, plus optional static variables (no time axis), channel-name
// coordinates and lat/lon grids. Datasets are read-only once handed to the
// timeseries layer; the mutating methods below are for construction and
// merging only.
type Dataset struct {
	// Name identifies the store, typically the on-disk directory stem.
	Name string

	// Times is the shared time axis, strictly increasing.
	Times []time.Time

	// Vars maps variable name to its array. Time-indexed variables have
	// Axes[0] == "time" and Dims[0] == len(Times); static variables (such
	// as "constants") have no time axis.
	Vars map[string]*Array

	// Coords maps a channel axis name to its ordered channel names, e.g.
	// "channel_out" -> ["z500", "z1000"].
	Coords map[string][]string

	// Lat and Lon are optional per-location coordinate grids with axes
	// (face, height, width), in degrees. Required for insolation.
	Lat *Array
	Lon *Array
}

// NewDataset creates an empty dataset over the given time axis.
func NewDataset(name string, times []time.Time) *Dataset {
	return &Dataset{
		Name:   name,
		Times:  append([]time.Time(nil), times...),
		Vars:   make(map[string]*Array),
		Coords: make(map[string][]string),
	}
}

// SetVar adds or replaces a variable. Time-indexed variables must match the
// dataset's time axis length.
func (d *Dataset) SetVar(name string, a *Array) error {
	if len(a.Axes) > 0 && a.Axes[0] == AxisTime && a.Dims[0] != len(d.Times) {
		return fmt.Errorf("store: variable %q has %d time steps, dataset has %d", name, a.Dims[0], len(d.Times))
	}
	d.Vars[name] = a
	return nil
}

// HasVar reports whether a variable exists.
func (d *Dataset) HasVar(name string) bool {
	_, ok := d.Vars[name]
	return ok
}

// Var returns the named variable or an error.
func (d *Dataset) Var(name string) (*Array, error) {
	a, ok := d.Vars[name]
	if !ok {
		return nil, fmt.Errorf("store: variable %q not present in dataset %q", name, d.Name)
	}
	return a, nil
}

// VarNames returns the sorted variable names.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NumTimes returns the length of the time axis.
func (d *Dataset) NumTimes() int { return len(d.Times) }

// TimeIndex resolves a timestamp to its position on the time axis.
func (d *Dataset) TimeIndex(t time.Time) (int, bool) {
	i := sort.Search(len(d.Times), func(i int) bool { return !d.Times[i].Before(t) })
	if i < len(d.Times) && d.Times[i].Equal(t) {
		return i, true
	}
	return 0, false
}

// DropVar returns a shallow copy of the dataset without the named variable.
// Arrays are shared with the receiver. Used, among other things, to present
// a store without its "constants" variable.
func (d *Dataset) DropVar(name string) *Dataset {
	out := d.shallowCopy()
	delete(out.Vars, name)
	return out
}

// SelTime returns a dataset restricted to times within [start, end]
// (inclusive). Time-indexed variables are sliced; static variables and
// coordinates are shared.
func (d *Dataset) SelTime(start, end time.Time) *Dataset {
	lo := sort.Search(len(d.Times), func(i int) bool { return !d.Times[i].Before(start) })
	hi := sort.Search(len(d.Times), func(i int) bool { return d.Times[i].After(end) })
	if lo > hi {
		lo, hi = 0, 0
	}

	out := d.shallowCopy()
	out.Times = d.Times[lo:hi]
	for name, a := range d.Vars {
		if len(a.Axes) > 0 && a.Axes[0] == AxisTime {
			sub := a.Size() / a.Dims[0]
			out.Vars[name] = &Array{
				Axes: a.Axes,
				Dims: append([]int{hi - lo}, a.Dims[1:]...),
				Data: a.Data[lo*sub : hi*sub],
			}
		}
	}
	return out
}

func (d *Dataset) shallowCopy() *Dataset {
	out := &Dataset{
		Name:   d.Name,
		Times:  d.Times,
		Vars:   make(map[string]*Array, len(d.Vars)),
		Coords: make(map[string][]string, len(d.Coords)),
		Lat:    d.Lat,
		Lon:    d.Lon,
	}
	for name, a := range d.Vars {
		out.Vars[name] = a
	}
	for axis, names := range d.Coords {
		out.Coords[axis] = names
	}
	return out
}
