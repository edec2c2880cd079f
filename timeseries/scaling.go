package timeseries

import (
	"fmt"
	"math"
	"sort"

	"github.com/mlweather/datapipes/store"
)

// Scaling is one variable's normalization parameters.
type Scaling struct {
	Mean float64
	Std  float64

	// LogEpsilon, when non-zero, applies log(v + LogEpsilon) before the
	// mean/std normalization. Used for heavily skewed variables such as
	// precipitation.
	LogEpsilon float64
}

// ScalingMap maps variable name to its normalization parameters. A nil map
// means no normalization anywhere.
type ScalingMap map[string]Scaling

// NewScalingRegistry validates a scaling map against the variable names the
// dataset actually carries and returns a registry applying the per-variable
// transform. A nil scaling map yields a pass-through registry. Keys
// referring to variables outside known are a lookup error listing the
// offenders.
func NewScalingRegistry(scaling ScalingMap, known []string) (*ScalingRegistry, error) {
	if scaling == nil {
		return &ScalingRegistry{}, nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}
	var missing []string
	for name := range scaling {
		if !knownSet[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: one or more of the input data variables is not present in the dataset: %v",
			ErrUnknownVariable, missing)
	}
	return &ScalingRegistry{entries: scaling}, nil
}

// ScalingRegistry resolves per-variable normalization. The zero value passes
// every variable through unmodified.
type ScalingRegistry struct {
	entries ScalingMap
}

// Enabled reports whether any normalization is configured.
func (r *ScalingRegistry) Enabled() bool { return len(r.entries) > 0 }

// ApplyValue normalizes a single value of the named variable. Unknown
// variables pass through.
func (r *ScalingRegistry) ApplyValue(variable string, v float32) float32 {
	s, ok := r.entries[variable]
	if !ok {
		return v
	}
	x := float64(v)
	if s.LogEpsilon != 0 {
		x = math.Log(x + s.LogEpsilon)
	}
	return float32((x - s.Mean) / s.Std)
}

// Apply normalizes an array of the named variable, returning a copy. Unknown
// variables are returned as-is (same backing array).
func (r *ScalingRegistry) Apply(variable string, a *store.Array) *store.Array {
	if _, ok := r.entries[variable]; !ok {
		return a
	}
	return a.Apply(func(v float32) float32 { return r.ApplyValue(variable, v) })
}

// ApplyChannels normalizes an array carrying one channel per entry of names
// along the axis called axisName, returning a copy. Channels without a
// scaling entry and arrays without such an axis pass through.
func (r *ScalingRegistry) ApplyChannels(names []string, axisName string, a *store.Array) *store.Array {
	if !r.Enabled() {
		return a
	}
	axis := -1
	for i, name := range a.Axes {
		if name == axisName {
			axis = i
			break
		}
	}
	if axis < 0 || len(names) != a.Dims[axis] {
		return a
	}

	// Stride walk: elements repeat in blocks of `inner` per channel, with
	// the channel pattern repeating every inner*Dims[axis] elements.
	inner := 1
	for i := axis + 1; i < len(a.Dims); i++ {
		inner *= a.Dims[i]
	}
	out := a.Clone()
	block := inner * a.Dims[axis]
	for i, v := range out.Data {
		c := (i % block) / inner
		out.Data[i] = r.ApplyValue(names[c], v)
	}
	return out
}
