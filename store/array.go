package store

import (
	"fmt"
)

// Array is a dense row-major float32 array with named axes. It is the value
// type the rest of the module passes around; conversion to gomlx tensors
// happens at the training-loop boundary (see the timeseries package), so the
// inner representation stays a flat buffer plus shape metadata.
type Array struct {
	// Axes holds one name per dimension, e.g. ["time", "face", "height", "width"].
	Axes []string

	// Dims holds the length of each dimension. len(Dims) == len(Axes).
	Dims []int

	// Data is the row-major (C-order) flat buffer. len(Data) == product(Dims).
	Data []float32
}

// NewArray allocates a zero-filled array with the given axes and dims.
func NewArray(axes []string, dims []int) *Array {
	if len(axes) != len(dims) {
		panic(fmt.Sprintf("store: axes/dims rank mismatch: %d != %d", len(axes), len(dims)))
	}
	size := 1
	for _, d := range dims {
		size *= d
	}
	return &Array{
		Axes: append([]string(nil), axes...),
		Dims: append([]int(nil), dims...),
		Data: make([]float32, size),
	}
}

// Size returns the total number of elements.
func (a *Array) Size() int {
	size := 1
	for _, d := range a.Dims {
		size *= d
	}
	return size
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.Dims) }

// strides returns the row-major stride of each dimension.
func (a *Array) strides() []int {
	s := make([]int, len(a.Dims))
	stride := 1
	for i := len(a.Dims) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= a.Dims[i]
	}
	return s
}

// offset computes the flat offset of a multi-index. Panics on rank mismatch
// or out-of-range coordinates; callers index with trusted coordinates.
func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Dims) {
		panic(fmt.Sprintf("store: index rank %d does not match array rank %d", len(idx), len(a.Dims)))
	}
	off := 0
	stride := 1
	for i := len(a.Dims) - 1; i >= 0; i-- {
		if idx[i] < 0 || idx[i] >= a.Dims[i] {
			panic(fmt.Sprintf("store: index %d out of range for axis %q with length %d", idx[i], a.Axes[i], a.Dims[i]))
		}
		off += idx[i] * stride
		stride *= a.Dims[i]
	}
	return off
}

// At returns the element at the given multi-index.
func (a *Array) At(idx ...int) float32 { return a.Data[a.offset(idx)] }

// Set assigns the element at the given multi-index.
func (a *Array) Set(v float32, idx ...int) { a.Data[a.offset(idx)] = v }

// Index selects position i along the first axis and returns a view sharing
// the underlying buffer. The leading axis is dropped from the result.
func (a *Array) Index(i int) *Array {
	if len(a.Dims) == 0 {
		panic("store: cannot index a rank-0 array")
	}
	if i < 0 || i >= a.Dims[0] {
		panic(fmt.Sprintf("store: index %d out of range for axis %q with length %d", i, a.Axes[0], a.Dims[0]))
	}
	sub := a.Size() / a.Dims[0]
	return &Array{
		Axes: a.Axes[1:],
		Dims: a.Dims[1:],
		Data: a.Data[i*sub : (i+1)*sub],
	}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := &Array{
		Axes: append([]string(nil), a.Axes...),
		Dims: append([]int(nil), a.Dims...),
		Data: append([]float32(nil), a.Data...),
	}
	return out
}

// Transpose returns a new array with axes permuted. perm maps output axis
// position to input axis position, numpy-style: Transpose(1, 0, 2, 3) swaps
// the first two axes.
func (a *Array) Transpose(perm ...int) *Array {
	if len(perm) != len(a.Dims) {
		panic(fmt.Sprintf("store: transpose permutation rank %d does not match array rank %d", len(perm), len(a.Dims)))
	}
	outAxes := make([]string, len(perm))
	outDims := make([]int, len(perm))
	for o, in := range perm {
		outAxes[o] = a.Axes[in]
		outDims[o] = a.Dims[in]
	}
	out := NewArray(outAxes, outDims)
	inStrides := a.strides()
	outIdx := make([]int, len(perm))
	for flat := 0; flat < out.Size(); flat++ {
		// decompose flat into outIdx
		rem := flat
		for i := len(outDims) - 1; i >= 0; i-- {
			outIdx[i] = rem % outDims[i]
			rem /= outDims[i]
		}
		inOff := 0
		for o, in := range perm {
			inOff += outIdx[o] * inStrides[in]
		}
		out.Data[flat] = a.Data[inOff]
	}
	return out
}

// Apply returns a copy with f applied elementwise.
func (a *Array) Apply(f func(float32) float32) *Array {
	out := a.Clone()
	for i, v := range out.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Equal reports whether two arrays have identical axes, dims and data.
func (a *Array) Equal(b *Array) bool {
	if b == nil || len(a.Dims) != len(b.Dims) {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i] != b.Dims[i] || a.Axes[i] != b.Axes[i] {
			return false
		}
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// Stack combines arrays of identical shape along a new leading axis.
func Stack(axis string, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("store: cannot stack zero arrays")
	}
	first := arrays[0]
	for _, a := range arrays[1:] {
		if len(a.Dims) != len(first.Dims) {
			return nil, fmt.Errorf("store: stack rank mismatch: %d != %d", len(a.Dims), len(first.Dims))
		}
		for i := range a.Dims {
			if a.Dims[i] != first.Dims[i] {
				return nil, fmt.Errorf("store: stack shape mismatch on axis %q: %d != %d", first.Axes[i], a.Dims[i], first.Dims[i])
			}
		}
	}
	out := NewArray(
		append([]string{axis}, first.Axes...),
		append([]int{len(arrays)}, first.Dims...),
	)
	sub := first.Size()
	for i, a := range arrays {
		copy(out.Data[i*sub:(i+1)*sub], a.Data)
	}
	return out, nil
}

// MeanStack averages arrays of identical shape elementwise.
func MeanStack(arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("store: cannot average zero arrays")
	}
	out := arrays[0].Clone()
	for _, a := range arrays[1:] {
		if a.Size() != out.Size() {
			return nil, fmt.Errorf("store: mean shape mismatch: %v != %v", a.Dims, out.Dims)
		}
		for i, v := range a.Data {
			out.Data[i] += v
		}
	}
	n := float32(len(arrays))
	for i := range out.Data {
		out.Data[i] /= n
	}
	return out, nil
}
