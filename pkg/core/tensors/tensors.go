// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-only dense Tensor used to hand batches of images and labels over
// to a training loop.
//
// A Tensor has a DType, a shape (its dimensions) and a flat slice of values in row-major order. The flat
// data is accessed with MutableFlatData / ConstFlatData, or copied out with CopyFlatData.
package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// DType is the data type of the values held by a Tensor.
type DType uint8

const (
	InvalidDType DType = iota
	Float32
	Float64
	Float16
)

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Float16:
		return "Float16"
	}
	return fmt.Sprintf("InvalidDType(%d)", uint8(dtype))
}

// Size in bytes of one value of the dtype.
func (dtype DType) Size() int {
	switch dtype {
	case Float32:
		return 4
	case Float64:
		return 8
	case Float16:
		return 2
	}
	return 0
}

// DTypeFromString parses names like "float32", "f32", "Float16" (case-insensitive).
func DTypeFromString(name string) (DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return Float32, nil
	case "float64", "f64":
		return Float64, nil
	case "float16", "f16", "half":
		return Float16, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q, valid values are \"float32\", \"float64\" or \"float16\"", name)
}

// Supported Go types for Tensor values.
type Supported interface {
	float32 | float64 | float16.Float16
}

// DTypeFor returns the DType that corresponds to the Go type T.
func DTypeFor[T Supported]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case float16.Float16:
		return Float16
	}
	return InvalidDType
}

// Tensor is a dense multidimensional array stored in host memory.
type Tensor struct {
	dtype DType
	dims  []int
	flat  any
}

func sizeOf(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

// FromShape creates a zero-initialized Tensor with the given dtype and dimensions.
func FromShape(dtype DType, dims ...int) *Tensor {
	for axis, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("tensors.FromShape: dimension %d of axis %d is negative", dim, axis)
		}
	}
	size := sizeOf(dims)
	t := &Tensor{dtype: dtype, dims: append([]int(nil), dims...)}
	switch dtype {
	case Float32:
		t.flat = make([]float32, size)
	case Float64:
		t.flat = make([]float64, size)
	case Float16:
		t.flat = make([]float16.Float16, size)
	default:
		exceptions.Panicf("tensors.FromShape: dtype %s not supported", dtype)
	}
	return t
}

// FromFlatDataAndDimensions creates a Tensor that takes ownership of flat, interpreted with the given dimensions.
func FromFlatDataAndDimensions[T Supported](flat []T, dims ...int) *Tensor {
	if size := sizeOf(dims); size != len(flat) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: dimensions %v require %d values, got %d", dims, size, len(flat))
	}
	return &Tensor{dtype: DTypeFor[T](), dims: append([]int(nil), dims...), flat: flat}
}

// DType of the Tensor values.
func (t *Tensor) DType() DType { return t.dtype }

// Dims returns a copy of the Tensor dimensions.
func (t *Tensor) Dims() []int { return append([]int(nil), t.dims...) }

// Rank is the number of axes.
func (t *Tensor) Rank() int { return len(t.dims) }

// Size is the total number of values.
func (t *Tensor) Size() int { return sizeOf(t.dims) }

// Memory used by the values, in bytes.
func (t *Tensor) Memory() uintptr { return uintptr(t.Size() * t.dtype.Size()) }

// String implements fmt.Stringer, printing only the shape: e.g. "(Float32)[32 128 128 3]".
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("(%s)%v", t.dtype, t.dims)
}

// MutableFlatData calls accessFn with the flat data slice ([]float32, []float64 or []float16.Float16).
// Changes made to the slice are reflected in the Tensor.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the flat data slice. The slice must not be modified.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// CopyFlatData returns a copy of the flat values. It panics if T doesn't match the Tensor dtype.
func CopyFlatData[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.CopyFlatData: tensor has dtype %s, but requested %s", t.dtype, DTypeFor[T]())
	}
	return append([]T(nil), flat...)
}

// ToFloat64s returns the values of the Tensor converted to float64, regardless of its dtype.
func ToFloat64s(t *Tensor) []float64 {
	switch flat := t.flat.(type) {
	case []float32:
		return widen(flat)
	case []float64:
		return append([]float64(nil), flat...)
	case []float16.Float16:
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
		return values
	}
	return nil
}

func widen[T constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}

// SetFloat64 sets the value at flat position pos, converting v to the Tensor dtype.
func (t *Tensor) SetFloat64(pos int, v float64) {
	switch flat := t.flat.(type) {
	case []float32:
		flat[pos] = float32(v)
	case []float64:
		flat[pos] = v
	case []float16.Float16:
		flat[pos] = float16.Fromfloat32(float32(v))
	}
}

// OneHot returns a Tensor shaped [len(indices), numClasses] with 1 at each example's index and 0 elsewhere.
func OneHot(dtype DType, indices []int, numClasses int) *Tensor {
	t := FromShape(dtype, len(indices), numClasses)
	for example, classIdx := range indices {
		if classIdx < 0 || classIdx >= numClasses {
			exceptions.Panicf("tensors.OneHot: index %d of example %d out of range for %d classes", classIdx, example, numClasses)
		}
		t.SetFloat64(example*numClasses+classIdx, 1)
	}
	return t
}

// ArgMax returns, for a rank-2 Tensor shaped [batch, n], the index of the largest value of each row.
// Used to decode one-hot labels.
func ArgMax(t *Tensor) []int {
	if t.Rank() != 2 {
		exceptions.Panicf("tensors.ArgMax requires a rank-2 tensor, got %s", t)
	}
	values := ToFloat64s(t)
	rows, cols := t.dims[0], t.dims[1]
	indices := make([]int, rows)
	for row := range rows {
		best := 0
		for col := 1; col < cols; col++ {
			if values[row*cols+col] > values[row*cols+best] {
				best = col
			}
		}
		indices[row] = best
	}
	return indices
}
