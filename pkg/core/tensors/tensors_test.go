// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	for _, dtype := range []DType{Float32, Float64, Float16} {
		tensor := FromShape(dtype, 2, 3, 4)
		assert.Equal(t, dtype, tensor.DType())
		assert.Equal(t, []int{2, 3, 4}, tensor.Dims())
		assert.Equal(t, 3, tensor.Rank())
		assert.Equal(t, 24, tensor.Size())
		assert.Equal(t, uintptr(24*dtype.Size()), tensor.Memory())
		for _, v := range ToFloat64s(tensor) {
			require.Zero(t, v)
		}
	}
	assert.Equal(t, "(Float32)[2 3]", FromShape(Float32, 2, 3).String())

	err := exceptions.TryCatch[error](func() { FromShape(InvalidDType, 1) })
	require.Error(t, err)
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, Float64, tensor.DType())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, CopyFlatData[float64](tensor))

	err := exceptions.TryCatch[error](func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() { CopyFlatData[float32](tensor) })
	require.Error(t, err)
}

func TestDTypeFromString(t *testing.T) {
	for name, want := range map[string]DType{"float32": Float32, "F64": Float64, "half": Float16} {
		got, err := DTypeFromString(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DTypeFromString("int8")
	require.Error(t, err)
	assert.Equal(t, Float16, DTypeFor[float16.Float16]())
}

func TestOneHotAndArgMax(t *testing.T) {
	indices := []int{2, 0, 1, 2}
	for _, dtype := range []DType{Float32, Float64, Float16} {
		oneHot := OneHot(dtype, indices, 3)
		assert.Equal(t, []int{4, 3}, oneHot.Dims())
		assert.Equal(t, []float64{
			0, 0, 1,
			1, 0, 0,
			0, 1, 0,
			0, 0, 1}, ToFloat64s(oneHot))
		assert.Equal(t, indices, ArgMax(oneHot))
	}

	err := exceptions.TryCatch[error](func() { OneHot(Float32, []int{3}, 3) })
	require.Error(t, err)
}
