// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient returns a width x height image where pixel (x, y) has R=x and G=y.
func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func at(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestIdentity(t *testing.T) {
	img := gradient(5, 4)
	var spec Spec
	assert.False(t, spec.Enabled())
	got := spec.Apply(img, Identity)
	for y := range 4 {
		for x := range 5 {
			require.Equal(t, at(img, x, y), at(got, x, y))
		}
	}
	// Disabled spec returns the image itself.
	assert.Same(t, img, spec.Augment(img, rand.New(rand.NewSource(1))))
}

func TestFlip(t *testing.T) {
	img := gradient(5, 4)
	p := Identity
	p.Flip = true
	got := Spec{HorizontalFlip: true}.Apply(img, p)
	for y := range 4 {
		for x := range 5 {
			require.Equal(t, at(img, 4-x, y), at(got, x, y))
		}
	}
}

func TestShift(t *testing.T) {
	img := gradient(5, 4)
	p := Identity
	p.Tx = 1
	nearest := Spec{FillMode: FillNearest}.Apply(img, p)
	constant := Spec{FillMode: FillConstant}.Apply(img, p)
	for y := range 4 {
		// Content moves one pixel to the right.
		for x := 1; x < 5; x++ {
			require.Equal(t, at(img, x-1, y), at(nearest, x, y))
			require.Equal(t, at(img, x-1, y), at(constant, x, y))
		}
		// Uncovered column: repeated edge or constant black (transparent by zero value).
		require.Equal(t, at(img, 0, y), at(nearest, 0, y))
		require.Equal(t, color.NRGBA{}, at(constant, 0, y))
	}
}

func TestRotate180(t *testing.T) {
	img := gradient(5, 5)
	p := Identity
	p.Theta = 180
	got := Spec{}.Apply(img, p)
	for y := range 5 {
		for x := range 5 {
			require.Equal(t, at(img, 4-x, 4-y), at(got, x, y))
		}
	}
}

func TestReflect(t *testing.T) {
	assert.Equal(t, []int{1, 0, 0, 1, 2, 2, 1}, []int{
		reflect(-2, 3), reflect(-1, 3), reflect(0, 3), reflect(1, 3), reflect(2, 3), reflect(3, 3), reflect(4, 3)})
	assert.Equal(t, 0, reflect(5, 1))
}

func TestSampleRanges(t *testing.T) {
	spec := Spec{RotationRange: 20, WidthShiftRange: 0.2, HeightShiftRange: 0.1, ZoomRange: 0.2, HorizontalFlip: true}
	require.NoError(t, spec.Validate())
	rng := rand.New(rand.NewSource(42))
	var flips int
	for range 1000 {
		p := spec.Sample(rng, 100, 50)
		require.LessOrEqual(t, p.Theta, 20.0)
		require.GreaterOrEqual(t, p.Theta, -20.0)
		require.LessOrEqual(t, p.Tx, 20.0)
		require.GreaterOrEqual(t, p.Tx, -20.0)
		require.LessOrEqual(t, p.Ty, 5.0)
		require.GreaterOrEqual(t, p.Ty, -5.0)
		require.InDelta(t, 1.0, p.Zx, 0.2)
		require.InDelta(t, 1.0, p.Zy, 0.2)
		if p.Flip {
			flips++
		}
	}
	assert.InDelta(t, 500, flips, 100)

	// Same seed, same parameters.
	a := spec.Sample(rand.New(rand.NewSource(7)), 64, 64)
	b := spec.Sample(rand.New(rand.NewSource(7)), 64, 64)
	assert.Equal(t, a, b)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Spec{RotationRange: -1}.Validate())
	assert.Error(t, Spec{WidthShiftRange: 1}.Validate())
	assert.Error(t, Spec{ZoomRange: 1.5}.Validate())
	mode, err := ParseFillMode("Reflect")
	require.NoError(t, err)
	assert.Equal(t, FillReflect, mode)
	_, err = ParseFillMode("wrap")
	assert.Error(t, err)
}
