// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images converts images to tensors, with channels last, rescaling pixel values
// from the 8-bit integer range to [0, maxValue].
package images

import (
	"image"
	"image/color"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gestures/pkg/core/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    tensors.DType
}

// ToTensor converts an image (or batch) to a tensors.Tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
//
// By default, it drops the alpha channel (3 channels, RGB) and rescales values to [0, 1].
func ToTensor(dtype tensors.DType) *ToTensorConfig {
	return &ToTensorConfig{
		channels: 3,
		maxValue: 1.0,
		dtype:    dtype,
	}
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// MaxValue sets the value a fully saturated channel maps to. It defaults to 1.0.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Channels returns the number of channels of the converted tensors: 3 or 4.
func (tt *ToTensorConfig) Channels() int { return tt.channels }

// Single converts the given img to a tensor shaped `[height, width, channels]`.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	size := img.Bounds().Size()
	t := tensors.FromShape(tt.dtype, size.Y, size.X, tt.channels)
	tt.fill(t, []image.Image{img})
	return t
}

// Batch converts the given images to a tensor shaped `[batch_size, height, width, channels]`.
//
// All images must have the same size, it panics otherwise.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor().Batch() called with no images")
	}
	size := images[0].Bounds().Size()
	t := tensors.FromShape(tt.dtype, len(images), size.Y, size.X, tt.channels)
	tt.fill(t, images)
	return t
}

func (tt *ToTensorConfig) fill(t *tensors.Tensor, images []image.Image) {
	t.MutableFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []float32:
			fillFloats(tt, flat, images)
		case []float64:
			fillFloats(tt, flat, images)
		case []float16.Float16:
			// Convert through a float32 buffer.
			buf := make([]float32, len(flat))
			fillFloats(tt, buf, images)
			for ii, v := range buf {
				flat[ii] = float16.Fromfloat32(v)
			}
		default:
			exceptions.Panicf("images.ToTensor does not support dtype %s", tt.dtype)
		}
	})
}

// NRGBA64At returns the non-premultiplied color of the pixel (x, y). The color channels of transparent
// pixels are preserved for *image.NRGBA and *image.NRGBA64 images, the types decoders use for images with alpha.
func NRGBA64At(img image.Image, x, y int) color.NRGBA64 {
	switch typed := img.(type) {
	case *image.NRGBA:
		c := typed.NRGBAAt(x, y)
		return color.NRGBA64{R: uint16(c.R) * 0x101, G: uint16(c.G) * 0x101, B: uint16(c.B) * 0x101, A: uint16(c.A) * 0x101}
	case *image.NRGBA64:
		return typed.NRGBA64At(x, y)
	default:
		return color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
	}
}

func fillFloats[T constraints.Float](tt *ToTensorConfig, flat []T, images []image.Image) {
	imgSize := images[0].Bounds().Size()
	// Colors are read non-premultiplied, with 16 bits per channel: 0xFFFF maps to maxValue.
	scale := tt.maxValue / float64(0xFFFF)
	pos := 0
	for imgIdx, img := range images {
		bounds := img.Bounds()
		if !bounds.Size().Eq(imgSize) {
			exceptions.Panicf("image[%d] has size %s, but image[0] has size %s -- they must all be the same",
				imgIdx, bounds.Size(), imgSize)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := NRGBA64At(img, x, y)
				flat[pos] = T(float64(c.R) * scale)
				flat[pos+1] = T(float64(c.G) * scale)
				flat[pos+2] = T(float64(c.B) * scale)
				if tt.channels == 4 {
					flat[pos+3] = T(float64(c.A) * scale)
				}
				pos += tt.channels
			}
		}
	}
	if pos != len(flat) {
		exceptions.Panicf("images.ToTensor failed to set the values for all pixels (%d written out of %d)", pos, len(flat))
	}
}
