// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the random image transformations applied to training samples:
// rotation, translation, zoom and horizontal mirroring.
//
// Rotation, translation and zoom are composed into one affine transformation, sampled with nearest
// neighbor interpolation; pixels that fall outside the source image are filled according to FillMode.
package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// FillMode defines how points outside the source image are filled after a transformation.
type FillMode uint8

const (
	// FillNearest repeats the closest edge pixel.
	FillNearest FillMode = iota

	// FillConstant uses Spec.FillColor (black by default).
	FillConstant

	// FillReflect mirrors the image at its borders.
	FillReflect
)

// String implements fmt.Stringer.
func (m FillMode) String() string {
	switch m {
	case FillNearest:
		return "nearest"
	case FillConstant:
		return "constant"
	case FillReflect:
		return "reflect"
	}
	return "unknown"
}

// ParseFillMode from its name: "nearest", "constant" or "reflect".
func ParseFillMode(name string) (FillMode, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return FillNearest, nil
	case "constant":
		return FillConstant, nil
	case "reflect":
		return FillReflect, nil
	}
	return FillNearest, errors.Errorf("unknown fill mode %q, valid values are \"nearest\", \"constant\" or \"reflect\"", name)
}

// Spec configures the random augmentation. The zero value disables augmentation.
type Spec struct {
	// RotationRange in degrees: the angle is sampled uniformly from [-RotationRange, RotationRange].
	RotationRange float64

	// WidthShiftRange and HeightShiftRange are fractions of the image width/height: the shift is sampled
	// uniformly from [-range, range].
	WidthShiftRange, HeightShiftRange float64

	// ZoomRange: each axis zoom factor is sampled uniformly from [1-ZoomRange, 1+ZoomRange].
	ZoomRange float64

	// HorizontalFlip mirrors half of the images, randomly.
	HorizontalFlip bool

	FillMode  FillMode
	FillColor color.NRGBA
}

// Enabled returns whether any transformation is configured.
func (s Spec) Enabled() bool {
	return s.RotationRange != 0 || s.WidthShiftRange != 0 || s.HeightShiftRange != 0 || s.ZoomRange != 0 || s.HorizontalFlip
}

// Validate the ranges of the Spec.
func (s Spec) Validate() error {
	if s.RotationRange < 0 || s.RotationRange > 180 {
		return errors.Errorf("rotation range must be in [0, 180] degrees, got %g", s.RotationRange)
	}
	if s.WidthShiftRange < 0 || s.WidthShiftRange >= 1 || s.HeightShiftRange < 0 || s.HeightShiftRange >= 1 {
		return errors.Errorf("shift ranges must be in [0, 1), got width=%g, height=%g", s.WidthShiftRange, s.HeightShiftRange)
	}
	if s.ZoomRange < 0 || s.ZoomRange >= 1 {
		return errors.Errorf("zoom range must be in [0, 1), got %g", s.ZoomRange)
	}
	return nil
}

// Params is one sampled transformation.
type Params struct {
	// Theta is the rotation in degrees.
	Theta float64

	// Tx, Ty are the translation in pixels.
	Tx, Ty float64

	// Zx, Zy are the zoom factors: values > 1 zoom out.
	Zx, Zy float64

	Flip bool
}

// Identity transformation parameters.
var Identity = Params{Zx: 1, Zy: 1}

// IsAffineIdentity returns whether the rotation, translation and zoom leave the image unchanged.
func (p Params) IsAffineIdentity() bool {
	return p.Theta == 0 && p.Tx == 0 && p.Ty == 0 && p.Zx == 1 && p.Zy == 1
}

func uniform(rng *rand.Rand, limit float64) float64 {
	if limit == 0 {
		return 0
	}
	return (2*rng.Float64() - 1) * limit
}

// Sample draws random transformation parameters for an image of the given size.
func (s Spec) Sample(rng *rand.Rand, width, height int) Params {
	p := Identity
	p.Theta = uniform(rng, s.RotationRange)
	p.Tx = uniform(rng, s.WidthShiftRange) * float64(width)
	p.Ty = uniform(rng, s.HeightShiftRange) * float64(height)
	if s.ZoomRange > 0 {
		p.Zx = 1 + uniform(rng, s.ZoomRange)
		p.Zy = 1 + uniform(rng, s.ZoomRange)
	}
	if s.HorizontalFlip {
		p.Flip = rng.Intn(2) == 1
	}
	return p
}

// Augment samples random parameters and applies them to img.
func (s Spec) Augment(img image.Image, rng *rand.Rand) image.Image {
	if !s.Enabled() {
		return img
	}
	size := img.Bounds().Size()
	return s.Apply(img, s.Sample(rng, size.X, size.Y))
}

// Apply the transformation p to img. The returned image has the same size as img, with bounds starting at (0, 0).
func (s Spec) Apply(img image.Image, p Params) image.Image {
	if !p.IsAffineIdentity() {
		img = s.affine(imaging.Clone(img), p)
	}
	if p.Flip {
		img = imaging.FlipH(img)
	}
	return img
}

// affine maps each output pixel back to its source position: src = Z·R·(dst - center) + center - shift.
func (s Spec) affine(src *image.NRGBA, p Params) *image.NRGBA {
	width, height := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	theta := p.Theta * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx, cy := float64(width-1)/2, float64(height-1)/2
	for y := range height {
		dy := float64(y) - cy
		for x := range width {
			dx := float64(x) - cx
			sx := p.Zx*(cos*dx-sin*dy) + cx - p.Tx
			sy := p.Zy*(sin*dx+cos*dy) + cy - p.Ty
			ix, iy := int(math.Round(sx)), int(math.Round(sy))
			var ok bool
			ix, iy, ok = s.fillCoordinates(ix, iy, width, height)
			dstPos := dst.PixOffset(x, y)
			if !ok {
				c := s.FillColor
				copy(dst.Pix[dstPos:dstPos+4], []uint8{c.R, c.G, c.B, c.A})
				continue
			}
			srcPos := src.PixOffset(ix, iy)
			copy(dst.Pix[dstPos:dstPos+4], src.Pix[srcPos:srcPos+4])
		}
	}
	return dst
}

// fillCoordinates maps coordinates outside the image according to the FillMode. It returns ok=false
// if the constant fill color should be used.
func (s Spec) fillCoordinates(x, y, width, height int) (int, int, bool) {
	if x >= 0 && x < width && y >= 0 && y < height {
		return x, y, true
	}
	switch s.FillMode {
	case FillNearest:
		return clamp(x, width), clamp(y, height), true
	case FillReflect:
		return reflect(x, width), reflect(y, height), true
	default:
		return 0, 0, false
	}
}

func clamp(v, size int) int {
	return max(0, min(v, size-1))
}

// reflect mirrors v into [0, size), with the edge pixel repeated: "dcba|abcd|dcba".
func reflect(v, size int) int {
	if size == 1 {
		return 0
	}
	period := 2 * size
	v %= period
	if v < 0 {
		v += period
	}
	if v >= size {
		v = period - 1 - v
	}
	return v
}
