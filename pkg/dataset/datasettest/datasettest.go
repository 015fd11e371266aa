// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasettest creates small gesture dataset trees on disk, for tests.
package datasettest

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Class to create: Valid PNG images followed by Corrupt files (not images).
type Class struct {
	Label          string
	Valid, Corrupt int
}

// Width and Height of the generated images.
const (
	Width  = 8
	Height = 6
)

// Color of the pixel in column x of the valid image fileIdx of class classIdx. Red identifies the class and
// is the same in every pixel, while green is a horizontal gradient, so geometric transformations change the image.
func Color(classIdx, fileIdx, x int) color.NRGBA {
	return color.NRGBA{R: uint8(40 * (classIdx + 1)), G: uint8(10*(fileIdx%10) + 20*x), B: 255, A: 255}
}

// ValidName returns the file name of the valid image fileIdx.
func ValidName(fileIdx int) string {
	return fmt.Sprintf("img_%03d.png", fileIdx)
}

// CorruptName returns the file name of the corrupt file fileIdx.
func CorruptName(fileIdx int) string {
	return fmt.Sprintf("bad_%03d.png", fileIdx)
}

// Build creates the classes under a new temporary directory and returns its path.
// Classes are indexed in the order given, which should be the label order for Color to match the label index.
func Build(t testing.TB, classes ...Class) string {
	root := t.TempDir()
	for classIdx, class := range classes {
		dir := filepath.Join(root, class.Label)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for fileIdx := range class.Valid {
			WriteImage(t, filepath.Join(dir, ValidName(fileIdx)), Width, Height, func(x, _ int) color.NRGBA {
				return Color(classIdx, fileIdx, x)
			})
		}
		for fileIdx := range class.Corrupt {
			require.NoError(t, os.WriteFile(filepath.Join(dir, CorruptName(fileIdx)),
				[]byte("\x89PNG\r\n\x1a\ntruncated"), 0644))
		}
	}
	return root
}

// WriteImage writes a PNG image of the given size, with the colors returned by pixel.
func WriteImage(t testing.TB, path string, width, height int, pixel func(x, y int) color.NRGBA) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetNRGBA(x, y, pixel(x, y))
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}
