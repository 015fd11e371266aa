// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the Configuration of the gesture dataset pipeline: paths, image preprocessing,
// split and augmentation hyperparameters.
//
// A Configuration is a plain value: it is built once (from a preset plus settings overrides) and passed
// by value to each step of the pipeline. Methods that change it return a modified copy.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomlx/gestures/pkg/core/tensors"
	"github.com/gomlx/gestures/pkg/dataset/augment"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Configuration of the dataset pipeline.
type Configuration struct {
	// DataDir where downloaded and generated data is stored.
	DataDir string

	// DatasetSubDir is the directory (relative to DataDir, unless absolute) with one subdirectory per class.
	DatasetSubDir string

	// ModelDir holds the trained model artifacts and the labels file.
	ModelDir string

	// AssetsDir is the mobile application's models asset folder, where artifacts are deployed.
	AssetsDir string

	// ImageSize is the height and width of the images given to the model.
	ImageSize int

	// BatchSize for training and validation batches.
	BatchSize int

	// ValidationFraction of each class assigned to the validation subset, in (0, 1).
	ValidationFraction float64

	// Seed for the split assignment, the training shuffle and the augmentation.
	Seed int64

	// Augmentation applied to training samples only.
	Augmentation augment.Spec

	// Interpolation used when resizing: "nearest", "bilinear", "bicubic" or "lanczos".
	Interpolation string

	// KeepAspectRatio resizes preserving the aspect ratio, padding with black.
	KeepAspectRatio bool

	// DType of the image and label tensors.
	DType tensors.DType

	// Parallelism is the number of goroutines generating batches ahead of consumption. 0 generates
	// batches sequentially, on demand.
	Parallelism int

	// BufferSize is the number of pre-generated batches kept when Parallelism > 0.
	BufferSize int
}

// Presets of configurations, from the different training setups: "standard", "quick" and "fast".
var Presets = map[string]Configuration{
	"standard": {
		DataDir:            "~/data/isl",
		DatasetSubDir:      "ISL",
		ModelDir:           "~/data/isl/model",
		AssetsDir:          "app/assets/models",
		ImageSize:          128,
		BatchSize:          64,
		ValidationFraction: 0.2,
		Seed:               42,
		Augmentation: augment.Spec{
			RotationRange:    20,
			WidthShiftRange:  0.2,
			HeightShiftRange: 0.2,
			ZoomRange:        0.2,
			HorizontalFlip:   true,
			FillMode:         augment.FillNearest,
		},
		Interpolation: "nearest",
		DType:         tensors.Float32,
		BufferSize:    8,
	},
	"quick": {
		DataDir:            "~/data/isl",
		DatasetSubDir:      "ISL",
		ModelDir:           "~/data/isl/model",
		AssetsDir:          "app/assets/models",
		ImageSize:          96,
		BatchSize:          128,
		ValidationFraction: 0.2,
		Seed:               42,
		Augmentation: augment.Spec{
			RotationRange:    15,
			WidthShiftRange:  0.15,
			HeightShiftRange: 0.15,
			HorizontalFlip:   true,
			FillMode:         augment.FillNearest,
		},
		Interpolation: "nearest",
		DType:         tensors.Float32,
		BufferSize:    8,
	},
	"fast": {
		DataDir:            "~/data/isl",
		DatasetSubDir:      "ISL",
		ModelDir:           "~/data/isl/model",
		AssetsDir:          "app/assets/models",
		ImageSize:          64,
		BatchSize:          256,
		ValidationFraction: 0.2,
		Seed:               42,
		Augmentation: augment.Spec{
			RotationRange:    10,
			WidthShiftRange:  0.1,
			HeightShiftRange: 0.1,
			FillMode:         augment.FillNearest,
		},
		Interpolation: "nearest",
		DType:         tensors.Float32,
		BufferSize:    8,
	},
}

// Default returns the "standard" preset.
func Default() Configuration {
	return Presets["standard"]
}

// FromPreset returns the named preset.
func FromPreset(name string) (Configuration, error) {
	cfg, found := Presets[name]
	if !found {
		return Configuration{}, errors.Errorf("unknown preset %q, valid values are %q", name, PresetNames())
	}
	return cfg, nil
}

// PresetNames returns the sorted names of the presets.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DatasetDir returns the directory with one subdirectory per class.
func (c Configuration) DatasetDir() string {
	if filepath.IsAbs(c.DatasetSubDir) {
		return c.DatasetSubDir
	}
	return filepath.Join(c.DataDir, c.DatasetSubDir)
}

// LabelsPath is where the label mapping is persisted.
func (c Configuration) LabelsPath() string {
	return filepath.Join(c.ModelDir, "labels.json")
}

// ExpandPaths returns a copy of the Configuration with "~" replaced by the user's home directory in all paths.
func (c Configuration) ExpandPaths() (Configuration, error) {
	for _, p := range []*string{&c.DataDir, &c.DatasetSubDir, &c.ModelDir, &c.AssetsDir} {
		expanded, err := fsutil.ReplaceTildeInDir(*p)
		if err != nil {
			return c, err
		}
		*p = expanded
	}
	return c, nil
}

// Validate checks the Configuration values.
func (c Configuration) Validate() error {
	if c.ImageSize <= 0 {
		return errors.Errorf("image_size must be > 0, got %d", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.ValidationFraction <= 0 || c.ValidationFraction >= 1 {
		return errors.Errorf("validation_split must be in (0, 1), got %g", c.ValidationFraction)
	}
	if _, found := Interpolations[c.Interpolation]; !found {
		return errors.Errorf("unknown interpolation %q", c.Interpolation)
	}
	if c.DType.Size() == 0 {
		return errors.Errorf("invalid dtype %s", c.DType)
	}
	if c.Parallelism < 0 || c.BufferSize < 0 {
		return errors.Errorf("parallelism (%d) and buffer_size (%d) must be >= 0", c.Parallelism, c.BufferSize)
	}
	return errors.WithMessage(c.Augmentation.Validate(), "invalid augmentation")
}

// String lists the Configuration, one parameter per line.
func (c Configuration) String() string {
	var sb strings.Builder
	for _, name := range ParamNames() {
		_, _ = fmt.Fprintf(&sb, "%s=%s\n", name, params[name].get(&c))
	}
	return sb.String()
}
