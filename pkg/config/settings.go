// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gestures/pkg/core/tensors"
	"github.com/gomlx/gestures/pkg/dataset/augment"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Interpolations maps the names accepted by the "interpolation" parameter to the resampling filters.
var Interpolations = map[string]imaging.ResampleFilter{
	"nearest":  imaging.NearestNeighbor,
	"bilinear": imaging.Linear,
	"bicubic":  imaging.CatmullRom,
	"lanczos":  imaging.Lanczos,
}

// Filter returns the resampling filter for the configured Interpolation.
func (c Configuration) Filter() imaging.ResampleFilter {
	filter, found := Interpolations[c.Interpolation]
	if !found {
		return imaging.NearestNeighbor
	}
	return filter
}

// param describes one settable parameter of a Configuration.
type param struct {
	get func(c *Configuration) string
	set func(c *Configuration, value string) error
}

func parseInt(value string, ptr *int) error {
	value = strings.ReplaceAll(value, "_", "")
	return json.Unmarshal([]byte(value), ptr)
}

func stringParam(field func(c *Configuration) *string) param {
	return param{
		get: func(c *Configuration) string { return *field(c) },
		set: func(c *Configuration, value string) error {
			*field(c) = value
			return nil
		},
	}
}

func intParam(field func(c *Configuration) *int) param {
	return param{
		get: func(c *Configuration) string { return strconv.Itoa(*field(c)) },
		set: func(c *Configuration, value string) error { return parseInt(value, field(c)) },
	}
}

func floatParam(field func(c *Configuration) *float64) param {
	return param{
		get: func(c *Configuration) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		set: func(c *Configuration, value string) (err error) {
			*field(c), err = strconv.ParseFloat(value, 64)
			return
		},
	}
}

func boolParam(field func(c *Configuration) *bool) param {
	return param{
		get: func(c *Configuration) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Configuration, value string) (err error) {
			*field(c), err = strconv.ParseBool(value)
			return
		},
	}
}

var params = map[string]param{
	"data_dir":    stringParam(func(c *Configuration) *string { return &c.DataDir }),
	"dataset_dir": stringParam(func(c *Configuration) *string { return &c.DatasetSubDir }),
	"model_dir":   stringParam(func(c *Configuration) *string { return &c.ModelDir }),
	"assets_dir":  stringParam(func(c *Configuration) *string { return &c.AssetsDir }),

	"image_size":       intParam(func(c *Configuration) *int { return &c.ImageSize }),
	"batch_size":       intParam(func(c *Configuration) *int { return &c.BatchSize }),
	"validation_split": floatParam(func(c *Configuration) *float64 { return &c.ValidationFraction }),
	"seed": {
		get: func(c *Configuration) string { return strconv.FormatInt(c.Seed, 10) },
		set: func(c *Configuration, value string) error {
			return json.Unmarshal([]byte(strings.ReplaceAll(value, "_", "")), &c.Seed)
		},
	},

	"rotation_range":     floatParam(func(c *Configuration) *float64 { return &c.Augmentation.RotationRange }),
	"width_shift_range":  floatParam(func(c *Configuration) *float64 { return &c.Augmentation.WidthShiftRange }),
	"height_shift_range": floatParam(func(c *Configuration) *float64 { return &c.Augmentation.HeightShiftRange }),
	"zoom_range":         floatParam(func(c *Configuration) *float64 { return &c.Augmentation.ZoomRange }),
	"horizontal_flip":    boolParam(func(c *Configuration) *bool { return &c.Augmentation.HorizontalFlip }),
	"fill_mode": {
		get: func(c *Configuration) string { return c.Augmentation.FillMode.String() },
		set: func(c *Configuration, value string) (err error) {
			c.Augmentation.FillMode, err = augment.ParseFillMode(value)
			return
		},
	},

	"interpolation": stringParam(func(c *Configuration) *string { return &c.Interpolation }),
	"keep_aspect":   boolParam(func(c *Configuration) *bool { return &c.KeepAspectRatio }),
	"dtype": {
		get: func(c *Configuration) string { return strings.ToLower(c.DType.String()) },
		set: func(c *Configuration, value string) (err error) {
			c.DType, err = tensors.DTypeFromString(value)
			return
		},
	},
	"parallelism": intParam(func(c *Configuration) *int { return &c.Parallelism }),
	"buffer_size": intParam(func(c *Configuration) *int { return &c.BufferSize }),
}

// ParamNames returns the sorted names of the parameters that can be set with With or ParseSettings.
func ParamNames() []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the value of the parameter formatted as a string.
func (c Configuration) Get(name string) (string, error) {
	p, found := params[name]
	if !found {
		return "", errors.Errorf("unknown parameter %q, valid parameters are %q", name, ParamNames())
	}
	return p.get(&c), nil
}

// With returns a copy of the Configuration with the parameter name set to value.
//
// For integer parameters "_" is removed, so large numbers can be written as in Go: e.g. "1_000".
func (c Configuration) With(name, value string) (Configuration, error) {
	p, found := params[name]
	if !found {
		return c, errors.Errorf("unknown parameter %q, valid parameters are %q", name, ParamNames())
	}
	newC := c
	if err := p.set(&newC, strings.TrimSpace(value)); err != nil {
		return c, errors.Wrapf(err, "failed to parse value %q for parameter %q (current value is %q)", value, name, p.get(&c))
	}
	return newC, nil
}

// ParseSettings returns a copy of the Configuration updated with settings, typically the contents of a flag
// set by the user. The settings are a list separated by ";": e.g.: "batch_size=32;image_size=64".
//
// An entry like "file:settings.txt" reads the settings from the file, where new-lines work as ";" and
// lines starting with "#" are comments.
//
// It also returns the names of the parameters set, in order.
func (c Configuration) ParseSettings(settings string) (Configuration, []string, error) {
	var paramsSet []string
	var err error
	for _, setting := range strings.Split(settings, ";") {
		c, paramsSet, err = c.parseSetting(setting, paramsSet)
		if err != nil {
			return c, paramsSet, err
		}
	}
	return c, paramsSet, nil
}

func (c Configuration) parseSetting(setting string, paramsSet []string) (Configuration, []string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return c, paramsSet, nil
	}
	if strings.HasPrefix(setting, "file:") {
		filePath, err := fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return c, paramsSet, err
		}
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return c, paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				c, paramsSet, err = c.parseSetting(lineSetting, paramsSet)
				if err != nil {
					return c, paramsSet, err
				}
			}
		}
		return c, paramsSet, nil
	}

	name, value, found := strings.Cut(setting, "=")
	if !found {
		return c, paramsSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
	}
	name = strings.TrimSpace(name)
	newC, err := c.With(name, value)
	if err != nil {
		return c, paramsSet, err
	}
	return newC, append(paramsSet, name), nil
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named "set")
// and with a description of the parameters and their values in c.
//
// The flag should be created before the call to `flag.Parse()`.
func CreateSettingsFlag(c Configuration, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set configuration parameters. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Parameters that can be set (default values from the selected preset):`,
	}
	for _, name := range ParamNames() {
		parts = append(parts, fmt.Sprintf("%q: default value is %s", name, params[name].get(&c)))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintModified pretty-prints the values of the parameters in paramsSet, sorted and without duplicates.
func (c Configuration) SprintModified(paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, name := range paramsSet {
		p, found := params[name]
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: %s", name, p.get(&c)))
	}
	return strings.Join(parts, "\n")
}
