// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"os"
	"path/filepath"

	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File names of the pre-generated subsets, see PreGenerate.
const (
	PreGeneratedTrainFileName      = "train_data.bin"
	PreGeneratedValidationFileName = "validation_data.bin"
)

// PreGeneratedFileName returns the file name used to pre-generate subset.
func PreGeneratedFileName(subset split.Subset) string {
	if subset == split.Training {
		return PreGeneratedTrainFileName
	}
	return PreGeneratedValidationFileName
}

// NewDescriptorFromConfig returns the BatchDescriptor with the image size, batch size and augmentation of cfg.
func NewDescriptorFromConfig(cfg config.Configuration, labels *dataset.LabelMap) (*BatchDescriptor, error) {
	return NewBatchDescriptor(cfg.ImageSize, cfg.ImageSize, cfg.BatchSize, labels, cfg.Augmentation)
}

// NewFromConfig creates the Generator of subset with the image size, batch size, augmentation and
// preprocessing of cfg. Extra options are applied after the ones derived from cfg.
func NewFromConfig(cfg config.Configuration, assignment *split.Assignment, subset split.Subset, options ...Option) (*Generator, error) {
	desc, err := NewDescriptorFromConfig(cfg, assignment.Labels())
	if err != nil {
		return nil, err
	}
	allOptions := []Option{
		WithDType(cfg.DType),
		WithInterpolation(cfg.Filter()),
		WithKeepAspectRatio(cfg.KeepAspectRatio),
		WithSeed(cfg.Seed),
	}
	return New(subset.String(), assignment, subset, desc, append(allOptions, options...)...)
}

// PreGenerate saves numPasses passes of the training subset, and one pass of the validation subset, to dir.
// Files already there are overwritten.
func PreGenerate(cfg config.Configuration, assignment *split.Assignment, dir string, numPasses int, showProgressBar bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %q", dir)
	}
	for _, subset := range split.Subsets {
		passes := numPasses
		if subset == split.Validation {
			passes = 1
		}
		g, err := NewFromConfig(cfg, assignment, subset, WithInfinite(false))
		if err != nil {
			return err
		}
		filePath := filepath.Join(dir, PreGeneratedFileName(subset))
		klog.Infof("Pre-generating %d passes of %d %s images to %q", passes, g.NumSamples(), subset, filePath)
		if err = g.SaveFile(filePath, passes, showProgressBar); err != nil {
			return err
		}
	}
	return nil
}

// CreateDatasets returns the training dataset (looping indefinitely) and the validation dataset (finite).
//
// If preGenDir holds the files saved by PreGenerate, and forceOriginal is false, they are read from
// there. Otherwise, images are read from the dataset and transformed on the fly. Pre-generated files
// saved with another image size or split are ignored, with a warning. If cfg.Parallelism > 0,
// generated datasets are wrapped with Parallel: call ParallelDataset.Done on them when finished.
func CreateDatasets(cfg config.Configuration, assignment *split.Assignment, preGenDir string, forceOriginal bool) (trainDS, validationDS Dataset, err error) {
	desc, err := NewDescriptorFromConfig(cfg, assignment.Labels())
	if err != nil {
		return nil, nil, err
	}
	datasets := make([]Dataset, len(split.Subsets))
	for ii, subset := range split.Subsets {
		infinite := subset == split.Training
		if preGenDir != "" && !forceOriginal {
			filePath := filepath.Join(preGenDir, PreGeneratedFileName(subset))
			if fsutil.MustFileExists(filePath) {
				pg, err := NewPreGenerated(subset.String(), filePath, desc, assignment.Records(subset), infinite, cfg.DType)
				if err == nil {
					datasets[ii] = pg
					continue
				}
				if !errors.Is(err, ErrStalePreGenerated) {
					closeAll(datasets)
					return nil, nil, err
				}
				klog.Warningf("Generating %s images on the fly, run the pre-generation again: %v", subset, err)
			}
		}
		g, err := NewFromConfig(cfg, assignment, subset, WithInfinite(infinite))
		if err != nil {
			closeAll(datasets)
			return nil, nil, err
		}
		datasets[ii] = g
		if cfg.Parallelism > 0 {
			datasets[ii] = Parallel(g, cfg.Parallelism, cfg.BufferSize)
		}
	}
	return datasets[split.Training], datasets[split.Validation], nil
}

// closeAll releases the datasets already created when CreateDatasets fails.
func closeAll(datasets []Dataset) {
	for _, ds := range datasets {
		switch typed := ds.(type) {
		case *PreGenerated:
			_ = typed.Close()
		case *ParallelDataset:
			typed.Done()
		}
	}
}
