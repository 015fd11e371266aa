// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package validator cleans a gesture dataset: it decodes every file under `<root>/<class-label>/` and
// removes the ones that fail to decode, so later steps only see valid images.
//
// Running it on an already cleaned tree removes nothing.
package validator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ClassReport holds the counts of one class.
type ClassReport struct {
	Label string

	Total, Valid, Corrupt, Removed int
}

// Report of a validation run.
type Report struct {
	Root string

	// Total number of files considered.
	Total int

	// Valid files, successfully decoded.
	Valid int

	// Corrupt files, that failed to decode.
	Corrupt int

	// Removed corrupt files (deleted or moved to quarantine). It is smaller than Corrupt if some
	// files could not be removed, or 0 on a dry run.
	Removed int

	// Classes in label order.
	Classes []ClassReport

	// Records of the valid files, with Decoded set.
	Records []dataset.ImageRecord

	// Failures, one per corrupt file: DecodeFailure if the file was removed (or on a dry run),
	// DeleteFailure if removing it failed.
	Failures []*dataset.Failure

	DryRun     bool
	Quarantine string
}

// String returns a one-line summary.
func (r *Report) String() string {
	return fmt.Sprintf("%d files in %d classes: %d valid, %d corrupt, %d removed",
		r.Total, len(r.Classes), r.Valid, r.Corrupt, r.Removed)
}

// Option for Validate.
type Option func(v *validator)

// WithQuarantine moves corrupt files to `dir/<class-label>/` instead of deleting them.
// dir must not be a class directory of the dataset being validated.
func WithQuarantine(dir string) Option {
	return func(v *validator) { v.quarantine = dir }
}

// WithProgressBar displays a progress bar over the files while validating.
func WithProgressBar(show bool) Option {
	return func(v *validator) { v.showProgressBar = show }
}

// WithProgressWriter sets where the progress bar is written. Default is os.Stderr.
func WithProgressWriter(w io.Writer) Option {
	return func(v *validator) { v.progressWriter = w }
}

// WithDryRun only reports corrupt files, without removing them.
func WithDryRun(dryRun bool) Option {
	return func(v *validator) { v.dryRun = dryRun }
}

type validator struct {
	quarantine      string
	showProgressBar bool
	progressWriter  io.Writer
	dryRun          bool
}

// Validate every regular file in the class subdirectories of root, removing those that fail to decode.
//
// Errors:
//
//   - dataset.ErrRootNotFound (wrapped) if root doesn't exist or can't be read: nothing is scanned.
//   - dataset.ErrEmptyDataset (wrapped) if there are no classes or no valid files. The report is
//     returned along with the error.
//
// Per-file problems don't interrupt the scan; they are listed in Report.Failures.
func Validate(root string, options ...Option) (*Report, error) {
	v := &validator{progressWriter: os.Stderr}
	for _, option := range options {
		option(v)
	}
	tree, err := dataset.ReadTree(root)
	if err != nil {
		return nil, err
	}
	if v.quarantine != "" {
		if err := v.checkQuarantine(root); err != nil {
			return nil, err
		}
	}

	report := &Report{Root: root, Total: tree.NumFiles(), DryRun: v.dryRun, Quarantine: v.quarantine}
	if len(tree.Classes) == 0 {
		return report, errors.Wrapf(dataset.ErrEmptyDataset, "no class subdirectories in %q", root)
	}

	var bar *progressbar.ProgressBar
	if v.showProgressBar {
		bar = progressbar.NewOptions(report.Total,
			progressbar.OptionSetDescription("Validating"),
			progressbar.OptionSetWriter(v.progressWriter),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	for _, class := range tree.Classes {
		classReport := ClassReport{Label: class.Label, Total: len(class.Files)}
		for _, path := range class.Files {
			v.validateFile(report, &classReport, class.Label, path)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		report.Classes = append(report.Classes, classReport)
		klog.V(1).Infof("class %q: %d files, %d valid, %d corrupt", class.Label, classReport.Total, classReport.Valid, classReport.Corrupt)
	}
	if bar != nil {
		_ = bar.Close()
		_, _ = fmt.Fprintln(v.progressWriter)
	}

	klog.Infof("Validated %q: %s", root, report)
	if report.Valid == 0 {
		return report, errors.Wrapf(dataset.ErrEmptyDataset, "no valid images in the %d classes of %q", len(tree.Classes), root)
	}
	return report, nil
}

func (v *validator) validateFile(report *Report, classReport *ClassReport, label, path string) {
	_, err := dataset.DecodeImage(path)
	if err == nil {
		report.Valid++
		classReport.Valid++
		report.Records = append(report.Records, dataset.ImageRecord{Path: path, Label: label, Decoded: true})
		return
	}
	report.Corrupt++
	classReport.Corrupt++
	if v.dryRun {
		klog.V(1).Infof("corrupt image %q (dry run, not removed): %v", path, err)
		report.Failures = append(report.Failures, &dataset.Failure{Kind: dataset.DecodeFailure, Path: path, Err: err})
		return
	}
	if removeErr := v.remove(label, path); removeErr != nil {
		klog.Warningf("failed to remove corrupt image %q: %+v", path, removeErr)
		report.Failures = append(report.Failures, &dataset.Failure{Kind: dataset.DeleteFailure, Path: path, Err: removeErr})
		return
	}
	klog.V(1).Infof("removed corrupt image %q: %v", path, err)
	report.Removed++
	classReport.Removed++
	report.Failures = append(report.Failures, &dataset.Failure{Kind: dataset.DecodeFailure, Path: path, Err: err})
}

// remove deletes path or moves it to the quarantine directory.
func (v *validator) remove(label, path string) error {
	if v.quarantine == "" {
		return os.Remove(path)
	}
	dir := filepath.Join(v.quarantine, label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create quarantine directory %q", dir)
	}
	target := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, target); err == nil {
		return nil
	}
	// Rename fails across file systems: copy and remove instead.
	if _, err := fsutil.CopyFile(path, target); err != nil {
		return err
	}
	return os.Remove(path)
}

// checkQuarantine makes sure the quarantine directory won't be taken as a class directory.
func (v *validator) checkQuarantine(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %q", root)
	}
	absQuarantine, err := filepath.Abs(v.quarantine)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %q", v.quarantine)
	}
	rel, err := filepath.Rel(absRoot, absQuarantine)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Errorf("quarantine directory %q must be outside the dataset root %q", v.quarantine, root)
	}
	return nil
}
