// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"io"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/pkg/errors"
)

// Manifest column names.
const (
	ColumnPath   = "path"
	ColumnLabel  = "label"
	ColumnIndex  = "index"
	ColumnSubset = "subset"
)

// ManifestColumns in the order they are written.
var ManifestColumns = []string{ColumnPath, ColumnLabel, ColumnIndex, ColumnSubset}

// Manifest returns a DataFrame with one row per image of the assignment: its path, label, label index and
// subset. Training rows come first, each subset ordered by label index then path.
func Manifest(a *split.Assignment) dataframe.DataFrame {
	var paths, labels, subsets []string
	var indices []int
	for _, subset := range split.Subsets {
		for _, record := range a.Records(subset) {
			idx, _ := a.Labels().Index(record.Label)
			paths = append(paths, record.Path)
			labels = append(labels, record.Label)
			indices = append(indices, idx)
			subsets = append(subsets, subset.String())
		}
	}
	return dataframe.New(
		series.New(paths, series.String, ColumnPath),
		series.New(labels, series.String, ColumnLabel),
		series.New(indices, series.Int, ColumnIndex),
		series.New(subsets, series.String, ColumnSubset),
	)
}

// WriteManifest writes the manifest of the assignment as CSV, with a header line.
func WriteManifest(w io.Writer, a *split.Assignment) error {
	df := Manifest(a)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build manifest")
	}
	return errors.Wrap(df.WriteCSV(w), "failed to write manifest")
}

// SaveManifest writes the manifest of the assignment to filePath.
func SaveManifest(filePath string, a *split.Assignment) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create manifest %q", filePath)
	}
	if err = WriteManifest(f, a); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close manifest %q", filePath)
}

// ReadManifest reads a manifest written by WriteManifest back into an Assignment.
// The label index of every row must match its position in labels.
func ReadManifest(r io.Reader, labels *dataset.LabelMap) (*split.Assignment, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.WithTypes(map[string]series.Type{
			ColumnPath:   series.String,
			ColumnLabel:  series.String,
			ColumnIndex:  series.Int,
			ColumnSubset: series.String,
		}))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse manifest")
	}
	names := df.Names()
	for _, column := range ManifestColumns {
		found := false
		for _, name := range names {
			if name == column {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("manifest is missing column %q", column)
		}
	}

	paths := df.Col(ColumnPath).Records()
	rowLabels := df.Col(ColumnLabel).Records()
	subsetNames := df.Col(ColumnSubset).Records()
	indices, err := df.Col(ColumnIndex).Int()
	if err != nil {
		return nil, errors.Wrap(err, "invalid label index in manifest")
	}
	records := make([]dataset.ImageRecord, len(paths))
	subsets := make([]split.Subset, len(paths))
	for row, path := range paths {
		wantIdx, found := labels.Index(rowLabels[row])
		if !found {
			return nil, errors.Errorf("manifest row %d: unknown label %q", row+1, rowLabels[row])
		}
		if wantIdx != indices[row] {
			return nil, errors.Errorf("manifest row %d: label %q has index %d, but the label map has %d",
				row+1, rowLabels[row], indices[row], wantIdx)
		}
		subsets[row], err = split.ParseSubset(subsetNames[row])
		if err != nil {
			return nil, errors.WithMessagef(err, "manifest row %d", row+1)
		}
		records[row] = dataset.ImageRecord{Path: path, Label: rowLabels[row]}
	}
	return split.FromRecords(labels, records, subsets)
}

// LoadManifest reads the manifest at filePath, see ReadManifest.
func LoadManifest(filePath string, labels *dataset.LabelMap) (*split.Assignment, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %q", filePath)
	}
	defer func() { _ = f.Close() }()
	a, err := ReadManifest(f, labels)
	return a, errors.WithMessagef(err, "manifest %q", filePath)
}
