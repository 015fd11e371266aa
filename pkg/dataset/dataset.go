// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset describes a gesture image dataset laid out on disk as `<root>/<class-label>/<image-file>`:
// the class directories, the image records, the label ordering and the common errors.
//
// Sub-packages implement the steps of the pipeline:
//
//   - validator: decodes every file and removes the corrupt ones.
//   - split: deterministic per-class training/validation assignment.
//   - generator: batches of preprocessed (and augmented) image tensors with one-hot labels.
//   - augment: the random image transformations.
package dataset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	// WebP is not registered by imaging.
	_ "golang.org/x/image/webp"
)

var (
	// ErrRootNotFound is returned when the dataset root directory doesn't exist or can't be read.
	ErrRootNotFound = errors.New("dataset root not found")

	// ErrEmptyDataset is returned when the dataset has no classes or no (valid) images.
	ErrEmptyDataset = errors.New("empty dataset")
)

// FailureKind enumerates the per-file failures.
type FailureKind int

const (
	// DecodeFailure means the file could not be decoded as an image.
	DecodeFailure FailureKind = iota

	// DeleteFailure means a corrupt file could not be removed (or moved to quarantine).
	DeleteFailure
)

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case DecodeFailure:
		return "DecodeFailure"
	case DeleteFailure:
		return "DeleteFailure"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// Failure of one file. It implements error.
type Failure struct {
	Kind FailureKind
	Path string
	Err  error
}

// Error implements error.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %q: %v", f.Kind, f.Path, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error { return f.Err }

// ClassDirectory is one class of the dataset: a subdirectory of the root, named after the class label.
type ClassDirectory struct {
	Label string

	// Files are the paths (root/label/name) of the regular files in the directory, sorted.
	Files []string
}

// ImageRecord is one sample of the dataset.
type ImageRecord struct {
	Path  string
	Label string

	// Decoded is set once the file has been successfully decoded by the validator.
	Decoded bool
}

// Tree is the content of a dataset root directory.
type Tree struct {
	Root string

	// Classes sorted by label.
	Classes []ClassDirectory
}

// ReadTree lists the class subdirectories of root and their regular files.
// Entries directly under root that are not directories are ignored.
//
// It returns an error wrapping ErrRootNotFound if root doesn't exist, is not a directory or can't be read.
// An empty tree is not an error, see Scan.
func ReadTree(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(ErrRootNotFound, "%q: %v", root, err)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrRootNotFound, "%q is not a directory", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(ErrRootNotFound, "%q: %v", root, err)
	}
	tree := &Tree{Root: root}
	// os.ReadDir returns entries sorted by name.
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		classDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list class directory %q", classDir)
		}
		class := ClassDirectory{Label: entry.Name()}
		for _, file := range files {
			if !file.Type().IsRegular() {
				continue
			}
			class.Files = append(class.Files, filepath.Join(classDir, file.Name()))
		}
		tree.Classes = append(tree.Classes, class)
	}
	return tree, nil
}

// Scan is like ReadTree, but it also returns an error wrapping ErrEmptyDataset if there are no classes
// or no files.
func Scan(root string) (*Tree, error) {
	tree, err := ReadTree(root)
	if err != nil {
		return nil, err
	}
	if len(tree.Classes) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no class subdirectories in %q", root)
	}
	if tree.NumFiles() == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no image files in the %d classes of %q", len(tree.Classes), root)
	}
	return tree, nil
}

// NumFiles returns the total number of files in all classes.
func (t *Tree) NumFiles() int {
	var count int
	for _, class := range t.Classes {
		count += len(class.Files)
	}
	return count
}

// Labels returns the label ordering of the tree: all class labels, sorted.
func (t *Tree) Labels() *LabelMap {
	labels := make([]string, len(t.Classes))
	for ii, class := range t.Classes {
		labels[ii] = class.Label
	}
	lm, err := NewLabelMap(labels)
	if err != nil {
		exceptions.Panicf("invalid class directories in %q: %+v", t.Root, err)
	}
	return lm
}

// Records returns the ImageRecords of the tree ordered by class, then path.
func (t *Tree) Records() []ImageRecord {
	records := make([]ImageRecord, 0, t.NumFiles())
	for _, class := range t.Classes {
		for _, path := range class.Files {
			records = append(records, ImageRecord{Path: path, Label: class.Label})
		}
	}
	return records
}

// Class returns the ClassDirectory with the given label, or nil if not found.
func (t *Tree) Class(label string) *ClassDirectory {
	for ii := range t.Classes {
		if t.Classes[ii].Label == label {
			return &t.Classes[ii]
		}
	}
	return nil
}

// DecodeImage fully decodes the image file at path.
// Supported formats: JPEG, PNG, GIF, BMP, TIFF and WebP.
func DecodeImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	return img, nil
}
