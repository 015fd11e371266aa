// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package split assigns each image of a dataset to the training or the validation subset.
//
// The assignment is done per class: the files of a class are permuted with a random number generator
// seeded by the split seed combined with a hash of the class label, and the first floor(fraction*n)
// files go to validation. So the assignment is reproducible for the same files, fraction and seed, and the
// validation share of every class is within one sample of the fraction.
package split

import (
	"fmt"
	"hash/crc32"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/pkg/errors"
)

// Subset of the dataset an image belongs to.
type Subset int

const (
	Training Subset = iota
	Validation
)

// String implements fmt.Stringer.
func (s Subset) String() string {
	switch s {
	case Training:
		return "training"
	case Validation:
		return "validation"
	}
	return fmt.Sprintf("Subset(%d)", int(s))
}

// ParseSubset from its name, as returned by Subset.String.
func ParseSubset(name string) (Subset, error) {
	switch strings.ToLower(name) {
	case "training", "train":
		return Training, nil
	case "validation", "valid":
		return Validation, nil
	}
	return Training, errors.Errorf("unknown subset %q, valid values are \"training\" or \"validation\"", name)
}

// Subsets lists all subsets.
var Subsets = []Subset{Training, Validation}

// ClassCount holds the number of images of a class in each subset.
type ClassCount struct {
	Label string

	Training, Validation int
}

// Assignment of every image of a dataset to one subset. It is immutable.
type Assignment struct {
	labels  *dataset.LabelMap
	subsets map[string]Subset

	// records per subset, ordered by class index then path.
	records [2][]dataset.ImageRecord
	counts  []ClassCount
}

// classSeed combines the split seed with the class label.
func classSeed(seed int64, label string) int64 {
	return seed ^ int64(crc32.ChecksumIEEE([]byte(label)))
}

// Assign splits the images of tree: floor(fraction*n) images of each class (of n images) go to validation,
// the others to training. fraction must be in (0, 1).
//
// Identical trees, fraction and seed give identical assignments.
func Assign(tree *dataset.Tree, fraction float64, seed int64) (*Assignment, error) {
	if fraction <= 0 || fraction >= 1 || math.IsNaN(fraction) {
		return nil, errors.Errorf("validation fraction must be in (0, 1), got %g", fraction)
	}
	if tree.NumFiles() == 0 {
		return nil, errors.Wrapf(dataset.ErrEmptyDataset, "nothing to split in %q", tree.Root)
	}
	a := newAssignment(tree.Labels())
	for _, class := range tree.Classes {
		files := slices.Clone(class.Files)
		slices.Sort(files)
		rng := rand.New(rand.NewSource(classSeed(seed, class.Label)))
		perm := rng.Perm(len(files))
		numValidation := int(math.Floor(fraction * float64(len(files))))
		for ii, fileIdx := range perm {
			subset := Training
			if ii < numValidation {
				subset = Validation
			}
			a.subsets[files[fileIdx]] = subset
		}
		for _, path := range files {
			a.add(dataset.ImageRecord{Path: path, Label: class.Label}, a.subsets[path])
		}
	}
	return a, nil
}

func newAssignment(labels *dataset.LabelMap) *Assignment {
	a := &Assignment{
		labels:  labels,
		subsets: make(map[string]Subset),
		counts:  make([]ClassCount, labels.Len()),
	}
	for ii, label := range labels.Labels() {
		a.counts[ii].Label = label
	}
	return a
}

func (a *Assignment) add(record dataset.ImageRecord, subset Subset) {
	a.subsets[record.Path] = subset
	a.records[subset] = append(a.records[subset], record)
	idx, _ := a.labels.Index(record.Label)
	if subset == Training {
		a.counts[idx].Training++
	} else {
		a.counts[idx].Validation++
	}
}

// FromRecords rebuilds an Assignment from records and their subsets: e.g., read back from a manifest.
// Every record label must be in labels, and paths must be unique.
func FromRecords(labels *dataset.LabelMap, records []dataset.ImageRecord, subsets []Subset) (*Assignment, error) {
	if len(records) != len(subsets) {
		return nil, errors.Errorf("%d records but %d subsets given", len(records), len(subsets))
	}
	order := make([]int, len(records))
	for ii := range order {
		order[ii] = ii
	}
	for _, record := range records {
		if _, found := labels.Index(record.Label); !found {
			return nil, errors.Errorf("record %q has unknown label %q", record.Path, record.Label)
		}
	}
	slices.SortFunc(order, func(i, j int) int {
		labelI, _ := labels.Index(records[i].Label)
		labelJ, _ := labels.Index(records[j].Label)
		if labelI != labelJ {
			return labelI - labelJ
		}
		return strings.Compare(records[i].Path, records[j].Path)
	})
	a := newAssignment(labels)
	for _, ii := range order {
		if _, found := a.subsets[records[ii].Path]; found {
			return nil, errors.Errorf("record %q is duplicated", records[ii].Path)
		}
		if subsets[ii] != Training && subsets[ii] != Validation {
			return nil, errors.Errorf("record %q has invalid subset %s", records[ii].Path, subsets[ii])
		}
		a.add(records[ii], subsets[ii])
	}
	return a, nil
}

// Labels returns the label ordering of the dataset.
func (a *Assignment) Labels() *dataset.LabelMap { return a.labels }

// Subset returns the subset of the image at path, and whether path is part of the assignment.
func (a *Assignment) Subset(path string) (Subset, bool) {
	subset, found := a.subsets[path]
	return subset, found
}

// Records returns a copy of the records of subset, ordered by class index then path.
func (a *Assignment) Records(subset Subset) []dataset.ImageRecord {
	return slices.Clone(a.records[subset])
}

// Count returns the number of images in subset.
func (a *Assignment) Count(subset Subset) int {
	return len(a.records[subset])
}

// ClassCounts returns the counts per class, in label order.
func (a *Assignment) ClassCounts() []ClassCount {
	return slices.Clone(a.counts)
}
