// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// LabelMap is the ordering of the class labels: label i is the one-hot position i of the generated labels
// and the output index i of the trained classifier.
//
// It is immutable once created.
type LabelMap struct {
	labels []string
	index  map[string]int
}

// NewLabelMap creates a LabelMap from labels, which must be unique and sorted lexicographically.
func NewLabelMap(labels []string) (*LabelMap, error) {
	lm := &LabelMap{
		labels: slices.Clone(labels),
		index:  make(map[string]int, len(labels)),
	}
	for ii, label := range labels {
		if _, found := lm.index[label]; found {
			return nil, errors.Errorf("label %q is duplicated", label)
		}
		if ii > 0 && labels[ii-1] > label {
			return nil, errors.Errorf("labels must be sorted, but %q comes before %q", labels[ii-1], label)
		}
		lm.index[label] = ii
	}
	return lm, nil
}

// Len returns the number of classes.
func (lm *LabelMap) Len() int { return len(lm.labels) }

// Labels returns a copy of the ordered labels.
func (lm *LabelMap) Labels() []string { return slices.Clone(lm.labels) }

// Index returns the index of label, and whether it was found.
func (lm *LabelMap) Index(label string) (int, bool) {
	idx, found := lm.index[label]
	return idx, found
}

// Label returns the label with index idx. It returns "" if idx is out of range.
func (lm *LabelMap) Label(idx int) string {
	if idx < 0 || idx >= len(lm.labels) {
		return ""
	}
	return lm.labels[idx]
}

// Equal returns whether both maps have the same labels in the same order.
func (lm *LabelMap) Equal(other *LabelMap) bool {
	return slices.Equal(lm.labels, other.labels)
}

// MarshalJSON implements json.Marshaler: it encodes the map as `{"0": "<label 0>", "1": "<label 1>", ...}`,
// with the indices in increasing order.
func (lm *LabelMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for ii, label := range lm.labels {
		value, err := json.Marshal(label)
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.WriteString(strconv.Quote(strconv.Itoa(ii)))
		buf.WriteString(": ")
		buf.Write(value)
		if ii < len(lm.labels)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Indices must be contiguous from 0.
func (lm *LabelMap) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to parse label map")
	}
	labels := make([]string, len(raw))
	seen := make([]bool, len(raw))
	for key, label := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(raw) {
			return errors.Errorf("invalid label index %q in label map with %d labels", key, len(raw))
		}
		labels[idx] = label
		seen[idx] = true
	}
	for idx, ok := range seen {
		if !ok {
			return errors.Errorf("label index %d missing in label map", idx)
		}
	}
	newLM, err := NewLabelMap(labels)
	if err != nil {
		return err
	}
	*lm = *newLM
	return nil
}

// Save the label map as JSON to filePath, creating the parent directory if needed.
func (lm *LabelMap) Save(filePath string) error {
	data, err := lm.MarshalJSON()
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", filePath)
	}
	if err = os.WriteFile(filePath, append(data, '\n'), 0644); err != nil {
		return errors.Wrapf(err, "failed to save labels to %q", filePath)
	}
	return nil
}

// LoadLabelMap reads a label map saved with LabelMap.Save.
func LoadLabelMap(filePath string) (*LabelMap, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read labels from %q", filePath)
	}
	lm := &LabelMap{}
	if err = json.Unmarshal(data, lm); err != nil {
		return nil, errors.WithMessagef(err, "labels file %q", filePath)
	}
	return lm, nil
}
