// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"fmt"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/datasettest"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/dataset/validator"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*validator.Report, *split.Assignment) {
	root := datasettest.Build(t,
		datasettest.Class{Label: "A", Valid: 9, Corrupt: 1},
		datasettest.Class{Label: "B", Valid: 10},
		datasettest.Class{Label: "C", Valid: 10})
	report, err := validator.Validate(root)
	require.NoError(t, err)
	tree, err := dataset.Scan(root)
	require.NoError(t, err)
	assignment, err := split.Assign(tree, 0.2, 42)
	require.NoError(t, err)
	return report, assignment
}

// rowWith returns the first rendered line containing all the given cells, or "".
func rowWith(rendered string, cells ...string) string {
	for _, line := range strings.Split(rendered, "\n") {
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == '│' || r == ' ' })
		matched := 0
		for _, cell := range cells {
			for _, field := range fields {
				if field == cell {
					matched++
					break
				}
			}
		}
		if matched == len(cells) {
			return line
		}
	}
	return ""
}

func TestTables(t *testing.T) {
	report, assignment := setup(t)
	var buf bytes.Buffer
	tables := NewPlainTables(&buf)

	rendered := tables.Validation(report)
	fmt.Println(rendered)
	assert.NotContains(t, rendered, "\x1b[", "plain tables have no ANSI codes")
	assert.Contains(t, rendered, report.Root)
	assert.NotEmpty(t, rowWith(rendered, "A", "10", "9", "1", "1"))
	assert.NotEmpty(t, rowWith(rendered, "Total", "30", "29", "1", "1"))

	rendered = tables.Split(assignment)
	fmt.Println(rendered)
	assert.NotEmpty(t, rowWith(rendered, "0", "A", "8", "1", "11.1%"))
	assert.NotEmpty(t, rowWith(rendered, "2", "C", "8", "2", "20.0%"))
	assert.NotEmpty(t, rowWith(rendered, "Total", "24", "5"))

	cfg, modified, err := config.Default().ParseSettings("batch_size=8")
	require.NoError(t, err)
	rendered = tables.Configuration(cfg, modified)
	fmt.Println(rendered)
	assert.NotEmpty(t, rowWith(rendered, "batch_size", "8"))
	assert.NotEmpty(t, rowWith(rendered, "seed", "42"))

	rendered = tables.Sizes("Assets", []string{"model.tflite", "labels.json"}, []int64{3 * 1024 * 1024, 512})
	fmt.Println(rendered)
	assert.NotEmpty(t, rowWith(rendered, "model.tflite", "3.0", "MiB"))
	assert.NotEmpty(t, rowWith(rendered, "Total", "3.0", "MiB"))
}

func TestClassDistribution(t *testing.T) {
	_, assignment := setup(t)
	var buf bytes.Buffer
	require.NoError(t, WriteClassDistribution(&buf, assignment, "png"))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy())

	filePath := filepath.Join(t.TempDir(), "classes.svg")
	require.NoError(t, SaveClassDistribution(filePath, assignment))
	assert.True(t, fsutil.MustFileExists(filePath))

	assert.Error(t, SaveClassDistribution(filepath.Join(t.TempDir(), "classes"), assignment))
	assert.Error(t, WriteClassDistribution(&buf, assignment, "unknown"))
}

func TestManifest(t *testing.T) {
	_, assignment := setup(t)
	df := Manifest(assignment)
	require.NoError(t, df.Err)
	assert.Equal(t, 29, df.Nrow())
	assert.Equal(t, ManifestColumns, df.Names())

	filePath := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, SaveManifest(filePath, assignment))
	loaded, err := LoadManifest(filePath, assignment.Labels())
	require.NoError(t, err)
	assert.Equal(t, assignment.ClassCounts(), loaded.ClassCounts())
	for _, subset := range split.Subsets {
		assert.Equal(t, assignment.Records(subset), loaded.Records(subset))
	}

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, assignment))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 30)
	assert.Equal(t, "path,label,index,subset", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",A,0,training"), lines[1])
	assert.True(t, strings.HasSuffix(lines[29], ",C,2,validation"), lines[29])
}

func TestReadManifestErrors(t *testing.T) {
	labels, err := dataset.NewLabelMap([]string{"A", "B"})
	require.NoError(t, err)
	for name, content := range map[string]string{
		"missing column": "path,label,index\n/a/1.png,A,0\n",
		"unknown label":  "path,label,index,subset\n/a/1.png,Z,0,training\n",
		"wrong index":    "path,label,index,subset\n/a/1.png,A,1,training\n",
		"bad subset":     "path,label,index,subset\n/a/1.png,A,0,test\n",
		"duplicated":     "path,label,index,subset\n/a/1.png,A,0,training\n/a/1.png,A,0,validation\n",
	} {
		_, err := ReadManifest(strings.NewReader(content), labels)
		assert.Errorf(t, err, "case %q", name)
	}

	a, err := ReadManifest(strings.NewReader("path,label,index,subset\n/b/1.png,B,1,validation\n/a/1.png,A,0,training\n"), labels)
	require.NoError(t, err)
	assert.Equal(t, []split.ClassCount{
		{Label: "A", Training: 1},
		{Label: "B", Validation: 1},
	}, a.ClassCounts())
}
