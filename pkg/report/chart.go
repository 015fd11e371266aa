// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ChartWidth and ChartHeight of the class distribution chart.
var (
	ChartWidth  = 10 * vg.Inch
	ChartHeight = 4 * vg.Inch
)

// ClassDistribution builds a bar chart with the number of training and validation images of each class.
func ClassDistribution(a *split.Assignment) (*plot.Plot, error) {
	counts := a.ClassCounts()
	if len(counts) == 0 {
		return nil, errors.New("no classes to plot")
	}
	training := make(plotter.Values, len(counts))
	validation := make(plotter.Values, len(counts))
	labels := make([]string, len(counts))
	for ii, count := range counts {
		training[ii] = float64(count.Training)
		validation[ii] = float64(count.Validation)
		labels[ii] = count.Label
	}

	p := plot.New()
	p.Title.Text = "Images per class"
	p.Y.Label.Text = "Images"
	barWidth := vg.Points(min(20, 600/float64(len(counts))))
	for ii, subset := range split.Subsets {
		values := training
		if subset == split.Validation {
			values = validation
		}
		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create bars for %s", subset)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(ii)
		bars.Offset = vg.Length(2*ii-1) * barWidth / 2
		p.Add(bars)
		p.Legend.Add(subset.String(), bars)
	}
	p.Legend.Top = true
	p.NominalX(labels...)
	return p, nil
}

// WriteClassDistribution writes the class distribution chart to w, in the given format
// ("png", "svg", "pdf", ...).
func WriteClassDistribution(w io.Writer, a *split.Assignment, format string) error {
	p, err := ClassDistribution(a)
	if err != nil {
		return err
	}
	writerTo, err := p.WriterTo(ChartWidth, ChartHeight, format)
	if err != nil {
		return errors.Wrapf(err, "unsupported chart format %q", format)
	}
	_, err = writerTo.WriteTo(w)
	return errors.Wrap(err, "failed to write chart")
}

// SaveClassDistribution saves the class distribution chart to filePath. The format is taken from the
// file extension.
func SaveClassDistribution(filePath string, a *split.Assignment) error {
	p, err := ClassDistribution(a)
	if err != nil {
		return err
	}
	if strings.TrimPrefix(filepath.Ext(filePath), ".") == "" {
		return errors.Errorf("chart file %q has no extension to choose the format from", filePath)
	}
	return errors.Wrapf(p.Save(ChartWidth, ChartHeight, filePath), "failed to save chart to %q", filePath)
}
