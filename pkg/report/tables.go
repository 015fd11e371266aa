// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report renders summaries of the dataset pipeline: console tables of the validation and the
// split, a chart of the class distribution, and a manifest CSV listing every image with its label and subset.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/dataset/validator"
	"github.com/muesli/termenv"
)

// Tables renders tables with the color profile of its output.
type Tables struct {
	renderer *lipgloss.Renderer

	headerRowStyle, oddRowStyle, evenRowStyle, redRowStyle, borderStyle, titleStyle lipgloss.Style
}

// NewTables creates a table renderer for w, detecting its color support.
func NewTables(w io.Writer) *Tables {
	return newTables(lipgloss.NewRenderer(w))
}

// NewPlainTables creates a table renderer that doesn't use colors or other ANSI codes.
func NewPlainTables(w io.Writer) *Tables {
	return newTables(lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii)))
}

func newTables(r *lipgloss.Renderer) *Tables {
	return &Tables{
		renderer:       r,
		headerRowStyle: r.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center),
		oddRowStyle:    r.NewStyle().Foreground(lipgloss.Color("#FFF")).PaddingLeft(1).PaddingRight(1),
		evenRowStyle:   r.NewStyle().Foreground(lipgloss.Color("#999")).PaddingLeft(1).PaddingRight(1),
		redRowStyle:    r.NewStyle().Foreground(lipgloss.Color("#F33")).PaddingLeft(1).PaddingRight(1),
		borderStyle:    r.NewStyle().Foreground(lipgloss.Color("99")),
		titleStyle:     r.NewStyle().Bold(true).Padding(1, 4, 0, 4),
	}
}

// newTable creates a table with the header style, alternating row styles, rows in redRows highlighted, and
// the given column alignments (the last alignment is used for the remaining columns).
func (t *Tables) newTable(redRows map[int]bool, alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(t.borderStyle).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return t.headerRowStyle
			}
			switch {
			case redRows[row]:
				s = t.redRowStyle
			case row%2 == 0:
				s = t.oddRowStyle
			default:
				s = t.evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// Title renders a title line.
func (t *Tables) Title(title string) string {
	return t.titleStyle.Render(title)
}

func comma(v int) string { return humanize.Comma(int64(v)) }

// Validation renders the per-class counts of a validation run, with a final total row.
// Classes with corrupt files are highlighted.
func (t *Tables) Validation(r *validator.Report) string {
	redRows := make(map[int]bool)
	for ii, class := range r.Classes {
		if class.Corrupt > 0 {
			redRows[ii] = true
		}
	}
	table := t.newTable(redRows, lipgloss.Left, lipgloss.Right)
	table.Headers("Class", "Files", "Valid", "Corrupt", "Removed")
	for _, class := range r.Classes {
		table.Row(class.Label, comma(class.Total), comma(class.Valid), comma(class.Corrupt), comma(class.Removed))
	}
	table.Row("Total", comma(r.Total), comma(r.Valid), comma(r.Corrupt), comma(r.Removed))
	title := fmt.Sprintf("Validation of %s", r.Root)
	if r.DryRun {
		title += " (dry run)"
	}
	return t.Title(title) + "\n" + table.Render()
}

// Split renders the per-class counts of each subset, with a final total row.
func (t *Tables) Split(a *split.Assignment) string {
	table := t.newTable(nil, lipgloss.Right, lipgloss.Right)
	table.Headers("Index", "Class", "Training", "Validation", "Validation %")
	var totalTraining, totalValidation int
	for ii, count := range a.ClassCounts() {
		table.Row(comma(ii), count.Label, comma(count.Training), comma(count.Validation),
			percentage(count.Validation, count.Training+count.Validation))
		totalTraining += count.Training
		totalValidation += count.Validation
	}
	table.Row("", "Total", comma(totalTraining), comma(totalValidation),
		percentage(totalValidation, totalTraining+totalValidation))
	return t.Title("Training / validation split") + "\n" + table.Render()
}

func percentage(part, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
}

// Configuration renders the configuration parameters, highlighting the ones in modified.
func (t *Tables) Configuration(cfg config.Configuration, modified []string) string {
	isModified := make(map[string]bool, len(modified))
	for _, name := range modified {
		isModified[name] = true
	}
	names := config.ParamNames()
	redRows := make(map[int]bool)
	for ii, name := range names {
		if isModified[name] {
			redRows[ii] = true
		}
	}
	table := t.newTable(redRows, lipgloss.Right, lipgloss.Left)
	table.Headers("Parameter", "Value")
	for _, name := range names {
		value, _ := cfg.Get(name)
		table.Row(name, value)
	}
	return t.Title("Configuration") + "\n" + table.Render()
}

// Sizes renders a list of files and their sizes, with a final total row.
func (t *Tables) Sizes(title string, names []string, sizes []int64) string {
	table := t.newTable(nil, lipgloss.Left, lipgloss.Right)
	table.Headers("File", "Size")
	var total int64
	for ii, name := range names {
		table.Row(name, humanize.IBytes(uint64(sizes[ii])))
		total += sizes[ii]
	}
	table.Row("Total", humanize.IBytes(uint64(total)))
	return t.Title(title) + "\n" + table.Render()
}
