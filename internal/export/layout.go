package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/reportql/internal/domain"
)

type tableCell struct {
	value      any
	display    string
	formatting *domain.FormattingDescriptor
}

type tableRow struct {
	label string
	depth int
	cells []tableCell
}

// table is the view flattened into a grid: one label column followed by
// the metric columns and, when column dimensions exist, the row totals.
type table struct {
	header []string
	body   []tableRow
	footer *tableRow
}

func (t table) width() int {
	return len(t.header)
}

func layoutView(view domain.View, opts RenderOptions) table {
	withTotals := !opts.OmitTotals && hasColumnDimensions(view)

	header := make([]string, 0, 1+len(view.Columns)+len(view.RowTotalHeaders))
	header = append(header, rowHeaderLabel(view))
	for _, column := range view.Columns {
		header = append(header, column.Label)
	}
	if withTotals {
		for _, total := range view.RowTotalHeaders {
			header = append(header, "Total "+total.Label)
		}
	}

	out := table{header: header}
	if opts.Tree && len(view.RowTree) > 0 {
		view.WalkTree(func(node *domain.RowNode) {
			out.body = append(out.body, makeRow(node.Label, node.Depth, node.Cells, node.Totals, withTotals))
		})
	} else {
		for _, row := range view.Rows {
			out.body = append(out.body, makeRow(row.Label, 0, row.Cells, row.Totals, withTotals))
		}
	}

	if !opts.OmitTotals {
		footer := tableRow{label: "Total"}
		for _, column := range view.Columns {
			footer.cells = append(footer.cells, tableCell{value: column.Value, display: column.TotalDisplay})
		}
		if withTotals {
			for _, total := range view.RowTotalHeaders {
				grand := view.GrandTotals[total.MetricID]
				footer.cells = append(footer.cells, tableCell{value: grand.Value, display: grand.Display})
			}
		}
		out.footer = &footer
	}
	return out
}

func makeRow(label string, depth int, cells, totals []domain.Cell, withTotals bool) tableRow {
	row := tableRow{label: label, depth: depth}
	for _, cell := range cells {
		row.cells = append(row.cells, fromCell(cell))
	}
	if withTotals {
		for _, cell := range totals {
			row.cells = append(row.cells, fromCell(cell))
		}
	}
	return row
}

func fromCell(cell domain.Cell) tableCell {
	return tableCell{value: cell.Value, display: cell.Display, formatting: cell.Formatting}
}

func hasColumnDimensions(view domain.View) bool {
	for _, column := range view.Columns {
		if column.BaseKey != "" {
			return true
		}
	}
	return false
}

// rowHeaderLabel names the label column after the row dimensions.
func rowHeaderLabel(view domain.View) string {
	if len(view.Rows) == 0 || len(view.Rows[0].Levels) == 0 {
		return "Row"
	}
	labels := make([]string, 0, len(view.Rows[0].Levels))
	for _, level := range view.Rows[0].Levels {
		labels = append(labels, level.FieldLabel)
	}
	return strings.Join(labels, " / ")
}

// writeCSV emits display strings so exported numbers match what users see.
// Tree depth is rendered as leading spaces on the label.
func writeCSV(w io.Writer, t table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rows := t.body
	if t.footer != nil {
		rows = append(rows[:len(rows):len(rows)], *t.footer)
	}
	for _, row := range rows {
		record := make([]string, 0, t.width())
		record = append(record, strings.Repeat("  ", row.depth)+row.label)
		for _, cell := range row.cells {
			record = append(record, cell.display)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
