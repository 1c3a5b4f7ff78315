package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/reportql/internal/domain"
)

const (
	sheetName       = "Report"
	defaultBarColor = "#638EC6"
)

type styleKey struct {
	bold       bool
	indent     int
	background string
	fontColor  string
}

// xlsxWriter caches style ids since excelize allocates a new style per call.
type xlsxWriter struct {
	file   *excelize.File
	styles map[styleKey]int
}

func writeXLSX(w io.Writer, t table, opts RenderOptions) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	xw := &xlsxWriter{file: f, styles: make(map[styleKey]int)}

	row := 1
	if title := strings.TrimSpace(opts.Title); title != "" {
		if err := xw.set(1, row, title, styleKey{bold: true}); err != nil {
			return err
		}
		row += 2
	}
	headerRow := row

	for col, label := range t.header {
		if err := xw.set(col+1, row, label, styleKey{bold: true}); err != nil {
			return err
		}
	}
	row++

	firstBody := row
	for _, body := range t.body {
		if err := xw.writeRow(row, body, false); err != nil {
			return err
		}
		row++
	}
	if err := xw.applyDataBars(t, firstBody); err != nil {
		return err
	}
	if t.footer != nil {
		if err := xw.writeRow(row, *t.footer, true); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 32); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if t.width() > 1 {
		last, err := excelize.ColumnNumberToName(t.width())
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, "B", last, 16); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	topLeft, err := excelize.CoordinatesToCellName(2, headerRow+1)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      headerRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomRight",
	}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func (xw *xlsxWriter) writeRow(row int, r tableRow, bold bool) error {
	if err := xw.set(1, row, r.label, styleKey{bold: bold, indent: r.depth}); err != nil {
		return err
	}
	for i, cell := range r.cells {
		key := styleKey{bold: bold}
		if desc := cell.formatting; desc != nil {
			switch desc.Type {
			case domain.FormattingColorScale:
				if desc.ColorScale != nil {
					key.background = desc.ColorScale.Background
					key.fontColor = desc.ColorScale.TextColor
				}
			case domain.FormattingIconSet:
				if desc.IconSet != nil {
					key.fontColor = desc.IconSet.Color
				}
			}
		}
		if err := xw.set(i+2, row, cellValue(cell), key); err != nil {
			return err
		}
	}
	return nil
}

// cellValue keeps numbers numeric so spreadsheets can recompute them. Text
// and formula errors are written as their display string.
func cellValue(cell tableCell) any {
	switch v := cell.value.(type) {
	case float64:
		return v
	case nil:
		return nil
	default:
		return cell.display
	}
}

func (xw *xlsxWriter) set(col, row int, value any, key styleKey) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if value != nil {
		if err := xw.file.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	if key == (styleKey{}) {
		return nil
	}
	style, err := xw.style(key)
	if err != nil {
		return err
	}
	if err := xw.file.SetCellStyle(sheetName, cell, cell, style); err != nil {
		return fmt.Errorf("style %s: %w", cell, err)
	}
	return nil
}

func (xw *xlsxWriter) style(key styleKey) (int, error) {
	if id, ok := xw.styles[key]; ok {
		return id, nil
	}
	style := &excelize.Style{}
	if key.bold || key.fontColor != "" {
		style.Font = &excelize.Font{Bold: key.bold, Color: key.fontColor}
	}
	if key.indent > 0 {
		style.Alignment = &excelize.Alignment{Horizontal: "left", Indent: key.indent}
	}
	if key.background != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{key.background}}
	}
	id, err := xw.file.NewStyle(style)
	if err != nil {
		return 0, fmt.Errorf("create style: %w", err)
	}
	xw.styles[key] = id
	return id, nil
}

// applyDataBars adds a native data bar rule to every column whose body cells
// carry a data bar descriptor. Excel draws the bar from the cell values.
func (xw *xlsxWriter) applyDataBars(t table, firstBody int) error {
	if len(t.body) == 0 {
		return nil
	}
	lastBody := firstBody + len(t.body) - 1
	for col := 0; col < t.width()-1; col++ {
		color, found := "", false
		for _, row := range t.body {
			if col >= len(row.cells) {
				continue
			}
			if desc := row.cells[col].formatting; desc != nil && desc.Type == domain.FormattingDataBar && desc.DataBar != nil {
				color, found = desc.DataBar.BarColor, true
				break
			}
		}
		if !found {
			continue
		}
		from, err := excelize.CoordinatesToCellName(col+2, firstBody)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		to, err := excelize.CoordinatesToCellName(col+2, lastBody)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := xw.file.SetConditionalFormat(sheetName, from+":"+to, []excelize.ConditionalFormatOptions{{
			Type:     "data_bar",
			Criteria: "=",
			MinType:  "min",
			MaxType:  "max",
			BarColor: barColor(color),
		}}); err != nil {
			return fmt.Errorf("data bar %s:%s: %w", from, to, err)
		}
	}
	return nil
}

func barColor(color string) string {
	if strings.TrimSpace(color) == "" {
		return defaultBarColor
	}
	return color
}
