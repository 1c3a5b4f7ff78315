package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// TableOptions steers header detection and sheet selection.
type TableOptions struct {
	// HeaderRowIndex pins the zero-based header row. Nil picks the first
	// non-empty row.
	HeaderRowIndex *int
	// Sheet names the XLSX sheet to read. Empty reads the first sheet.
	Sheet string
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

// rowNumber converts a data row index into the 1-based line number users see
// in their spreadsheet.
func (t tableData) rowNumber(rowIdx int) int {
	return t.headerRowIndex + rowIdx + 2
}

func parseTable(fileName string, payload []byte, opts TableOptions) (tableData, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, opts)
	case ".xlsx":
		return parseExcel(payload, opts)
	default:
		return tableData{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, opts TableOptions) (tableData, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, opts.HeaderRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, records, nil
}

func parseExcel(payload []byte, opts TableOptions) (tableData, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return tableData{}, nil, errors.New("excel file has no sheets")
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return tableData{}, nil, fmt.Errorf("sheet %q not found", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, opts.HeaderRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, rows, nil
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	headerIndex := -1
	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if isBlankRow(records[*headerRowIndex]) {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerIndex = *headerRowIndex
	} else {
		for idx, row := range records {
			if !isBlankRow(row) {
				headerIndex = idx
				break
			}
		}
	}
	if headerIndex < 0 {
		return tableData{}, errors.New("header row could not be detected")
	}

	headerRow := records[headerIndex]
	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	var dataRows [][]string
	for _, row := range records[headerIndex+1:] {
		if isBlankRow(row) {
			continue
		}
		dataRows = append(dataRows, padRow(row, len(headers)))
	}

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func buildHeaderCandidates(records [][]string, limit int, currentIndex int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range records {
		if isBlankRow(row) {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == currentIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sanitizeHeaders turns header labels into field keys. Dots are replaced
// because pipelines use them to separate aliases from field names.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.NewReplacer(" ", "_", ".", "_", "-", "_").Replace(name)
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
