package formula

import (
	"fmt"
	"math"
	"time"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

// Warning records a formula failure that was absorbed into a null value.
type Warning struct {
	MetricID string `json:"metricId"`
	Position string `json:"position"`
	Err      error  `json:"-"`
}

func (w Warning) Error() string {
	if w.Position == "" {
		return fmt.Sprintf("formula %q: %v", w.MetricID, w.Err)
	}
	return fmt.Sprintf("formula %q at %s: %v", w.MetricID, w.Position, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// compiled is one formula metric ready for evaluation. A nil program means
// the metric failed to compile and is null everywhere.
type compiled struct {
	metric  domain.Metric
	program *Program
}

// layer carries per-call state for ApplyFormulas.
type layer struct {
	metrics  []domain.Metric
	formulas []compiled
	warnings []Warning
}

// ApplyFormulas returns a new view in which every enabled formula metric is
// evaluated at each position of the base view. Columns, totals and headers are
// reordered to the declaration order of metrics; base cells are moved, never
// recomputed. Failures degrade to null and are reported as warnings.
func ApplyFormulas(view domain.View, metrics []domain.Metric) (domain.View, []Warning) {
	l := &layer{metrics: domain.EnabledMetrics(metrics)}
	l.compile()
	if len(l.formulas) == 0 {
		return view.Clone(), nil
	}

	base := view.Clone()
	columns, sources := l.columns(base)

	rows := make([]domain.Row, len(base.Rows))
	for i, row := range base.Rows {
		rows[i] = domain.Row{
			Key:    row.Key,
			Label:  row.Label,
			Cells:  l.cells("row "+row.Key, row.Cells, columns, sources),
			Totals: l.totals("row total "+row.Key, row.Totals),
			Levels: row.Levels,
		}
	}

	result := domain.View{
		Rows:            rows,
		Columns:         columns,
		RowTotalHeaders: l.headers(base.RowTotalHeaders),
		GrandTotals:     l.grandTotals(base.GrandTotals),
	}
	if base.RowTree != nil {
		result.RowTree = base.RowTree
		result.WalkTree(func(node *domain.RowNode) {
			node.Cells = l.cells("node "+node.Key, node.Cells, columns, sources)
			node.Totals = l.totals("node total "+node.Key, node.Totals)
		})
	}
	return result, l.warnings
}

// compile orders formulas so each is evaluated after the formulas it
// references. Formulas in a reference cycle fail to compile.
func (l *layer) compile() {
	known := make(map[string]bool, len(l.metrics))
	for _, metric := range l.metrics {
		known[metric.ID] = true
	}

	pending := make([]compiled, 0)
	for _, metric := range l.metrics {
		if !metric.IsFormula() {
			continue
		}
		program, err := Compile(metric.Expression)
		if err == nil {
			for _, ref := range program.References() {
				if !known[ref] {
					err = fmt.Errorf("%w: unknown metric %q", ErrCompile, ref)
					break
				}
			}
		}
		if err != nil {
			l.warn(metric.ID, "", err)
			program = nil
		}
		pending = append(pending, compiled{metric: metric, program: program})
	}

	formulaIDs := make(map[string]bool, len(pending))
	for _, f := range pending {
		formulaIDs[f.metric.ID] = true
	}
	done := make(map[string]bool, len(pending))
	for len(pending) > 0 {
		progressed := false
		remaining := pending[:0]
		for _, f := range pending {
			if f.program != nil && !dependenciesDone(f.program, formulaIDs, done) {
				remaining = append(remaining, f)
				continue
			}
			l.formulas = append(l.formulas, f)
			done[f.metric.ID] = true
			progressed = true
		}
		pending = remaining
		if !progressed {
			for _, f := range pending {
				l.warn(f.metric.ID, "", fmt.Errorf("%w: circular reference", ErrCompile))
				l.formulas = append(l.formulas, compiled{metric: f.metric})
			}
			break
		}
	}
}

func dependenciesDone(program *Program, formulaIDs, done map[string]bool) bool {
	for _, ref := range program.refs {
		if formulaIDs[ref] && !done[ref] {
			return false
		}
	}
	return true
}

// evaluate fills the formula values of one position in place.
func (l *layer) evaluate(position string, values map[string]any) {
	for _, f := range l.formulas {
		if f.program == nil {
			values[f.metric.ID] = nil
			continue
		}
		raw, err := f.program.Eval(func(id string) (any, bool) {
			value, ok := values[id]
			return value, ok
		})
		if err != nil {
			l.warn(f.metric.ID, position, err)
			values[f.metric.ID] = nil
			continue
		}
		value := coerce(raw, f.metric)
		if v, ok := value.(float64); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
			l.warn(f.metric.ID, position, fmt.Errorf("%w: non-finite result", ErrEvaluate))
			values[f.metric.ID] = nil
			continue
		}
		values[f.metric.ID] = value
	}
}

func (l *layer) warn(metricID, position string, err error) {
	l.warnings = append(l.warnings, Warning{MetricID: metricID, Position: position, Err: err})
}

// positionValues seeds a position with every known metric id so references to
// base metrics that are absent from the view resolve to null.
func (l *layer) positionValues() map[string]any {
	values := make(map[string]any, len(l.metrics))
	for _, metric := range l.metrics {
		values[metric.ID] = nil
	}
	return values
}

// columns lays out base keys in first-seen order crossed with the declared
// metric order. sources maps each output column to its index in the base
// view, or -1 for formula columns.
func (l *layer) columns(base domain.View) ([]domain.Column, []int) {
	var baseKeys []string
	seen := make(map[string]bool)
	index := make(map[string]int, len(base.Columns))
	for i, column := range base.Columns {
		index[column.Key] = i
		if !seen[column.BaseKey] {
			seen[column.BaseKey] = true
			baseKeys = append(baseKeys, column.BaseKey)
		}
	}
	if len(baseKeys) == 0 && len(base.Rows) > 0 {
		baseKeys = []string{""}
	}

	var (
		columns []domain.Column
		sources []int
	)
	for _, baseKey := range baseKeys {
		values := l.positionValues()
		label := ""
		for _, column := range base.Columns {
			if column.BaseKey == baseKey {
				values[column.MetricID] = column.Value
				label = columnPrefix(column)
			}
		}
		l.evaluate("column "+baseKey, values)

		for _, metric := range l.metrics {
			key := pivot.ColumnKey(baseKey, metric.ID)
			if !metric.IsFormula() {
				if i, ok := index[key]; ok {
					columns = append(columns, base.Columns[i])
					sources = append(sources, i)
				}
				continue
			}
			value := values[metric.ID]
			columnLabel := metric.DisplayLabel()
			if label != "" {
				columnLabel = label + " (" + columnLabel + ")"
			}
			columns = append(columns, domain.Column{
				Key:          key,
				BaseKey:      baseKey,
				MetricID:     metric.ID,
				Label:        columnLabel,
				TotalDisplay: display(value, metric),
				Value:        value,
			})
			sources = append(sources, -1)
		}
	}
	return columns, sources
}

// columnPrefix recovers the column path label from a base column label.
func columnPrefix(column domain.Column) string {
	if column.BaseKey == "" {
		return ""
	}
	segments, ok := pivot.ParsePathKey(column.BaseKey)
	if !ok {
		return column.BaseKey
	}
	label := ""
	for i, segment := range segments {
		if i > 0 {
			label += " / "
		}
		label += segment.Value
	}
	return label
}

// cells rebuilds a row's cells in output column order. Base cells are copied
// from their original index; formula cells are evaluated per base key.
func (l *layer) cells(position string, original []domain.Cell, columns []domain.Column, sources []int) []domain.Cell {
	byBase := make(map[string]map[string]any)
	result := make([]domain.Cell, len(columns))
	for i, column := range columns {
		if sources[i] < 0 {
			continue
		}
		if sources[i] < len(original) {
			result[i] = original[sources[i]]
		} else {
			result[i] = domain.Cell{Key: column.Key, Display: pivot.NullDisplay}
		}
		values, ok := byBase[column.BaseKey]
		if !ok {
			values = l.positionValues()
			byBase[column.BaseKey] = values
		}
		values[column.MetricID] = result[i].Value
	}

	evaluated := make(map[string]bool)
	for i, column := range columns {
		if sources[i] >= 0 {
			continue
		}
		values, ok := byBase[column.BaseKey]
		if !ok {
			values = l.positionValues()
			byBase[column.BaseKey] = values
		}
		if !evaluated[column.BaseKey] {
			l.evaluate(position+" column "+column.BaseKey, values)
			evaluated[column.BaseKey] = true
		}
		metric := l.metric(column.MetricID)
		result[i] = domain.Cell{
			Key:     column.Key,
			Value:   values[column.MetricID],
			Display: display(values[column.MetricID], metric),
		}
	}
	return result
}

// totals rebuilds a totals slice in declared metric order.
func (l *layer) totals(position string, original []domain.Cell) []domain.Cell {
	values := l.positionValues()
	byKey := make(map[string]domain.Cell, len(original))
	for _, cell := range original {
		byKey[cell.Key] = cell
		values[cell.Key] = cell.Value
	}
	l.evaluate(position, values)

	result := make([]domain.Cell, 0, len(l.metrics))
	for _, metric := range l.metrics {
		if !metric.IsFormula() {
			if cell, ok := byKey[metric.ID]; ok {
				result = append(result, cell)
			}
			continue
		}
		result = append(result, domain.Cell{
			Key:     metric.ID,
			Value:   values[metric.ID],
			Display: display(values[metric.ID], metric),
		})
	}
	return result
}

func (l *layer) headers(original []domain.TotalHeader) []domain.TotalHeader {
	byID := make(map[string]domain.TotalHeader, len(original))
	for _, header := range original {
		byID[header.MetricID] = header
	}
	headers := make([]domain.TotalHeader, 0, len(l.metrics))
	for _, metric := range l.metrics {
		if header, ok := byID[metric.ID]; ok {
			headers = append(headers, header)
			continue
		}
		if metric.IsFormula() {
			headers = append(headers, domain.TotalHeader{MetricID: metric.ID, Label: metric.DisplayLabel()})
		}
	}
	return headers
}

func (l *layer) grandTotals(original map[string]domain.GrandTotal) map[string]domain.GrandTotal {
	values := l.positionValues()
	result := make(map[string]domain.GrandTotal, len(original)+len(l.formulas))
	for id, total := range original {
		values[id] = total.Value
		result[id] = total
	}
	l.evaluate("grand total", values)
	for _, f := range l.formulas {
		value := values[f.metric.ID]
		result[f.metric.ID] = domain.GrandTotal{Value: value, Display: display(value, f.metric)}
	}
	return result
}

func (l *layer) metric(id string) domain.Metric {
	for _, metric := range l.metrics {
		if metric.ID == id {
			return metric
		}
	}
	return domain.Metric{ID: id}
}

// coerce maps a raw result onto the metric's output format.
func coerce(raw any, metric domain.Metric) any {
	if raw == nil {
		return nil
	}
	switch metric.Format {
	case domain.OutputFormatNumber, domain.OutputFormatCurrency:
		f, ok := toNumber(raw).(float64)
		if !ok {
			return nil
		}
		return round(f, metric.Precision)
	case domain.OutputFormatPercent:
		f, ok := toNumber(raw).(float64)
		if !ok {
			return nil
		}
		if metric.Precision != nil {
			shifted := *metric.Precision + 2
			return round(f, &shifted)
		}
		return f
	case domain.OutputFormatText:
		return toText(raw)
	case domain.OutputFormatDate:
		t, ok := toDate(raw).(time.Time)
		if !ok {
			return nil
		}
		return t.Format("2006-01-02")
	}
	switch v := raw.(type) {
	case float64:
		return round(v, metric.Precision)
	case time.Time:
		return v.Format("2006-01-02")
	}
	return pivot.NormalizeValue(raw)
}

func round(v float64, precision *int) float64 {
	if precision == nil {
		return v
	}
	scale := math.Pow(10, float64(*precision))
	return math.Round(v*scale) / scale
}

func display(value any, metric domain.Metric) string {
	return pivot.FormatValue(value, metric.Format, metric.Precision, metric.Currency)
}
