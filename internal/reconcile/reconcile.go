// Package reconcile normalizes externally computed pivot views into the
// canonical View shape used by the rest of the pipeline.
package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

type ExternalColumn struct {
	Key          string            `json:"key"`
	BaseKey      string            `json:"baseKey,omitempty"`
	MetricID     string            `json:"metricId,omitempty"`
	RemoteID     *int64            `json:"remoteId,omitempty"`
	FieldKey     string            `json:"fieldKey,omitempty"`
	Aggregator   domain.Aggregator `json:"aggregator,omitempty"`
	Label        string            `json:"label,omitempty"`
	TotalDisplay string            `json:"totalDisplay,omitempty"`
	Value        any               `json:"value"`
}

type ExternalRow struct {
	Key    string                  `json:"key"`
	Label  string                  `json:"label"`
	Cells  []domain.Cell           `json:"cells"`
	Totals []domain.Cell           `json:"totals,omitempty"`
	Levels []domain.DimensionLevel `json:"levels,omitempty"`
}

type ExternalTotalHeader struct {
	MetricID   string            `json:"metricId,omitempty"`
	RemoteID   *int64            `json:"remoteId,omitempty"`
	FieldKey   string            `json:"fieldKey,omitempty"`
	Aggregator domain.Aggregator `json:"aggregator,omitempty"`
	Label      string            `json:"label,omitempty"`
}

// ExternalView is a server-computed pivot using its own key conventions.
// Row cells are aligned with Columns by index; row totals with
// RowTotalHeaders when both are present.
type ExternalView struct {
	Rows            []ExternalRow                `json:"rows"`
	Columns         []ExternalColumn             `json:"columns"`
	RowTree         []*domain.RowNode            `json:"rowTree,omitempty"`
	RowTotalHeaders []ExternalTotalHeader        `json:"rowTotalHeaders,omitempty"`
	GrandTotals     map[string]domain.GrandTotal `json:"grandTotals,omitempty"`
}

type reconciler struct {
	resolver *Resolver
	metrics  []domain.Metric
	columns  []domain.Column
	// sources holds, per output column, its index in the external columns.
	sources []int
	headers []domain.Metric
	// totalSources holds, per output total, its index in external totals.
	totalSources []int
}

// Reconcile resolves metric identities, reorders columns into canonical metric
// order and synthesizes a row tree from hierarchical row keys when needed.
// Cells are moved by index, never recomputed.
func Reconcile(ext ExternalView, metrics []domain.Metric) domain.View {
	r := &reconciler{resolver: NewResolver(metrics), metrics: domain.EnabledMetrics(metrics)}
	r.layoutColumns(ext.Columns)
	r.layoutTotals(ext)

	view := domain.View{
		Rows:            make([]domain.Row, len(ext.Rows)),
		Columns:         r.columns,
		RowTotalHeaders: make([]domain.TotalHeader, len(r.headers)),
		GrandTotals:     r.grandTotals(ext.GrandTotals),
	}
	for i, metric := range r.headers {
		view.RowTotalHeaders[i] = domain.TotalHeader{MetricID: metric.ID, Label: metric.DisplayLabel()}
	}

	for i, row := range ext.Rows {
		levels := row.Levels
		if len(levels) == 0 {
			levels = levelsFromKey(row.Key)
		}
		view.Rows[i] = domain.Row{
			Key:    row.Key,
			Label:  row.Label,
			Cells:  r.cells(row.Cells),
			Totals: r.totals(row.Totals),
			Levels: levels,
		}
	}

	if len(ext.RowTree) > 0 {
		view.RowTree = r.tree(ext.RowTree)
	} else {
		view.RowTree = r.synthesizeTree(view.Rows)
	}
	return view
}

// layoutColumns groups external columns by base key in first-seen order and
// orders each group by canonical metric order. When several columns resolve
// to the same (base key, metric) pair the strongest match keeps the slot and
// ties go to the first column.
func (r *reconciler) layoutColumns(external []ExternalColumn) {
	type resolvedColumn struct {
		source int
		kind   MatchKind
	}
	var baseKeys []string
	groups := make(map[string]map[string]resolvedColumn)
	for i, column := range external {
		metric, kind := r.resolver.Resolve(columnRef(column))
		if kind == MatchUnresolved {
			continue
		}
		baseKey := baseKeyOf(column)
		group, ok := groups[baseKey]
		if !ok {
			group = make(map[string]resolvedColumn)
			groups[baseKey] = group
			baseKeys = append(baseKeys, baseKey)
		}
		if held, dup := group[metric.ID]; dup && held.kind.strength() >= kind.strength() {
			continue
		}
		group[metric.ID] = resolvedColumn{source: i, kind: kind}
	}

	for _, baseKey := range baseKeys {
		group := groups[baseKey]
		for _, metric := range r.metrics {
			resolved, ok := group[metric.ID]
			if !ok {
				continue
			}
			source := external[resolved.source]
			label := source.Label
			if label == "" {
				label = metric.DisplayLabel()
			}
			totalDisplay := source.TotalDisplay
			if totalDisplay == "" {
				totalDisplay = pivot.FormatMetricValue(source.Value, metric)
			}
			r.columns = append(r.columns, domain.Column{
				Key:          pivot.ColumnKey(baseKey, metric.ID),
				BaseKey:      baseKey,
				MetricID:     metric.ID,
				Label:        label,
				Aggregator:   metric.Aggregator,
				TotalDisplay: totalDisplay,
				Value:        source.Value,
			})
			r.sources = append(r.sources, resolved.source)
		}
	}
}

// columnRef describes an external column. A numeric metric id, or a numeric
// metric suffix on the column key, doubles as the remote id.
func columnRef(column ExternalColumn) MetricRef {
	ref := MetricRef{
		ID:         column.MetricID,
		RemoteID:   column.RemoteID,
		FieldKey:   column.FieldKey,
		Aggregator: column.Aggregator,
		Key:        column.Key,
		Label:      column.Label,
	}
	if ref.RemoteID == nil {
		ref.RemoteID = numericID(column.MetricID)
	}
	if ref.RemoteID == nil {
		ref.RemoteID = numericID(metricSuffix(column.Key))
	}
	return ref
}

func metricSuffix(key string) string {
	if idx := strings.LastIndex(key, pivot.ColumnKeySeparator); idx >= 0 {
		return key[idx+len(pivot.ColumnKeySeparator):]
	}
	return key
}

func numericID(value string) *int64 {
	if value == "" {
		return nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func baseKeyOf(column ExternalColumn) string {
	if column.BaseKey != "" {
		return column.BaseKey
	}
	if idx := strings.LastIndex(column.Key, pivot.ColumnKeySeparator); idx >= 0 {
		return column.Key[:idx]
	}
	return ""
}

// layoutTotals resolves the metric of each row total position. Totals follow
// RowTotalHeaders when present, otherwise the cell keys of the first row.
func (r *reconciler) layoutTotals(ext ExternalView) {
	var refs []MetricRef
	switch {
	case len(ext.RowTotalHeaders) > 0:
		for _, header := range ext.RowTotalHeaders {
			ref := MetricRef{
				ID:         header.MetricID,
				RemoteID:   header.RemoteID,
				FieldKey:   header.FieldKey,
				Aggregator: header.Aggregator,
				Key:        header.MetricID,
				Label:      header.Label,
			}
			if ref.RemoteID == nil {
				ref.RemoteID = numericID(header.MetricID)
			}
			refs = append(refs, ref)
		}
	case len(ext.Rows) > 0:
		for _, cell := range ext.Rows[0].Totals {
			refs = append(refs, keyRef(cell.Key))
		}
	}

	type resolvedTotal struct {
		source int
		kind   MatchKind
	}
	byMetric := make(map[string]resolvedTotal, len(refs))
	for i, ref := range refs {
		metric, kind := r.resolver.Resolve(ref)
		if kind == MatchUnresolved {
			continue
		}
		if held, dup := byMetric[metric.ID]; dup && held.kind.strength() >= kind.strength() {
			continue
		}
		byMetric[metric.ID] = resolvedTotal{source: i, kind: kind}
	}
	for _, metric := range r.metrics {
		if resolved, ok := byMetric[metric.ID]; ok {
			r.headers = append(r.headers, metric)
			r.totalSources = append(r.totalSources, resolved.source)
		}
	}
}

// cells permutes cells into the output column order by original index.
func (r *reconciler) cells(original []domain.Cell) []domain.Cell {
	cells := make([]domain.Cell, len(r.columns))
	for i, column := range r.columns {
		cells[i] = r.pick(original, r.sources[i], column.Key, r.metricOf(column.MetricID))
	}
	return cells
}

func (r *reconciler) totals(original []domain.Cell) []domain.Cell {
	if len(original) == 0 {
		return nil
	}
	totals := make([]domain.Cell, len(r.headers))
	for i, metric := range r.headers {
		totals[i] = r.pick(original, r.totalSources[i], metric.ID, metric)
	}
	return totals
}

func (r *reconciler) pick(original []domain.Cell, source int, key string, metric domain.Metric) domain.Cell {
	if source < 0 || source >= len(original) {
		return domain.Cell{Key: key, Display: pivot.NullDisplay}
	}
	cell := original[source]
	if cell.Formatting != nil {
		descriptor := cell.Formatting.Clone()
		cell.Formatting = &descriptor
	}
	cell.Key = key
	if cell.Display == "" {
		cell.Display = pivot.FormatMetricValue(cell.Value, metric)
	}
	return cell
}

func (r *reconciler) grandTotals(original map[string]domain.GrandTotal) map[string]domain.GrandTotal {
	keys := make([]string, 0, len(original))
	for key := range original {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	totals := make(map[string]domain.GrandTotal, len(original))
	kinds := make(map[string]MatchKind, len(original))
	for _, key := range keys {
		total := original[key]
		metric, kind := r.resolver.Resolve(keyRef(key))
		if kind == MatchUnresolved {
			continue
		}
		if held, exists := kinds[metric.ID]; exists && held.strength() >= kind.strength() {
			continue
		}
		if total.Display == "" {
			total.Display = pivot.FormatMetricValue(total.Value, metric)
		}
		totals[metric.ID] = total
		kinds[metric.ID] = kind
	}
	return totals
}

// keyRef treats a bare key as id, label and, when numeric, remote id.
func keyRef(key string) MetricRef {
	return MetricRef{ID: key, Key: key, Label: key, RemoteID: numericID(metricSuffix(key))}
}

func (r *reconciler) metricOf(id string) domain.Metric {
	for _, metric := range r.metrics {
		if metric.ID == id {
			return metric
		}
	}
	return domain.Metric{ID: id}
}
