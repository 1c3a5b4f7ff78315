package pivot

import (
	"github.com/rpattn/reportql/internal/domain"
)

// ColumnKeySeparator joins a column path key and a metric id.
const ColumnKeySeparator = "::"

type cellKey struct {
	row    int
	col    int
	metric int
}

type nodeMetric struct {
	node   int
	metric int
}

// ColumnKey names the column of one metric under a column path. Views without
// column dimensions use the bare metric id.
func ColumnKey(baseKey, metricID string) string {
	if baseKey == "" || baseKey == AllRecordsKey {
		return metricID
	}
	return baseKey + ColumnKeySeparator + metricID
}

type viewBuilder struct {
	rowDims  []string
	colDims  []string
	metrics  []domain.Metric
	labels   *Labels
	sortSpec domain.SortSpec

	rows      *levelArena
	cols      *levelArena
	cells     map[cellKey]*bucket
	rowTotals map[nodeMetric]*bucket
	colTotals map[nodeMetric]*bucket
	grand     []*bucket
}

// BuildView groups records by the row and column dimensions in a single pass
// and aggregates every enabled base metric. Formula metrics are ignored here.
func BuildView(records []domain.Record, rowDims, colDims []string, metrics []domain.Metric, labels *Labels, sortSpec domain.SortSpec) (domain.View, error) {
	b := newViewBuilder(rowDims, colDims, metrics, labels, sortSpec)
	for _, record := range records {
		if err := b.push(record); err != nil {
			return domain.View{}, err
		}
	}
	return b.view(), nil
}

func newViewBuilder(rowDims, colDims []string, metrics []domain.Metric, labels *Labels, sortSpec domain.SortSpec) *viewBuilder {
	base := domain.BaseMetrics(metrics)
	grand := make([]*bucket, len(base))
	for i := range grand {
		grand[i] = &bucket{}
	}
	return &viewBuilder{
		rowDims:   rowDims,
		colDims:   colDims,
		metrics:   base,
		labels:    labels,
		sortSpec:  sortSpec,
		rows:      newLevelArena(rowDims),
		cols:      newLevelArena(colDims),
		cells:     make(map[cellKey]*bucket),
		rowTotals: make(map[nodeMetric]*bucket),
		colTotals: make(map[nodeMetric]*bucket),
		grand:     grand,
	}
}

func (b *viewBuilder) push(record domain.Record) error {
	rowLeaf := b.rows.insert(b.rows.valuesOf(record))
	colLeaf := b.cols.insert(b.cols.valuesOf(record))
	rowPath := b.rows.path(rowLeaf)
	colPath := b.cols.path(colLeaf)

	for mi, metric := range b.metrics {
		value := metricInput(record, metric)

		leafCell := bucketFor(b.cells, cellKey{row: rowLeaf, col: colLeaf, metric: mi})
		if metric.Aggregator == domain.AggregatorValue && IsDefined(value) && leafCell.definedCount > 0 {
			return &ValueAggregationCollision{
				MetricID:  metric.ID,
				RowKey:    b.rows.nodes[rowLeaf].pathKey,
				ColumnKey: b.cols.nodes[colLeaf].pathKey,
			}
		}

		for _, node := range rowPath {
			bucketFor(b.cells, cellKey{row: node, col: colLeaf, metric: mi}).push(value)
			bucketFor(b.rowTotals, nodeMetric{node: node, metric: mi}).push(value)
		}
		for _, node := range colPath {
			bucketFor(b.colTotals, nodeMetric{node: node, metric: mi}).push(value)
		}
		b.grand[mi].push(value)
	}
	return nil
}

func bucketFor[K comparable](buckets map[K]*bucket, key K) *bucket {
	existing, ok := buckets[key]
	if !ok {
		existing = &bucket{}
		buckets[key] = existing
	}
	return existing
}

// metricInput picks the value a record contributes to a metric. Count
// metrics without a source field count records.
func metricInput(record domain.Record, metric domain.Metric) any {
	if metric.FieldKey == "" {
		if metric.Aggregator == domain.AggregatorCount {
			return 1
		}
		return nil
	}
	return record[metric.FieldKey]
}

func (b *viewBuilder) view() domain.View {
	colSorter := newDimensionSorter(b.cols, b.sortSpec, b.colTotals, b.metrics)
	rowSorter := newDimensionSorter(b.rows, b.sortSpec, b.rowTotals, b.metrics)

	colLeaves := colSorter.sortLeaves(b.cols.leaves)
	columns := b.columns(colLeaves)

	rows := make([]domain.Row, 0, len(b.rows.leaves))
	for _, leaf := range rowSorter.sortLeaves(b.rows.leaves) {
		rows = append(rows, domain.Row{
			Key:    b.rows.nodes[leaf].pathKey,
			Label:  b.rows.label(leaf),
			Cells:  b.rowCells(leaf, colLeaves),
			Totals: b.rowTotalCells(leaf),
			Levels: b.rows.levels(leaf, b.labels),
		})
	}

	headers := make([]domain.TotalHeader, len(b.metrics))
	grandTotals := make(map[string]domain.GrandTotal, len(b.metrics))
	for mi, metric := range b.metrics {
		headers[mi] = domain.TotalHeader{MetricID: metric.ID, Label: metric.DisplayLabel()}
		value := b.grand[mi].finalize(metric.Aggregator)
		grandTotals[metric.ID] = domain.GrandTotal{Value: value, Display: FormatMetricValue(value, metric)}
	}

	view := domain.View{
		Rows:            rows,
		Columns:         columns,
		RowTotalHeaders: headers,
		GrandTotals:     grandTotals,
	}
	if len(b.rowDims) > 1 {
		view.RowTree = b.buildTree(rowSorter, colLeaves)
	}
	return view
}

func (b *viewBuilder) columns(colLeaves []int) []domain.Column {
	columns := make([]domain.Column, 0, len(colLeaves)*len(b.metrics))
	for _, colLeaf := range colLeaves {
		node := b.cols.nodes[colLeaf]
		baseKey := node.pathKey
		if len(b.colDims) == 0 {
			baseKey = ""
		}
		for mi, metric := range b.metrics {
			total := b.colTotals[nodeMetric{node: colLeaf, metric: mi}].finalize(metric.Aggregator)
			label := metric.DisplayLabel()
			if baseKey != "" {
				label = b.cols.label(colLeaf) + " (" + label + ")"
			}
			columns = append(columns, domain.Column{
				Key:          ColumnKey(baseKey, metric.ID),
				BaseKey:      baseKey,
				MetricID:     metric.ID,
				Label:        label,
				Aggregator:   metric.Aggregator,
				TotalDisplay: FormatMetricValue(total, metric),
				Value:        total,
			})
		}
	}
	return columns
}

// rowCells finalizes the cells of any row node, leaf or ancestor, in column order.
func (b *viewBuilder) rowCells(rowNode int, colLeaves []int) []domain.Cell {
	cells := make([]domain.Cell, 0, len(colLeaves)*len(b.metrics))
	for _, colLeaf := range colLeaves {
		baseKey := b.cols.nodes[colLeaf].pathKey
		for mi, metric := range b.metrics {
			value := b.cells[cellKey{row: rowNode, col: colLeaf, metric: mi}].finalize(metric.Aggregator)
			cells = append(cells, domain.Cell{
				Key:     ColumnKey(baseKey, metric.ID),
				Value:   value,
				Display: FormatMetricValue(value, metric),
			})
		}
	}
	return cells
}

func (b *viewBuilder) rowTotalCells(rowNode int) []domain.Cell {
	totals := make([]domain.Cell, len(b.metrics))
	for mi, metric := range b.metrics {
		value := b.rowTotals[nodeMetric{node: rowNode, metric: mi}].finalize(metric.Aggregator)
		totals[mi] = domain.Cell{
			Key:     metric.ID,
			Value:   value,
			Display: FormatMetricValue(value, metric),
		}
	}
	return totals
}
