package pivot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/reportql/internal/domain"
)

func regionRecords() []domain.Record {
	return []domain.Record{
		{"region": "A", "v": 10},
		{"region": "A", "v": 5},
		{"region": "B", "v": 7},
	}
}

func sumMetric() domain.Metric {
	return domain.Metric{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum}
}

func cellValues(row domain.Row) []any {
	values := make([]any, len(row.Cells))
	for i, cell := range row.Cells {
		values[i] = cell.Value
	}
	return values
}

func TestBuildViewSumsByRegion(t *testing.T) {
	view, err := BuildView(regionRecords(), []string{"region"}, nil, []domain.Metric{sumMetric()}, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.Rows, 2)
	assert.Equal(t, "A", view.Rows[0].Label)
	assert.Equal(t, []any{15.0}, cellValues(view.Rows[0]))
	assert.Equal(t, "B", view.Rows[1].Label)
	assert.Equal(t, []any{7.0}, cellValues(view.Rows[1]))

	assert.Equal(t, 22.0, view.GrandTotals["m"].Value)
	assert.Equal(t, "22", view.GrandTotals["m"].Display)

	require.Len(t, view.Columns, 1)
	assert.Equal(t, "m", view.Columns[0].Key)
	assert.Equal(t, "", view.Columns[0].BaseKey)
	assert.Equal(t, 22.0, view.Columns[0].Value)
	assert.Nil(t, view.RowTree)
}

func TestBuildViewCountGrandTotalMatchesRecordCount(t *testing.T) {
	records := []domain.Record{
		{"region": "A", "v": "x"},
		{"region": "B"},
		{"region": "B", "v": nil},
		{"region": "C", "v": 3.5},
	}
	metrics := []domain.Metric{
		{ID: "rows", Aggregator: domain.AggregatorCount},
		{ID: "vals", FieldKey: "v", Aggregator: domain.AggregatorCount},
	}
	view, err := BuildView(records, []string{"region"}, nil, metrics, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(len(records)), view.GrandTotals["rows"].Value)
	assert.Equal(t, float64(len(records)), view.GrandTotals["vals"].Value)
}

func TestBuildViewEmptyDimensionsYieldsAllRecordsRow(t *testing.T) {
	metrics := []domain.Metric{sumMetric(), {ID: "n", Aggregator: domain.AggregatorCount}}
	view, err := BuildView(regionRecords(), nil, nil, metrics, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.Rows, 1)
	row := view.Rows[0]
	assert.Equal(t, AllRecordsLabel, row.Label)
	assert.Equal(t, AllRecordsKey, row.Key)
	assert.Empty(t, row.Levels)
	require.Len(t, row.Cells, 2)
	assert.Equal(t, view.GrandTotals["m"].Value, row.Cells[0].Value)
	assert.Equal(t, view.GrandTotals["n"].Value, row.Cells[1].Value)
}

func TestBuildViewEmptyDimensionsWithoutRecords(t *testing.T) {
	view, err := BuildView(nil, nil, nil, []domain.Metric{{ID: "n", Aggregator: domain.AggregatorCount}}, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.Rows, 1)
	assert.Equal(t, 0.0, view.GrandTotals["n"].Value)
}

func TestBuildViewValueAggregatorCollision(t *testing.T) {
	metric := domain.Metric{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorValue}

	_, err := BuildView(regionRecords(), []string{"region"}, nil, []domain.Metric{metric}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValueAggregationCollision))

	var collision *ValueAggregationCollision
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "m", collision.MetricID)

	view, err := BuildView(regionRecords()[2:], []string{"region"}, nil, []domain.Metric{metric}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{7.0}, cellValues(view.Rows[0]))
}

func TestBuildViewValueAggregatorOnePerCell(t *testing.T) {
	records := []domain.Record{
		{"region": "A", "city": "X", "name": "alpha"},
		{"region": "A", "city": "Y", "name": "beta"},
	}
	metric := domain.Metric{ID: "name", FieldKey: "name", Aggregator: domain.AggregatorValue}

	view, err := BuildView(records, []string{"region", "city"}, nil, []domain.Metric{metric}, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.Rows, 2)
	assert.Equal(t, "alpha", view.Rows[0].Cells[0].Value)
	assert.Equal(t, "beta", view.Rows[1].Cells[0].Value)

	require.Len(t, view.RowTree, 1)
	assert.Nil(t, view.RowTree[0].Totals[0].Value)
	assert.Equal(t, NullDisplay, view.RowTree[0].Totals[0].Display)
}

func TestBuildViewAverageIgnoresNonNumeric(t *testing.T) {
	records := []domain.Record{
		{"g": "a", "v": "4"},
		{"g": "a", "v": "n/a"},
		{"g": "a", "v": 8},
		{"g": "b", "v": "none"},
	}
	metric := domain.Metric{ID: "avg", FieldKey: "v", Aggregator: domain.AggregatorAvg}

	view, err := BuildView(records, []string{"g"}, nil, []domain.Metric{metric}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 6.0, view.Rows[0].Cells[0].Value)
	assert.Nil(t, view.Rows[1].Cells[0].Value)
	assert.Equal(t, NullDisplay, view.Rows[1].Cells[0].Display)
}

func TestBuildViewColumnsCrossMetrics(t *testing.T) {
	records := []domain.Record{
		{"region": "A", "year": 2023, "v": 1},
		{"region": "A", "year": 2024, "v": 2},
		{"region": "B", "year": 2023, "v": 4},
		{"region": "C", "year": 2023, "v": "oops"},
	}
	metrics := []domain.Metric{
		sumMetric(),
		{ID: "n", Aggregator: domain.AggregatorCount},
		{ID: "off", Aggregator: domain.AggregatorCount, Disabled: true},
		{ID: "f", Kind: domain.MetricKindFormula, Expression: "{{m}}"},
	}

	view, err := BuildView(records, []string{"region"}, []string{"year"}, metrics, nil, nil)
	require.NoError(t, err)

	y23 := JoinPathKey("", "year", "2023")
	y24 := JoinPathKey("", "year", "2024")
	keys := make([]string, len(view.Columns))
	for i, column := range view.Columns {
		keys[i] = column.Key
	}
	assert.Equal(t, []string{
		ColumnKey(y23, "m"), ColumnKey(y23, "n"),
		ColumnKey(y24, "m"), ColumnKey(y24, "n"),
	}, keys)
	assert.Equal(t, 5.0, view.Columns[0].Value)

	// Cells no record reached stay nil; a sum over only non-numeric values is 0.
	rowB := view.Rows[1]
	assert.Equal(t, []any{4.0, 1.0, nil, nil}, cellValues(rowB))
	assert.Equal(t, 4.0, rowB.Totals[0].Value)
	rowC := view.Rows[2]
	assert.Equal(t, []any{0.0, 1.0, nil, nil}, cellValues(rowC))
	assert.Equal(t, 0.0, rowC.Totals[0].Value)
	assert.Len(t, view.RowTotalHeaders, 2)
}

func TestBuildViewRowTreeMatchesFlatTotals(t *testing.T) {
	records := []domain.Record{
		{"region": "East", "city": "Boston", "v": 3},
		{"region": "East", "city": "NYC", "v": 4},
		{"region": "West", "city": "LA", "v": 5},
		{"region": "East", "city": "Boston", "v": 1},
	}
	view, err := BuildView(records, []string{"region", "city"}, nil, []domain.Metric{sumMetric()}, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.RowTree, 2)
	east := view.RowTree[0]
	assert.Equal(t, "East", east.Label)
	assert.Equal(t, "region", east.FieldKey)
	assert.Nil(t, east.ParentKey)
	assert.Equal(t, 8.0, east.Totals[0].Value)
	require.Len(t, east.Children, 2)

	childSum := 0.0
	for _, child := range east.Children {
		require.NotNil(t, child.ParentKey)
		assert.Equal(t, east.Key, *child.ParentKey)
		assert.Equal(t, 1, child.Depth)
		childSum += child.Totals[0].Value.(float64)
	}
	assert.Equal(t, east.Totals[0].Value, childSum)

	leafSum := 0.0
	for _, row := range view.Rows {
		leafSum += row.Totals[0].Value.(float64)
		require.Len(t, row.Levels, 2)
		assert.Equal(t, row.Key, row.Levels[1].PathKey)
	}
	assert.Equal(t, view.GrandTotals["m"].Value, leafSum)
	assert.Equal(t, "East / Boston", view.Rows[0].Label)
}

func TestBuildViewLevelsUseLabels(t *testing.T) {
	labels := NewLabels([]domain.FieldMeta{{Key: "region", Label: "Sales Region"}}, nil)
	view, err := BuildView(regionRecords(), []string{"region"}, nil, []domain.Metric{sumMetric()}, labels, nil)
	require.NoError(t, err)

	assert.Equal(t, "Sales Region", view.Rows[0].Levels[0].FieldLabel)
}

func TestBuildViewSortsRowsByMetric(t *testing.T) {
	records := []domain.Record{
		{"region": "A", "v": 1},
		{"region": "B", "v": 9},
		{"region": "C"},
		{"region": "D", "v": 4},
	}
	desc := domain.SortDirectionDesc
	asc := domain.SortDirectionAsc

	for _, direction := range []domain.SortDirection{desc, asc} {
		dir := direction
		spec := domain.SortSpec{"region": {MetricDirection: &dir}}
		view, err := BuildView(records, []string{"region"}, nil, []domain.Metric{sumMetric()}, nil, spec)
		require.NoError(t, err)

		labels := make([]string, len(view.Rows))
		for i, row := range view.Rows {
			labels[i] = row.Label
		}
		if dir == desc {
			assert.Equal(t, []string{"B", "D", "A", "C"}, labels)
		} else {
			assert.Equal(t, []string{"A", "D", "B", "C"}, labels)
		}
	}
}

func TestBuildViewSortsTreeLevelsIndependently(t *testing.T) {
	records := []domain.Record{
		{"region": "East", "city": "a", "v": 1},
		{"region": "East", "city": "b", "v": 5},
		{"region": "West", "city": "c", "v": 10},
	}
	desc := domain.SortDirectionDesc
	spec := domain.SortSpec{
		"region": {ValueDirection: &desc},
		"city":   {MetricDirection: &desc},
	}
	view, err := BuildView(records, []string{"region", "city"}, nil, []domain.Metric{sumMetric()}, nil, spec)
	require.NoError(t, err)

	require.Len(t, view.RowTree, 2)
	assert.Equal(t, "West", view.RowTree[0].Label)
	east := view.RowTree[1]
	assert.Equal(t, "b", east.Children[0].Label)
	assert.Equal(t, "a", east.Children[1].Label)

	assert.Equal(t, "West / c", view.Rows[0].Label)
	assert.Equal(t, "East / b", view.Rows[1].Label)
}

func TestBuildViewSortsColumnsByValue(t *testing.T) {
	records := []domain.Record{
		{"q": "Q10", "v": 1},
		{"q": "Q2", "v": 1},
		{"q": "q1", "v": 1},
	}
	asc := domain.SortDirectionAsc
	spec := domain.SortSpec{"q": {ValueDirection: &asc}}
	view, err := BuildView(records, nil, []string{"q"}, []domain.Metric{sumMetric()}, nil, spec)
	require.NoError(t, err)

	var labels []string
	for _, column := range view.Columns {
		labels = append(labels, column.Label)
	}
	assert.Equal(t, []string{"q1 (m)", "Q2 (m)", "Q10 (m)"}, labels)
}

func TestBuildViewSumWithoutNumericValuesIsZero(t *testing.T) {
	records := []domain.Record{
		{"region": "a", "v": "oops"},
		{"region": "b", "v": 2},
	}

	view, err := BuildView(records, []string{"region"}, nil, []domain.Metric{sumMetric()}, nil, nil)
	require.NoError(t, err)

	require.Len(t, view.Rows, 2)
	assert.Equal(t, 0.0, view.Rows[0].Cells[0].Value)
	assert.Equal(t, 0.0, view.Rows[0].Totals[0].Value)
	assert.Equal(t, "0", view.Rows[0].Totals[0].Display)
	assert.Equal(t, 2.0, view.GrandTotals["m"].Value)
}
