package formula

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

func regionView(t *testing.T, metrics []domain.Metric, colDims []string) domain.View {
	t.Helper()
	records := []domain.Record{
		{"region": "A", "year": "2023", "v": 10},
		{"region": "A", "year": "2024", "v": 5},
		{"region": "B", "year": "2023", "v": 7},
	}
	view, err := pivot.BuildView(records, []string{"region"}, colDims, metrics, nil, nil)
	require.NoError(t, err)
	return view
}

func TestApplyFormulasScalesSum(t *testing.T) {
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "pct", Kind: domain.MetricKindFormula, Expression: "{{m}} * 100"},
	}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)
	require.Empty(t, warnings)

	require.Len(t, view.Columns, 2)
	assert.Equal(t, "pct", view.Columns[1].Key)
	assert.Equal(t, 2200.0, view.Columns[1].Value)

	var derived []any
	for _, row := range view.Rows {
		require.Len(t, row.Cells, 2)
		derived = append(derived, row.Cells[1].Value)
		assert.Equal(t, row.Cells[0].Value.(float64)*100, row.Totals[1].Value)
	}
	assert.Equal(t, []any{1500.0, 700.0}, derived)
	assert.Equal(t, 2200.0, view.GrandTotals["pct"].Value)
	assert.Equal(t, "2,200", view.GrandTotals["pct"].Display)

	require.Len(t, view.RowTotalHeaders, 2)
	assert.Equal(t, "pct", view.RowTotalHeaders[1].MetricID)

	assert.Len(t, base.Columns, 1, "input view must not change")
	assert.Len(t, base.Rows[0].Cells, 1)
}

func TestApplyFormulasFollowsDeclaredOrder(t *testing.T) {
	metrics := []domain.Metric{
		{ID: "double", Kind: domain.MetricKindFormula, Expression: "{{m}} * 2"},
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "n", Aggregator: domain.AggregatorCount},
	}
	base := regionView(t, metrics, []string{"year"})

	view, warnings := ApplyFormulas(base, metrics)
	require.Empty(t, warnings)

	var ids []string
	for _, column := range view.Columns {
		ids = append(ids, column.MetricID)
	}
	assert.Equal(t, []string{"double", "m", "n", "double", "m", "n"}, ids)

	rowA := view.Rows[0]
	require.Len(t, rowA.Cells, 6)
	for i, column := range view.Columns {
		assert.Equal(t, column.Key, rowA.Cells[i].Key)
	}
	assert.Equal(t, 20.0, rowA.Cells[0].Value)
	assert.Equal(t, 10.0, rowA.Cells[1].Value)
	assert.Equal(t, 10.0, rowA.Cells[3].Value)
	assert.Equal(t, 5.0, rowA.Cells[4].Value)

	rowB := view.Rows[1]
	assert.Nil(t, rowB.Cells[3].Value, "missing base cell stays null")
	assert.Equal(t, pivot.NullDisplay, rowB.Cells[3].Display)
}

func TestApplyFormulasAbsorbsFailures(t *testing.T) {
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "broken", Kind: domain.MetricKindFormula, Expression: "{{m}} *"},
		{ID: "ratio", Kind: domain.MetricKindFormula, Expression: "100 / ({{m}} - 7)"},
		{ID: "ok", Kind: domain.MetricKindFormula, Expression: "{{m}} + 1"},
	}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)

	rowB := view.Rows[1]
	assert.Nil(t, rowB.Cells[1].Value)
	assert.Nil(t, rowB.Cells[2].Value)
	assert.Equal(t, pivot.NullDisplay, rowB.Cells[2].Display)
	assert.Equal(t, 8.0, rowB.Cells[3].Value)

	rowA := view.Rows[0]
	assert.InDelta(t, 12.5, rowA.Cells[2].Value, 1e-9)

	var compileFailures, evalFailures int
	for _, warning := range warnings {
		switch {
		case errors.Is(warning, ErrCompile):
			compileFailures++
			assert.Equal(t, "broken", warning.MetricID)
		case errors.Is(warning, ErrEvaluate):
			evalFailures++
			assert.Equal(t, "ratio", warning.MetricID)
		}
	}
	assert.Equal(t, 1, compileFailures)
	assert.Equal(t, 2, evalFailures, "row B cell and row B total")
}

func TestApplyFormulasChainsAndDetectsCycles(t *testing.T) {
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "b", Kind: domain.MetricKindFormula, Expression: "{{a}} + 1"},
		{ID: "a", Kind: domain.MetricKindFormula, Expression: "{{m}} * 2"},
		{ID: "x", Kind: domain.MetricKindFormula, Expression: "{{y}}"},
		{ID: "y", Kind: domain.MetricKindFormula, Expression: "{{x}}"},
	}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)
	assert.Equal(t, 45.0, view.GrandTotals["b"].Value)
	assert.Nil(t, view.GrandTotals["x"].Value)
	require.Len(t, warnings, 2)
}

func TestApplyFormulasFormatsOutput(t *testing.T) {
	two := 2
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "share", Kind: domain.MetricKindFormula, Expression: "{{m}} / 22", Format: domain.OutputFormatPercent, Precision: &two},
		{ID: "label", Kind: domain.MetricKindFormula, Expression: "{{m}}", Format: domain.OutputFormatText},
	}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)
	require.Empty(t, warnings)
	assert.Equal(t, 1.0, view.GrandTotals["share"].Value)
	assert.Equal(t, "100.00%", view.GrandTotals["share"].Display)
	assert.Equal(t, "22", view.GrandTotals["label"].Value)
}

func TestApplyFormulasUpdatesTree(t *testing.T) {
	records := []domain.Record{
		{"region": "East", "city": "a", "v": 1},
		{"region": "East", "city": "b", "v": 2},
	}
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "neg", Kind: domain.MetricKindFormula, Expression: "-{{m}}"},
	}
	base, err := pivot.BuildView(records, []string{"region", "city"}, nil, metrics, nil, nil)
	require.NoError(t, err)

	view, warnings := ApplyFormulas(base, metrics)
	require.Empty(t, warnings)
	require.Len(t, view.RowTree, 1)
	east := view.RowTree[0]
	assert.Equal(t, -3.0, east.Cells[1].Value)
	assert.Equal(t, -3.0, east.Totals[1].Value)
	assert.Equal(t, -1.0, east.Children[0].Cells[1].Value)
	assert.Len(t, base.RowTree[0].Cells, 1)
}

func TestApplyFormulasWithoutFormulasReturnsCopy(t *testing.T) {
	metrics := []domain.Metric{{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum}}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)
	assert.Nil(t, warnings)
	assert.Equal(t, base, view)
}

func TestApplyFormulasNonFiniteFunctionResultIsNull(t *testing.T) {
	huge := 400
	metrics := []domain.Metric{
		{ID: "m", FieldKey: "v", Aggregator: domain.AggregatorSum},
		{ID: "rounded", Kind: domain.MetricKindFormula, Expression: "round({{m}}, 400)"},
		{ID: "precise", Kind: domain.MetricKindFormula, Expression: "{{m}} / 3", Format: domain.OutputFormatNumber, Precision: &huge},
	}
	base := regionView(t, metrics, nil)

	view, warnings := ApplyFormulas(base, metrics)

	for _, row := range view.Rows {
		assert.Nil(t, row.Cells[1].Value)
		assert.Equal(t, pivot.NullDisplay, row.Cells[1].Display)
		assert.Nil(t, row.Cells[2].Value)
	}
	assert.Nil(t, view.GrandTotals["rounded"].Value)
	assert.Equal(t, pivot.NullDisplay, view.GrandTotals["rounded"].Display)
	assert.Nil(t, view.GrandTotals["precise"].Value)

	require.NotEmpty(t, warnings)
	seen := map[string]bool{}
	for _, warning := range warnings {
		assert.True(t, errors.Is(warning, ErrEvaluate))
		seen[warning.MetricID] = true
	}
	assert.Equal(t, map[string]bool{"rounded": true, "precise": true}, seen)

	_, err := json.Marshal(view)
	require.NoError(t, err)
}
