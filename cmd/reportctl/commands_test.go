package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/reportql/internal/report"
)

const definitionYAML = `
name: sales
title: Sales by region
rowDimensions: [region]
columnDimensions: [year]
metrics:
  - id: amount
    label: Amount
    fieldKey: amount
    aggregator: sum
  - id: doubled
    label: Doubled
    kind: formula
    expression: "{{amount}} * 2"
formatting:
  amount:
    type: colorScale
`

const salesCSV = `region,year,amount
EU,2023,10
EU,2024,15
US,2023,7
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildPrintsViewJSON(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "sales.yaml", definitionYAML)
	data := writeFile(t, dir, "sales.csv", salesCSV)

	output, err := execute(t, "build", "--definition", def, "--data", data)
	require.NoError(t, err)

	var result report.Result
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	require.Len(t, result.View.Rows, 2)
	// Two years times two metrics.
	require.Len(t, result.View.Columns, 4)
	assert.Equal(t, 3, result.RecordCount)
	assert.Equal(t, 32.0, result.View.GrandTotals["amount"].Value)
	assert.Equal(t, 64.0, result.View.GrandTotals["doubled"].Value)
}

func TestBuildWritesCSV(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "sales.yaml", definitionYAML)
	data := writeFile(t, dir, "sales.json", `[{"region":"EU","year":"2023","amount":10},{"region":"US","year":"2023","amount":7}]`)
	out := filepath.Join(dir, "out.csv")

	_, err := execute(t, "build", "-d", def, "--data", data, "-f", "csv", "-o", out)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Region", records[0][0])
	assert.Equal(t, "Total", records[3][0])
}

func TestBuildRequiresFlags(t *testing.T) {
	_, err := execute(t, "build")
	assert.Error(t, err)
}

func TestValidateReportsFormulaErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", definitionYAML)
	bad := writeFile(t, dir, "bad.yaml", `
metrics:
  - id: broken
    kind: formula
    expression: "{{amount}} *"
`)

	output, err := execute(t, "validate", "-d", good)
	require.NoError(t, err)
	assert.Contains(t, output, "ok (2 metrics)")

	output, err = execute(t, "validate", "-d", bad)
	require.Error(t, err)
	assert.Contains(t, output, "metric broken")
}
