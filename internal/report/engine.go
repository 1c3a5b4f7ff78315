// Package report runs the aggregate, formula and format stages over record
// sets and exposes them to the HTTP server and the CLI.
package report

import (
	"fmt"
	"sort"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/formatting"
	"github.com/rpattn/reportql/internal/formula"
	"github.com/rpattn/reportql/internal/pivot"
	"github.com/rpattn/reportql/pkg/validator"
)

// Result is a built view plus the formula failures absorbed while building it.
type Result struct {
	View        domain.View `json:"view"`
	Warnings    []string    `json:"warnings"`
	RecordCount int         `json:"recordCount"`
}

// Build runs Aggregate, Formula and Format over records. Only a value
// aggregation collision fails the build.
func Build(records []domain.Record, fields []domain.FieldMeta, def domain.ReportDefinition) (Result, error) {
	labels := pivot.NewLabels(fields, def.Labels)
	view, err := pivot.BuildView(records, def.RowDimensions, def.ColumnDimensions, def.Metrics, labels, def.Sort)
	if err != nil {
		return Result{}, err
	}

	view, warnings := formula.ApplyFormulas(view, def.Metrics)
	view = formatting.Apply(view, def.Formatting)

	result := Result{View: view, Warnings: make([]string, 0, len(warnings)), RecordCount: len(records)}
	for _, warning := range warnings {
		result.Warnings = append(result.Warnings, warning.Error())
	}
	return result, nil
}

// ValidateRecords checks records against field metadata. Type errors are
// returned as errors; unknown fields only produce warnings.
func ValidateRecords(records []domain.Record, fields []domain.FieldMeta) (warnings []string, err error) {
	if len(fields) == 0 {
		return nil, nil
	}
	definitions := validator.DefinitionsFromFields(fields)

	rv := validator.NewRecordValidator()
	seen := make(map[string]struct{})
	for idx, record := range records {
		result := rv.ValidateRecord(record, definitions)
		if !result.IsValid {
			first := result.Errors[0]
			return nil, fmt.Errorf("record %d: %s: %s", idx, first.Field, first.Message)
		}
		for _, warning := range result.Warnings {
			if _, ok := seen[warning.Field]; ok {
				continue
			}
			seen[warning.Field] = struct{}{}
			warnings = append(warnings, fmt.Sprintf("%s: %s", warning.Field, warning.Message))
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}
