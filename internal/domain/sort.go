package domain

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// Sign returns 1 for ascending and -1 for descending.
func (d SortDirection) Sign() int {
	if d == SortDirectionDesc {
		return -1
	}
	return 1
}

// FieldSort captures ordering preferences for one dimension field. Metric
// ordering wins over value ordering when both are set.
type FieldSort struct {
	ValueDirection  *SortDirection `json:"valueDirection,omitempty" yaml:"valueDirection"`
	MetricDirection *SortDirection `json:"metricDirection,omitempty" yaml:"metricDirection"`
	MetricID        string         `json:"metricId,omitempty" yaml:"metricId"`
}

// SortSpec maps a dimension field key to its ordering preferences.
type SortSpec map[string]FieldSort
