package domain

// Aggregator names a reduction over the values of a bucket.
type Aggregator string

const (
	AggregatorSum   Aggregator = "sum"
	AggregatorAvg   Aggregator = "avg"
	AggregatorCount Aggregator = "count"
	AggregatorValue Aggregator = "value"
)

// Valid reports whether the aggregator is one the engine understands.
func (a Aggregator) Valid() bool {
	switch a {
	case AggregatorSum, AggregatorAvg, AggregatorCount, AggregatorValue:
		return true
	}
	return false
}

type MetricKind string

const (
	MetricKindBase    MetricKind = "base"
	MetricKindFormula MetricKind = "formula"
)

// OutputFormat controls how formula results are coerced and displayed.
type OutputFormat string

const (
	OutputFormatNumber   OutputFormat = "number"
	OutputFormatText     OutputFormat = "text"
	OutputFormatPercent  OutputFormat = "percent"
	OutputFormatCurrency OutputFormat = "currency"
	OutputFormatDate     OutputFormat = "date"
	OutputFormatAuto     OutputFormat = "auto"
)

// Metric describes a measure shown in the pivot. Base metrics aggregate a
// source field; formula metrics derive from other metrics at each position.
type Metric struct {
	ID         string       `json:"id" yaml:"id" validate:"required"`
	Label      string       `json:"label,omitempty" yaml:"label"`
	Kind       MetricKind   `json:"kind" yaml:"kind" validate:"omitempty,oneof=base formula"`
	FieldKey   string       `json:"fieldKey,omitempty" yaml:"fieldKey"`
	Aggregator Aggregator   `json:"aggregator,omitempty" yaml:"aggregator" validate:"omitempty,oneof=sum avg count value"`
	Expression string       `json:"expression,omitempty" yaml:"expression"`
	Format     OutputFormat `json:"format,omitempty" yaml:"format" validate:"omitempty,oneof=number text percent currency date auto"`
	Precision  *int         `json:"precision,omitempty" yaml:"precision" validate:"omitempty,min=0,max=10"`
	Currency   string       `json:"currency,omitempty" yaml:"currency"`
	Disabled   bool         `json:"disabled,omitempty" yaml:"disabled"`
	RemoteID   *int64       `json:"remoteId,omitempty" yaml:"remoteId"`
}

// Enabled reports whether the metric takes part in view construction.
func (m Metric) Enabled() bool {
	return !m.Disabled
}

// IsFormula reports whether the metric is derived from an expression.
func (m Metric) IsFormula() bool {
	return m.Kind == MetricKindFormula
}

// DisplayLabel falls back to the metric id when no label is configured.
func (m Metric) DisplayLabel() string {
	if m.Label != "" {
		return m.Label
	}
	return m.ID
}

// EnabledMetrics filters out disabled metrics, keeping declaration order.
func EnabledMetrics(metrics []Metric) []Metric {
	enabled := make([]Metric, 0, len(metrics))
	for _, metric := range metrics {
		if metric.Enabled() {
			enabled = append(enabled, metric)
		}
	}
	return enabled
}

// BaseMetrics returns enabled non-formula metrics in declaration order.
func BaseMetrics(metrics []Metric) []Metric {
	base := make([]Metric, 0, len(metrics))
	for _, metric := range metrics {
		if metric.Enabled() && !metric.IsFormula() {
			base = append(base, metric)
		}
	}
	return base
}
