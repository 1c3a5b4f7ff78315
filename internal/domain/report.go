package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ReportDefinition is everything needed to build one view: where the
// records come from and how they are pivoted, derived and formatted.
type ReportDefinition struct {
	Name  string `json:"name" yaml:"name"`
	Title string `json:"title,omitempty" yaml:"title"`

	// DatasetID is shorthand for a pipeline with a single load node.
	DatasetID *uuid.UUID       `json:"datasetId,omitempty" yaml:"datasetId"`
	Filters   []PropertyFilter `json:"filters,omitempty" yaml:"filters" validate:"dive"`
	Pipeline  *Pipeline        `json:"pipeline,omitempty" yaml:"pipeline"`

	RowDimensions    []string                    `json:"rowDimensions" yaml:"rowDimensions"`
	ColumnDimensions []string                    `json:"columnDimensions" yaml:"columnDimensions"`
	Metrics          []Metric                    `json:"metrics" yaml:"metrics" validate:"required,min=1,dive"`
	Sort             SortSpec                    `json:"sort,omitempty" yaml:"sort"`
	Formatting       map[string]FormattingConfig `json:"formatting,omitempty" yaml:"formatting" validate:"dive"`
	Labels           map[string]string           `json:"labels,omitempty" yaml:"labels"`
}

// SourcePipeline returns the pipeline that produces the report's records.
// A bare DatasetID becomes a single load node carrying the filters.
func (d ReportDefinition) SourcePipeline() (Pipeline, bool) {
	if d.Pipeline != nil && len(d.Pipeline.Nodes) > 0 {
		return *d.Pipeline, true
	}
	if d.DatasetID == nil || *d.DatasetID == uuid.Nil {
		return Pipeline{}, false
	}
	return Pipeline{
		ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.DatasetID.String())),
		Name: d.Name,
		Nodes: []PipelineNode{{
			ID:   *d.DatasetID,
			Name: "load",
			Type: PipelineNodeLoad,
			Load: &PipelineLoadConfig{DatasetID: *d.DatasetID, Filters: d.Filters},
		}},
	}, true
}

// ReferencedFields lists the field keys read by dimensions and base metrics,
// without duplicates and in first-use order.
func (d ReportDefinition) ReferencedFields() []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(key string) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, key := range d.RowDimensions {
		add(key)
	}
	for _, key := range d.ColumnDimensions {
		add(key)
	}
	for _, metric := range BaseMetrics(d.Metrics) {
		add(metric.FieldKey)
	}
	return keys
}
