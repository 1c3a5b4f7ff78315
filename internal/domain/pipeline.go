package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type PipelineNodeType string

const (
	PipelineNodeLoad     PipelineNodeType = "LOAD"
	PipelineNodeFilter   PipelineNodeType = "FILTER"
	PipelineNodeProject  PipelineNodeType = "PROJECT"
	PipelineNodeJoin     PipelineNodeType = "JOIN"
	PipelineNodeLeftJoin PipelineNodeType = "LEFT_JOIN"
	PipelineNodeAntiJoin PipelineNodeType = "ANTI_JOIN"
	PipelineNodeUnion    PipelineNodeType = "UNION"
	PipelineNodeSort     PipelineNodeType = "SORT"
	PipelineNodePaginate PipelineNodeType = "PAGINATE"
)

// Pipeline is a DAG of record transformations whose final node feeds the pivot.
type Pipeline struct {
	ID    uuid.UUID      `json:"id" yaml:"id"`
	Name  string         `json:"name" yaml:"name"`
	Nodes []PipelineNode `json:"nodes" yaml:"nodes" validate:"dive"`
}

type PipelineNode struct {
	ID     uuid.UUID        `json:"id" yaml:"id"`
	Name   string           `json:"name" yaml:"name"`
	Type   PipelineNodeType `json:"type" yaml:"type" validate:"required,oneof=LOAD FILTER PROJECT JOIN LEFT_JOIN ANTI_JOIN UNION SORT PAGINATE"`
	Inputs []uuid.UUID      `json:"inputs" yaml:"inputs"`

	Load     *PipelineLoadConfig     `json:"load,omitempty" yaml:"load"`
	Filter   *PipelineFilterConfig   `json:"filter,omitempty" yaml:"filter"`
	Project  *PipelineProjectConfig  `json:"project,omitempty" yaml:"project"`
	Join     *PipelineJoinConfig     `json:"join,omitempty" yaml:"join"`
	Sort     *PipelineSortConfig     `json:"sort,omitempty" yaml:"sort"`
	Paginate *PipelinePaginateConfig `json:"paginate,omitempty" yaml:"paginate"`
}

// PipelineLoadConfig reads a dataset. A non-empty Alias prefixes every field
// as "alias.field".
type PipelineLoadConfig struct {
	DatasetID uuid.UUID        `json:"datasetId" yaml:"datasetId"`
	Alias     string           `json:"alias,omitempty" yaml:"alias"`
	Filters   []PropertyFilter `json:"filters,omitempty" yaml:"filters"`
}

type PipelineFilterConfig struct {
	Filters []PropertyFilter `json:"filters,omitempty" yaml:"filters"`
}

type PipelineProjectConfig struct {
	Fields []string `json:"fields" yaml:"fields"`
}

// PipelineJoinConfig matches LeftField of the first input against RightField
// of the second. RightAlias prefixes the right-hand fields in the output.
type PipelineJoinConfig struct {
	LeftField  string `json:"leftField" yaml:"leftField"`
	RightField string `json:"rightField" yaml:"rightField"`
	RightAlias string `json:"rightAlias,omitempty" yaml:"rightAlias"`
}

type PipelineSortConfig struct {
	Field     string        `json:"field" yaml:"field"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

type PipelinePaginateConfig struct {
	Limit  *int `json:"limit,omitempty" yaml:"limit"`
	Offset *int `json:"offset,omitempty" yaml:"offset"`
}

func (p Pipeline) NodeByID(id uuid.UUID) (PipelineNode, bool) {
	for _, node := range p.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return PipelineNode{}, false
}

// TopologicallySortedNodes orders nodes so every input precedes its consumers.
func (p Pipeline) TopologicallySortedNodes() ([]PipelineNode, error) {
	indegree := make(map[uuid.UUID]int)
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for _, node := range p.Nodes {
		indegree[node.ID] = indegree[node.ID]
		for _, input := range node.Inputs {
			indegree[node.ID]++
			adjacency[input] = append(adjacency[input], node.ID)
		}
	}

	var queue []uuid.UUID
	for _, node := range p.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	var result []PipelineNode
	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]
		node, ok := p.NodeByID(currentID)
		if !ok {
			return nil, fmt.Errorf("node %s not found", currentID)
		}
		result = append(result, node)
		for _, next := range adjacency[currentID] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) != len(p.Nodes) {
		return nil, fmt.Errorf("pipeline graph contains cycles")
	}
	return result, nil
}

func PipelineNodesToJSON(nodes []PipelineNode) (json.RawMessage, error) {
	if nodes == nil {
		nodes = []PipelineNode{}
	}
	return json.Marshal(nodes)
}

// ProjectRecord keeps only the listed fields. An empty list keeps everything.
func ProjectRecord(record Record, fields []string) Record {
	if len(fields) == 0 {
		return record.Clone()
	}
	projected := make(Record, len(fields))
	for _, field := range fields {
		if value, ok := record[field]; ok {
			projected[field] = value
		}
	}
	return projected
}

// PrefixRecord renames every field to "alias.field".
func PrefixRecord(record Record, alias string) Record {
	if alias == "" {
		return record.Clone()
	}
	prefixed := make(Record, len(record))
	for key, value := range record {
		prefixed[alias+"."+key] = value
	}
	return prefixed
}

// SortRecords orders records by one field. Numeric values compare numerically,
// everything else compares as text; missing values sort last.
func SortRecords(records []Record, field string, direction SortDirection) {
	sign := direction.Sign()
	sort.SliceStable(records, func(i, j int) bool {
		left, leftOK := records[i][field]
		right, rightOK := records[j][field]
		if !leftOK || left == nil {
			return false
		}
		if !rightOK || right == nil {
			return true
		}
		lf, lnum := sortableFloat(left)
		rf, rnum := sortableFloat(right)
		if lnum && rnum {
			if lf == rf {
				return false
			}
			return (lf < rf) == (sign > 0)
		}
		leftValue := fmt.Sprintf("%v", left)
		rightValue := fmt.Sprintf("%v", right)
		if leftValue == rightValue {
			return false
		}
		return (leftValue < rightValue) == (sign > 0)
	})
}

func sortableFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func PaginateRecords(records []Record, limit, offset int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []Record{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
