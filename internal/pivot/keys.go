package pivot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/domain"
)

const (
	// AllRecordsKey is the path key of the single bucket produced by an empty dimension.
	AllRecordsKey   = "__all__"
	AllRecordsLabel = "All records"
	EmptyValueLabel = "(empty)"

	pathSeparator = '|'
	pairSeparator = ':'
	escapeChar    = '\\'

	dateLayout = "2006-01-02"
)

// DimensionKey is the resolved position of one record along a dimension.
type DimensionKey struct {
	Key    string
	Label  string
	Levels []domain.DimensionLevel
}

// PathSegment is one decoded fieldKey:value pair of a path key.
type PathSegment struct {
	FieldKey string
	Value    string
}

// BuildDimensionKey resolves the path key, label and per-level metadata of a
// record along the given dimension fields.
func BuildDimensionKey(record domain.Record, fields []string, labels *Labels) DimensionKey {
	if len(fields) == 0 {
		return DimensionKey{Key: AllRecordsKey, Label: AllRecordsLabel, Levels: []domain.DimensionLevel{}}
	}

	levels := make([]domain.DimensionLevel, 0, len(fields))
	values := make([]string, 0, len(fields))
	parent := ""
	for depth, field := range fields {
		value := DisplayValue(record[field])
		pathKey := JoinPathKey(parent, field, value)
		level := domain.DimensionLevel{
			FieldKey:   field,
			FieldLabel: labels.Resolve(field),
			Value:      value,
			Depth:      depth,
			PathKey:    pathKey,
		}
		if depth > 0 {
			parentKey := parent
			level.ParentKey = &parentKey
		}
		levels = append(levels, level)
		values = append(values, value)
		parent = pathKey
	}

	return DimensionKey{Key: parent, Label: strings.Join(values, " / "), Levels: levels}
}

// JoinPathKey appends a fieldKey:value segment to a parent path key.
func JoinPathKey(parent, fieldKey, value string) string {
	segment := escapePathPart(fieldKey) + string(pairSeparator) + escapePathPart(value)
	if parent == "" {
		return segment
	}
	return parent + string(pathSeparator) + segment
}

// ParsePathKey decodes a path key produced by JoinPathKey. It reports false
// for keys that are not delimiter-joined fieldKey:value segments.
func ParsePathKey(key string) ([]PathSegment, bool) {
	if key == "" || key == AllRecordsKey {
		return nil, false
	}

	var (
		segments []PathSegment
		current  strings.Builder
		field    string
		hasField bool
		escaped  bool
	)
	flush := func() bool {
		if !hasField {
			return false
		}
		segments = append(segments, PathSegment{FieldKey: field, Value: current.String()})
		current.Reset()
		field = ""
		hasField = false
		return true
	}

	for _, r := range key {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == escapeChar:
			escaped = true
		case r == pairSeparator && !hasField:
			field = current.String()
			hasField = true
			current.Reset()
		case r == pathSeparator:
			if !flush() {
				return nil, false
			}
		default:
			current.WriteRune(r)
		}
	}
	if escaped || !flush() {
		return nil, false
	}
	return segments, true
}

// PathKeyFromSegments re-encodes decoded segments, one key per prefix depth.
func PathKeyFromSegments(segments []PathSegment) []string {
	keys := make([]string, len(segments))
	parent := ""
	for i, segment := range segments {
		parent = JoinPathKey(parent, segment.FieldKey, segment.Value)
		keys[i] = parent
	}
	return keys
}

func escapePathPart(s string) string {
	if !strings.ContainsAny(s, `\|:`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == escapeChar || r == pathSeparator || r == pairSeparator {
			b.WriteRune(escapeChar)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DisplayValue renders a raw record value as a dimension member label.
func DisplayValue(value any) string {
	switch v := value.(type) {
	case nil:
		return EmptyValueLabel
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return EmptyValueLabel
		}
		return trimmed
	case *string:
		if v == nil {
			return EmptyValueLabel
		}
		return DisplayValue(*v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case json.Number:
		return v.String()
	case time.Time:
		return v.Format(dateLayout)
	case *time.Time:
		if v == nil {
			return EmptyValueLabel
		}
		return v.Format(dateLayout)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return EmptyValueLabel
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// levelNode is one distinct path prefix. Nodes are addressed by index and
// point at their parent; children are found through the value trie.
type levelNode struct {
	parent   int
	depth    int
	fieldKey string
	value    string
	pathKey  string
	children map[string]int
	order    []int
}

// levelArena indexes the distinct paths of one dimension in first-seen order.
type levelArena struct {
	fields []string
	nodes  []levelNode
	roots  map[string]int
	order  []int
	leaves []int
}

func newLevelArena(fields []string) *levelArena {
	arena := &levelArena{fields: fields, roots: make(map[string]int)}
	if len(fields) == 0 {
		arena.nodes = append(arena.nodes, levelNode{
			parent:  -1,
			value:   AllRecordsLabel,
			pathKey: AllRecordsKey,
		})
		arena.order = []int{0}
		arena.leaves = []int{0}
	}
	return arena
}

// valuesOf extracts the display value of each dimension field.
func (a *levelArena) valuesOf(record domain.Record) []string {
	values := make([]string, len(a.fields))
	for i, field := range a.fields {
		values[i] = DisplayValue(record[field])
	}
	return values
}

// insert walks the trie along values and returns the leaf node index.
func (a *levelArena) insert(values []string) int {
	if len(a.fields) == 0 {
		return 0
	}
	current := -1
	for depth, value := range values {
		var siblings map[string]int
		if current < 0 {
			siblings = a.roots
		} else {
			siblings = a.nodes[current].children
		}
		if idx, ok := siblings[value]; ok {
			current = idx
			continue
		}

		parentKey := ""
		if current >= 0 {
			parentKey = a.nodes[current].pathKey
		}
		idx := len(a.nodes)
		a.nodes = append(a.nodes, levelNode{
			parent:   current,
			depth:    depth,
			fieldKey: a.fields[depth],
			value:    value,
			pathKey:  JoinPathKey(parentKey, a.fields[depth], value),
			children: make(map[string]int),
		})
		siblings[value] = idx
		if current < 0 {
			a.order = append(a.order, idx)
		} else {
			a.nodes[current].order = append(a.nodes[current].order, idx)
		}
		if depth == len(a.fields)-1 {
			a.leaves = append(a.leaves, idx)
		}
		current = idx
	}
	return current
}

// path returns the node indexes from the root down to idx.
func (a *levelArena) path(idx int) []int {
	depth := a.nodes[idx].depth
	path := make([]int, depth+1)
	for cur := idx; cur >= 0; cur = a.nodes[cur].parent {
		path[a.nodes[cur].depth] = cur
	}
	return path
}

func (a *levelArena) isLeaf(idx int) bool {
	return len(a.fields) == 0 || a.nodes[idx].depth == len(a.fields)-1
}

func (a *levelArena) label(idx int) string {
	if len(a.fields) == 0 {
		return AllRecordsLabel
	}
	path := a.path(idx)
	values := make([]string, len(path))
	for i, node := range path {
		values[i] = a.nodes[node].value
	}
	return strings.Join(values, " / ")
}

func (a *levelArena) levels(idx int, labels *Labels) []domain.DimensionLevel {
	if len(a.fields) == 0 {
		return []domain.DimensionLevel{}
	}
	path := a.path(idx)
	levels := make([]domain.DimensionLevel, len(path))
	for i, nodeIdx := range path {
		levels[i] = a.level(nodeIdx, labels)
	}
	return levels
}

func (a *levelArena) level(idx int, labels *Labels) domain.DimensionLevel {
	node := a.nodes[idx]
	level := domain.DimensionLevel{
		FieldKey:   node.fieldKey,
		FieldLabel: labels.Resolve(node.fieldKey),
		Value:      node.value,
		Depth:      node.depth,
		PathKey:    node.pathKey,
	}
	if node.parent >= 0 {
		parentKey := a.nodes[node.parent].pathKey
		level.ParentKey = &parentKey
	}
	return level
}
