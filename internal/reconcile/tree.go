package reconcile

import (
	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

// tree copies a supplied row tree, permuting node cells like flat rows.
func (r *reconciler) tree(nodes []*domain.RowNode) []*domain.RowNode {
	result := make([]*domain.RowNode, len(nodes))
	for i, node := range nodes {
		copyNode := *node
		copyNode.Cells = r.cells(node.Cells)
		copyNode.Totals = r.totals(node.Totals)
		if len(node.Children) > 0 {
			copyNode.Children = r.tree(node.Children)
		}
		result[i] = &copyNode
	}
	return result
}

// synthesizeTree rebuilds the hierarchy from path-encoded row keys. It
// returns nil unless at least one row key has more than one segment.
// Intermediate nodes without a matching row get empty cells.
func (r *reconciler) synthesizeTree(rows []domain.Row) []*domain.RowNode {
	parsed := make([][]pivot.PathSegment, len(rows))
	hierarchical := false
	for i, row := range rows {
		segments, ok := pivot.ParsePathKey(row.Key)
		if !ok {
			continue
		}
		parsed[i] = segments
		if len(segments) > 1 {
			hierarchical = true
		}
	}
	if !hierarchical {
		return nil
	}

	nodes := make(map[string]*domain.RowNode)
	var roots []*domain.RowNode
	for i, row := range rows {
		segments := parsed[i]
		if segments == nil {
			continue
		}
		keys := pivot.PathKeyFromSegments(segments)
		var parent *domain.RowNode
		for depth, key := range keys {
			node, exists := nodes[key]
			if !exists {
				node = &domain.RowNode{
					Key:      key,
					Label:    segments[depth].Value,
					FieldKey: segments[depth].FieldKey,
					Depth:    depth,
					Cells:    r.emptyCells(),
					Totals:   r.emptyTotals(),
				}
				if parent != nil {
					parentKey := parent.Key
					node.ParentKey = &parentKey
					parent.Children = append(parent.Children, node)
				} else {
					roots = append(roots, node)
				}
				nodes[key] = node
			}
			if depth == len(keys)-1 {
				node.Cells = append([]domain.Cell(nil), row.Cells...)
				if row.Totals != nil {
					node.Totals = append([]domain.Cell(nil), row.Totals...)
				}
			}
			parent = node
		}
	}
	return roots
}

func (r *reconciler) emptyCells() []domain.Cell {
	cells := make([]domain.Cell, len(r.columns))
	for i, column := range r.columns {
		cells[i] = domain.Cell{Key: column.Key, Display: pivot.NullDisplay}
	}
	return cells
}

func (r *reconciler) emptyTotals() []domain.Cell {
	totals := make([]domain.Cell, len(r.headers))
	for i, metric := range r.headers {
		totals[i] = domain.Cell{Key: metric.ID, Display: pivot.NullDisplay}
	}
	return totals
}

// levelsFromKey derives dimension levels from a path-encoded row key.
func levelsFromKey(key string) []domain.DimensionLevel {
	segments, ok := pivot.ParsePathKey(key)
	if !ok {
		return nil
	}
	keys := pivot.PathKeyFromSegments(segments)
	levels := make([]domain.DimensionLevel, len(segments))
	for i, segment := range segments {
		levels[i] = domain.DimensionLevel{
			FieldKey:   segment.FieldKey,
			FieldLabel: pivot.Humanize(segment.FieldKey),
			Value:      segment.Value,
			Depth:      i,
			PathKey:    keys[i],
		}
		if i > 0 {
			parentKey := keys[i-1]
			levels[i].ParentKey = &parentKey
		}
	}
	return levels
}
