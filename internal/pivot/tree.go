package pivot

import (
	"github.com/rpattn/reportql/internal/domain"
)

// buildTree mirrors the row hierarchy. Each level is sorted on its own field
// and its cells are finalized from the buckets of that path prefix.
func (b *viewBuilder) buildTree(sorter *dimensionSorter, colLeaves []int) []*domain.RowNode {
	var build func(nodes []int, depth int) []*domain.RowNode
	build = func(nodes []int, depth int) []*domain.RowNode {
		ordered := sorter.sortSiblings(nodes, depth)
		result := make([]*domain.RowNode, 0, len(ordered))
		for _, idx := range ordered {
			level := b.rows.level(idx, b.labels)
			node := &domain.RowNode{
				Key:       level.PathKey,
				Label:     level.Value,
				FieldKey:  level.FieldKey,
				Depth:     level.Depth,
				ParentKey: level.ParentKey,
				Cells:     b.rowCells(idx, colLeaves),
				Totals:    b.rowTotalCells(idx),
			}
			if children := b.rows.nodes[idx].order; len(children) > 0 {
				node.Children = build(children, depth+1)
			}
			result = append(result, node)
		}
		return result
	}
	return build(b.rows.order, 0)
}
