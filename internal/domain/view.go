package domain

// DimensionLevel is one step along a dimension path.
type DimensionLevel struct {
	FieldKey   string  `json:"fieldKey"`
	FieldLabel string  `json:"fieldLabel"`
	Value      string  `json:"value"`
	Depth      int     `json:"depth"`
	PathKey    string  `json:"pathKey"`
	ParentKey  *string `json:"parentKey"`
}

// Cell is a single rendered value. Value is nil, float64 or string.
type Cell struct {
	Key        string                `json:"key"`
	Value      any                   `json:"value"`
	Display    string                `json:"display"`
	Formatting *FormattingDescriptor `json:"formatting,omitempty"`
}

type Row struct {
	Key    string           `json:"key"`
	Label  string           `json:"label"`
	Cells  []Cell           `json:"cells"`
	Totals []Cell           `json:"totals"`
	Levels []DimensionLevel `json:"levels"`
}

// Column is one (column path, metric) pair. Value holds the column total.
type Column struct {
	Key          string     `json:"key"`
	BaseKey      string     `json:"baseKey"`
	MetricID     string     `json:"metricId"`
	Label        string     `json:"label"`
	Aggregator   Aggregator `json:"aggregator,omitempty"`
	TotalDisplay string     `json:"totalDisplay"`
	Value        any        `json:"value"`
}

// RowNode mirrors a row path prefix in the row hierarchy.
type RowNode struct {
	Key       string     `json:"key"`
	Label     string     `json:"label"`
	FieldKey  string     `json:"fieldKey"`
	Depth     int        `json:"depth"`
	ParentKey *string    `json:"parentKey"`
	Cells     []Cell     `json:"cells"`
	Totals    []Cell     `json:"totals"`
	Children  []*RowNode `json:"children,omitempty"`
}

type TotalHeader struct {
	MetricID string `json:"metricId"`
	Label    string `json:"label"`
}

type GrandTotal struct {
	Value   any    `json:"value"`
	Display string `json:"display"`
}

// View is the engine output consumed by rendering and export.
type View struct {
	Rows            []Row                 `json:"rows"`
	Columns         []Column              `json:"columns"`
	RowTree         []*RowNode            `json:"rowTree"`
	RowTotalHeaders []TotalHeader         `json:"rowTotalHeaders"`
	GrandTotals     map[string]GrandTotal `json:"grandTotals"`
}

// Clone deep-copies the view so later stages never share cells with earlier ones.
func (v View) Clone() View {
	cloned := View{
		Rows:            make([]Row, len(v.Rows)),
		Columns:         cloneSlice(v.Columns),
		RowTotalHeaders: cloneSlice(v.RowTotalHeaders),
	}
	for i, row := range v.Rows {
		cloned.Rows[i] = Row{
			Key:    row.Key,
			Label:  row.Label,
			Cells:  cloneCells(row.Cells),
			Totals: cloneCells(row.Totals),
			Levels: cloneSlice(row.Levels),
		}
	}
	if v.RowTree != nil {
		cloned.RowTree = cloneNodes(v.RowTree)
	}
	if v.GrandTotals != nil {
		cloned.GrandTotals = make(map[string]GrandTotal, len(v.GrandTotals))
		for k, total := range v.GrandTotals {
			cloned.GrandTotals[k] = total
		}
	}
	return cloned
}

// MetricIndex maps metric id to its position in RowTotalHeaders.
func (v View) MetricIndex() map[string]int {
	index := make(map[string]int, len(v.RowTotalHeaders))
	for i, header := range v.RowTotalHeaders {
		index[header.MetricID] = i
	}
	return index
}

// WalkTree visits every tree node depth-first, parents before children.
func (v View) WalkTree(fn func(node *RowNode)) {
	var walk func(nodes []*RowNode)
	walk = func(nodes []*RowNode) {
		for _, node := range nodes {
			fn(node)
			walk(node.Children)
		}
	}
	walk(v.RowTree)
}

func cloneSlice[T any](items []T) []T {
	if items == nil {
		return nil
	}
	cloned := make([]T, len(items))
	copy(cloned, items)
	return cloned
}

func cloneCells(cells []Cell) []Cell {
	if cells == nil {
		return nil
	}
	cloned := make([]Cell, len(cells))
	for i, cell := range cells {
		cloned[i] = cell
		if cell.Formatting != nil {
			descriptor := cell.Formatting.Clone()
			cloned[i].Formatting = &descriptor
		}
	}
	return cloned
}

func cloneNodes(nodes []*RowNode) []*RowNode {
	cloned := make([]*RowNode, len(nodes))
	for i, node := range nodes {
		copyNode := *node
		copyNode.Cells = cloneCells(node.Cells)
		copyNode.Totals = cloneCells(node.Totals)
		if node.Children != nil {
			copyNode.Children = cloneNodes(node.Children)
		}
		cloned[i] = &copyNode
	}
	return cloned
}
