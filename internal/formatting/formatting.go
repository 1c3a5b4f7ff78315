// Package formatting decorates view cells with conditional formatting
// descriptors derived from each metric's value distribution.
package formatting

import (
	"math"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

const DefaultBarColor = "#638ec6"

// Stats summarizes the numeric cell values of one metric.
type Stats struct {
	Min   float64
	Max   float64
	Avg   float64
	Count int
}

// Scale is the resolved [Min, Max] range used to normalize values.
type Scale struct {
	Min float64
	Max float64
}

// Ratio normalizes v into [0, 1]. A degenerate range maps every value to 1.
func (s Scale) Ratio(v float64) float64 {
	if s.Max == s.Min {
		return 1
	}
	return clamp((v-s.Min)/(s.Max-s.Min), 0, 1)
}

// At maps a fraction of the range back to an absolute value.
func (s Scale) At(fraction float64) float64 {
	return s.Min + fraction*(s.Max-s.Min)
}

// Apply returns a copy of view whose flat-row and tree cells carry
// formatting descriptors for every configured metric.
func Apply(view domain.View, configs map[string]domain.FormattingConfig) domain.View {
	result := view.Clone()
	if len(configs) == 0 {
		return result
	}

	for metricID, cfg := range configs {
		if cfg.Type == "" || cfg.Type == domain.FormattingNone {
			continue
		}
		columns := metricColumns(result.Columns, metricID)
		if len(columns) == 0 {
			continue
		}
		stats, ok := CollectStats(result, metricID)
		if !ok {
			continue
		}
		scale := ResolveScale(cfg.Scale, stats)
		decorate := func(cells []domain.Cell) {
			for _, idx := range columns {
				if idx >= len(cells) {
					continue
				}
				value, ok := pivot.ToFloat(cells[idx].Value)
				if !ok {
					continue
				}
				descriptor := Describe(cfg, scale, value)
				cells[idx].Formatting = &descriptor
			}
		}
		for i := range result.Rows {
			decorate(result.Rows[i].Cells)
		}
		result.WalkTree(func(node *domain.RowNode) {
			decorate(node.Cells)
		})
	}
	return result
}

// CollectStats scans the flat row cells of a metric once.
func CollectStats(view domain.View, metricID string) (Stats, bool) {
	columns := metricColumns(view.Columns, metricID)
	stats := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, row := range view.Rows {
		for _, idx := range columns {
			if idx >= len(row.Cells) {
				continue
			}
			value, ok := pivot.ToFloat(row.Cells[idx].Value)
			if !ok {
				continue
			}
			stats.Min = math.Min(stats.Min, value)
			stats.Max = math.Max(stats.Max, value)
			sum += value
			stats.Count++
		}
	}
	if stats.Count == 0 {
		return Stats{}, false
	}
	stats.Avg = sum / float64(stats.Count)
	return stats, true
}

// ResolveScale picks observed bounds in relative mode and configured bounds,
// falling back to observed ones, in absolute mode.
func ResolveScale(cfg domain.ScaleConfig, stats Stats) Scale {
	scale := Scale{Min: stats.Min, Max: stats.Max}
	if cfg.Mode != domain.ScaleModeAbsolute {
		return scale
	}
	if cfg.Min != nil {
		scale.Min = *cfg.Min
	}
	if cfg.Max != nil {
		scale.Max = *cfg.Max
	}
	return scale
}

// Describe builds the descriptor for a single value.
func Describe(cfg domain.FormattingConfig, scale Scale, value float64) domain.FormattingDescriptor {
	ratio := scale.Ratio(value)
	switch cfg.Type {
	case domain.FormattingDataBar:
		color := cfg.DataBar.BarColor
		if color == "" {
			color = DefaultBarColor
		}
		showValue := true
		if cfg.DataBar.ShowValue != nil {
			showValue = *cfg.DataBar.ShowValue
		}
		return domain.FormattingDescriptor{
			Type:    domain.FormattingDataBar,
			DataBar: &domain.DataBarStyle{Percent: ratio, BarColor: color, ShowValue: showValue},
		}
	case domain.FormattingColorScale:
		return domain.FormattingDescriptor{
			Type:       domain.FormattingColorScale,
			ColorScale: colorScale(cfg.ColorScale, cfg.Scale.Mode, scale, ratio),
		}
	case domain.FormattingIconSet:
		return domain.FormattingDescriptor{
			Type:    domain.FormattingIconSet,
			IconSet: iconFor(cfg.IconSet, cfg.Scale.Mode, scale, value, ratio),
		}
	}
	return domain.FormattingDescriptor{Type: domain.FormattingNone}
}

func metricColumns(columns []domain.Column, metricID string) []int {
	var indexes []int
	for i, column := range columns {
		if column.MetricID == metricID {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
