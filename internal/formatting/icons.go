package formatting

import (
	"github.com/rpattn/reportql/internal/domain"
)

const DefaultIconStyle = "traffic3"

type icon struct {
	glyph string
	color string
}

// iconStyles list icons from the lowest band to the highest.
var iconStyles = map[string][]icon{
	"arrows3":  {{"↓", "#c0504d"}, {"→", "#f79646"}, {"↑", "#00b050"}},
	"traffic3": {{"●", "#c0504d"}, {"●", "#ffc000"}, {"●", "#00b050"}},
	"flags3":   {{"⚑", "#c0504d"}, {"⚑", "#ffc000"}, {"⚑", "#00b050"}},
	"arrows4":  {{"↓", "#c0504d"}, {"↘", "#f79646"}, {"↗", "#9bbb59"}, {"↑", "#00b050"}},
	"ratings4": {{"◔", "#808080"}, {"◑", "#808080"}, {"◕", "#808080"}, {"●", "#808080"}},
}

var defaultThresholds = map[int][]float64{
	3: {0.33, 0.66},
	4: {0.25, 0.5, 0.75},
}

// IconStyles reports the known icon set names.
func IconStyles() []string {
	return []string{"arrows3", "traffic3", "flags3", "arrows4", "ratings4"}
}

func iconFor(cfg domain.IconSetConfig, mode domain.ScaleMode, scale Scale, value, ratio float64) *domain.IconSetStyle {
	icons, ok := iconStyles[cfg.Style]
	if !ok {
		icons = iconStyles[DefaultIconStyle]
	}

	thresholds := cfg.Thresholds
	if len(thresholds) != len(icons)-1 {
		thresholds = defaultThresholds[len(icons)]
	}

	band := 0
	switch {
	case cfg.ThresholdMode == domain.ThresholdModeAbsolute:
		band = bandOf(value, thresholds)
	case mode == domain.ScaleModeAbsolute:
		mapped := make([]float64, len(thresholds))
		for i, t := range thresholds {
			mapped[i] = scale.At(t)
		}
		band = bandOf(value, mapped)
	default:
		band = bandOf(ratio, thresholds)
	}
	if cfg.Reverse {
		band = len(icons) - 1 - band
	}

	chosen := icons[band]
	return &domain.IconSetStyle{Icon: chosen.glyph, Color: chosen.color, Band: band}
}

// bandOf counts the thresholds at or below x.
func bandOf(x float64, thresholds []float64) int {
	band := 0
	for _, t := range thresholds {
		if x >= t {
			band++
		}
	}
	return band
}
