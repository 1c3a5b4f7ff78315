package formatting

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/rpattn/reportql/internal/domain"
)

const (
	DefaultMinColor = "#f8696b"
	DefaultMidColor = "#ffeb84"
	DefaultMaxColor = "#63be7b"

	DarkText  = "#1f1f1f"
	LightText = "#ffffff"

	lumaThreshold = 150
)

func colorScale(cfg domain.ColorScaleConfig, mode domain.ScaleMode, scale Scale, ratio float64) *domain.ColorScaleStyle {
	low := parseHex(cfg.MinColor, DefaultMinColor)
	mid := parseHex(cfg.MidColor, DefaultMidColor)
	high := parseHex(cfg.MaxColor, DefaultMaxColor)

	midpoint := 0.5
	if cfg.Midpoint != nil {
		midpoint = clamp(*cfg.Midpoint, 0, 1)
	}
	if mode == domain.ScaleModeAbsolute && cfg.MidValue != nil {
		midpoint = scale.Ratio(*cfg.MidValue)
	}

	var color colorful.Color
	switch {
	case ratio <= midpoint:
		t := 1.0
		if midpoint > 0 {
			t = ratio / midpoint
		}
		color = low.BlendRgb(mid, clamp(t, 0, 1))
	default:
		t := 1.0
		if midpoint < 1 {
			t = (ratio - midpoint) / (1 - midpoint)
		}
		color = mid.BlendRgb(high, clamp(t, 0, 1))
	}
	color = color.Clamped()

	return &domain.ColorScaleStyle{Background: color.Hex(), TextColor: contrastText(color)}
}

// contrastText picks dark text on light backgrounds by perceptual luma on
// the 0-255 channel scale.
func contrastText(c colorful.Color) string {
	r, g, b := c.RGB255()
	luma := 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
	if luma > lumaThreshold {
		return DarkText
	}
	return LightText
}

// parseHex reads #rgb or #rrggbb, with or without the leading #, using
// fallback for anything else.
func parseHex(value, fallback string) colorful.Color {
	if c, ok := decodeHex(value); ok {
		return c
	}
	c, _ := decodeHex(fallback)
	return c
}

func decodeHex(value string) (colorful.Color, bool) {
	hex := strings.TrimSpace(value)
	if hex == "" {
		return colorful.Color{}, false
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return colorful.Color{}, false
	}
	return c, true
}
