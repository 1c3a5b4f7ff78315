package domain

// FormattingType tags the variant carried by a FormattingDescriptor.
type FormattingType string

const (
	FormattingNone       FormattingType = "none"
	FormattingDataBar    FormattingType = "dataBar"
	FormattingColorScale FormattingType = "colorScale"
	FormattingIconSet    FormattingType = "iconSet"
)

// FormattingDescriptor is a tagged variant; exactly one payload matches Type.
type FormattingDescriptor struct {
	Type       FormattingType   `json:"type"`
	DataBar    *DataBarStyle    `json:"dataBar,omitempty"`
	ColorScale *ColorScaleStyle `json:"colorScale,omitempty"`
	IconSet    *IconSetStyle    `json:"iconSet,omitempty"`
}

type DataBarStyle struct {
	Percent   float64 `json:"percent"`
	BarColor  string  `json:"barColor"`
	ShowValue bool    `json:"showValue"`
}

type ColorScaleStyle struct {
	Background string `json:"background"`
	TextColor  string `json:"textColor"`
}

type IconSetStyle struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Band  int    `json:"band"`
}

// Clone copies the descriptor including its payload.
func (d FormattingDescriptor) Clone() FormattingDescriptor {
	cloned := FormattingDescriptor{Type: d.Type}
	if d.DataBar != nil {
		bar := *d.DataBar
		cloned.DataBar = &bar
	}
	if d.ColorScale != nil {
		scale := *d.ColorScale
		cloned.ColorScale = &scale
	}
	if d.IconSet != nil {
		icon := *d.IconSet
		cloned.IconSet = &icon
	}
	return cloned
}

type ScaleMode string

const (
	ScaleModeRelative ScaleMode = "relative"
	ScaleModeAbsolute ScaleMode = "absolute"
)

type ThresholdMode string

const (
	ThresholdModePercent  ThresholdMode = "percent"
	ThresholdModeAbsolute ThresholdMode = "absolute"
)

// ScaleConfig chooses between observed and explicit bounds.
type ScaleConfig struct {
	Mode ScaleMode `json:"mode,omitempty" yaml:"mode" validate:"omitempty,oneof=relative absolute"`
	Min  *float64  `json:"min,omitempty" yaml:"min"`
	Max  *float64  `json:"max,omitempty" yaml:"max"`
}

type DataBarConfig struct {
	BarColor  string `json:"barColor,omitempty" yaml:"barColor"`
	ShowValue *bool  `json:"showValue,omitempty" yaml:"showValue"`
}

type ColorScaleConfig struct {
	MinColor string   `json:"minColor,omitempty" yaml:"minColor"`
	MidColor string   `json:"midColor,omitempty" yaml:"midColor"`
	MaxColor string   `json:"maxColor,omitempty" yaml:"maxColor"`
	Midpoint *float64 `json:"midpoint,omitempty" yaml:"midpoint" validate:"omitempty,min=0,max=1"`
	MidValue *float64 `json:"midValue,omitempty" yaml:"midValue"`
}

type IconSetConfig struct {
	Style         string        `json:"style,omitempty" yaml:"style"`
	Reverse       bool          `json:"reverse,omitempty" yaml:"reverse"`
	Thresholds    []float64     `json:"thresholds,omitempty" yaml:"thresholds"`
	ThresholdMode ThresholdMode `json:"thresholdMode,omitempty" yaml:"thresholdMode" validate:"omitempty,oneof=percent absolute"`
}

// FormattingConfig is the per-metric conditional formatting setup.
type FormattingConfig struct {
	Type       FormattingType   `json:"type" yaml:"type" validate:"omitempty,oneof=none dataBar colorScale iconSet"`
	Scale      ScaleConfig      `json:"scale" yaml:"scale"`
	DataBar    DataBarConfig    `json:"dataBar" yaml:"dataBar"`
	ColorScale ColorScaleConfig `json:"colorScale" yaml:"colorScale"`
	IconSet    IconSetConfig    `json:"iconSet" yaml:"iconSet"`
}
