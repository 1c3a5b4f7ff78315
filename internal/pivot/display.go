package pivot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/rpattn/reportql/internal/domain"
)

// NullDisplay is shown wherever a value is absent or could not be computed.
const NullDisplay = "—"

var printer = message.NewPrinter(language.English)

// FormatMetricValue renders a finalized aggregate for a metric.
func FormatMetricValue(value any, metric domain.Metric) string {
	precision := metric.Precision
	if precision == nil && metric.Aggregator == domain.AggregatorCount && !metric.IsFormula() {
		zero := 0
		precision = &zero
	}
	return FormatValue(value, metric.Format, precision, metric.Currency)
}

// FormatValue renders a cell value for the requested output format.
func FormatValue(value any, format domain.OutputFormat, precision *int, currencyCode string) string {
	switch v := value.(type) {
	case nil:
		return NullDisplay
	case string:
		if format == domain.OutputFormatDate {
			if t, ok := ParseDate(v); ok {
				return t.Format(dateLayout)
			}
		}
		return v
	case float64:
		return formatNumber(v, format, precision, currencyCode)
	case time.Time:
		return v.Format(dateLayout)
	}
	if f, ok := ToFloat(value); ok {
		return formatNumber(f, format, precision, currencyCode)
	}
	return fmt.Sprint(value)
}

func formatNumber(v float64, format domain.OutputFormat, precision *int, currencyCode string) string {
	switch format {
	case domain.OutputFormatPercent:
		p := 1
		if precision != nil {
			p = *precision
		}
		return formatDecimal(v*100, &p) + "%"
	case domain.OutputFormatCurrency:
		p := 2
		if precision != nil {
			p = *precision
		}
		amount := formatDecimal(v, &p)
		if unit, err := currency.ParseISO(strings.TrimSpace(currencyCode)); err == nil {
			return unit.String() + " " + amount
		}
		return amount
	case domain.OutputFormatDate:
		return time.UnixMilli(int64(v)).UTC().Format(dateLayout)
	case domain.OutputFormatText:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return formatDecimal(v, precision)
	}
}

// formatDecimal groups thousands and keeps up to two fraction digits unless a
// fixed precision is given.
func formatDecimal(v float64, precision *int) string {
	opts := []number.Option{number.MaxFractionDigits(2)}
	if precision != nil {
		opts = []number.Option{number.MinFractionDigits(*precision), number.MaxFractionDigits(*precision)}
	}
	return printer.Sprintf("%v", number.Decimal(v, opts...))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
	"2006/01/02",
	"02/01/2006",
}

// ParseDate accepts the timestamp layouts produced by ingestion.
func ParseDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
