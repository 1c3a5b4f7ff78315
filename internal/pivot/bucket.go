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

// bucket is the running accumulator behind every cell and total.
type bucket struct {
	count        int
	definedCount int
	numericCount int
	sum          float64
	last         any
}

func (b *bucket) push(value any) {
	b.count++
	if IsDefined(value) {
		b.definedCount++
		b.last = value
	}
	if f, ok := ToFloat(value); ok {
		b.numericCount++
		b.sum += f
	}
}

// finalize reduces the bucket for the aggregator. A nil bucket means no
// record reached the position and finalizes to nil for every aggregator; a
// sum bucket that only saw non-numeric values finalizes to 0. Value buckets holding several values
// finalize to nil; collisions on cells are rejected earlier, at push time.
func (b *bucket) finalize(aggregator domain.Aggregator) any {
	if b == nil {
		return nil
	}
	switch aggregator {
	case domain.AggregatorCount:
		return float64(b.count)
	case domain.AggregatorAvg:
		if b.numericCount == 0 {
			return nil
		}
		return b.sum / float64(b.numericCount)
	case domain.AggregatorValue:
		if b.definedCount != 1 {
			return nil
		}
		return NormalizeValue(b.last)
	default:
		return b.sum
	}
}

// IsDefined reports whether a pushed value counts toward a value aggregator.
func IsDefined(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case float64:
		return !math.IsNaN(v)
	}
	return true
}

// ToFloat coerces a raw value to a finite number.
func ToFloat(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NormalizeValue maps a raw value onto the nil | float64 | string cell domain.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return v
	case time.Time:
		return v.Format(dateLayout)
	case bool:
		return strconv.FormatBool(v)
	}
	if f, ok := ToFloat(value); ok {
		return f
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(value)
}
