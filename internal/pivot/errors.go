package pivot

import (
	"errors"
	"fmt"
)

// ErrValueAggregationCollision matches every *ValueAggregationCollision.
var ErrValueAggregationCollision = errors.New("value aggregation collision")

// ValueAggregationCollision reports a value-aggregated cell that received more
// than one defined value. It aborts the whole view build.
type ValueAggregationCollision struct {
	MetricID  string
	RowKey    string
	ColumnKey string
}

func (e *ValueAggregationCollision) Error() string {
	return fmt.Sprintf("metric %q: value aggregator received multiple values for row %q column %q", e.MetricID, e.RowKey, e.ColumnKey)
}

func (e *ValueAggregationCollision) Is(target error) bool {
	return target == ErrValueAggregationCollision
}
