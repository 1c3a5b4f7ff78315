package reconcile

import (
	"strings"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/pivot"
)

// MatchKind names the step of the identity chain that resolved a metric.
type MatchKind string

const (
	MatchExactID    MatchKind = "exactId"
	MatchRemoteID   MatchKind = "remoteId"
	MatchField      MatchKind = "fieldAggregator"
	MatchKey        MatchKind = "key"
	MatchLabel      MatchKind = "label"
	MatchFallback   MatchKind = "fallback"
	MatchUnresolved MatchKind = "unresolved"
)

// strength orders match kinds so a stronger match can claim a slot held by a
// weaker one.
func (k MatchKind) strength() int {
	switch k {
	case MatchExactID:
		return 6
	case MatchRemoteID:
		return 5
	case MatchField:
		return 4
	case MatchKey:
		return 3
	case MatchLabel:
		return 2
	case MatchFallback:
		return 1
	}
	return 0
}

// MetricRef is everything an external column or total says about its metric.
type MetricRef struct {
	ID         string
	RemoteID   *int64
	FieldKey   string
	Aggregator domain.Aggregator
	Key        string
	Label      string
}

// Resolver maps external metric references onto canonical metrics.
type Resolver struct {
	metrics []domain.Metric
}

func NewResolver(metrics []domain.Metric) *Resolver {
	return &Resolver{metrics: domain.EnabledMetrics(metrics)}
}

// Resolve walks the identity chain: exact id, remote id, field and
// aggregator, key, label, and finally the first enabled metric.
func (r *Resolver) Resolve(ref MetricRef) (domain.Metric, MatchKind) {
	if len(r.metrics) == 0 {
		return domain.Metric{}, MatchUnresolved
	}

	if ref.ID != "" {
		for _, metric := range r.metrics {
			if metric.ID == ref.ID {
				return metric, MatchExactID
			}
		}
	}

	if ref.RemoteID != nil {
		for _, metric := range r.metrics {
			if metric.RemoteID != nil && *metric.RemoteID == *ref.RemoteID {
				return metric, MatchRemoteID
			}
		}
	}

	if ref.FieldKey != "" {
		for _, metric := range r.metrics {
			if metric.FieldKey == "" {
				continue
			}
			if ref.Aggregator != "" && ref.Aggregator != metric.Aggregator {
				continue
			}
			if fieldKeysMatch(metric.FieldKey, ref.FieldKey) {
				return metric, MatchField
			}
		}
	}

	if ref.Key != "" {
		suffix := ref.Key
		if idx := strings.LastIndex(ref.Key, pivot.ColumnKeySeparator); idx >= 0 {
			suffix = ref.Key[idx+len(pivot.ColumnKeySeparator):]
		}
		for _, metric := range r.metrics {
			if metric.ID == ref.Key || metric.ID == suffix {
				return metric, MatchKey
			}
		}
	}

	if label := strings.TrimSpace(ref.Label); label != "" {
		for _, metric := range r.metrics {
			if strings.EqualFold(strings.TrimSpace(metric.DisplayLabel()), label) {
				return metric, MatchLabel
			}
		}
	}

	return r.metrics[0], MatchFallback
}

// fieldKeysMatch compares field keys, allowing either side to be qualified
// with a dotted or colon-separated prefix.
func fieldKeysMatch(a, b string) bool {
	if a == b {
		return true
	}
	ta, tb := trailingSegment(a), trailingSegment(b)
	return ta == b || a == tb || ta == tb
}

func trailingSegment(key string) string {
	if idx := strings.LastIndexAny(key, ".:"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
