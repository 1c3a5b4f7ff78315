package pivot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/reportql/internal/domain"
)

func TestBuildDimensionKeyEmptyFields(t *testing.T) {
	key := BuildDimensionKey(domain.Record{"a": 1}, nil, nil)
	assert.Equal(t, AllRecordsKey, key.Key)
	assert.Equal(t, AllRecordsLabel, key.Label)
	assert.Empty(t, key.Levels)
}

func TestBuildDimensionKeyLevels(t *testing.T) {
	record := domain.Record{"region": "East", "city_name": "Boston"}
	key := BuildDimensionKey(record, []string{"region", "city_name"}, nil)

	require.Len(t, key.Levels, 2)
	assert.Equal(t, "East / Boston", key.Label)
	assert.Nil(t, key.Levels[0].ParentKey)
	require.NotNil(t, key.Levels[1].ParentKey)
	assert.Equal(t, key.Levels[0].PathKey, *key.Levels[1].ParentKey)
	assert.Equal(t, key.Key, key.Levels[1].PathKey)
	assert.Equal(t, "City Name", key.Levels[1].FieldLabel)
	assert.Equal(t, 1, key.Levels[1].Depth)
}

func TestBuildDimensionKeyIsDeterministic(t *testing.T) {
	fields := []string{"a", "b"}
	first := BuildDimensionKey(domain.Record{"a": "x", "b": 1, "c": "ignored"}, fields, nil)
	second := BuildDimensionKey(domain.Record{"a": "x", "b": 1.0}, fields, nil)
	assert.Equal(t, first.Key, second.Key)
}

func TestPathKeysDoNotCollideOnDelimiters(t *testing.T) {
	fields := []string{"a", "b"}
	left := BuildDimensionKey(domain.Record{"a": "x|b:y", "b": "z"}, fields, nil)
	right := BuildDimensionKey(domain.Record{"a": "x", "b": "y|b:z"}, fields, nil)
	assert.NotEqual(t, left.Key, right.Key)

	segments, ok := ParsePathKey(left.Key)
	require.True(t, ok)
	assert.Equal(t, []PathSegment{{FieldKey: "a", Value: "x|b:y"}, {FieldKey: "b", Value: "z"}}, segments)
}

func TestParsePathKeyRoundTrip(t *testing.T) {
	key := JoinPathKey(JoinPathKey("", "region", `East\West`), "city", "New York")
	segments, ok := ParsePathKey(key)
	require.True(t, ok)
	require.Len(t, segments, 2)
	assert.Equal(t, `East\West`, segments[0].Value)

	prefixes := PathKeyFromSegments(segments)
	assert.Equal(t, key, prefixes[1])
	assert.Equal(t, JoinPathKey("", "region", `East\West`), prefixes[0])
}

func TestParsePathKeyRejectsPlainKeys(t *testing.T) {
	for _, key := range []string{"", AllRecordsKey, "row-1", "a:b|plain"} {
		_, ok := ParsePathKey(key)
		assert.False(t, ok, key)
	}
}

func TestDisplayValue(t *testing.T) {
	cases := map[string]struct {
		in   any
		want string
	}{
		"nil":    {nil, EmptyValueLabel},
		"blank":  {"  ", EmptyValueLabel},
		"string": {" East ", "East"},
		"float":  {2.50, "2.5"},
		"int":    {42, "42"},
		"bool":   {true, "true"},
		"time":   {time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), "2024-03-09"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DisplayValue(tc.in))
		})
	}
}
