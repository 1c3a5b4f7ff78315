package pivot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rpattn/reportql/internal/domain"
)

func TestHumanize(t *testing.T) {
	cases := map[string]string{
		"unit_price":   "Unit Price",
		"orderID":      "Order ID",
		"createdAt":    "Created At",
		"ship-to.city": "Ship To City",
		"HTTPServer":   "HTTP Server",
		"region":       "Region",
	}
	for in, want := range cases {
		assert.Equal(t, want, Humanize(in), in)
	}
}

func TestLabelsResolveOrder(t *testing.T) {
	labels := NewLabels(
		[]domain.FieldMeta{{Key: "a", Label: "Meta A"}, {Key: "b", Label: "Meta B"}, {Key: "c"}},
		map[string]string{"a": "Override A"},
	)

	assert.Equal(t, "Override A", labels.Resolve("a"))
	assert.Equal(t, "Meta B", labels.Resolve("b"))
	assert.Equal(t, "C", labels.Resolve("c"))
	assert.Equal(t, "Missing Field", labels.Resolve("missing_field"))

	var none *Labels
	assert.Equal(t, "Total Amount", none.Resolve("total_amount"))
}
