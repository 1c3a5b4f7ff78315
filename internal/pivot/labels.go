package pivot

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rpattn/reportql/internal/domain"
)

// Labels resolves display labels for field keys. A nil *Labels is valid and
// humanizes every key.
type Labels struct {
	Meta      map[string]domain.FieldMeta
	Overrides map[string]string
}

// NewLabels indexes field metadata by key.
func NewLabels(fields []domain.FieldMeta, overrides map[string]string) *Labels {
	meta := make(map[string]domain.FieldMeta, len(fields))
	for _, field := range fields {
		meta[field.Key] = field
	}
	return &Labels{Meta: meta, Overrides: overrides}
}

// Resolve prefers a header override, then directory metadata, then a
// humanized form of the key.
func (l *Labels) Resolve(fieldKey string) string {
	if l != nil {
		if override := strings.TrimSpace(l.Overrides[fieldKey]); override != "" {
			return override
		}
		if meta, ok := l.Meta[fieldKey]; ok && strings.TrimSpace(meta.Label) != "" {
			return meta.Label
		}
	}
	return Humanize(fieldKey)
}

// Humanize turns keys like "unit_price" or "orderID" into "Unit Price" and "Order ID".
func Humanize(key string) string {
	words := splitWords(key)
	if len(words) == 0 {
		return key
	}
	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}

func splitWords(key string) []string {
	var (
		words   []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(current) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}
