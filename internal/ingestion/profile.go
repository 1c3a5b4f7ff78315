package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// columnProfile is what type inference learned about one column.
type columnProfile struct {
	field    domain.FieldMeta
	complete bool
}

// inferFields profiles every column. Keys come from sanitized headers and
// labels keep the header text as written.
func inferFields(table tableData) []columnProfile {
	profiles := make([]columnProfile, 0, len(table.headers))
	for idx, header := range table.headers {
		fieldType, complete := profileColumn(idx, table.rows)
		label := header
		if idx < len(table.rawHeaders) && table.rawHeaders[idx] != "" {
			label = table.rawHeaders[idx]
		}
		profiles = append(profiles, columnProfile{
			field:    domain.FieldMeta{Key: header, Label: label, Type: fieldType},
			complete: complete,
		})
	}
	return profiles
}

func applyOverrides(profiles []columnProfile, overrides map[string]domain.FieldType) []columnProfile {
	if len(profiles) == 0 || len(overrides) == 0 {
		return profiles
	}
	overridden := make([]columnProfile, len(profiles))
	for idx, profile := range profiles {
		if override, ok := overrides[profile.field.Key]; ok && override != "" {
			profile.field.Type = override
		}
		overridden[idx] = profile
	}
	return overridden
}

// profileColumn picks the narrowest type every non-empty value satisfies and
// reports whether no row left the column empty.
func profileColumn(col int, rows [][]string) (domain.FieldType, bool) {
	isBool := true
	isInt := true
	isFloat := true
	isTimestamp := true
	allPresent := true
	hasValue := false

	for _, row := range rows {
		if col >= len(row) {
			allPresent = false
			continue
		}

		value := strings.TrimSpace(row[col])
		if value == "" {
			allPresent = false
			continue
		}

		hasValue = true
		isBool = isBool && looksLikeBool(value)
		isInt = isInt && looksLikeInt(value)
		isFloat = isFloat && looksLikeFloat(value)
		isTimestamp = isTimestamp && looksLikeTimestamp(value)
	}

	complete := allPresent && hasValue
	switch {
	case !hasValue:
		return domain.FieldTypeString, false
	case isBool:
		return domain.FieldTypeBoolean, complete
	case isInt:
		return domain.FieldTypeInteger, complete
	case isFloat:
		return domain.FieldTypeFloat, complete
	case isTimestamp:
		return domain.FieldTypeTimestamp, complete
	default:
		return domain.FieldTypeString, complete
	}
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return true
	}
	// Allow float representations that can be losslessly converted to int.
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return math.Mod(f, 1) == 0
	}
	return false
}

func looksLikeFloat(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func looksLikeTimestamp(value string) bool {
	_, err := parseTimestamp(value)
	return err == nil
}

func fieldTypesCompatible(existing, detected domain.FieldType) bool {
	if existing == detected {
		return true
	}
	// Integer columns load fine into float fields.
	if existing == domain.FieldTypeFloat && detected == domain.FieldTypeInteger {
		return true
	}
	// Anything can be stored as text.
	return existing == domain.FieldTypeString
}

func coerceValue(fieldType domain.FieldType, raw string) (any, error) {
	switch fieldType {
	case domain.FieldTypeString:
		return raw, nil
	case domain.FieldTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.FieldTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case domain.FieldTypeBoolean:
		value := strings.ToLower(strings.TrimSpace(raw))
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case domain.FieldTypeTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts.UTC().Format(time.RFC3339), nil
	default:
		return raw, nil
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
