package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/domain"
)

// RecordValidator checks flat records against declared field definitions.
type RecordValidator struct{}

// NewRecordValidator creates a new record validator
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type       domain.FieldType `json:"type"`
	Required   bool             `json:"required"`
	Validation map[string]any   `json:"validation,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// Messages flattens errors and warnings into "field: message" strings.
func (r ValidationResult) Messages() []string {
	messages := make([]string, 0, len(r.Errors)+len(r.Warnings))
	for _, validationErr := range r.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", validationErr.Field, validationErr.Message))
	}
	for _, warning := range r.Warnings {
		messages = append(messages, fmt.Sprintf("warning %s: %s", warning.Field, warning.Message))
	}
	return messages
}

// DefinitionsFromFields builds definitions from field metadata.
func DefinitionsFromFields(fields []domain.FieldMeta) map[string]FieldDefinition {
	defs := make(map[string]FieldDefinition, len(fields))
	for _, field := range fields {
		defs[field.Key] = FieldDefinition{Type: field.Type}
	}
	return defs
}

// ValidateRecord checks record values against definitions. Fields without a
// definition are reported as warnings since pivots may still group by them.
func (rv *RecordValidator) ValidateRecord(record domain.Record, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	names := make([]string, 0, len(fieldDefinitions))
	for name := range fieldDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fieldName := range names {
		fieldDef := fieldDefinitions[fieldName]
		value, exists := record[fieldName]

		if fieldDef.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("required field '%s' is missing", fieldName),
			})
			continue
		}

		if !exists || value == nil {
			continue
		}

		if err := validateFieldType(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
		}

		if len(fieldDef.Validation) > 0 {
			if err := validateCustomRules(fieldName, value, fieldDef.Validation); err != nil {
				result.Warnings = append(result.Warnings, ValidationError{
					Field:   fieldName,
					Message: err.Error(),
					Value:   value,
				})
			}
		}
	}

	extras := make([]string, 0)
	for propertyName := range record {
		if _, exists := fieldDefinitions[propertyName]; !exists {
			extras = append(extras, propertyName)
		}
	}
	sort.Strings(extras)
	for _, propertyName := range extras {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   propertyName,
			Message: fmt.Sprintf("field '%s' has no metadata", propertyName),
		})
	}

	return result
}

func validateFieldType(fieldName string, value any, expectedType domain.FieldType) error {
	switch domain.FieldType(strings.ToUpper(string(expectedType))) {
	case domain.FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case domain.FieldTypeInteger:
		if !isInteger(value) {
			return fmt.Errorf("field '%s' must be an integer, got %T", fieldName, value)
		}
	case domain.FieldTypeFloat:
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("field '%s' must be a float, got %T", fieldName, value)
		}
	case domain.FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	case domain.FieldTypeTimestamp:
		switch v := value.(type) {
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("field '%s' must be a valid timestamp (RFC3339): %v", fieldName, err)
			}
		case time.Time:
		default:
			return fmt.Errorf("field '%s' must be a timestamp string, got %T", fieldName, value)
		}
	case "":
		// Untyped metadata accepts anything.
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}
	return nil
}

// validateCustomRules validates optional field rules
func validateCustomRules(fieldName string, value any, rules map[string]any) error {
	if minVal, exists := rules["min"]; exists {
		v, okValue := toFloat(value)
		limit, okLimit := toFloat(minVal)
		if okValue && okLimit && v < limit {
			return fmt.Errorf("field '%s' value %v is less than minimum %v", fieldName, value, minVal)
		}
	}

	if maxVal, exists := rules["max"]; exists {
		v, okValue := toFloat(value)
		limit, okLimit := toFloat(maxVal)
		if okValue && okLimit && v > limit {
			return fmt.Errorf("field '%s' value %v is greater than maximum %v", fieldName, value, maxVal)
		}
	}

	if strVal, ok := value.(string); ok {
		if minLen, exists := rules["min_length"]; exists {
			if limit, ok := toFloat(minLen); ok && len(strVal) < int(limit) {
				return fmt.Errorf("field '%s' length %d is less than minimum %v", fieldName, len(strVal), minLen)
			}
		}
		if maxLen, exists := rules["max_length"]; exists {
			if limit, ok := toFloat(maxLen); ok && len(strVal) > int(limit) {
				return fmt.Errorf("field '%s' length %d is greater than maximum %v", fieldName, len(strVal), maxLen)
			}
		}
		if pattern, exists := rules["pattern"].(string); exists {
			if !strings.Contains(strings.ToLower(strVal), strings.ToLower(pattern)) {
				return fmt.Errorf("field '%s' value '%s' does not match pattern '%s'", fieldName, strVal, pattern)
			}
		}
	}

	return nil
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case string:
		_, err := strconv.Atoi(v)
		return err == nil
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
