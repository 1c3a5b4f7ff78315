package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
	"golang.org/x/text/currency"
)

// StructValidator validates request and definition structs using their
// `validate` tags.
type StructValidator struct {
	validate *playground.Validate
}

// NewStructValidator returns a validator that reports fields by their json
// names and understands the currency tag.
func NewStructValidator() *StructValidator {
	validate := playground.New(playground.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	_ = validate.RegisterValidation("currency", validateCurrencyCode)
	return &StructValidator{validate: validate}
}

// validateCurrencyCode accepts ISO 4217 codes such as "USD".
func validateCurrencyCode(fl playground.FieldLevel) bool {
	_, err := currency.ParseISO(fl.Field().String())
	return err == nil
}

// Struct validates s and converts failures into a ValidationResult.
func (v *StructValidator) Struct(s any) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}
	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	result.IsValid = false
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.Errors = append(result.Errors, ValidationError{Message: err.Error()})
		return result
	}
	for _, fieldErr := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   trimNamespace(fieldErr.Namespace()),
			Message: describe(fieldErr),
			Value:   fieldErr.Value(),
		})
	}
	return result
}

// trimNamespace drops the root struct name from "Request.metrics[0].id".
func trimNamespace(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fieldErr playground.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fieldErr.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fieldErr.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fieldErr.Param())
	case "currency":
		return "must be an ISO 4217 currency code"
	case "hexcolor":
		return "must be a hex color"
	default:
		return fmt.Sprintf("failed %s validation", fieldErr.Tag())
	}
}
