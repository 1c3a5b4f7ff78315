package validator

import (
	"testing"

	"github.com/rpattn/reportql/internal/domain"
)

func TestRecordValidatorTypes(t *testing.T) {
	v := NewRecordValidator()
	defs := map[string]FieldDefinition{
		"region": {Type: domain.FieldTypeString, Required: true},
		"amount": {Type: domain.FieldTypeFloat, Validation: map[string]any{"min": 0}},
		"units":  {Type: domain.FieldTypeInteger},
	}

	result := v.ValidateRecord(domain.Record{"region": "EU", "amount": 12.5, "units": 3}, defs)
	if !result.IsValid {
		t.Fatalf("expected valid record, got %+v", result.Errors)
	}

	result = v.ValidateRecord(domain.Record{"amount": "abc", "units": 1.5}, defs)
	if result.IsValid {
		t.Fatalf("expected invalid record")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected missing region plus two type errors, got %+v", result.Errors)
	}
}

func TestRecordValidatorWarnings(t *testing.T) {
	v := NewRecordValidator()
	defs := map[string]FieldDefinition{
		"amount": {Type: domain.FieldTypeFloat, Validation: map[string]any{"min": 0, "max": 10}},
	}

	result := v.ValidateRecord(domain.Record{"amount": 20, "extra": "x"}, defs)
	if !result.IsValid {
		t.Fatalf("rule violations and unknown fields are warnings, got errors %+v", result.Errors)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %+v", result.Warnings)
	}
	messages := result.Messages()
	if len(messages) != 2 || messages[0] != "warning amount: field 'amount' value 20 is greater than maximum 10" {
		t.Fatalf("unexpected messages %v", messages)
	}
}

type sample struct {
	Name     string `json:"name" validate:"required"`
	Currency string `json:"currency,omitempty" validate:"omitempty,currency"`
	Color    string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Items    []item `json:"items" validate:"dive"`
}

type item struct {
	Kind string `json:"kind" validate:"oneof=a b"`
}

func TestStructValidatorUsesJSONNames(t *testing.T) {
	v := NewStructValidator()

	result := v.Struct(sample{Name: "ok", Currency: "EUR", Color: "#63be7b", Items: []item{{Kind: "a"}}})
	if !result.IsValid {
		t.Fatalf("expected valid struct, got %+v", result.Errors)
	}

	result = v.Struct(sample{Currency: "EURO", Items: []item{{Kind: "c"}}})
	if result.IsValid {
		t.Fatalf("expected invalid struct")
	}
	fields := map[string]string{}
	for _, e := range result.Errors {
		fields[e.Field] = e.Message
	}
	if fields["name"] != "is required" {
		t.Fatalf("expected name error, got %v", fields)
	}
	if fields["currency"] != "must be an ISO 4217 currency code" {
		t.Fatalf("expected currency error, got %v", fields)
	}
	if fields["items[0].kind"] != "must be one of [a b]" {
		t.Fatalf("expected nested kind error, got %v", fields)
	}
}
