package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one flat input row: field key to scalar or raw value.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	cloned := make(Record, len(r))
	for k, v := range r {
		cloned[k] = v
	}
	return cloned
}

// FieldType enumerates the coarse value types tracked in field metadata.
type FieldType string

const (
	FieldTypeString    FieldType = "STRING"
	FieldTypeInteger   FieldType = "INTEGER"
	FieldTypeFloat     FieldType = "FLOAT"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
)

// FieldMeta carries directory metadata for a field key.
type FieldMeta struct {
	DatasetID uuid.UUID `json:"datasetId,omitempty"`
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
}

// Dataset groups records that were ingested together.
type Dataset struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Fields      []FieldMeta `json:"fields"`
	RecordCount int64       `json:"recordCount"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewDataset prepares a dataset with a fresh id.
func NewDataset(name, description string, fields []FieldMeta) Dataset {
	id := uuid.New()
	owned := make([]FieldMeta, len(fields))
	for i, field := range fields {
		field.DatasetID = id
		owned[i] = field
	}
	return Dataset{
		ID:          id,
		Name:        name,
		Description: description,
		Fields:      owned,
		CreatedAt:   time.Now().UTC(),
	}
}

// FieldByKey finds field metadata by key.
func (d Dataset) FieldByKey(key string) (FieldMeta, bool) {
	for _, field := range d.Fields {
		if field.Key == key {
			return field, true
		}
	}
	return FieldMeta{}, false
}

// RecordsToJSON encodes records for JSONB persistence.
func RecordsToJSON(records []Record) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, raw)
	}
	return encoded, nil
}

// RecordFromJSON decodes a JSONB record, keeping numbers as json.Number.
func RecordFromJSON(data []byte) (Record, error) {
	var record Record
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&record); err != nil {
		return nil, err
	}
	if record == nil {
		record = Record{}
	}
	return record, nil
}
