package repository

import (
	"context"
	"errors"

	"github.com/rpattn/reportql/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DatasetRepository defines the interface for dataset operations
type DatasetRepository interface {
	Create(ctx context.Context, dataset domain.Dataset) (domain.Dataset, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Dataset, error)
	GetByName(ctx context.Context, name string) (domain.Dataset, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]domain.Dataset, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// FieldMetaRepository stores the label and type directory for dataset fields.
type FieldMetaRepository interface {
	Upsert(ctx context.Context, datasetID uuid.UUID, fields []domain.FieldMeta) error
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]domain.FieldMeta, error)
	// GetByKeys returns metadata for the requested keys in one round trip.
	// Unknown keys are omitted from the result.
	GetByKeys(ctx context.Context, keys []FieldMetaKey) ([]domain.FieldMeta, error)
}

// FieldMetaKey addresses one field of one dataset.
type FieldMetaKey struct {
	DatasetID uuid.UUID
	Key       string
}

// RecordRepository persists flat records as JSONB rows.
type RecordRepository interface {
	InsertBatch(ctx context.Context, datasetID uuid.UUID, records []domain.Record) (int64, error)
	ListByDataset(ctx context.Context, datasetID uuid.UUID, filters []domain.PropertyFilter) ([]domain.Record, error)
	Count(ctx context.Context, datasetID uuid.UUID) (int64, error)
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, datasetName string, fileName string, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
