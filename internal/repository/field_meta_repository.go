package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/reportql/internal/db"
	"github.com/rpattn/reportql/internal/domain"
)

type fieldMetaRepository struct {
	pool *pgxpool.Pool
}

// NewFieldMetaRepository wires a repository backed by pgxpool.
func NewFieldMetaRepository(pool *pgxpool.Pool) FieldMetaRepository {
	return &fieldMetaRepository{pool: pool}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *fieldMetaRepository) Upsert(ctx context.Context, datasetID uuid.UUID, fields []domain.FieldMeta) error {
	return db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		return upsertFieldMeta(ctx, tx, datasetID, fields)
	})
}

func (r *fieldMetaRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]domain.FieldMeta, error) {
	return listFieldMeta(ctx, r.pool, datasetID)
}

func (r *fieldMetaRepository) GetByKeys(ctx context.Context, keys []FieldMetaKey) ([]domain.FieldMeta, error) {
	if len(keys) == 0 {
		return []domain.FieldMeta{}, nil
	}
	datasetIDs := make([]uuid.UUID, len(keys))
	fieldKeys := make([]string, len(keys))
	for i, key := range keys {
		datasetIDs[i] = key.DatasetID
		fieldKeys[i] = key.Key
	}

	rows, err := r.pool.Query(ctx,
		`SELECT f.dataset_id, f.key, f.label, f.type
		 FROM field_meta f
		 JOIN UNNEST($1::uuid[], $2::text[]) AS wanted(dataset_id, key)
		   ON wanted.dataset_id = f.dataset_id AND wanted.key = f.key`,
		datasetIDs, fieldKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load field metadata: %w", err)
	}
	return collectFieldMeta(rows)
}

func upsertFieldMeta(ctx context.Context, tx pgx.Tx, datasetID uuid.UUID, fields []domain.FieldMeta) error {
	if len(fields) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for position, field := range fields {
		batch.Queue(
			`INSERT INTO field_meta (dataset_id, key, label, type, position)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (dataset_id, key) DO UPDATE
			 SET label = EXCLUDED.label, type = EXCLUDED.type`,
			datasetID, field.Key, field.Label, string(field.Type), position,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert field metadata: %w", err)
	}
	return nil
}

func listFieldMeta(ctx context.Context, q queryer, datasetID uuid.UUID) ([]domain.FieldMeta, error) {
	rows, err := q.Query(ctx,
		`SELECT dataset_id, key, label, type FROM field_meta WHERE dataset_id = $1 ORDER BY position, key`,
		datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list field metadata: %w", err)
	}
	return collectFieldMeta(rows)
}

func collectFieldMeta(rows pgx.Rows) ([]domain.FieldMeta, error) {
	defer rows.Close()
	fields := []domain.FieldMeta{}
	for rows.Next() {
		var (
			field     domain.FieldMeta
			fieldType string
		)
		if err := rows.Scan(&field.DatasetID, &field.Key, &field.Label, &fieldType); err != nil {
			return nil, fmt.Errorf("failed to scan field metadata: %w", err)
		}
		field.Type = domain.FieldType(fieldType)
		fields = append(fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field metadata: %w", err)
	}
	return fields, nil
}
