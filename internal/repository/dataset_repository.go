package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/reportql/internal/db"
	"github.com/rpattn/reportql/internal/domain"
)

type datasetRepository struct {
	pool *pgxpool.Pool
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(pool *pgxpool.Pool) DatasetRepository {
	return &datasetRepository{pool: pool}
}

const datasetColumns = `d.id, d.name, d.description, d.created_at,
	(SELECT COUNT(*) FROM records r WHERE r.dataset_id = d.id)`

// Create inserts the dataset together with its field metadata.
func (r *datasetRepository) Create(ctx context.Context, dataset domain.Dataset) (domain.Dataset, error) {
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	err := db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO datasets (id, name, description) VALUES ($1, $2, $3)`,
			dataset.ID, dataset.Name, dataset.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}
		return upsertFieldMeta(ctx, tx, dataset.ID, dataset.Fields)
	})
	if err != nil {
		return domain.Dataset{}, err
	}
	return r.GetByID(ctx, dataset.ID)
}

// GetByID retrieves a dataset and its field metadata
func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Dataset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.id = $1`, id)
	return r.scanWithFields(ctx, row)
}

// GetByName retrieves a dataset by its unique name
func (r *datasetRepository) GetByName(ctx context.Context, name string) (domain.Dataset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.name = $1`, name)
	return r.scanWithFields(ctx, row)
}

func (r *datasetRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM datasets WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check dataset existence: %w", err)
	}
	return exists, nil
}

// List returns every dataset without field metadata.
func (r *datasetRepository) List(ctx context.Context) ([]domain.Dataset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets d ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	datasets := []domain.Dataset{}
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate datasets: %w", err)
	}
	return datasets, nil
}

func (r *datasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *datasetRepository) scanWithFields(ctx context.Context, row pgx.Row) (domain.Dataset, error) {
	dataset, err := scanDataset(row)
	if err != nil {
		return domain.Dataset{}, err
	}
	fields, err := listFieldMeta(ctx, r.pool, dataset.ID)
	if err != nil {
		return domain.Dataset{}, err
	}
	dataset.Fields = fields
	return dataset, nil
}

func scanDataset(row pgx.Row) (domain.Dataset, error) {
	var (
		dataset   domain.Dataset
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&dataset.ID, &dataset.Name, &dataset.Description, &createdAt, &dataset.RecordCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dataset{}, fmt.Errorf("dataset: %w", ErrNotFound)
		}
		return domain.Dataset{}, fmt.Errorf("failed to scan dataset: %w", err)
	}
	if createdAt.Valid {
		dataset.CreatedAt = createdAt.Time
	}
	return dataset, nil
}
