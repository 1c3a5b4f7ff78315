package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/reportql/internal/db"
	"github.com/rpattn/reportql/internal/domain"
)

type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository wires a repository backed by pgxpool.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

// InsertBatch appends records after the dataset's current tail using COPY.
func (r *recordRepository) InsertBatch(ctx context.Context, datasetID uuid.UUID, records []domain.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	encoded, err := domain.RecordsToJSON(records)
	if err != nil {
		return 0, fmt.Errorf("failed to encode records: %w", err)
	}

	var copied int64
	err = db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		var next int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM records WHERE dataset_id = $1`,
			datasetID,
		).Scan(&next); err != nil {
			return fmt.Errorf("failed to read record tail: %w", err)
		}

		rows := make([][]any, len(encoded))
		for i, raw := range encoded {
			rows[i] = []any{datasetID, next + int64(i), []byte(raw)}
		}
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"records"},
			[]string{"dataset_id", "position", "data"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy records: %w", err)
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

// ListByDataset returns records in insertion order. Filters are pushed into
// SQL where JSONB text comparison agrees with domain.ApplyPropertyFilters;
// callers still apply the full filter set in memory.
func (r *recordRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID, filters []domain.PropertyFilter) ([]domain.Record, error) {
	where, args := recordFilterClause(filters, 2)
	query := `SELECT data FROM records WHERE dataset_id = $1` + where + ` ORDER BY position`

	rows, err := r.pool.Query(ctx, query, append([]any{datasetID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := domain.RecordFromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (r *recordRepository) Count(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE dataset_id = $1`, datasetID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// recordFilterClause renders the SQL-expressible subset of filters as
// " AND ..." conditions with placeholders starting at firstArg.
func recordFilterClause(filters []domain.PropertyFilter, firstArg int) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", firstArg+len(args)-1)
	}
	for _, filter := range filters {
		if filter.Key == "" {
			continue
		}
		if filter.Exists != nil && *filter.Exists {
			conditions = append(conditions, fmt.Sprintf("data ? %s", next(filter.Key)))
		}
		if filter.Value != "" {
			key := next(filter.Key)
			conditions = append(conditions, fmt.Sprintf("data->>%s = %s", key, next(filter.Value)))
		}
		if len(filter.InArray) > 0 {
			key := next(filter.Key)
			conditions = append(conditions, fmt.Sprintf("data->>%s = ANY(%s)", key, next(filter.InArray)))
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conditions, " AND "), args
}
