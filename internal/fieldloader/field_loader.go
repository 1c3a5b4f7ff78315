package fieldloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

const keySeparator = "/"

// FieldLoader batches field metadata lookups issued while building reports
// within one request.
type FieldLoader struct {
	Loader *dataloader.Loader
}

// Key encodes a dataset-scoped field key for the loader.
func Key(datasetID uuid.UUID, fieldKey string) string {
	return datasetID.String() + keySeparator + fieldKey
}

func parseKey(raw string) (repository.FieldMetaKey, error) {
	datasetPart, fieldKey, ok := strings.Cut(raw, keySeparator)
	if !ok || fieldKey == "" {
		return repository.FieldMetaKey{}, fmt.Errorf("invalid field key %q", raw)
	}
	datasetID, err := uuid.Parse(datasetPart)
	if err != nil {
		return repository.FieldMetaKey{}, fmt.Errorf("invalid dataset id in %q: %w", raw, err)
	}
	return repository.FieldMetaKey{DatasetID: datasetID, Key: fieldKey}, nil
}

func NewFieldLoader(repo repository.FieldMetaRepository) *FieldLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		lookups := make([]repository.FieldMetaKey, 0, len(keys))
		for i, k := range keys {
			parsed, err := parseKey(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			lookups = append(lookups, parsed)
		}

		fields, err := repo.GetByKeys(ctx, lookups)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		byKey := make(map[string]domain.FieldMeta, len(fields))
		for _, field := range fields {
			byKey[Key(field.DatasetID, field.Key)] = field
		}

		// Results must line up with keys; unknown fields resolve to nil.
		for i, k := range keys {
			if results[i] != nil {
				continue
			}
			if field, ok := byKey[k.String()]; ok {
				results[i] = &dataloader.Result{Data: field}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &FieldLoader{Loader: loader}
}

// LoadFields resolves metadata for the given field keys of one dataset.
// Fields without stored metadata are absent from the returned map.
func (l *FieldLoader) LoadFields(ctx context.Context, datasetID uuid.UUID, fieldKeys []string) (map[string]domain.FieldMeta, error) {
	meta := make(map[string]domain.FieldMeta, len(fieldKeys))
	if len(fieldKeys) == 0 {
		return meta, nil
	}
	keys := make([]string, len(fieldKeys))
	for i, fieldKey := range fieldKeys {
		keys[i] = Key(datasetID, fieldKey)
	}

	values, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(keys))()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("load field metadata: %w", err)
		}
	}
	for _, value := range values {
		if field, ok := value.(domain.FieldMeta); ok {
			meta[field.Key] = field
		}
	}
	return meta, nil
}
