package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/repository"
	"github.com/rpattn/reportql/pkg/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid ingestion request")
)

// Service ingests tabular files into datasets of flat records.
type Service struct {
	datasetRepo repository.DatasetRepository
	fieldRepo   repository.FieldMetaRepository
	recordRepo  repository.RecordRepository
	logRepo     repository.IngestionLogRepository
	validator   *validator.StructValidator
	logger      *zap.Logger
}

// NewService creates a new ingestion service.
func NewService(
	datasetRepo repository.DatasetRepository,
	fieldRepo repository.FieldMetaRepository,
	recordRepo repository.RecordRepository,
	logRepo repository.IngestionLogRepository,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		datasetRepo: datasetRepo,
		fieldRepo:   fieldRepo,
		recordRepo:  recordRepo,
		logRepo:     logRepo,
		validator:   validator.NewStructValidator(),
		logger:      logger.Named("ingestion"),
	}
}

// Request describes the ingestion input.
type Request struct {
	DatasetName     string                      `json:"datasetName" validate:"required"`
	Description     string                      `json:"description"`
	FileName        string                      `json:"fileName" validate:"required"`
	Table           TableOptions                `json:"-"`
	ColumnOverrides map[string]domain.FieldType `json:"columnOverrides" validate:"dive,oneof=STRING INTEGER FLOAT BOOLEAN TIMESTAMP"`
	Data            io.Reader                   `json:"-" validate:"required"`
}

// PreviewRequest describes the preview input prior to ingestion.
type PreviewRequest struct {
	DatasetName     string                      `json:"datasetName"`
	FileName        string                      `json:"fileName" validate:"required"`
	Table           TableOptions                `json:"-"`
	ColumnOverrides map[string]domain.FieldType `json:"columnOverrides" validate:"dive,oneof=STRING INTEGER FLOAT BOOLEAN TIMESTAMP"`
	Data            io.Reader                   `json:"-" validate:"required"`
	Limit           int                         `json:"limit" validate:"min=0"`
}

// PreviewHeader summarizes column level metadata for previews.
type PreviewHeader struct {
	Key           string `json:"key"`
	Label         string `json:"label"`
	DetectedType  string `json:"detectedType"`
	EffectiveType string `json:"effectiveType"`
	Complete      bool   `json:"complete"`
	Overridden    bool   `json:"overridden"`
}

// PreviewRow captures sample data and coercion feedback.
type PreviewRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
	Errors    []string          `json:"errors,omitempty"`
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// PreviewResult returns preview metadata back to clients.
type PreviewResult struct {
	TotalRows        int               `json:"totalRows"`
	InvalidRows      int               `json:"invalidRows"`
	Headers          []PreviewHeader   `json:"headers"`
	Rows             []PreviewRow      `json:"rows"`
	FieldChanges     []FieldChange     `json:"fieldChanges"`
	HeaderCandidates []HeaderCandidate `json:"headerCandidates"`
}

// FieldChange highlights field level additions or conflicts.
type FieldChange struct {
	Field        string `json:"field,omitempty"`
	ExistingType string `json:"existingType,omitempty"`
	DetectedType string `json:"detectedType,omitempty"`
	Message      string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	DatasetID         uuid.UUID     `json:"datasetId"`
	TotalRows         int           `json:"totalRows"`
	ValidRows         int           `json:"validRows"`
	InvalidRows       int           `json:"invalidRows"`
	NewFieldsDetected []string      `json:"newFieldsDetected"`
	FieldChanges      []FieldChange `json:"fieldChanges"`
	DatasetCreated    bool          `json:"datasetCreated"`
}

// RowError reports a row that could not be converted into a record.
type RowError struct {
	RowNumber int
	Err       error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.RowNumber, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// ParsedFile is a tabular file converted into typed records.
type ParsedFile struct {
	Fields    []domain.FieldMeta
	Records   []domain.Record
	RowErrors []RowError
	TotalRows int
}

// ParseFile converts a CSV or XLSX payload into records without touching
// storage. Rows that fail type coercion are reported and skipped.
func ParseFile(fileName string, payload []byte, opts TableOptions, overrides map[string]domain.FieldType) (ParsedFile, error) {
	table, _, err := parseTable(fileName, payload, opts)
	if err != nil {
		return ParsedFile{}, err
	}
	if len(table.headers) == 0 {
		return ParsedFile{}, errors.New("no header row detected")
	}
	profiles := applyOverrides(inferFields(table), overrides)
	fields := make([]domain.FieldMeta, len(profiles))
	for i, profile := range profiles {
		fields[i] = profile.field
	}
	records, rowErrors := convertRows(table, fields)
	return ParsedFile{
		Fields:    fields,
		Records:   records,
		RowErrors: rowErrors,
		TotalRows: len(table.rows),
	}, nil
}

// convertRows coerces each row against fields. Empty cells are left out of
// the record so aggregations treat them as undefined.
func convertRows(table tableData, fields []domain.FieldMeta) ([]domain.Record, []RowError) {
	byKey := make(map[string]domain.FieldMeta, len(fields))
	for _, field := range fields {
		byKey[field.Key] = field
	}

	records := make([]domain.Record, 0, len(table.rows))
	var rowErrors []RowError
	for rowIdx, row := range table.rows {
		record := make(domain.Record, len(table.headers))
		var rowErr error
		for colIdx, header := range table.headers {
			if colIdx >= len(row) {
				continue
			}
			field, ok := byKey[header]
			if !ok {
				continue
			}
			raw := strings.TrimSpace(row[colIdx])
			if raw == "" {
				continue
			}
			coerced, err := coerceValue(field.Type, raw)
			if err != nil {
				rowErr = fmt.Errorf("field %s: %w", header, err)
				break
			}
			record[field.Key] = coerced
		}
		if rowErr != nil {
			rowErrors = append(rowErrors, RowError{RowNumber: table.rowNumber(rowIdx), Err: rowErr})
			continue
		}
		records = append(records, record)
	}
	return records, rowErrors
}

func (s *Service) validate(req any) error {
	result := s.validator.Struct(req)
	if result.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(result.Messages(), "; "))
}

// Ingest reads the uploaded file, creates or extends the dataset, and
// appends valid rows as records.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		NewFieldsDetected: []string{},
		FieldChanges:      []FieldChange{},
	}
	req.DatasetName = strings.TrimSpace(req.DatasetName)
	if err := s.validate(req); err != nil {
		return summary, err
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, _, err := parseTable(req.FileName, payload, req.Table)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}
	profiles := applyOverrides(inferFields(table), req.ColumnOverrides)
	if len(profiles) == 0 {
		return summary, errors.New("no fields inferred from data set")
	}
	summary.TotalRows = len(table.rows)

	exists, err := s.datasetRepo.Exists(ctx, req.DatasetName)
	if err != nil {
		return summary, fmt.Errorf("failed to check dataset existence: %w", err)
	}

	var dataset domain.Dataset
	if exists {
		dataset, err = s.datasetRepo.GetByName(ctx, req.DatasetName)
		if err != nil {
			return summary, fmt.Errorf("failed to load dataset: %w", err)
		}
	} else {
		detected := make([]domain.FieldMeta, len(profiles))
		for i, profile := range profiles {
			detected[i] = profile.field
		}
		dataset, err = s.datasetRepo.Create(ctx, domain.NewDataset(req.DatasetName, req.Description, detected))
		if err != nil {
			return summary, fmt.Errorf("failed to create dataset: %w", err)
		}
		summary.DatasetCreated = true
		summary.FieldChanges = append(summary.FieldChanges, FieldChange{
			Message: fmt.Sprintf("dataset %s created", req.DatasetName),
		})
	}
	summary.DatasetID = dataset.ID

	effective, added, changes := reconcileFields(dataset, profiles)
	summary.FieldChanges = append(summary.FieldChanges, changes...)
	for _, change := range changes {
		if change.ExistingType != "" {
			s.logIngestionError(ctx, req, dataset.ID, nil, errors.New(change.Message))
		}
	}
	if len(added) > 0 && !summary.DatasetCreated {
		if err := s.fieldRepo.Upsert(ctx, dataset.ID, added); err != nil {
			return summary, fmt.Errorf("failed to add fields: %w", err)
		}
		for _, field := range added {
			summary.NewFieldsDetected = append(summary.NewFieldsDetected, field.Key)
		}
	}

	if summary.TotalRows == 0 {
		return summary, nil
	}

	records, rowErrors := convertRows(table, effective)
	for _, rowErr := range rowErrors {
		rowNumber := rowErr.RowNumber
		s.logIngestionError(ctx, req, dataset.ID, &rowNumber, rowErr.Err)
	}
	summary.InvalidRows = len(rowErrors)

	inserted, err := s.recordRepo.InsertBatch(ctx, dataset.ID, records)
	if err != nil {
		return summary, fmt.Errorf("failed to insert records: %w", err)
	}
	summary.ValidRows = int(inserted)

	s.logger.Info("file ingested",
		zap.String("dataset", dataset.Name),
		zap.String("file", req.FileName),
		zap.Int("total_rows", summary.TotalRows),
		zap.Int("valid_rows", summary.ValidRows),
		zap.Int("invalid_rows", summary.InvalidRows),
	)
	return summary, nil
}

// reconcileFields merges detected columns into the dataset's fields. Existing
// fields keep their stored type so earlier records stay consistent.
func reconcileFields(dataset domain.Dataset, profiles []columnProfile) ([]domain.FieldMeta, []domain.FieldMeta, []FieldChange) {
	var (
		effective []domain.FieldMeta
		added     []domain.FieldMeta
		changes   []FieldChange
	)
	for _, profile := range profiles {
		detected := profile.field
		existing, found := dataset.FieldByKey(detected.Key)
		if !found {
			detected.DatasetID = dataset.ID
			effective = append(effective, detected)
			added = append(added, detected)
			changes = append(changes, FieldChange{Field: detected.Key, Message: "new field detected"})
			continue
		}
		if !fieldTypesCompatible(existing.Type, detected.Type) {
			changes = append(changes, FieldChange{
				Field:        detected.Key,
				ExistingType: string(existing.Type),
				DetectedType: string(detected.Type),
				Message:      fmt.Sprintf("field %s type mismatch: existing=%s, detected=%s", detected.Key, existing.Type, detected.Type),
			})
		}
		effective = append(effective, existing)
	}
	return effective, added, changes
}

// Preview runs type inference and coercion against the file without
// persisting anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	result := PreviewResult{
		Headers:          []PreviewHeader{},
		Rows:             []PreviewRow{},
		FieldChanges:     []FieldChange{},
		HeaderCandidates: []HeaderCandidate{},
	}
	if err := s.validate(req); err != nil {
		return result, err
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return result, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return result, errors.New("file is empty")
	}

	table, rawRows, err := parseTable(req.FileName, payload, req.Table)
	if err != nil {
		return result, err
	}
	result.HeaderCandidates = buildHeaderCandidates(rawRows, 10, table.headerRowIndex)
	if len(table.headers) == 0 {
		return result, errors.New("no header row detected")
	}

	autoDetected := inferFields(table)
	profiles := applyOverrides(autoDetected, req.ColumnOverrides)

	dataset := domain.Dataset{}
	if name := strings.TrimSpace(req.DatasetName); name != "" {
		exists, err := s.datasetRepo.Exists(ctx, name)
		if err != nil {
			return result, fmt.Errorf("failed to check dataset existence: %w", err)
		}
		if exists {
			dataset, err = s.datasetRepo.GetByName(ctx, name)
			if err != nil {
				return result, fmt.Errorf("failed to load dataset: %w", err)
			}
		} else {
			result.FieldChanges = append(result.FieldChanges, FieldChange{
				Message: fmt.Sprintf("dataset %s would be created", name),
			})
		}
	}

	effective, _, changes := reconcileFields(dataset, profiles)
	if len(dataset.Fields) > 0 {
		result.FieldChanges = append(result.FieldChanges, changes...)
	}

	result.TotalRows = len(table.rows)
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	_, rowErrors := convertRows(table, effective)
	errorsByRow := make(map[int][]string, len(rowErrors))
	for _, rowErr := range rowErrors {
		errorsByRow[rowErr.RowNumber] = append(errorsByRow[rowErr.RowNumber], rowErr.Err.Error())
	}
	result.InvalidRows = len(rowErrors)

	for rowIdx, row := range table.rows {
		if rowIdx >= limit {
			break
		}
		rowNumber := table.rowNumber(rowIdx)
		values := make(map[string]string, len(table.headers))
		for colIdx, header := range table.headers {
			if colIdx < len(row) {
				values[header] = strings.TrimSpace(row[colIdx])
			} else {
				values[header] = ""
			}
		}
		result.Rows = append(result.Rows, PreviewRow{
			RowNumber: rowNumber,
			Values:    values,
			Errors:    errorsByRow[rowNumber],
		})
	}

	for idx, profile := range autoDetected {
		header := PreviewHeader{
			Key:           profile.field.Key,
			Label:         profile.field.Label,
			DetectedType:  string(profile.field.Type),
			EffectiveType: string(effective[idx].Type),
			Complete:      profile.complete,
			Overridden:    req.ColumnOverrides[profile.field.Key] != "",
		}
		result.Headers = append(result.Headers, header)
	}

	return result, nil
}

func (s *Service) logIngestionError(ctx context.Context, req Request, datasetID uuid.UUID, rowNumber *int, err error) {
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("dataset", req.DatasetName),
		zap.String("file", req.FileName),
		zap.Error(err),
	}
	if rowNumber != nil {
		fields = append(fields, zap.Int("row", *rowNumber))
	}
	s.logger.Warn("ingestion issue", fields...)

	if s.logRepo == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		DatasetID:    datasetID,
		DatasetName:  req.DatasetName,
		FileName:     req.FileName,
		RowNumber:    rowNumber,
		ErrorMessage: err.Error(),
	}
	if recordErr := s.logRepo.Record(ctx, entry); recordErr != nil {
		s.logger.Error("failed to record ingestion log", zap.Error(recordErr))
	}
}

// ListDatasets returns every dataset with its fields.
func (s *Service) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	datasets, err := s.datasetRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

// ListLogs pages through recorded ingestion problems. Empty filters match
// every dataset or file.
func (s *Service) ListLogs(ctx context.Context, datasetName, fileName string, limit, offset int) ([]domain.IngestionLogEntry, error) {
	if s.logRepo == nil {
		return []domain.IngestionLogEntry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.logRepo.List(ctx, strings.TrimSpace(datasetName), strings.TrimSpace(fileName), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	return entries, nil
}
