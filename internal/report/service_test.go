package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rpattn/reportql/internal/cache"
	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/export"
	"github.com/rpattn/reportql/internal/pivot"
	"github.com/rpattn/reportql/internal/reconcile"
	"github.com/rpattn/reportql/internal/repository"
	"github.com/rpattn/reportql/internal/transformations"
)

func salesRecords() []domain.Record {
	return []domain.Record{
		{"region": "EU", "amount": 10.0, "orders": 2.0},
		{"region": "EU", "amount": 30.0, "orders": 3.0},
		{"region": "US", "amount": 20.0, "orders": 5.0},
	}
}

func salesDefinition() domain.ReportDefinition {
	return domain.ReportDefinition{
		Name:          "sales",
		RowDimensions: []string{"region"},
		Metrics: []domain.Metric{
			{ID: "amount", Label: "Amount", FieldKey: "amount", Aggregator: domain.AggregatorSum},
			{ID: "orders", Label: "Orders", FieldKey: "orders", Aggregator: domain.AggregatorSum},
			{ID: "per_order", Label: "Per order", Kind: domain.MetricKindFormula, Expression: "{{amount}} / {{orders}}"},
		},
		Formatting: map[string]domain.FormattingConfig{
			"amount": {Type: domain.FormattingDataBar},
		},
	}
}

func TestBuildRunsAllStages(t *testing.T) {
	result, err := Build(salesRecords(), nil, salesDefinition())
	require.NoError(t, err)

	view := result.View
	require.Len(t, view.Rows, 2)
	require.Len(t, view.Columns, 3)
	assert.Equal(t, "per_order", view.Columns[2].MetricID)
	assert.Equal(t, 8.0, view.Rows[0].Cells[2].Value)
	assert.Equal(t, 4.0, view.Rows[1].Cells[2].Value)

	require.NotNil(t, view.Rows[0].Cells[0].Formatting)
	assert.Equal(t, domain.FormattingDataBar, view.Rows[0].Cells[0].Formatting.Type)
	assert.Nil(t, view.Rows[0].Cells[1].Formatting)

	assert.Empty(t, result.Warnings)
	assert.Equal(t, 3, result.RecordCount)
}

func TestBuildReportsFormulaWarnings(t *testing.T) {
	def := salesDefinition()
	def.Metrics = append(def.Metrics, domain.Metric{ID: "broken", Kind: domain.MetricKindFormula, Expression: "{{amount}} *"})

	result, err := Build(salesRecords(), nil, def)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "broken")
}

func TestBuildFailsOnValueCollision(t *testing.T) {
	def := domain.ReportDefinition{
		RowDimensions: []string{"region"},
		Metrics:       []domain.Metric{{ID: "v", FieldKey: "amount", Aggregator: domain.AggregatorValue}},
	}
	_, err := Build(salesRecords(), nil, def)
	assert.ErrorIs(t, err, pivot.ErrValueAggregationCollision)
}

func TestValidateRecords(t *testing.T) {
	fields := []domain.FieldMeta{
		{Key: "region", Type: domain.FieldTypeString},
		{Key: "amount", Type: domain.FieldTypeFloat},
	}

	warnings, err := ValidateRecords(salesRecords(), fields)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders: field 'orders' has no metadata"}, warnings)

	_, err = ValidateRecords([]domain.Record{{"amount": "lots"}}, fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 0: amount")

	warnings, err = ValidateRecords(salesRecords(), nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

type stubLoader struct {
	mu      sync.Mutex
	records map[uuid.UUID][]domain.Record
	calls   int
}

func (s *stubLoader) ListByDataset(ctx context.Context, datasetID uuid.UUID, filters []domain.PropertyFilter) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var out []domain.Record
	for _, record := range s.records[datasetID] {
		if domain.ApplyPropertyFilters(record, filters) {
			out = append(out, record.Clone())
		}
	}
	return out, nil
}

type stubDatasets struct {
	counts map[uuid.UUID]int64
}

func (s *stubDatasets) Create(ctx context.Context, dataset domain.Dataset) (domain.Dataset, error) {
	return dataset, nil
}

func (s *stubDatasets) GetByID(ctx context.Context, id uuid.UUID) (domain.Dataset, error) {
	count, ok := s.counts[id]
	if !ok {
		return domain.Dataset{}, repository.ErrNotFound
	}
	return domain.Dataset{ID: id, RecordCount: count}, nil
}

func (s *stubDatasets) GetByName(ctx context.Context, name string) (domain.Dataset, error) {
	return domain.Dataset{}, repository.ErrNotFound
}

func (s *stubDatasets) Exists(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (s *stubDatasets) List(ctx context.Context) ([]domain.Dataset, error) {
	return nil, nil
}

func (s *stubDatasets) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

type stubFields struct {
	mu     sync.Mutex
	fields []domain.FieldMeta
	calls  int
}

func (s *stubFields) Upsert(ctx context.Context, datasetID uuid.UUID, fields []domain.FieldMeta) error {
	return nil
}

func (s *stubFields) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]domain.FieldMeta, error) {
	return s.fields, nil
}

func (s *stubFields) GetByKeys(ctx context.Context, keys []repository.FieldMetaKey) ([]domain.FieldMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var out []domain.FieldMeta
	for _, key := range keys {
		for _, field := range s.fields {
			if field.DatasetID == key.DatasetID && field.Key == key.Key {
				out = append(out, field)
			}
		}
	}
	return out, nil
}

type fixture struct {
	datasetID uuid.UUID
	loader    *stubLoader
	datasets  *stubDatasets
	fields    *stubFields
	service   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	datasetID := uuid.New()
	f := &fixture{
		datasetID: datasetID,
		loader:    &stubLoader{records: map[uuid.UUID][]domain.Record{datasetID: salesRecords()}},
		datasets:  &stubDatasets{counts: map[uuid.UUID]int64{datasetID: 3}},
		fields: &stubFields{fields: []domain.FieldMeta{
			{DatasetID: datasetID, Key: "region", Label: "Sales Region", Type: domain.FieldTypeString},
			{DatasetID: datasetID, Key: "amount", Label: "Amount", Type: domain.FieldTypeFloat},
		}},
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	f.service = NewService(transformations.NewExecutor(f.loader), f.datasets, f.fields, opts...)
	return f
}

func (f *fixture) request() BuildRequest {
	def := salesDefinition()
	def.DatasetID = &f.datasetID
	return BuildRequest{Definition: def}
}

func TestServiceBuildLoadsDatasetAndLabels(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Build(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, result.View.Rows, 2)
	require.Len(t, result.View.Rows[0].Levels, 1)
	assert.Equal(t, "Sales Region", result.View.Rows[0].Levels[0].FieldLabel)
	assert.Equal(t, 1, f.loader.calls)
	assert.Equal(t, 1, f.fields.calls)
}

func TestServiceBuildAppliesDatasetFilters(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Definition.Filters = []domain.PropertyFilter{{Key: "region", Value: "US"}}

	result, err := f.service.Build(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.View.Rows, 1)
	assert.Equal(t, "US", result.View.Rows[0].Label)
}

func TestServiceBuildCachesUntilDatasetGrows(t *testing.T) {
	results, err := cache.New[Result](8)
	require.NoError(t, err)
	f := newFixture(t, WithResultCache(results))

	first, err := f.service.Build(context.Background(), f.request())
	require.NoError(t, err)
	second, err := f.service.Build(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 1, f.loader.calls)
	assert.Equal(t, first.View, second.View)

	second.View.Rows[0].Label = "mutated"
	third, err := f.service.Build(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, "EU", third.View.Rows[0].Label)

	f.datasets.counts[f.datasetID] = 4
	_, err = f.service.Build(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 2, f.loader.calls)
}

func TestServiceBuildInlineRecords(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Build(context.Background(), BuildRequest{
		Definition: salesDefinition(),
		Records:    salesRecords(),
		Fields:     []domain.FieldMeta{{Key: "amount", Type: domain.FieldTypeFloat}},
	})
	require.NoError(t, err)
	assert.Len(t, result.View.Rows, 2)
	assert.Contains(t, result.Warnings, "orders: field 'orders' has no metadata")
	assert.Equal(t, 0, f.loader.calls)
}

func TestServiceBuildRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Build(context.Background(), BuildRequest{Definition: domain.ReportDefinition{Name: "empty"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.service.Build(context.Background(), BuildRequest{Definition: salesDefinition()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServiceExportWritesFile(t *testing.T) {
	exports := export.NewService(export.WithExportDirectory(t.TempDir()))
	f := newFixture(t, WithExportService(exports))

	req := ExportRequest{BuildRequest: f.request(), Format: "xlsx"}
	result, err := f.service.Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, export.FormatXLSX, result.File.Format)
	assert.Equal(t, 2, result.File.Rows)
	assert.Contains(t, result.DownloadURL, result.File.Name)

	req.Format = "pdf"
	_, err = f.service.Export(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func post(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body)))
	return rec
}

func TestHTTPHandlerBuildsView(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPHandler(f.service)

	rec := post(t, handler, "/reports/view", BuildRequest{Definition: salesDefinition(), Records: salesRecords()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.View.Rows, 2)
	assert.Equal(t, 60.0, result.View.GrandTotals["amount"].Value)
}

func TestHTTPHandlerMapsErrors(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPHandler(f.service)

	collision := domain.ReportDefinition{
		RowDimensions: []string{"region"},
		Metrics:       []domain.Metric{{ID: "v", FieldKey: "amount", Aggregator: domain.AggregatorValue}},
	}
	rec := post(t, handler, "/reports/view", BuildRequest{Definition: collision, Records: salesRecords()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = post(t, handler, "/reports/view", BuildRequest{Definition: domain.ReportDefinition{}, Records: salesRecords()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reports/view", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/view", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = post(t, handler, "/reports/unknown", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPHandlerReconciles(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPHandler(f.service)

	req := ReconcileRequest{
		Metrics: []domain.Metric{
			{ID: "amount", Label: "Amount", FieldKey: "amount", Aggregator: domain.AggregatorSum},
			{ID: "orders", Label: "Orders", FieldKey: "orders", Aggregator: domain.AggregatorSum},
		},
		View: reconcile.ExternalView{
			Columns: []reconcile.ExternalColumn{
				{Key: "col_orders", Label: "Orders", Value: 10.0},
				{Key: "col_amount", Label: "Amount", Value: 60.0},
			},
			Rows: []reconcile.ExternalRow{{
				Key:   "region:EU",
				Label: "EU",
				Cells: []domain.Cell{{Key: "col_orders", Value: 5.0}, {Key: "col_amount", Value: 40.0}},
			}},
		},
	}
	rec := post(t, handler, "/reports/reconcile", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.View.Columns, 2)
	assert.Equal(t, "amount", result.View.Columns[0].Key)
	assert.Equal(t, 40.0, result.View.Rows[0].Cells[0].Value)
	assert.Equal(t, 5.0, result.View.Rows[0].Cells[1].Value)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusBadRequest, statusFor(ErrInvalidRequest))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&pivot.ValueAggregationCollision{MetricID: "v"}))
}
