package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/reportql/internal/cache"
	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/export"
	"github.com/rpattn/reportql/internal/fieldloader"
	"github.com/rpattn/reportql/internal/formatting"
	"github.com/rpattn/reportql/internal/middleware"
	"github.com/rpattn/reportql/internal/reconcile"
	"github.com/rpattn/reportql/internal/repository"
	"github.com/rpattn/reportql/internal/transformations"
	"github.com/rpattn/reportql/pkg/validator"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid report request")

// BuildRequest asks for a view over either inline records or the
// definition's dataset pipeline.
type BuildRequest struct {
	Definition domain.ReportDefinition `json:"definition"`
	// Records, when non-nil, replace the pipeline as the record source.
	Records []domain.Record    `json:"records,omitempty"`
	Fields  []domain.FieldMeta `json:"fields,omitempty"`
	Limit   int                `json:"limit,omitempty" validate:"min=0"`
	Offset  int                `json:"offset,omitempty" validate:"min=0"`
}

// ReconcileRequest carries an externally computed view to normalize.
type ReconcileRequest struct {
	View       reconcile.ExternalView             `json:"view"`
	Metrics    []domain.Metric                    `json:"metrics" validate:"required,min=1,dive"`
	Formatting map[string]domain.FormattingConfig `json:"formatting,omitempty" validate:"dive"`
}

// ExportRequest builds a view and saves it as a downloadable file.
type ExportRequest struct {
	BuildRequest
	Format     string `json:"format"`
	Tree       bool   `json:"tree,omitempty"`
	OmitTotals bool   `json:"omitTotals,omitempty"`
}

type ExportResult struct {
	File        export.File `json:"file"`
	DownloadURL string      `json:"downloadUrl"`
	Warnings    []string    `json:"warnings"`
}

// Service loads records, builds views and hands them to export.
type Service struct {
	executor  *transformations.Executor
	datasets  repository.DatasetRepository
	fields    repository.FieldMetaRepository
	exports   *export.Service
	results   *cache.Cache[Result]
	validator *validator.StructValidator
	logger    *zap.Logger
}

type Option func(*Service)

// WithResultCache memoizes pipeline-backed builds. Entries are keyed by the
// request and the record counts of every loaded dataset, so ingesting new
// records naturally misses.
func WithResultCache(results *cache.Cache[Result]) Option {
	return func(s *Service) {
		s.results = results
	}
}

func WithExportService(exports *export.Service) Option {
	return func(s *Service) {
		s.exports = exports
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(
	executor *transformations.Executor,
	datasets repository.DatasetRepository,
	fields repository.FieldMetaRepository,
	opts ...Option,
) *Service {
	service := &Service{
		executor:  executor,
		datasets:  datasets,
		fields:    fields,
		validator: validator.NewStructValidator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	service.logger = service.logger.Named("report")
	return service
}

func (s *Service) validate(req any) error {
	result := s.validator.Struct(req)
	if result.IsValid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(result.Messages(), "; "))
}

// Build produces the formatted view for req.
func (s *Service) Build(ctx context.Context, req BuildRequest) (result Result, err error) {
	ctx, span := startSpan(ctx, "report.Build", attribute.String("report.name", req.Definition.Name))
	defer func() { endSpan(span, err) }()

	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	if req.Records != nil {
		warnings, err := ValidateRecords(req.Records, req.Fields)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		result, err := s.build(ctx, req.Records, req.Fields, req.Definition)
		if err != nil {
			return Result{}, err
		}
		result.Warnings = append(warnings, result.Warnings...)
		return result, nil
	}

	pipeline, ok := req.Definition.SourcePipeline()
	if !ok {
		return Result{}, fmt.Errorf("%w: definition has neither records, datasetId nor pipeline", ErrInvalidRequest)
	}
	if s.executor == nil {
		return Result{}, errors.New("report service has no record executor")
	}

	if s.results == nil {
		return s.loadAndBuild(ctx, req, pipeline)
	}

	key, err := s.fingerprint(ctx, req, pipeline)
	if err != nil {
		return Result{}, err
	}
	loaded := false
	cached, err := s.results.GetOrLoad(ctx, key, func(loadCtx context.Context) (Result, error) {
		loaded = true
		return s.loadAndBuild(loadCtx, req, pipeline)
	})
	if err != nil {
		return Result{}, err
	}
	if loaded {
		resultCacheLookups.WithLabelValues("miss").Inc()
	} else {
		resultCacheLookups.WithLabelValues("hit").Inc()
	}
	span.SetAttributes(attribute.Bool("report.cache_hit", !loaded))
	return Result{
		View:        cached.View.Clone(),
		Warnings:    append([]string(nil), cached.Warnings...),
		RecordCount: cached.RecordCount,
	}, nil
}

// fingerprint keys a build by its request and the current size of every
// dataset it loads.
func (s *Service) fingerprint(ctx context.Context, req BuildRequest, pipeline domain.Pipeline) (uint64, error) {
	versions := make(map[string]int64)
	for _, load := range loadConfigs(pipeline) {
		dataset, err := s.datasets.GetByID(ctx, load.DatasetID)
		if err != nil {
			return 0, fmt.Errorf("load dataset %s: %w", load.DatasetID, err)
		}
		versions[load.DatasetID.String()] = dataset.RecordCount
	}
	return cache.Key(struct {
		Definition domain.ReportDefinition
		Pipeline   domain.Pipeline
		Limit      int
		Offset     int
		Versions   map[string]int64
	}{req.Definition, pipeline, req.Limit, req.Offset, versions})
}

func (s *Service) loadAndBuild(ctx context.Context, req BuildRequest, pipeline domain.Pipeline) (Result, error) {
	records, fields, err := s.load(ctx, req, pipeline)
	if err != nil {
		return Result{}, err
	}
	return s.build(ctx, records, fields, req.Definition)
}

// load runs the pipeline while field metadata for every load node is
// fetched alongside it.
func (s *Service) load(ctx context.Context, req BuildRequest, pipeline domain.Pipeline) (records []domain.Record, fields []domain.FieldMeta, err error) {
	ctx, span := startSpan(ctx, "report.load", attribute.Int("pipeline.nodes", len(pipeline.Nodes)))
	started := time.Now()
	defer func() {
		buildDuration.WithLabelValues("load", statusLabel(err)).Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	loads := loadConfigs(pipeline)
	referenced := req.Definition.ReferencedFields()
	fieldSets := make([][]domain.FieldMeta, len(loads))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := s.executor.Execute(gctx, pipeline, transformations.ExecutionOptions{Limit: req.Limit, Offset: req.Offset})
		if err != nil {
			return fmt.Errorf("execute pipeline: %w", err)
		}
		records = result.Records
		return nil
	})
	for i, load := range loads {
		g.Go(func() error {
			loaded, err := s.loadFields(gctx, load, referenced)
			if err != nil {
				return err
			}
			fieldSets[i] = loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, set := range fieldSets {
		fields = append(fields, set...)
	}
	span.SetAttributes(attribute.Int("records.count", len(records)), attribute.Int("fields.count", len(fields)))
	return records, fields, nil
}

// loadFields resolves metadata for the referenced keys a load node can
// supply. Aliased loads only answer for "alias.field" keys.
func (s *Service) loadFields(ctx context.Context, load domain.PipelineLoadConfig, referenced []string) ([]domain.FieldMeta, error) {
	prefix := ""
	if alias := strings.TrimSpace(load.Alias); alias != "" {
		prefix = alias + "."
	}
	var keys []string
	for _, key := range referenced {
		if prefix == "" {
			keys = append(keys, key)
		} else if rest, ok := strings.CutPrefix(key, prefix); ok {
			keys = append(keys, rest)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	loader := middleware.FieldLoaderFromContext(ctx)
	if loader == nil {
		if s.fields == nil {
			return nil, nil
		}
		loader = fieldloader.NewFieldLoader(s.fields)
	}
	found, err := loader.LoadFields(ctx, load.DatasetID, keys)
	if err != nil {
		return nil, fmt.Errorf("load field metadata for dataset %s: %w", load.DatasetID, err)
	}

	fields := make([]domain.FieldMeta, 0, len(found))
	for _, field := range found {
		field.Key = prefix + field.Key
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields, nil
}

func (s *Service) build(ctx context.Context, records []domain.Record, fields []domain.FieldMeta, def domain.ReportDefinition) (result Result, err error) {
	_, span := startSpan(ctx, "report.aggregate", attribute.Int("records.count", len(records)))
	started := time.Now()
	defer func() {
		buildDuration.WithLabelValues("build", statusLabel(err)).Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	result, err = Build(records, fields, def)
	if err != nil {
		s.logger.Warn("view build failed", zap.String("report", def.Name), zap.Error(err))
		return Result{}, fmt.Errorf("build view: %w", err)
	}
	recordsAggregated.Add(float64(len(records)))
	formulaWarnings.Add(float64(len(result.Warnings)))
	span.SetAttributes(
		attribute.Int("view.rows", len(result.View.Rows)),
		attribute.Int("view.columns", len(result.View.Columns)),
	)
	s.logger.Info("view built",
		zap.String("report", def.Name),
		zap.Int("records", len(records)),
		zap.Int("rows", len(result.View.Rows)),
		zap.Int("columns", len(result.View.Columns)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// Reconcile normalizes an externally computed view and formats it.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (result Result, err error) {
	_, span := startSpan(ctx, "report.Reconcile", attribute.Int("external.columns", len(req.View.Columns)))
	started := time.Now()
	defer func() {
		buildDuration.WithLabelValues("reconcile", statusLabel(err)).Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	view := reconcile.Reconcile(req.View, req.Metrics)
	view = formatting.Apply(view, req.Formatting)
	return Result{View: view, Warnings: []string{}}, nil
}

// Export builds the view and writes it to the export directory.
func (s *Service) Export(ctx context.Context, req ExportRequest) (out ExportResult, err error) {
	ctx, span := startSpan(ctx, "report.Export", attribute.String("export.format", req.Format))
	started := time.Now()
	defer func() {
		buildDuration.WithLabelValues("export", statusLabel(err)).Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	if s.exports == nil {
		return ExportResult{}, errors.New("exports are not configured")
	}
	if err := s.validate(req); err != nil {
		return ExportResult{}, err
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return ExportResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	result, err := s.Build(ctx, req.BuildRequest)
	if err != nil {
		return ExportResult{}, err
	}
	name := req.Definition.Name
	if strings.TrimSpace(name) == "" {
		name = "report"
	}
	file, err := s.exports.Save(ctx, name, result.View, format, export.RenderOptions{
		Title:      req.Definition.Title,
		Tree:       req.Tree,
		OmitTotals: req.OmitTotals,
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("save export: %w", err)
	}
	return ExportResult{
		File:        file,
		DownloadURL: s.exports.BuildDownloadURL(file),
		Warnings:    result.Warnings,
	}, nil
}

func loadConfigs(pipeline domain.Pipeline) []domain.PipelineLoadConfig {
	var loads []domain.PipelineLoadConfig
	seen := make(map[uuid.UUID]struct{})
	for _, node := range pipeline.Nodes {
		if node.Type != domain.PipelineNodeLoad || node.Load == nil {
			continue
		}
		if _, ok := seen[node.ID]; ok {
			continue
		}
		seen[node.ID] = struct{}{}
		loads = append(loads, *node.Load)
	}
	return loads
}
