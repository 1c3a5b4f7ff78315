package transformations

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/reportql/internal/cache"
	"github.com/rpattn/reportql/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordLoader defines the subset of record storage used by the executor.
type RecordLoader interface {
	ListByDataset(ctx context.Context, datasetID uuid.UUID, filters []domain.PropertyFilter) ([]domain.Record, error)
}

// ExecutionOptions pages the output of the final node. A zero Limit returns
// everything.
type ExecutionOptions struct {
	Limit  int
	Offset int
}

// ExecutionResult is the output of the final node in topological order.
type ExecutionResult struct {
	Records    []domain.Record
	TotalCount int
}

// Executor walks a pipeline DAG and produces the records a report pivots.
type Executor struct {
	loader RecordLoader
	joins  *cache.Cache[[]domain.Record]
	logger *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithJoinCache memoizes join outputs in a caller-owned cache.
func WithJoinCache(joins *cache.Cache[[]domain.Record]) Option {
	return func(e *Executor) {
		e.joins = joins
	}
}

// WithLogger sets the logger used for per-node diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type pageRequest struct {
	limit  int
	offset int
}

type pageLimiter struct {
	limit  int
	offset int
	seen   int
}

func newPageLimiter(req pageRequest) pageLimiter {
	limiter := pageLimiter{limit: req.limit, offset: req.offset}
	if limiter.limit < 0 {
		limiter.limit = 0
	}
	if limiter.offset < 0 {
		limiter.offset = 0
	}
	return limiter
}

func (p *pageLimiter) ShouldContinue() bool {
	if p.limit == 0 {
		return true
	}
	return p.seen < p.offset+p.limit
}

func (p *pageLimiter) Consider() bool {
	p.seen++
	if p.seen <= p.offset {
		return false
	}
	if p.limit == 0 {
		return true
	}
	return p.seen <= p.offset+p.limit
}

// mergePageRequests widens the request for a node consumed by several
// downstream nodes so every consumer sees enough rows.
func mergePageRequests(existing pageRequest, count int, incoming pageRequest) (pageRequest, int) {
	if count == 0 {
		return incoming, 1
	}
	if existing.limit == 0 || incoming.limit == 0 {
		return pageRequest{}, count + 1
	}
	total := existing.offset + existing.limit
	if incomingTotal := incoming.offset + incoming.limit; incomingTotal > total {
		total = incomingTotal
	}
	return pageRequest{limit: total}, count + 1
}

func requestTotal(req pageRequest) int {
	if req.limit == 0 {
		return 0
	}
	return req.offset + req.limit
}

// NewExecutor constructs a pipeline executor.
func NewExecutor(loader RecordLoader, opts ...Option) *Executor {
	e := &Executor{loader: loader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the pipeline and returns the output of its final node.
func (e *Executor) Execute(ctx context.Context, pipeline domain.Pipeline, opts ExecutionOptions) (ExecutionResult, error) {
	sorted, err := pipeline.TopologicallySortedNodes()
	if err != nil {
		return ExecutionResult{}, err
	}
	if len(sorted) == 0 {
		return ExecutionResult{Records: []domain.Record{}}, nil
	}

	requests := planPageRequests(sorted, pageRequest{limit: opts.Limit, offset: opts.Offset})
	results := make(map[uuid.UUID][]domain.Record, len(sorted))
	for _, node := range sorted {
		if err := ctx.Err(); err != nil {
			return ExecutionResult{}, err
		}
		nodeResults, err := e.executeNode(ctx, node, requests[node.ID], results)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("execute node %s: %w", nodeLabel(node), err)
		}
		e.logger.Debug("pipeline node executed",
			zap.String("node", nodeLabel(node)),
			zap.String("type", string(node.Type)),
			zap.Int("records", len(nodeResults)),
		)
		results[node.ID] = nodeResults
	}

	finalNode := sorted[len(sorted)-1]
	finalRecords := append([]domain.Record{}, results[finalNode.ID]...)
	return ExecutionResult{Records: finalRecords, TotalCount: len(finalRecords)}, nil
}

// planPageRequests pushes the caller's page backwards through the graph so
// upstream nodes stop early when only a prefix of their output is needed.
func planPageRequests(sorted []domain.PipelineNode, final pageRequest) map[uuid.UUID]pageRequest {
	requests := make(map[uuid.UUID]pageRequest, len(sorted))
	counts := make(map[uuid.UUID]int, len(sorted))
	finalNode := sorted[len(sorted)-1]
	requests[finalNode.ID] = final
	counts[finalNode.ID] = 1

	for i := len(sorted) - 1; i >= 0; i-- {
		node := sorted[i]
		req := requests[node.ID]

		incoming := pageRequest{}
		switch node.Type {
		case domain.PipelineNodeSort, domain.PipelineNodeAntiJoin:
			// Both need every input row to produce even their first output.
		case domain.PipelineNodePaginate:
			if node.Paginate == nil {
				break
			}
			nodeLimit, nodeOffset := paginateBounds(node.Paginate)
			totalNeeded := requestTotal(req)
			if nodeLimit > 0 && (totalNeeded == 0 || totalNeeded > nodeLimit) {
				totalNeeded = nodeLimit
			}
			if totalNeeded > 0 {
				incoming.limit = totalNeeded + nodeOffset
			}
		case domain.PipelineNodeFilter, domain.PipelineNodeJoin, domain.PipelineNodeLeftJoin:
			// Output is not a prefix of the input.
		default:
			incoming.limit = requestTotal(req)
		}

		for _, input := range node.Inputs {
			requests[input], counts[input] = mergePageRequests(requests[input], counts[input], incoming)
		}
	}
	return requests
}

func paginateBounds(cfg *domain.PipelinePaginateConfig) (int, int) {
	limit, offset := 0, 0
	if cfg.Limit != nil {
		limit = *cfg.Limit
	}
	if cfg.Offset != nil {
		offset = *cfg.Offset
	}
	return limit, offset
}

func nodeLabel(node domain.PipelineNode) string {
	if node.Name != "" {
		return node.Name
	}
	return node.ID.String()
}

func (e *Executor) executeNode(
	ctx context.Context,
	node domain.PipelineNode,
	req pageRequest,
	results map[uuid.UUID][]domain.Record,
) ([]domain.Record, error) {
	switch node.Type {
	case domain.PipelineNodeLoad:
		return e.executeLoad(ctx, node, req)
	case domain.PipelineNodeFilter:
		return e.executeFilter(node, results, req)
	case domain.PipelineNodeProject:
		return e.executeProject(node, results, req)
	case domain.PipelineNodeJoin, domain.PipelineNodeLeftJoin, domain.PipelineNodeAntiJoin:
		return e.executeJoin(ctx, node, results, req)
	case domain.PipelineNodeUnion:
		return e.executeUnion(node, results, req)
	case domain.PipelineNodeSort:
		return e.executeSort(node, results)
	case domain.PipelineNodePaginate:
		return e.executePaginate(node, results)
	default:
		return nil, fmt.Errorf("unsupported node type %s", node.Type)
	}
}

func (e *Executor) executeLoad(ctx context.Context, node domain.PipelineNode, req pageRequest) ([]domain.Record, error) {
	if node.Load == nil {
		return nil, fmt.Errorf("load node missing configuration")
	}
	if e.loader == nil {
		return nil, fmt.Errorf("load node requires a record loader")
	}
	loaded, err := e.loader.ListByDataset(ctx, node.Load.DatasetID, node.Load.Filters)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	capacity := len(loaded)
	if req.limit > 0 && req.limit < capacity {
		capacity = req.limit
	}
	records := make([]domain.Record, 0, capacity)
	limiter := newPageLimiter(req)
	for _, record := range loaded {
		if !limiter.ShouldContinue() {
			break
		}
		if !domain.ApplyPropertyFilters(record, node.Load.Filters) {
			continue
		}
		if !limiter.Consider() {
			continue
		}
		records = append(records, domain.PrefixRecord(record, node.Load.Alias))
	}
	return records, nil
}

func singleInput(node domain.PipelineNode, results map[uuid.UUID][]domain.Record) ([]domain.Record, error) {
	kind := strings.ToLower(string(node.Type))
	if len(node.Inputs) != 1 {
		return nil, fmt.Errorf("%s node requires exactly one input", kind)
	}
	records, ok := results[node.Inputs[0]]
	if !ok {
		return nil, fmt.Errorf("%s input not found", kind)
	}
	return records, nil
}

func (e *Executor) executeFilter(node domain.PipelineNode, results map[uuid.UUID][]domain.Record, req pageRequest) ([]domain.Record, error) {
	if node.Filter == nil {
		return nil, fmt.Errorf("filter node missing configuration")
	}
	inputRecords, err := singleInput(node, results)
	if err != nil {
		return nil, err
	}
	limiter := newPageLimiter(req)
	filtered := make([]domain.Record, 0, len(inputRecords))
	for _, record := range inputRecords {
		if !limiter.ShouldContinue() {
			break
		}
		if domain.ApplyPropertyFilters(record, node.Filter.Filters) && limiter.Consider() {
			filtered = append(filtered, record.Clone())
		}
	}
	return filtered, nil
}

func (e *Executor) executeProject(node domain.PipelineNode, results map[uuid.UUID][]domain.Record, req pageRequest) ([]domain.Record, error) {
	if node.Project == nil {
		return nil, fmt.Errorf("project node missing configuration")
	}
	inputRecords, err := singleInput(node, results)
	if err != nil {
		return nil, err
	}
	limiter := newPageLimiter(req)
	projected := make([]domain.Record, 0, len(inputRecords))
	for _, record := range inputRecords {
		if !limiter.ShouldContinue() {
			break
		}
		if limiter.Consider() {
			projected = append(projected, domain.ProjectRecord(record, node.Project.Fields))
		}
	}
	return projected, nil
}

type joinCacheKey struct {
	Type   domain.PipelineNodeType    `json:"type"`
	Config *domain.PipelineJoinConfig `json:"config"`
	Left   []domain.Record            `json:"left"`
	Right  []domain.Record            `json:"right"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

func (e *Executor) executeJoin(ctx context.Context, node domain.PipelineNode, results map[uuid.UUID][]domain.Record, req pageRequest) ([]domain.Record, error) {
	if len(node.Inputs) != 2 {
		return nil, fmt.Errorf("join node requires two inputs")
	}
	if node.Join == nil {
		return nil, fmt.Errorf("join node missing configuration")
	}
	if node.Join.LeftField == "" || node.Join.RightField == "" {
		return nil, fmt.Errorf("join node requires leftField and rightField")
	}
	leftRecords, ok := results[node.Inputs[0]]
	if !ok {
		return nil, fmt.Errorf("join left input missing")
	}
	rightRecords, ok := results[node.Inputs[1]]
	if !ok {
		return nil, fmt.Errorf("join right input missing")
	}

	if e.joins == nil {
		return joinRecords(node.Type, node.Join, leftRecords, rightRecords, req), nil
	}

	key, err := cache.Key(joinCacheKey{
		Type:   node.Type,
		Config: node.Join,
		Left:   leftRecords,
		Right:  rightRecords,
		Limit:  req.limit,
		Offset: req.offset,
	})
	if err != nil {
		e.logger.Warn("join cache key failed, joining without memoization", zap.Error(err))
		return joinRecords(node.Type, node.Join, leftRecords, rightRecords, req), nil
	}
	joined, err := e.joins.GetOrLoad(ctx, key, func(context.Context) ([]domain.Record, error) {
		return joinRecords(node.Type, node.Join, leftRecords, rightRecords, req), nil
	})
	if err != nil {
		return nil, err
	}
	// Cached slices are shared; hand out copies.
	return cloneRecords(joined), nil
}

func joinRecords(kind domain.PipelineNodeType, cfg *domain.PipelineJoinConfig, leftRecords, rightRecords []domain.Record, req pageRequest) []domain.Record {
	rightIndex := make(map[string][]int)
	for idx, record := range rightRecords {
		for _, key := range joinKeys(record[cfg.RightField]) {
			rightIndex[key] = append(rightIndex[key], idx)
		}
	}

	limiter := newPageLimiter(req)
	results := []domain.Record{}
	for _, leftRecord := range leftRecords {
		if !limiter.ShouldContinue() {
			break
		}
		var matches []int
		seen := make(map[int]struct{})
		for _, key := range joinKeys(leftRecord[cfg.LeftField]) {
			for _, idx := range rightIndex[key] {
				if _, ok := seen[idx]; ok {
					continue
				}
				seen[idx] = struct{}{}
				matches = append(matches, idx)
			}
		}

		switch kind {
		case domain.PipelineNodeJoin:
			for _, idx := range matches {
				if !limiter.ShouldContinue() {
					break
				}
				if limiter.Consider() {
					results = append(results, mergeRecords(leftRecord, rightRecords[idx], cfg.RightAlias))
				}
			}
		case domain.PipelineNodeLeftJoin:
			if len(matches) == 0 {
				if limiter.Consider() {
					results = append(results, leftRecord.Clone())
				}
				continue
			}
			for _, idx := range matches {
				if !limiter.ShouldContinue() {
					break
				}
				if limiter.Consider() {
					results = append(results, mergeRecords(leftRecord, rightRecords[idx], cfg.RightAlias))
				}
			}
		case domain.PipelineNodeAntiJoin:
			if len(matches) == 0 && limiter.Consider() {
				results = append(results, leftRecord.Clone())
			}
		}
	}
	return results
}

// joinKeys renders a join field as match keys. Arrays match on any element;
// missing and empty values never match.
func joinKeys(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	case []string:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			keys = append(keys, joinKeys(item)...)
		}
		return keys
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			keys = append(keys, joinKeys(item)...)
		}
		return keys
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func (e *Executor) executeUnion(node domain.PipelineNode, results map[uuid.UUID][]domain.Record, req pageRequest) ([]domain.Record, error) {
	if len(node.Inputs) == 0 {
		return nil, fmt.Errorf("union node requires at least one input")
	}
	limiter := newPageLimiter(req)
	unioned := []domain.Record{}
	for _, input := range node.Inputs {
		if !limiter.ShouldContinue() {
			break
		}
		inputRecords, ok := results[input]
		if !ok {
			return nil, fmt.Errorf("union input missing")
		}
		for _, record := range inputRecords {
			if !limiter.ShouldContinue() {
				break
			}
			if limiter.Consider() {
				unioned = append(unioned, record.Clone())
			}
		}
	}
	return unioned, nil
}

func (e *Executor) executeSort(node domain.PipelineNode, results map[uuid.UUID][]domain.Record) ([]domain.Record, error) {
	if node.Sort == nil {
		return nil, fmt.Errorf("sort node missing configuration")
	}
	inputRecords, err := singleInput(node, results)
	if err != nil {
		return nil, err
	}
	cloned := cloneRecords(inputRecords)
	if node.Sort.Field == "" {
		return cloned, nil
	}
	domain.SortRecords(cloned, node.Sort.Field, node.Sort.Direction)
	return cloned, nil
}

func (e *Executor) executePaginate(node domain.PipelineNode, results map[uuid.UUID][]domain.Record) ([]domain.Record, error) {
	if node.Paginate == nil {
		return nil, fmt.Errorf("paginate node missing configuration")
	}
	inputRecords, err := singleInput(node, results)
	if err != nil {
		return nil, err
	}
	limit, offset := paginateBounds(node.Paginate)
	return domain.PaginateRecords(cloneRecords(inputRecords), limit, offset), nil
}

func mergeRecords(left, right domain.Record, rightAlias string) domain.Record {
	merged := left.Clone()
	for key, value := range domain.PrefixRecord(right, rightAlias) {
		merged[key] = value
	}
	return merged
}

func cloneRecords(records []domain.Record) []domain.Record {
	cloned := make([]domain.Record, len(records))
	for i, record := range records {
		cloned[i] = record.Clone()
	}
	return cloned
}
