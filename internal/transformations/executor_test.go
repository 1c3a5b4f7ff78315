package transformations

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rpattn/reportql/internal/cache"
	"github.com/rpattn/reportql/internal/domain"
)

type mockRecordLoader struct {
	datasets map[uuid.UUID][]domain.Record
	calls    int
	err      error
}

func (m *mockRecordLoader) ListByDataset(ctx context.Context, datasetID uuid.UUID, filters []domain.PropertyFilter) ([]domain.Record, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var result []domain.Record
	for _, record := range m.datasets[datasetID] {
		result = append(result, record.Clone())
	}
	return result, nil
}

func intPtr(v int) *int { return &v }

func TestExecutor_LoadAndFilter(t *testing.T) {
	datasetID := uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		datasetID: {
			{"status": "active", "name": "Ada"},
			{"status": "inactive", "name": "Bob"},
			{"status": "active", "name": "Cy"},
		},
	}}
	loadID := uuid.New()
	filterID := uuid.New()
	pipeline := domain.Pipeline{
		ID:   uuid.New(),
		Name: "active-users",
		Nodes: []domain.PipelineNode{
			{ID: loadID, Name: "load-users", Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: datasetID, Alias: "users"}},
			{
				ID:     filterID,
				Name:   "active-only",
				Type:   domain.PipelineNodeFilter,
				Inputs: []uuid.UUID{loadID},
				Filter: &domain.PipelineFilterConfig{Filters: []domain.PropertyFilter{{Key: "users.status", Value: "active"}}},
			},
		},
	}

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TotalCount != 2 {
		t.Fatalf("expected total count 2, got %d", result.TotalCount)
	}
	if got := result.Records[0]["users.name"]; got != "Ada" {
		t.Fatalf("expected prefixed name Ada, got %v", got)
	}
	if _, ok := result.Records[0]["name"]; ok {
		t.Fatalf("expected unprefixed field to be renamed")
	}
}

func TestExecutor_LoadAppliesFilters(t *testing.T) {
	datasetID := uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		datasetID: {{"region": "EU"}, {"region": "US"}},
	}}
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: uuid.New(), Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{
			DatasetID: datasetID,
			Filters:   []domain.PropertyFilter{{Key: "region", InArray: []string{"US"}}},
		}},
	}}

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0]["region"] != "US" {
		t.Fatalf("expected only the US record, got %v", result.Records)
	}
}

func TestExecutor_ProjectSortPaginate(t *testing.T) {
	datasetID := uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		datasetID: {
			{"name": "a", "amount": 5, "noise": true},
			{"name": "b", "amount": 20, "noise": true},
			{"name": "c", "amount": 10, "noise": true},
			{"name": "d", "noise": true},
		},
	}}
	loadID, projectID, sortID, pageID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: loadID, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: datasetID}},
		{ID: projectID, Type: domain.PipelineNodeProject, Inputs: []uuid.UUID{loadID}, Project: &domain.PipelineProjectConfig{Fields: []string{"name", "amount"}}},
		{ID: sortID, Type: domain.PipelineNodeSort, Inputs: []uuid.UUID{projectID}, Sort: &domain.PipelineSortConfig{Field: "amount", Direction: domain.SortDirectionDesc}},
		{ID: pageID, Type: domain.PipelineNodePaginate, Inputs: []uuid.UUID{sortID}, Paginate: &domain.PipelinePaginateConfig{Limit: intPtr(2), Offset: intPtr(1)}},
	}}

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if result.Records[0]["name"] != "c" || result.Records[1]["name"] != "a" {
		t.Fatalf("unexpected order: %v", result.Records)
	}
	if _, ok := result.Records[0]["noise"]; ok {
		t.Fatalf("expected projected record to drop noise")
	}
}

func TestExecutor_ExecutionOptionsPageFinalNode(t *testing.T) {
	datasetID := uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		datasetID: {{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}},
	}}
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: uuid.New(), Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: datasetID}},
	}}

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Records) != 2 || result.Records[0]["n"] != 2 || result.Records[1]["n"] != 3 {
		t.Fatalf("unexpected page: %v", result.Records)
	}
}

func joinPipeline(kind domain.PipelineNodeType, ordersID, customersID uuid.UUID) domain.Pipeline {
	leftID, rightID := uuid.New(), uuid.New()
	return domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: leftID, Name: "orders", Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: ordersID}},
		{ID: rightID, Name: "customers", Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: customersID}},
		{
			ID:     uuid.New(),
			Name:   "join",
			Type:   kind,
			Inputs: []uuid.UUID{leftID, rightID},
			Join:   &domain.PipelineJoinConfig{LeftField: "customer", RightField: "id", RightAlias: "customer"},
		},
	}}
}

func joinLoader() (*mockRecordLoader, uuid.UUID, uuid.UUID) {
	ordersID, customersID := uuid.New(), uuid.New()
	return &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		ordersID: {
			{"order": "o1", "customer": "c1"},
			{"order": "o2", "customer": "c2"},
			{"order": "o3", "customer": "c9"},
			{"order": "o4"},
		},
		customersID: {
			{"id": "c1", "region": "EU"},
			{"id": "c2", "region": "US"},
		},
	}}, ordersID, customersID
}

func TestExecutor_Joins(t *testing.T) {
	cases := []struct {
		kind   domain.PipelineNodeType
		orders []string
	}{
		{domain.PipelineNodeJoin, []string{"o1", "o2"}},
		{domain.PipelineNodeLeftJoin, []string{"o1", "o2", "o3", "o4"}},
		{domain.PipelineNodeAntiJoin, []string{"o3", "o4"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			loader, ordersID, customersID := joinLoader()
			result, err := NewExecutor(loader).Execute(context.Background(), joinPipeline(tc.kind, ordersID, customersID), ExecutionOptions{})
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if len(result.Records) != len(tc.orders) {
				t.Fatalf("expected %d records, got %d: %v", len(tc.orders), len(result.Records), result.Records)
			}
			for i, order := range tc.orders {
				if result.Records[i]["order"] != order {
					t.Fatalf("record %d: expected order %s, got %v", i, order, result.Records[i]["order"])
				}
			}
			if tc.kind == domain.PipelineNodeJoin && result.Records[0]["customer.region"] != "EU" {
				t.Fatalf("expected right fields prefixed with alias, got %v", result.Records[0])
			}
		})
	}
}

func TestExecutor_JoinMatchesArrayValues(t *testing.T) {
	leftID, rightID := uuid.New(), uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		leftID:  {{"tags": []any{"x", "y"}}},
		rightID: {{"tag": "y", "weight": 2}, {"tag": "z", "weight": 3}},
	}}
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: uuid.New(), Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: leftID}},
	}}
	leftNode := pipeline.Nodes[0].ID
	rightNode := uuid.New()
	pipeline.Nodes = append(pipeline.Nodes,
		domain.PipelineNode{ID: rightNode, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: rightID, Alias: "t"}},
		domain.PipelineNode{ID: uuid.New(), Type: domain.PipelineNodeJoin, Inputs: []uuid.UUID{leftNode, rightNode}, Join: &domain.PipelineJoinConfig{LeftField: "tags", RightField: "t.tag"}},
	)

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0]["t.weight"] != 2 {
		t.Fatalf("expected single match on y, got %v", result.Records)
	}
}

func TestExecutor_JoinCacheMemoizes(t *testing.T) {
	joins, err := cache.New[[]domain.Record](4)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	loader, ordersID, customersID := joinLoader()
	executor := NewExecutor(loader, WithJoinCache(joins))
	pipeline := joinPipeline(domain.PipelineNodeJoin, ordersID, customersID)

	first, err := executor.Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	first.Records[0]["order"] = "mutated"

	second, err := executor.Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if second.Records[0]["order"] != "o1" {
		t.Fatalf("cached join output leaked a caller mutation: %v", second.Records[0])
	}
	stats := joins.Stats()
	if stats.Entries != 1 || stats.Hits != 1 {
		t.Fatalf("expected one cached join with one hit, got %+v", stats)
	}
}

func TestExecutor_Union(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loader := &mockRecordLoader{datasets: map[uuid.UUID][]domain.Record{
		a: {{"v": 1}},
		b: {{"v": 2}, {"v": 3}},
	}}
	loadA, loadB := uuid.New(), uuid.New()
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: loadA, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: a}},
		{ID: loadB, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: b}},
		{ID: uuid.New(), Type: domain.PipelineNodeUnion, Inputs: []uuid.UUID{loadA, loadB}},
	}}

	result, err := NewExecutor(loader).Execute(context.Background(), pipeline, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TotalCount != 3 {
		t.Fatalf("expected 3 records, got %d", result.TotalCount)
	}
}

func TestExecutor_Errors(t *testing.T) {
	loadErr := errors.New("db down")
	datasetID := uuid.New()
	loadID := uuid.New()

	cases := map[string]struct {
		loader   *mockRecordLoader
		pipeline domain.Pipeline
		target   error
	}{
		"load failure": {
			loader: &mockRecordLoader{err: loadErr},
			pipeline: domain.Pipeline{Nodes: []domain.PipelineNode{
				{ID: loadID, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: datasetID}},
			}},
			target: loadErr,
		},
		"missing config": {
			loader: &mockRecordLoader{},
			pipeline: domain.Pipeline{Nodes: []domain.PipelineNode{
				{ID: loadID, Type: domain.PipelineNodeLoad},
			}},
		},
		"join arity": {
			loader: &mockRecordLoader{},
			pipeline: domain.Pipeline{Nodes: []domain.PipelineNode{
				{ID: loadID, Type: domain.PipelineNodeLoad, Load: &domain.PipelineLoadConfig{DatasetID: datasetID}},
				{ID: uuid.New(), Type: domain.PipelineNodeJoin, Inputs: []uuid.UUID{loadID}, Join: &domain.PipelineJoinConfig{LeftField: "a", RightField: "b"}},
			}},
		},
		"unknown type": {
			loader: &mockRecordLoader{},
			pipeline: domain.Pipeline{Nodes: []domain.PipelineNode{
				{ID: loadID, Type: "PIVOT"},
			}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewExecutor(tc.loader).Execute(context.Background(), tc.pipeline, ExecutionOptions{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("expected %v in chain, got %v", tc.target, err)
			}
		})
	}
}

func TestExecutor_CycleRejected(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	pipeline := domain.Pipeline{Nodes: []domain.PipelineNode{
		{ID: a, Type: domain.PipelineNodeFilter, Inputs: []uuid.UUID{b}, Filter: &domain.PipelineFilterConfig{}},
		{ID: b, Type: domain.PipelineNodeFilter, Inputs: []uuid.UUID{a}, Filter: &domain.PipelineFilterConfig{}},
	}}
	if _, err := NewExecutor(&mockRecordLoader{}).Execute(context.Background(), pipeline, ExecutionOptions{}); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestExecutor_EmptyPipeline(t *testing.T) {
	result, err := NewExecutor(&mockRecordLoader{}).Execute(context.Background(), domain.Pipeline{}, ExecutionOptions{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Records == nil || len(result.Records) != 0 {
		t.Fatalf("expected empty non-nil records, got %#v", result.Records)
	}
}
