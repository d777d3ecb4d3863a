package reverie

import (
	"context"
	"strings"
	"testing"

	"github.com/zoobzio/zyn"
)

// mockCuratorProvider answers curator extractions with a canned plan.
type mockCuratorProvider struct {
	invalid   bool
	lastInput string
}

func (m *mockCuratorProvider) Call(_ context.Context, messages []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	last := messages[len(messages)-1]
	m.lastInput = last.Content

	if strings.Contains(last.Content, "Transform:") {
		return &zyn.ProviderResponse{
			Content: `{"output": "could not structure a plan", "confidence": 0.5, "changes": [], "reasoning": ["prose fallback"]}`,
		}, nil
	}
	if m.invalid {
		return &zyn.ProviderResponse{Content: `{"queries_to_execute": [{"kind": "nonsense"}]}`}, nil
	}
	return &zyn.ProviderResponse{
		Content: `{"queries_to_execute": [{"kind": "tags", "tags": ["garden", "spring"]}, {"kind": "similarity", "text": "planting plans"}], "facts_to_store": ["user is planning a garden"]}`,
	}, nil
}

func (m *mockCuratorProvider) Name() string {
	return "mock"
}

func TestCuratorPlan(t *testing.T) {
	provider := &mockCuratorProvider{}
	curator := NewCurator(provider)

	plan, err := curator.Plan(context.Background(), zyn.NewSession(), "what should I plant this spring?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(plan.Queries))
	}
	if plan.Queries[0].Kind != QueryByTags || len(plan.Queries[0].Tags) != 2 {
		t.Errorf("unexpected tag query: %+v", plan.Queries[0])
	}
	if plan.Queries[1].Kind != QueryBySimilarity || plan.Queries[1].Text == "" {
		t.Errorf("unexpected similarity query: %+v", plan.Queries[1])
	}
	if len(plan.Facts) != 1 {
		t.Errorf("expected 1 fact, got %d", len(plan.Facts))
	}
}

func TestCuratorChunkNote(t *testing.T) {
	provider := &mockCuratorProvider{}
	curator := NewCurator(provider)

	_, err := curator.Plan(context.Background(), zyn.NewSession(), "part of a long message", "chunk 2 of 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(provider.lastInput, "chunk 2 of 3") {
		t.Error("expected chunk note to reach the backend")
	}
}

func TestCuratorFallbackYieldsEmptyPlan(t *testing.T) {
	provider := &mockCuratorProvider{invalid: true}
	curator := NewCurator(provider)

	plan, err := curator.Plan(context.Background(), zyn.NewSession(), "anything", "")
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if len(plan.Queries) != 0 || len(plan.Facts) != 0 {
		t.Errorf("expected empty plan on fallback, got %+v", plan)
	}
}

func TestCuratorPlanValidate(t *testing.T) {
	bad := CuratorPlan{Queries: []Query{{Kind: QueryByTags}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for tag query without tags")
	}

	bad = CuratorPlan{Queries: []Query{{Kind: QueryBySimilarity}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error for similarity query without text")
	}

	good := CuratorPlan{Queries: []Query{{Kind: QueryByTags, Tags: []string{"a"}}}}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
