package reverie

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/zoobzio/zyn"
)

// probe is a minimal extraction schema for exercising Invoke.
type probe struct {
	Answer string `json:"answer"`
}

func (p probe) Validate() error {
	if p.Answer == "" {
		return fmt.Errorf("answer required")
	}
	return nil
}

// mockInvokeProvider drives Invoke through its paths: valid extraction,
// schema failure with transform fallback, or a dead backend.
type mockInvokeProvider struct {
	extractContent string
	backendDown    bool
	callCount      int
}

func (m *mockInvokeProvider) Call(_ context.Context, messages []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	m.callCount++

	if m.backendDown {
		return nil, fmt.Errorf("%w: connection refused", ErrBackend)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	last := messages[len(messages)-1]
	if strings.Contains(last.Content, "Transform:") {
		return &zyn.ProviderResponse{
			Content: `{"output": "unstructured but useful text", "confidence": 0.8, "changes": [], "reasoning": ["fell back to prose"]}`,
			Usage:   zyn.TokenUsage{Prompt: 10, Completion: 10, Total: 20},
		}, nil
	}
	return &zyn.ProviderResponse{
		Content: m.extractContent,
		Usage:   zyn.TokenUsage{Prompt: 10, Completion: 10, Total: 20},
	}, nil
}

func (m *mockInvokeProvider) Name() string {
	return "mock"
}

func TestInvokeStructuredSuccess(t *testing.T) {
	provider := &mockInvokeProvider{extractContent: `{"answer": "forty-two"}`}

	result, err := Invoke[probe](context.Background(), zyn.NewSession(), "a test answer", "what is the answer?", 0.2, provider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fallback {
		t.Error("expected structured result, not fallback")
	}
	if result.Value.Answer != "forty-two" {
		t.Errorf("expected 'forty-two', got %q", result.Value.Answer)
	}
	if provider.callCount != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount)
	}
}

func TestInvokeSchemaFallback(t *testing.T) {
	provider := &mockInvokeProvider{extractContent: `{"wrong_field": true}`}

	result, err := Invoke[probe](context.Background(), zyn.NewSession(), "a test answer", "what is the answer?", 0.2, provider)
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if !result.Fallback {
		t.Fatal("expected fallback result")
	}
	if result.Raw != "unstructured but useful text" {
		t.Errorf("expected transform output as raw text, got %q", result.Raw)
	}
	if provider.callCount != 2 {
		t.Errorf("expected 2 provider calls (extract then transform), got %d", provider.callCount)
	}
}

func TestInvokeBackendFailure(t *testing.T) {
	provider := &mockInvokeProvider{backendDown: true}

	result, err := Invoke[probe](context.Background(), zyn.NewSession(), "a test answer", "what is the answer?", 0.2, provider)
	if err == nil {
		t.Fatal("expected error from dead backend")
	}
	if result.Fallback {
		t.Error("dead backend must not produce a fallback result")
	}
}

func TestInvokeProviderFromContext(t *testing.T) {
	provider := &mockInvokeProvider{extractContent: `{"answer": "forty-two"}`}
	ctx := WithProvider(context.Background(), provider)

	result, err := Invoke[probe](ctx, zyn.NewSession(), "a test answer", "what is the answer?", 0.2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value.Answer != "forty-two" {
		t.Errorf("expected the context override to serve the call, got %q", result.Value.Answer)
	}
}

func TestInvokeNoProvider(t *testing.T) {
	_, err := Invoke[probe](context.Background(), zyn.NewSession(), "a test answer", "prompt", 0.2, nil)
	if err == nil {
		t.Fatal("expected error with no provider anywhere")
	}
}
