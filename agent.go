package reverie

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// Provider is a text-generation backend. It mirrors zyn's provider
// contract so any zyn-compatible backend plugs in directly.
type Provider interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

// ErrNoProvider is returned when a stage has no provider and the
// context carries no override.
var ErrNoProvider = errors.New("no provider configured for stage")

type providerKey struct{}

// WithProvider attaches a per-request provider override to the
// context. Stages constructed with their own provider ignore it; it
// exists for callers that build stages without one.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// resolveProvider picks the backend for one call: the stage's own
// provider wins, then a context override, otherwise ErrNoProvider.
// There is no process-global fallback; providers always arrive through
// construction or the request.
func resolveProvider(ctx context.Context, stage Provider) (Provider, error) {
	if stage != nil {
		return stage, nil
	}
	if p, ok := ctx.Value(providerKey{}).(Provider); ok {
		return p, nil
	}
	return nil, ErrNoProvider
}

// StructuredResult is the outcome of a structured call: either a value
// conforming to the schema T, or the backend's raw text with the
// Fallback marker set when schema validation failed. Downstream stages
// must treat fallback text as low-confidence input.
type StructuredResult[T zyn.Validator] struct {
	Value    T
	Raw      string
	Fallback bool
}

// Invoke issues one bounded structured call to the generation backend.
//
// The role describes what to extract (it becomes the synapse task) and
// the prompt carries the free-text input. On success the result holds a
// validated T. If the backend answers but the response fails schema
// validation, Invoke degrades to a raw-text fallback via a transform
// synapse instead of returning an error. Network and timeout failures
// surface as typed errors and are never swallowed at this layer.
func Invoke[T zyn.Validator](ctx context.Context, session *zyn.Session, role, prompt string, temperature float32, stageProvider Provider) (StructuredResult[T], error) {
	var result StructuredResult[T]

	provider, err := resolveProvider(ctx, stageProvider)
	if err != nil {
		return result, fmt.Errorf("invoke: %w", err)
	}

	extractSynapse, err := zyn.Extract[T](role, provider)
	if err != nil {
		return result, fmt.Errorf("invoke: failed to create extract synapse: %w", err)
	}

	extracted, extractErr := extractSynapse.FireWithInput(ctx, session, zyn.ExtractionInput{
		Text:        prompt,
		Temperature: temperature,
	})
	if extractErr == nil {
		result.Value = extracted
		return result, nil
	}

	// A dead backend or canceled context cannot produce a fallback.
	if errors.Is(extractErr, ErrBackend) || ctx.Err() != nil {
		return result, fmt.Errorf("invoke: %w", extractErr)
	}

	// Schema validation failed; retry for raw text so the pipeline can
	// continue with a low-confidence result.
	transformSynapse, err := zyn.Transform(role, provider)
	if err != nil {
		return result, fmt.Errorf("invoke: %w", extractErr)
	}

	raw, transformErr := transformSynapse.FireWithInput(ctx, session, zyn.TransformInput{
		Text:        prompt,
		Temperature: temperature,
	})
	if transformErr != nil {
		return result, fmt.Errorf("invoke: %w", extractErr)
	}

	capitan.Emit(ctx, StageFallback,
		FieldError.Field(extractErr),
	)

	result.Raw = raw
	result.Fallback = true
	return result, nil
}
