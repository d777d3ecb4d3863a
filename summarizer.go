package reverie

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// Annotation is the summarizer's structured output for one record.
type Annotation struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// Validate implements zyn.Validator.
func (a Annotation) Validate() error {
	if a.Summary == "" {
		return fmt.Errorf("summary required")
	}
	return nil
}

const summarizerRole = "a one-line summary of the text plus a small set of lowercase " +
	"topic tags for associative retrieval"

// Summarizer condenses stored records into summaries and retrieval
// tags after the response has been delivered. It is strictly
// best-effort: a record without annotations is still retrievable by
// recency and similarity, so nothing here fails the turn.
type Summarizer struct {
	store    Store
	provider Provider
}

// NewSummarizer creates a summarizer over the given store.
func NewSummarizer(store Store, provider Provider) *Summarizer {
	return &Summarizer{store: store, provider: provider}
}

// Annotate summarizes and tags the text, writing the annotation back
// onto the record. The annotation is returned so callers can reuse the
// tags for interaction linking.
func (s *Summarizer) Annotate(ctx context.Context, session *zyn.Session, recordID, text string) (Annotation, error) {
	start := time.Now()
	capitan.Emit(ctx, StageStarted, FieldStage.Field("summarizer"))

	ann, err := s.Summarize(ctx, session, text)
	if err != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("summarizer"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return Annotation{}, err
	}

	if err := s.store.Annotate(ctx, recordID, ann.Summary, ann.Tags); err != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("summarizer"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return ann, fmt.Errorf("summarizer: %w", err)
	}

	capitan.Emit(ctx, RecordAnnotated, FieldRecord.Field(recordID))
	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field("summarizer"),
		FieldDuration.Field(time.Since(start)),
	)
	return ann, nil
}

// Summarize produces an annotation without persisting it.
func (s *Summarizer) Summarize(ctx context.Context, session *zyn.Session, text string) (Annotation, error) {
	result, err := Invoke[Annotation](ctx, session, summarizerRole, text, DefaultReasoningTemperature, s.provider)
	if err != nil {
		return Annotation{}, fmt.Errorf("summarizer: %w", err)
	}
	if result.Fallback {
		// Raw text stands in as the summary; tags are simply absent.
		return Annotation{Summary: result.Raw}, nil
	}
	return result.Value, nil
}
