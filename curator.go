package reverie

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// QueryKind selects the retrieval strategy for a curator query.
type QueryKind string

// Query kinds the curator may request.
const (
	QueryByTags       QueryKind = "tags"
	QueryBySimilarity QueryKind = "similarity"
)

// Query is one retrieval instruction for the context assembler.
type Query struct {
	Kind QueryKind `json:"kind"`
	Tags []string  `json:"tags,omitempty"`
	Text string    `json:"text,omitempty"`
}

// CuratorPlan is the curator's structured output: queries to execute
// against the memory store and atomic facts worth persisting now.
type CuratorPlan struct {
	Queries []Query  `json:"queries_to_execute"`
	Facts   []string `json:"facts_to_store"`
}

// Validate implements zyn.Validator.
func (p CuratorPlan) Validate() error {
	for i, q := range p.Queries {
		switch q.Kind {
		case QueryByTags:
			if len(q.Tags) == 0 {
				return fmt.Errorf("query %d: tag query without tags", i)
			}
		case QueryBySimilarity:
			if q.Text == "" {
				return fmt.Errorf("query %d: similarity query without text", i)
			}
		default:
			return fmt.Errorf("query %d: unknown kind %q", i, q.Kind)
		}
	}
	return nil
}

const curatorRole = "retrieval plan for an associative memory store: which stored " +
	"context to fetch (by tags or by semantic similarity) and which atomic facts " +
	"from the request are worth persisting"

// Curator decides what the assembler should fetch and which new facts
// to persist. It is a pure function of its input plus one structured
// call; facts are handed off to the engine's insight queue, never
// written here.
type Curator struct {
	provider Provider
}

// NewCurator creates a curator. A nil provider resolves through the
// context/global hierarchy.
func NewCurator(provider Provider) *Curator {
	return &Curator{provider: provider}
}

// Plan produces refinement queries and facts for the given request.
// The request is the raw user message on the first pass and the
// thinker's information requests on refinement passes. A chunk note,
// when present, tells the backend the input arrived split.
func (c *Curator) Plan(ctx context.Context, session *zyn.Session, request, chunkNote string) (CuratorPlan, error) {
	start := time.Now()
	capitan.Emit(ctx, StageStarted, FieldStage.Field("curator"))

	prompt := request
	if chunkNote != "" {
		prompt = request + "\n\nLong input split into chunks. Store all information for later synthesis.\nChunk info: " + chunkNote
	}

	result, err := Invoke[CuratorPlan](ctx, session, curatorRole, prompt, DefaultReasoningTemperature, c.provider)
	if err != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("curator"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return CuratorPlan{}, fmt.Errorf("curator: %w", err)
	}

	plan := result.Value
	if result.Fallback {
		// Unstructured output: nothing safe to query or persist, but
		// the turn continues with the context it already has.
		plan = CuratorPlan{}
	}

	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field("curator"),
		FieldDuration.Field(time.Since(start)),
		FieldItemCount.Field(len(plan.Queries)),
	)
	return plan, nil
}
