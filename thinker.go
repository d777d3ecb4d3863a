package reverie

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// thinkerVerdict is one cycle's structured output from the backend.
type thinkerVerdict struct {
	Reasoning           string   `json:"reasoning"`
	Facts               []string `json:"facts"`
	Assumptions         []string `json:"assumptions"`
	InformationRequests []string `json:"information_requests"`
	ContextSufficient   bool     `json:"is_context_sufficient"`
	CassandraFlags      []string `json:"cassandra_flags"`
}

// Validate implements zyn.Validator.
func (v thinkerVerdict) Validate() error {
	if v.Reasoning == "" {
		return fmt.Errorf("reasoning required")
	}
	return nil
}

const thinkerRole = "analytical reasoning over a user message and retrieved context: " +
	"a reasoning trace separating facts from assumptions, explicit requests for any " +
	"missing information, a self-assessed context-sufficiency verdict, and cassandra " +
	"flags for any inconsistency or risk signal against stored history"

// Thinker is the bounded iterative-refinement stage. It loops
// analyzing and gathering until the backend judges context sufficient
// or the cycle cap forces a best-effort exit. The cap bounds backend
// spend on pathological inputs; cap exit is a defined terminal state,
// not an error.
type Thinker struct {
	store     Store
	assembler *Assembler
	curator   *Curator
	provider  Provider
	cycleCap  int
}

// NewThinker creates a thinker. The curator translates the thinker's
// information requests into assembler queries on refinement passes.
func NewThinker(store Store, assembler *Assembler, curator *Curator, provider Provider, cycleCap int) *Thinker {
	if cycleCap < 1 {
		cycleCap = DefaultThinkerCycleCap
	}
	return &Thinker{
		store:     store,
		assembler: assembler,
		curator:   curator,
		provider:  provider,
		cycleCap:  cycleCap,
	}
}

// ThinkerOutput carries the persisted analysis plus the facts the
// curator surfaced while refining, destined for the insight queue.
type ThinkerOutput struct {
	Analysis *Analysis
	Bundle   *ContextBundle
	Facts    []string
}

// Think runs the loop for one exchange and persists exactly one
// Analysis. Cassandra flags raised mid-loop are persisted immediately
// against the pre-allocated analysis ID, independent of how the loop
// terminates.
func (t *Thinker) Think(ctx context.Context, session *zyn.Session, messageID, message string, bundle *ContextBundle) (*ThinkerOutput, error) {
	start := time.Now()
	capitan.Emit(ctx, StageStarted, FieldStage.Field("thinker"), FieldCycleCap.Field(t.cycleCap))

	analysisID := uuid.New().String()
	out := &ThinkerOutput{Bundle: bundle}

	var reasoning []string
	var facts []string
	var requests []string
	outcome := ""
	cycles := 0
	flagCount := 0

	for cycles < t.cycleCap {
		cycles++

		verdict, fellBack, err := t.analyze(ctx, session, message, bundle, reasoning)
		if err != nil {
			capitan.Error(ctx, StageFailed,
				FieldStage.Field("thinker"),
				FieldDuration.Field(time.Since(start)),
				FieldError.Field(err),
			)
			return nil, fmt.Errorf("thinker: %w", err)
		}

		if fellBack {
			// Raw-text analysis: keep it as the trace and stop looping,
			// marking the result low-confidence.
			reasoning = append(reasoning, verdict.Reasoning)
			outcome = OutcomeFallback
			break
		}

		reasoning = append(reasoning, verdict.Reasoning)
		facts = append(facts, verdict.Facts...)
		requests = verdict.InformationRequests

		// Flags persist even if the loop later exits via the cap.
		for _, flag := range verdict.CassandraFlags {
			if strings.TrimSpace(flag) == "" {
				continue
			}
			flagCount++
			if _, err := t.store.PutFlag(ctx, &CassandraFlag{
				AnalysisID: analysisID,
				Flag:       flag,
			}); err != nil {
				capitan.Error(ctx, StageFailed,
					FieldStage.Field("thinker"),
					FieldError.Field(fmt.Errorf("failed to persist cassandra flag: %w", err)),
				)
			} else {
				capitan.Emit(ctx, CassandraRaised,
					FieldCycle.Field(cycles),
					FieldFlagCount.Field(flagCount),
				)
			}
		}

		capitan.Emit(ctx, ThinkerCycleCompleted,
			FieldCycle.Field(cycles),
			FieldItemCount.Field(len(bundle.Items)),
		)

		if verdict.ContextSufficient {
			outcome = OutcomeSufficient
			break
		}
		if len(verdict.InformationRequests) == 0 {
			// Insufficient but nothing left to ask for.
			outcome = OutcomeExhausted
			break
		}
		if cycles >= t.cycleCap {
			break
		}

		// GATHERING: curator translates the requests, assembler executes.
		request := strings.Join(verdict.InformationRequests, "\n")
		plan, planErr := t.curator.Plan(ctx, session, request, "")
		if planErr != nil {
			// Refinement failed; proceed with the context we have.
			outcome = OutcomeExhausted
			break
		}
		out.Facts = append(out.Facts, plan.Facts...)
		added := t.assembler.Fetch(ctx, bundle, plan.Queries)
		if len(added) == 0 {
			// No new information is reachable; looping again cannot help.
			outcome = OutcomeExhausted
			break
		}
		bundle.Items = append(bundle.Items, added...)
	}
	if outcome == "" {
		outcome = OutcomeCapReached
	}

	if outcome == OutcomeCapReached {
		capitan.Emit(ctx, ThinkerCapReached,
			FieldCycle.Field(cycles),
			FieldCycleCap.Field(t.cycleCap),
		)
	}

	analysis := &Analysis{
		ID:        analysisID,
		MessageID: messageID,
		Reasoning: reasoning,
		Facts:     facts,
		Requests:  requests,
		Outcome:   outcome,
		Cycles:    cycles,
	}
	// The analysis carries a client-assigned ID, so a dead store
	// degrades the turn to non-persistent instead of aborting it.
	persisted, err := t.store.PutAnalysis(ctx, analysis)
	if err != nil {
		capitan.Error(ctx, StoreDegraded, FieldError.Field(err))
		out.Analysis = analysis
	} else {
		out.Analysis = persisted
	}

	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field("thinker"),
		FieldDuration.Field(time.Since(start)),
		FieldCycle.Field(cycles),
		FieldOutcome.Field(outcome),
	)
	return out, nil
}

// analyze runs one ANALYZING step.
func (t *Thinker) analyze(ctx context.Context, session *zyn.Session, message string, bundle *ContextBundle, priorReasoning []string) (thinkerVerdict, bool, error) {
	var sb strings.Builder
	sb.WriteString("User message: ")
	sb.WriteString(message)
	if rendered := bundle.Render(); rendered != "" {
		sb.WriteString("\n\nRetrieved context:\n")
		sb.WriteString(rendered)
	}
	if len(priorReasoning) > 0 {
		sb.WriteString("\n\nPrior reasoning:\n")
		sb.WriteString(strings.Join(priorReasoning, "\n"))
	}

	result, err := Invoke[thinkerVerdict](ctx, session, thinkerRole, sb.String(), DefaultReasoningTemperature, t.provider)
	if err != nil {
		return thinkerVerdict{}, false, err
	}
	if result.Fallback {
		return thinkerVerdict{Reasoning: result.Raw, ContextSufficient: true}, true, nil
	}
	return result.Value, false, nil
}
