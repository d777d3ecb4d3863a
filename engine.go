package reverie

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// maxSeeds bounds how many records seed one introspective chain.
const maxSeeds = 3

// cycleObservation is one introspective cycle's structured output.
type cycleObservation struct {
	Observation string `json:"observation"`
	Connection  string `json:"connection"`
}

// Validate implements zyn.Validator.
func (o cycleObservation) Validate() error {
	if o.Observation == "" {
		return fmt.Errorf("observation required")
	}
	return nil
}

// cycleSynthesis is the chain's final structured output.
type cycleSynthesis struct {
	Insight   string  `json:"insight"`
	Synthesis string  `json:"synthesis"`
	NextStep  string  `json:"next_step"`
	Urgency   float64 `json:"urgency"`
}

// Validate implements zyn.Validator.
func (s cycleSynthesis) Validate() error {
	if s.Insight == "" {
		return fmt.Errorf("insight required")
	}
	if s.Urgency < 0 || s.Urgency > 1 {
		return fmt.Errorf("urgency %v out of range [0,1]", s.Urgency)
	}
	return nil
}

const observationRole = "one introspective observation about the given memories, plus " +
	"a connection linking it to anything else in them"

const synthesisRole = "a synthesized insight from the introspective chain: the insight " +
	"itself, a short synthesis of how the chain led there, a concrete next step, and an " +
	"urgency in [0,1] for how much the user would want to hear it unprompted"

// Engine is the cyclical thinking engine: it runs introspective chains
// over stored memories during idle periods and turns them into
// insights. It is also the single write path for insights; facts
// surfaced mid-turn are queued here and absorbed as internal insights
// rather than written by the stages that found them.
type Engine struct {
	store    Store
	provider Provider
	depth    int

	mu       sync.Mutex
	visits   map[string]int
	facts    []string
	lastSeen time.Time
	lastRun  time.Time
}

// NewEngine creates an engine over the given store. depth is the number
// of introspective cycles per chain.
func NewEngine(store Store, provider Provider, depth int) *Engine {
	if depth < 1 {
		depth = DefaultCycleDepth
	}
	return &Engine{
		store:    store,
		provider: provider,
		depth:    depth,
		visits:   make(map[string]int),
		lastSeen: time.Now(),
	}
}

// Touch records user activity, deferring the idle trigger.
func (e *Engine) Touch() {
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

// QueueFacts enqueues atomic facts surfaced mid-turn for absorption.
func (e *Engine) QueueFacts(facts ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range facts {
		if strings.TrimSpace(f) == "" {
			continue
		}
		e.facts = append(e.facts, f)
	}
}

// Absorb drains the fact queue, persisting each fact as an internal
// insight. Absorbed facts never trigger proactive delivery on their
// own; they exist to be retrieved.
func (e *Engine) Absorb(ctx context.Context) ([]*Insight, error) {
	e.mu.Lock()
	pending := e.facts
	e.facts = nil
	e.mu.Unlock()

	var out []*Insight
	for _, fact := range pending {
		in, err := e.store.PutInsight(ctx, &Insight{
			Insight: fact,
			Source:  SourceInternal,
		})
		if err != nil {
			// Requeue what we could not persist.
			e.QueueFacts(pending[len(out):]...)
			return out, fmt.Errorf("engine: failed to absorb fact: %w", err)
		}
		out = append(out, in)
		// Mirror into the records table so the fact is retrievable by
		// the assembler alongside messages and responses.
		if _, err := e.store.PutRecord(ctx, &Record{Kind: KindInsight, Text: fact}); err != nil {
			capitan.Error(ctx, StageFailed,
				FieldStage.Field("engine"),
				FieldError.Field(err),
			)
		}
		capitan.Emit(ctx, InsightSynthesized,
			FieldSource.Field(SourceInternal),
			FieldUrgency.Field(float32(in.Urgency)),
		)
	}
	return out, nil
}

// Cycle runs one full introspective chain: sample seeds, observe for
// depth cycles, synthesize, persist. Returns nil without error when the
// store holds nothing to seed from.
func (e *Engine) Cycle(ctx context.Context) (*Insight, error) {
	e.mu.Lock()
	e.lastRun = time.Now()
	e.mu.Unlock()

	seeds, err := e.sampleSeeds(ctx)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	seedIDs := make(StringList, len(seeds))
	for i, s := range seeds {
		seedIDs[i] = s.ID
		capitan.Emit(ctx, SeedSelected,
			FieldSeed.Field(s.ID),
			FieldKind.Field(string(s.Kind)),
		)
	}

	session := zyn.NewSession()
	trace := make(CycleTrace, 0, e.depth)

	for cycle := 1; cycle <= e.depth; cycle++ {
		obs, err := e.observe(ctx, session, seeds, trace, cycle)
		if err != nil {
			return nil, err
		}
		trace = append(trace, CycleStep{
			Cycle:       cycle,
			Observation: obs.Observation,
			Connection:  obs.Connection,
		})
		capitan.Emit(ctx, CycleObserved,
			FieldCycle.Field(cycle),
			FieldCycleCap.Field(e.depth),
		)
	}

	syn, err := e.synthesize(ctx, session, seeds, trace)
	if err != nil {
		return nil, err
	}

	insight, err := e.store.PutInsight(ctx, &Insight{
		Seeds:     seedIDs,
		Urgency:   syn.Urgency,
		Insight:   syn.Insight,
		Trace:     trace,
		Synthesis: syn.Synthesis,
		NextStep:  syn.NextStep,
		Source:    SourceCyclical,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: failed to persist insight: %w", err)
	}
	if _, err := e.store.PutRecord(ctx, &Record{Kind: KindInsight, Text: insight.Insight}); err != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("engine"),
			FieldError.Field(err),
		)
	}

	capitan.Emit(ctx, InsightSynthesized,
		FieldSource.Field(SourceCyclical),
		FieldUrgency.Field(float32(insight.Urgency)),
	)
	return insight, nil
}

// Watch runs the idle scheduler until ctx is canceled. A chain fires
// once per idle period: after the user has been quiet for threshold,
// and not again until new activity resets the clock.
func (e *Engine) Watch(ctx context.Context, threshold time.Duration) {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	ticker := time.NewTicker(threshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			idle := time.Since(e.lastSeen) >= threshold
			fired := e.lastRun.After(e.lastSeen)
			e.mu.Unlock()
			if !idle || fired {
				continue
			}
			if _, err := e.Cycle(ctx); err != nil {
				capitan.Error(ctx, StageFailed,
					FieldStage.Field("engine"),
					FieldError.Field(err),
				)
			}
		}
	}
}

// sampleSeeds picks seed records favoring the under-revisited. Visit
// counts are process-local; a restart simply resets the bias.
func (e *Engine) sampleSeeds(ctx context.Context) ([]*Record, error) {
	var pool []*Record
	for _, kind := range []Kind{KindMessage, KindResponse, KindInsight} {
		recs, err := e.store.Recent(ctx, kind, scanWindow/10)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to sample seeds: %w", err)
		}
		pool = append(pool, recs...)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Shuffle first so equal visit counts break randomly, then prefer
	// the least-revisited.
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	sort.SliceStable(pool, func(i, j int) bool {
		return e.visits[pool[i].ID] < e.visits[pool[j].ID]
	})

	n := maxSeeds
	if len(pool) < n {
		n = len(pool)
	}
	seeds := pool[:n]
	for _, s := range seeds {
		e.visits[s.ID]++
	}
	return seeds, nil
}

func (e *Engine) observe(ctx context.Context, session *zyn.Session, seeds []*Record, trace CycleTrace, cycle int) (cycleObservation, error) {
	var sb strings.Builder
	sb.WriteString("Memories under consideration:\n")
	for _, s := range seeds {
		text := s.Summary
		if text == "" {
			text = s.Text
		}
		sb.WriteString(string(s.Kind))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if len(trace) > 0 {
		sb.WriteString("\nChain so far:\n")
		for _, step := range trace {
			sb.WriteString(fmt.Sprintf("cycle %d: %s", step.Cycle, step.Observation))
			if step.Connection != "" {
				sb.WriteString(" (" + step.Connection + ")")
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nThis is cycle %d of %d. Go one level deeper.", cycle, e.depth))

	result, err := Invoke[cycleObservation](ctx, session, observationRole, sb.String(), DefaultGenerationTemperature, e.provider)
	if err != nil {
		return cycleObservation{}, fmt.Errorf("engine: cycle %d: %w", cycle, err)
	}
	if result.Fallback {
		return cycleObservation{Observation: result.Raw}, nil
	}
	return result.Value, nil
}

func (e *Engine) synthesize(ctx context.Context, session *zyn.Session, seeds []*Record, trace CycleTrace) (cycleSynthesis, error) {
	var sb strings.Builder
	sb.WriteString("Introspective chain:\n")
	for _, step := range trace {
		sb.WriteString(fmt.Sprintf("cycle %d: %s", step.Cycle, step.Observation))
		if step.Connection != "" {
			sb.WriteString(" (" + step.Connection + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nSynthesize what this chain amounts to.")

	result, err := Invoke[cycleSynthesis](ctx, session, synthesisRole, sb.String(), DefaultGenerationTemperature, e.provider)
	if err != nil {
		return cycleSynthesis{}, fmt.Errorf("engine: synthesis: %w", err)
	}
	if result.Fallback {
		// Unstructured synthesis still records the thought; zero urgency
		// keeps it out of the proactive surface.
		return cycleSynthesis{Insight: result.Raw}, nil
	}
	return result.Value, nil
}
