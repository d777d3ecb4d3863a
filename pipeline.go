package reverie

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/zyn"
)

// Turn is the carrier threaded through one conversational exchange:
// every stage reads what it needs and writes what it produced.
type Turn struct {
	ID      string
	User    string
	Message string
	Chunks  []string
	Session *zyn.Session

	MessageID        string
	ChunkIDs         []string
	MessageEmbedding Vector
	Bundle           *ContextBundle
	Plan             CuratorPlan
	Output           *ThinkerOutput
	Response         string
	ResponseID       string
	Annotation       Annotation
	InsightIDs       []string

	emit func(Event) error
}

// Clone implements pipz's Cloner contract. Slices are copied; the
// session and bundle are shared since stages append, never replace.
func (t *Turn) Clone() *Turn {
	c := *t
	c.Chunks = append([]string(nil), t.Chunks...)
	c.ChunkIDs = append([]string(nil), t.ChunkIDs...)
	c.InsightIDs = append([]string(nil), t.InsightIDs...)
	c.Plan.Queries = append([]Query(nil), t.Plan.Queries...)
	c.Plan.Facts = append([]string(nil), t.Plan.Facts...)
	return &c
}

// status sends a status event when the turn is streaming; batch turns
// drop it silently.
func (t *Turn) status(text string) {
	if t.emit != nil {
		_ = t.emit(StatusEvent(text))
	}
}

// TurnResult is what a completed exchange hands back to the caller.
type TurnResult struct {
	Response  string
	Analysis  *Analysis
	Fragments []Fragment
	Insights  []string
}

// Pipeline wires the four stages, the store, and the engine into one
// exchange flow for a single user.
type Pipeline struct {
	user       string
	store      Store
	embedder   Embedder
	assembler  *Assembler
	curator    *Curator
	thinker    *Thinker
	generator  *Generator
	summarizer *Summarizer
	engine     *Engine
	cfg        Config
	seq        *pipz.Sequence[*Turn]
}

// NewPipeline assembles a per-user pipeline over the given store and
// provider. A nil embedder degrades retrieval to tags and recency.
func NewPipeline(user string, store Store, provider Provider, embedder Embedder, cfg Config) *Pipeline {
	assembler := NewAssembler(store, embedder, DefaultWeights, cfg.MaxContextItems)
	curator := NewCurator(provider)
	p := &Pipeline{
		user:       user,
		store:      store,
		embedder:   embedder,
		assembler:  assembler,
		curator:    curator,
		thinker:    NewThinker(store, assembler, curator, provider, cfg.ThinkerCycleCap),
		generator:  NewGenerator(provider),
		summarizer: NewSummarizer(store, provider),
		engine:     NewEngine(store, provider, cfg.CycleDepth),
		cfg:        cfg,
	}
	p.seq = Sequence("exchange",
		Do("remember", p.remember),
		Do("curate", p.curate),
		Do("assemble", p.assemble),
		Do("think", p.think),
		Do("generate", p.generate),
		Do("persist", p.persist),
		Enrich("annotate", p.annotate),
		Enrich("absorb", p.absorb),
		Enrich("link", p.link),
	)
	return p
}

// Engine exposes the pipeline's cyclical engine for scheduling.
func (p *Pipeline) Engine() *Engine {
	return p.engine
}

// Respond runs one complete exchange and returns the full response.
func (p *Pipeline) Respond(ctx context.Context, message string) (*TurnResult, error) {
	turn, err := p.run(ctx, message, nil)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		Response:  turn.Response,
		Analysis:  turn.Output.Analysis,
		Fragments: ParseFragments(turn.Response),
		Insights:  turn.InsightIDs,
	}, nil
}

// Stream runs one exchange, emitting events as stages progress and
// fragments as the response is generated. The event sequence always
// terminates with exactly one close event; a failed turn sends one
// error event first. A pending high-urgency insight is surfaced as a
// proactive event after the response, before close.
func (p *Pipeline) Stream(ctx context.Context, message string, emit func(Event) error) error {
	if _, err := p.run(ctx, message, emit); err != nil {
		_ = emit(ErrorEvent(err))
		_ = emit(CloseEvent())
		return err
	}

	if insight, perr := p.Proactive(ctx); perr == nil && insight != nil {
		_ = emit(ProactiveEvent(insight.Insight))
	}
	return emit(CloseEvent())
}

func (p *Pipeline) run(ctx context.Context, message string, emit func(Event) error) (*Turn, error) {
	p.engine.Touch()
	defer p.engine.Touch()

	start := time.Now()
	turn := &Turn{
		ID:      uuid.New().String(),
		User:    p.user,
		Message: message,
		Chunks:  SplitMessage(message, p.cfg.ChunkThreshold, p.cfg.ChunkSize),
		Session: zyn.NewSession(),
		emit:    emit,
	}
	capitan.Emit(ctx, TurnStarted,
		FieldUser.Field(p.user),
		FieldTurnID.Field(turn.ID),
		FieldChunkCount.Field(len(turn.Chunks)),
	)

	out, err := p.seq.Process(ctx, turn)
	if err != nil {
		p.markFailed(ctx, turn)
		capitan.Error(ctx, TurnFailed,
			FieldUser.Field(p.user),
			FieldTurnID.Field(turn.ID),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return nil, err
	}

	capitan.Emit(ctx, TurnCompleted,
		FieldUser.Field(p.user),
		FieldTurnID.Field(out.ID),
		FieldDuration.Field(time.Since(start)),
	)
	return out, nil
}

// remember persists the incoming message, one record per chunk, and
// attaches embeddings best-effort. Chunks after the first chain to
// their predecessor through ReplyTo so the original text can be
// reassembled in order. A dead store degrades the turn to
// non-persistent instead of aborting it.
func (p *Pipeline) remember(ctx context.Context, t *Turn) (*Turn, error) {
	t.status("taking that in...")

	var prev *string
	for i, chunk := range t.Chunks {
		rec, err := p.store.PutRecord(ctx, &Record{
			Kind:    KindMessage,
			Text:    chunk,
			ReplyTo: prev,
		})
		if err != nil {
			capitan.Error(ctx, StoreDegraded, FieldError.Field(err))
			t.ChunkIDs = nil
			t.MessageID = ""
			return t, nil
		}
		t.ChunkIDs = append(t.ChunkIDs, rec.ID)
		id := rec.ID
		prev = &id
		capitan.Emit(ctx, RecordStored,
			FieldRecord.Field(rec.ID),
			FieldKind.Field(string(KindMessage)),
		)

		if p.embedder != nil {
			if emb, embErr := p.embedder.Embed(ctx, chunk); embErr == nil {
				if i == 0 {
					t.MessageEmbedding = emb
				}
				if attachErr := p.store.AttachEmbedding(ctx, rec.ID, emb); attachErr != nil {
					capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(attachErr))
				}
			} else {
				capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(embErr))
			}
		}
	}
	t.MessageID = t.ChunkIDs[0]
	return t, nil
}

// curate plans retrieval per chunk and queues any surfaced facts.
func (p *Pipeline) curate(ctx context.Context, t *Turn) (*Turn, error) {
	t.status("sorting through memories...")

	for i, chunk := range t.Chunks {
		note := ""
		if len(t.Chunks) > 1 {
			note = fmt.Sprintf("chunk %d of %d", i+1, len(t.Chunks))
		}
		plan, err := p.curator.Plan(ctx, t.Session, chunk, note)
		if err != nil {
			return nil, err
		}
		t.Plan.Queries = append(t.Plan.Queries, plan.Queries...)
		t.Plan.Facts = append(t.Plan.Facts, plan.Facts...)
	}
	p.engine.QueueFacts(t.Plan.Facts...)
	return t, nil
}

// assemble builds the context bundle, seeded by the curator's tag
// queries, then executes the remaining refinement queries against it.
func (p *Pipeline) assemble(ctx context.Context, t *Turn) (*Turn, error) {
	var tags []string
	seen := make(map[string]struct{})
	for _, q := range t.Plan.Queries {
		if q.Kind != QueryByTags {
			continue
		}
		for _, tag := range q.Tags {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	bundle, err := p.assembler.Assemble(ctx, t.Message, tags)
	if err != nil {
		return nil, err
	}
	if !bundle.Minimal {
		bundle.Items = append(bundle.Items, p.assembler.Fetch(ctx, bundle, t.Plan.Queries)...)
	}
	t.Bundle = bundle
	return t, nil
}

// think runs the bounded analysis loop.
func (p *Pipeline) think(ctx context.Context, t *Turn) (*Turn, error) {
	t.status("thinking it through...")

	out, err := p.thinker.Think(ctx, t.Session, t.MessageID, t.Message, t.Bundle)
	if err != nil {
		return nil, err
	}
	t.Output = out
	p.engine.QueueFacts(out.Facts...)
	return t, nil
}

// generate produces the response, streaming fragments when the turn
// has an event sink.
func (p *Pipeline) generate(ctx context.Context, t *Turn) (*Turn, error) {
	t.status("finding the words...")

	if t.emit == nil {
		text, err := p.generator.Generate(ctx, t.Session, t.Message, t.Output.Analysis)
		if err != nil {
			return nil, err
		}
		t.Response = text
		return t, nil
	}

	text, err := p.generator.Stream(ctx, t.Message, t.Output.Analysis, func(f Fragment) error {
		switch f.Kind {
		case FragmentEmote:
			return t.emit(EmoteEvent(f.Name))
		default:
			return t.emit(TokenEvent(f.Text))
		}
	})
	if err != nil {
		return nil, err
	}
	t.Response = text
	return t, nil
}

// persist stores the response record linked to its message, then
// writes the response reference back onto the analysis so every
// completed analysis points at its message/response pair. A dead store
// degrades the turn to non-persistent.
func (p *Pipeline) persist(ctx context.Context, t *Turn) (*Turn, error) {
	var replyTo *string
	if t.MessageID != "" {
		replyTo = &t.MessageID
	}
	rec, err := p.store.PutRecord(ctx, &Record{
		Kind:    KindResponse,
		Text:    t.Response,
		ReplyTo: replyTo,
	})
	if err != nil {
		capitan.Error(ctx, StoreDegraded, FieldError.Field(err))
		return t, nil
	}
	t.ResponseID = rec.ID
	capitan.Emit(ctx, RecordStored,
		FieldRecord.Field(rec.ID),
		FieldKind.Field(string(KindResponse)),
	)

	t.Output.Analysis.ResponseID = &t.ResponseID
	if err := p.store.LinkAnalysisResponse(ctx, t.Output.Analysis.ID, rec.ID); err != nil {
		capitan.Error(ctx, StoreDegraded, FieldError.Field(err))
	}

	if p.embedder != nil {
		if emb, embErr := p.embedder.Embed(ctx, t.Response); embErr == nil {
			if attachErr := p.store.AttachEmbedding(ctx, rec.ID, emb); attachErr != nil {
				capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(attachErr))
			}
		} else {
			capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(embErr))
		}
	}
	return t, nil
}

// annotate summarizes and tags each message chunk and the response.
// Best-effort: an exchange without annotations is still complete. A
// degraded turn has no records to annotate and skips through.
func (p *Pipeline) annotate(ctx context.Context, t *Turn) (*Turn, error) {
	if len(t.ChunkIDs) == 0 || t.ResponseID == "" {
		return t, nil
	}

	for i, id := range t.ChunkIDs {
		ann, err := p.summarizer.Annotate(ctx, t.Session, id, t.Chunks[i])
		if err != nil {
			return t, err
		}
		if i == 0 {
			t.Annotation = ann
		} else {
			t.Annotation.Tags = mergeTags(t.Annotation.Tags, ann.Tags)
		}
	}

	if _, err := p.summarizer.Annotate(ctx, t.Session, t.ResponseID, t.Response); err != nil {
		return t, err
	}
	return t, nil
}

// absorb drains the fact queue into internal insights.
func (p *Pipeline) absorb(ctx context.Context, t *Turn) (*Turn, error) {
	insights, err := p.engine.Absorb(ctx)
	for _, in := range insights {
		t.InsightIDs = append(t.InsightIDs, in.ID)
	}
	return t, err
}

// link writes the interaction audit record tying the turn together.
// A degraded turn has nothing durable to audit.
func (p *Pipeline) link(ctx context.Context, t *Turn) (*Turn, error) {
	if t.MessageID == "" || t.ResponseID == "" {
		return t, nil
	}
	_, err := p.store.LinkInteraction(ctx, &Interaction{
		MessageID:  t.MessageID,
		ResponseID: t.ResponseID,
		AnalysisID: t.Output.Analysis.ID,
		InsightIDs: StringList(t.InsightIDs),
		Tags:       StringList(t.Annotation.Tags),
		Embedding:  t.MessageEmbedding,
	})
	if err != nil {
		return t, fmt.Errorf("failed to link interaction: %w", err)
	}
	return t, nil
}

// TagTurnFailed marks message records whose turn aborted before a
// response was produced.
const TagTurnFailed = "turn:failed"

// markFailed annotates every record the aborted turn managed to store,
// so no message lingers looking fully processed when it was not.
// Best-effort; if the store is what failed there is nothing to mark.
func (p *Pipeline) markFailed(ctx context.Context, t *Turn) {
	for _, id := range t.ChunkIDs {
		if err := p.store.Annotate(ctx, id, "turn aborted before completion", []string{TagTurnFailed}); err != nil {
			capitan.Error(ctx, StoreDegraded, FieldError.Field(err))
			return
		}
	}
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, t := range a {
		seen[t] = struct{}{}
	}
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Proactive returns the most urgent undelivered insight above the
// urgency floor, marking it delivered. Nil when nothing qualifies.
func (p *Pipeline) Proactive(ctx context.Context) (*Insight, error) {
	insight, err := p.store.PendingInsight(ctx)
	if err != nil {
		return nil, err
	}
	if insight == nil || insight.Urgency < p.cfg.UrgencyFloor {
		return nil, nil
	}
	if err := p.store.MarkDelivered(ctx, insight.ID); err != nil {
		return nil, err
	}
	return insight, nil
}

// Welcome streams an opening line grounded in recent history, over the
// same event sequence as a chat stream: tokens and emotes, an optional
// proactive insight, then exactly one close event.
func (p *Pipeline) Welcome(ctx context.Context, emit func(Event) error) error {
	blueprint := &Analysis{
		Reasoning: StringList{"Open the conversation warmly. Reference recent context only if it is genuinely relevant."},
		Outcome:   OutcomeSufficient,
	}
	recent, err := p.store.Recent(ctx, KindMessage, 3)
	if err == nil {
		for _, rec := range recent {
			if rec.Summary != "" {
				blueprint.Facts = append(blueprint.Facts, rec.Summary)
			}
		}
	}

	_, err = p.generator.Stream(ctx, "(the user just arrived)", blueprint, func(f Fragment) error {
		switch f.Kind {
		case FragmentEmote:
			return emit(EmoteEvent(f.Name))
		default:
			return emit(TokenEvent(f.Text))
		}
	})
	if err != nil {
		_ = emit(ErrorEvent(err))
		_ = emit(CloseEvent())
		return err
	}

	if insight, perr := p.Proactive(ctx); perr == nil && insight != nil {
		_ = emit(ProactiveEvent(insight.Insight))
	}
	return emit(CloseEvent())
}

// Thoughts returns recent insights for the monitoring surface.
func (p *Pipeline) Thoughts(ctx context.Context, limit int) ([]*Insight, error) {
	return p.store.RecentInsights(ctx, limit)
}

// SplitMessage splits long input into word-boundary chunks whose
// concatenation reproduces the input byte for byte. Input at or below
// threshold comes back as a single chunk.
func SplitMessage(text string, threshold, size int) []string {
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(text) <= threshold {
		return []string{text}
	}

	var chunks []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexByte(text[:size], ' '); idx > 0 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
