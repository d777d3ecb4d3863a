package reverie

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// Weights controls how the assembler ranks merged candidates.
// Similarity dominates when available, tag overlap next, recency last.
// These are tunables, not tuned constants; adjust per deployment.
type Weights struct {
	Similarity float64
	TagOverlap float64
	Recency    float64
}

// DefaultWeights are the documented starting point.
var DefaultWeights = Weights{
	Similarity: 0.6,
	TagOverlap: 0.3,
	Recency:    0.1,
}

// minimalLengthLimit is the heuristic cutoff below which a message may
// qualify for the minimal-context path.
const minimalLengthLimit = 80

// recencyHorizon is the age at which the recency component decays to zero.
const recencyHorizon = 30 * 24 * time.Hour

// retrievableKinds are the record kinds eligible for context assembly.
var retrievableKinds = []Kind{KindMessage, KindResponse, KindInsight}

// Assembler builds bounded, ranked context bundles from the memory
// store. If the embedder is nil or failing, vector candidates are
// skipped and assembly proceeds on tags and recency alone.
type Assembler struct {
	store    Store
	embedder Embedder
	weights  Weights
	maxItems int
}

// NewAssembler creates an assembler over the given store. A nil
// embedder disables similarity retrieval.
func NewAssembler(store Store, embedder Embedder, weights Weights, maxItems int) *Assembler {
	if maxItems < 1 {
		maxItems = DefaultMaxContextItems
	}
	return &Assembler{
		store:    store,
		embedder: embedder,
		weights:  weights,
		maxItems: maxItems,
	}
}

// Assemble builds a context bundle for the given input text and tags.
// Short, self-contained inputs with no stored tag overlap take the
// minimal-context path and return an empty bundle. Assembly never fails
// on backend degradation; the worst case is an empty full-mode bundle.
func (a *Assembler) Assemble(ctx context.Context, text string, tags []string) (*ContextBundle, error) {
	bundle := &ContextBundle{Tags: tags}

	if a.isMinimal(ctx, text, tags) {
		bundle.Minimal = true
		return bundle, nil
	}

	candidates := make(map[string]*ContextItem)

	// Tag-matched candidates.
	tagged, err := a.store.FindByTags(ctx, retrievableKinds, tags, a.maxItems)
	if err == nil {
		for _, rec := range tagged {
			a.admit(candidates, rec, ByTags, 0, overlap(rec.Tags, tags))
		}
	}

	// Similarity-matched candidates.
	if a.embedder != nil {
		if query, embErr := a.embedder.Embed(ctx, text); embErr == nil {
			scored, vecErr := a.store.FindByVector(ctx, retrievableKinds, query, a.maxItems)
			if vecErr == nil {
				for _, sc := range scored {
					a.admit(candidates, sc.Record, BySimilarity, sc.Similarity, overlap(sc.Record.Tags, tags))
				}
			}
		} else {
			capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(embErr))
		}
	}

	// Most-recent candidates.
	for _, kind := range []Kind{KindMessage, KindResponse} {
		recent, recErr := a.store.Recent(ctx, kind, a.maxItems/2)
		if recErr != nil {
			continue
		}
		for _, rec := range recent {
			a.admit(candidates, rec, ByRecency, 0, overlap(rec.Tags, tags))
		}
	}

	items := make([]ContextItem, 0, len(candidates))
	now := time.Now()
	for _, item := range candidates {
		item.Score = a.score(item, now)
		items = append(items, *item)
	}

	// Deterministic ordering: score desc, created desc, id asc.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].Record.Created.Equal(items[j].Record.Created) {
			return items[i].Record.Created.After(items[j].Record.Created)
		}
		return items[i].Record.ID < items[j].Record.ID
	})

	if len(items) > a.maxItems {
		items = items[:a.maxItems]
	}
	bundle.Items = items
	return bundle, nil
}

// Fetch executes curator refinement queries and returns the merged
// additional items, deduplicated against the existing bundle.
func (a *Assembler) Fetch(ctx context.Context, bundle *ContextBundle, queries []Query) []ContextItem {
	seen := make(map[string]struct{}, len(bundle.Items))
	for _, item := range bundle.Items {
		seen[item.Record.ID] = struct{}{}
	}

	var added []ContextItem
	for _, q := range queries {
		switch q.Kind {
		case QueryByTags:
			recs, err := a.store.FindByTags(ctx, retrievableKinds, q.Tags, a.maxItems)
			if err != nil {
				continue
			}
			for _, rec := range recs {
				if _, dup := seen[rec.ID]; dup {
					continue
				}
				seen[rec.ID] = struct{}{}
				added = append(added, ContextItem{Record: rec, Provenance: ByTags, TagOverlap: overlap(rec.Tags, q.Tags)})
			}
		case QueryBySimilarity:
			if a.embedder == nil {
				continue
			}
			query, err := a.embedder.Embed(ctx, q.Text)
			if err != nil {
				capitan.Emit(ctx, EmbeddingSkipped, FieldError.Field(err))
				continue
			}
			scored, err := a.store.FindByVector(ctx, retrievableKinds, query, a.maxItems)
			if err != nil {
				continue
			}
			for _, sc := range scored {
				if _, dup := seen[sc.Record.ID]; dup {
					continue
				}
				seen[sc.Record.ID] = struct{}{}
				added = append(added, ContextItem{Record: sc.Record, Provenance: BySimilarity, Similarity: sc.Similarity})
			}
		}
	}
	return added
}

// isMinimal is a heuristic classification, not a hard rule: short,
// single-sentence inputs with no tag overlap against stored history
// skip broad retrieval entirely.
func (a *Assembler) isMinimal(ctx context.Context, text string, tags []string) bool {
	if len(text) > minimalLengthLimit {
		return false
	}
	if strings.Count(strings.TrimSpace(text), ". ") > 0 {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	matched, err := a.store.FindByTags(ctx, retrievableKinds, tags, 1)
	if err != nil {
		return true
	}
	return len(matched) == 0
}

func (a *Assembler) admit(candidates map[string]*ContextItem, rec *Record, prov Provenance, sim float64, tagOverlap int) {
	existing, ok := candidates[rec.ID]
	if !ok {
		candidates[rec.ID] = &ContextItem{
			Record:     rec,
			Provenance: prov,
			Similarity: sim,
			TagOverlap: tagOverlap,
		}
		return
	}
	// Keep the strongest evidence for an already-admitted record.
	if sim > existing.Similarity {
		existing.Similarity = sim
		existing.Provenance = BySimilarity
	}
	if tagOverlap > existing.TagOverlap {
		existing.TagOverlap = tagOverlap
	}
}

func (a *Assembler) score(item *ContextItem, now time.Time) float64 {
	score := a.weights.Similarity * item.Similarity

	if item.TagOverlap > 0 {
		score += a.weights.TagOverlap * float64(item.TagOverlap) / float64(item.TagOverlap+1)
	}

	age := now.Sub(item.Record.Created)
	if age < 0 {
		age = 0
	}
	if age < recencyHorizon {
		score += a.weights.Recency * (1 - float64(age)/float64(recencyHorizon))
	}

	return score
}

func overlap(have StringList, want []string) int {
	set := make(map[string]struct{}, len(want))
	for _, t := range want {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range have {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}
