package reverie

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// mockEmbedder returns a fixed vector, or fails when broken.
type mockEmbedder struct {
	vector Vector
	broken bool
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (Vector, error) {
	m.calls++
	if m.broken {
		return nil, fmt.Errorf("embeddings backend down")
	}
	return m.vector, nil
}

func (m *mockEmbedder) Dimensions() int {
	return len(m.vector)
}

func TestAssembleMinimalPath(t *testing.T) {
	store := NewMemStore("alice")
	asm := NewAssembler(store, nil, DefaultWeights, 10)

	bundle, err := asm.Assemble(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bundle.Minimal {
		t.Error("expected minimal bundle for a short greeting")
	}
	if len(bundle.Items) != 0 {
		t.Errorf("expected empty bundle, got %d items", len(bundle.Items))
	}
}

func TestAssembleFullPathForLongInput(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()
	seedRecord(t, store, KindMessage, "we talked about gardens", []string{"garden"}, nil, now)

	asm := NewAssembler(store, nil, DefaultWeights, 10)

	long := "Tell me everything you remember about the garden plans we discussed, including the layout and what we wanted to plant this spring."
	bundle, err := asm.Assemble(context.Background(), long, []string{"garden"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Minimal {
		t.Fatal("expected full-mode bundle")
	}
	if len(bundle.Items) == 0 {
		t.Fatal("expected tag-matched items")
	}
}

func TestAssembleWithoutEmbedderStillRetrieves(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()
	seedRecord(t, store, KindMessage, "tagged memory", []string{"music"}, Vector{1, 0}, now)

	asm := NewAssembler(store, nil, DefaultWeights, 10)

	bundle, err := asm.Assemble(context.Background(), "what was that song we discussed the other day? I forgot the title completely.", []string{"music"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Items) == 0 {
		t.Fatal("expected tag/recency retrieval to work without embedder")
	}
	for _, item := range bundle.Items {
		if item.Provenance == BySimilarity {
			t.Error("no similarity provenance should appear without an embedder")
		}
	}
}

func TestAssembleEmbedderFailureDegrades(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()
	seedRecord(t, store, KindMessage, "recent memory", []string{"travel"}, Vector{1, 0}, now)

	emb := &mockEmbedder{broken: true}
	asm := NewAssembler(store, emb, DefaultWeights, 10)

	bundle, err := asm.Assemble(context.Background(), "remind me what we said about the trip itinerary and the hotels we shortlisted.", []string{"travel"})
	if err != nil {
		t.Fatalf("degraded assembly must not fail: %v", err)
	}
	if len(bundle.Items) == 0 {
		t.Fatal("expected tag/recency fallback items")
	}
}

func TestAssembleRanksSimilarityFirst(t *testing.T) {
	store := NewMemStore("alice")
	old := time.Now().Add(-48 * time.Hour)
	near := seedRecord(t, store, KindMessage, "close match", nil, Vector{1, 0, 0}, old)
	seedRecord(t, store, KindMessage, "far match", nil, Vector{0, 1, 0}, old)

	emb := &mockEmbedder{vector: Vector{1, 0, 0}}
	asm := NewAssembler(store, emb, DefaultWeights, 10)

	bundle, err := asm.Assemble(context.Background(), "a sufficiently long message that forces the assembler down the full retrieval path instead of the minimal one.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Items) < 2 {
		t.Fatalf("expected both records, got %d", len(bundle.Items))
	}
	if bundle.Items[0].Record.ID != near.ID {
		t.Errorf("expected the similar record first, got %q", bundle.Items[0].Record.Text)
	}
}

func TestAssembleBounded(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()
	for i := 0; i < 20; i++ {
		seedRecord(t, store, KindMessage, fmt.Sprintf("memory %d", i), []string{"bulk"}, nil, now.Add(time.Duration(i)*time.Second))
	}

	asm := NewAssembler(store, nil, DefaultWeights, 5)
	bundle, err := asm.Assemble(context.Background(), "a sufficiently long message that forces the assembler down the full retrieval path instead of the minimal one.", []string{"bulk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Items) > 5 {
		t.Errorf("expected at most 5 items, got %d", len(bundle.Items))
	}
}

func TestFetchDeduplicates(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()
	rec := seedRecord(t, store, KindMessage, "shared memory", []string{"dup"}, nil, now)

	asm := NewAssembler(store, nil, DefaultWeights, 10)
	bundle := &ContextBundle{Items: []ContextItem{{Record: rec, Provenance: ByTags}}}

	added := asm.Fetch(context.Background(), bundle, []Query{
		{Kind: QueryByTags, Tags: []string{"dup"}},
	})
	if len(added) != 0 {
		t.Errorf("expected no duplicates, got %d items", len(added))
	}
}

func TestFetchSimilarityQueryWithoutEmbedder(t *testing.T) {
	store := NewMemStore("alice")
	asm := NewAssembler(store, nil, DefaultWeights, 10)

	added := asm.Fetch(context.Background(), &ContextBundle{}, []Query{
		{Kind: QueryBySimilarity, Text: "anything"},
	})
	if len(added) != 0 {
		t.Errorf("expected similarity query to be skipped, got %d items", len(added))
	}
}
