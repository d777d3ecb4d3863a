package reverie

import (
	"context"
	"testing"
	"time"
)

func seedRecord(t *testing.T, store *MemStore, kind Kind, text string, tags []string, emb Vector, created time.Time) *Record {
	t.Helper()
	rec, err := store.PutRecord(context.Background(), &Record{
		Kind:      kind,
		Text:      text,
		Tags:      StringList(tags),
		Embedding: emb,
		Created:   created,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestMemStorePutRecordAssignsIdentity(t *testing.T) {
	store := NewMemStore("alice")

	rec, err := store.PutRecord(context.Background(), &Record{Kind: KindMessage, Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected assigned ID")
	}
	if rec.Created.IsZero() {
		t.Error("expected assigned timestamp")
	}
	if rec.UserID != "alice" {
		t.Errorf("expected user 'alice', got %q", rec.UserID)
	}
}

func TestMemStoreFindByTags(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()

	older := seedRecord(t, store, KindMessage, "old cooking note", []string{"cooking"}, nil, now.Add(-time.Hour))
	newer := seedRecord(t, store, KindMessage, "new cooking note", []string{"cooking", "dinner"}, nil, now)
	seedRecord(t, store, KindMessage, "unrelated", []string{"travel"}, nil, now)

	found, err := store.FindByTags(context.Background(), nil, []string{"cooking"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(found))
	}
	if found[0].ID != newer.ID {
		t.Errorf("expected most recent first, got %q", found[0].Text)
	}
	if found[1].ID != older.ID {
		t.Errorf("expected older second, got %q", found[1].Text)
	}
}

func TestMemStoreFindByTagsKindFilter(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()

	seedRecord(t, store, KindMessage, "message", []string{"x"}, nil, now)
	seedRecord(t, store, KindInsight, "insight", []string{"x"}, nil, now)

	found, err := store.FindByTags(context.Background(), []Kind{KindInsight}, []string{"x"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].Kind != KindInsight {
		t.Fatalf("expected only the insight, got %d records", len(found))
	}
}

func TestMemStoreFindByVectorExcludesZeroNorm(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()

	seedRecord(t, store, KindMessage, "zero", nil, Vector{0, 0, 0}, now)
	seedRecord(t, store, KindMessage, "unembedded", nil, nil, now)
	match := seedRecord(t, store, KindMessage, "embedded", nil, Vector{1, 0, 0}, now)

	scored, err := store.FindByVector(context.Background(), nil, Vector{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 1 {
		t.Fatalf("expected 1 scored record, got %d", len(scored))
	}
	if scored[0].Record.ID != match.ID {
		t.Errorf("expected %q, got %q", match.Text, scored[0].Record.Text)
	}
}

func TestMemStoreFindByVectorOrdering(t *testing.T) {
	store := NewMemStore("alice")
	now := time.Now()

	far := seedRecord(t, store, KindMessage, "far", nil, Vector{0, 1, 0}, now)
	near := seedRecord(t, store, KindMessage, "near", nil, Vector{1, 0.1, 0}, now)

	scored, err := store.FindByVector(context.Background(), nil, Vector{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored records, got %d", len(scored))
	}
	if scored[0].Record.ID != near.ID || scored[1].Record.ID != far.ID {
		t.Error("expected descending similarity order")
	}
	if scored[0].Similarity <= scored[1].Similarity {
		t.Errorf("similarity not descending: %v then %v", scored[0].Similarity, scored[1].Similarity)
	}
}

func TestMemStoreFindByVectorEmptyQuery(t *testing.T) {
	store := NewMemStore("alice")
	seedRecord(t, store, KindMessage, "anything", nil, Vector{1, 0}, time.Now())

	scored, err := store.FindByVector(context.Background(), nil, nil, 10)
	if err != nil {
		t.Fatalf("expected no error for empty query, got %v", err)
	}
	if len(scored) != 0 {
		t.Errorf("expected empty result, got %d", len(scored))
	}
}

func TestMemStoreAttachEmbeddingNeverOverwrites(t *testing.T) {
	store := NewMemStore("alice")
	rec := seedRecord(t, store, KindMessage, "text", nil, nil, time.Now())

	if err := store.AttachEmbedding(context.Background(), rec.ID, Vector{1, 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AttachEmbedding(context.Background(), rec.ID, Vector{0, 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scored, err := store.FindByVector(context.Background(), nil, Vector{1, 0}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scored) != 1 || scored[0].Similarity < 0.99 {
		t.Error("expected original embedding to survive the second attach")
	}
}

func TestMemStoreAnnotateLastWriteWins(t *testing.T) {
	store := NewMemStore("alice")
	rec := seedRecord(t, store, KindMessage, "text", nil, nil, time.Now())

	if err := store.Annotate(context.Background(), rec.ID, "first", []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Annotate(context.Background(), rec.ID, "second", []string{"b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := store.FindByTags(context.Background(), nil, []string{"b"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].Summary != "second" {
		t.Error("expected the second annotation to win")
	}
}

func TestMemStorePendingInsight(t *testing.T) {
	store := NewMemStore("alice")
	ctx := context.Background()

	if _, err := store.PutInsight(ctx, &Insight{Insight: "mild", Urgency: 0.2, Source: SourceCyclical}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	urgent, err := store.PutInsight(ctx, &Insight{Insight: "urgent", Urgency: 0.9, Source: SourceCyclical})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err := store.PendingInsight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending == nil || pending.ID != urgent.ID {
		t.Fatal("expected the most urgent insight")
	}

	if err := store.MarkDelivered(ctx, urgent.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, err = store.PendingInsight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending == nil || pending.Insight != "mild" {
		t.Error("expected the remaining undelivered insight")
	}
}

func TestMemStoreAnalysisHonorsCallerID(t *testing.T) {
	store := NewMemStore("alice")

	a, err := store.PutAnalysis(context.Background(), &Analysis{
		ID:        "preassigned",
		MessageID: "m1",
		Outcome:   OutcomeSufficient,
		Cycles:    1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "preassigned" {
		t.Errorf("expected caller-assigned ID to survive, got %q", a.ID)
	}
}

func TestMemStoreLinkAnalysisResponse(t *testing.T) {
	store := NewMemStore("alice")

	a, err := store.PutAnalysis(context.Background(), &Analysis{
		MessageID: "m1",
		Outcome:   OutcomeSufficient,
		Cycles:    1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.LinkAnalysisResponse(context.Background(), a.ID, "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := store.Analyses()
	if len(stored) != 1 {
		t.Fatalf("expected 1 analysis, got %d", len(stored))
	}
	if stored[0].ResponseID == nil || *stored[0].ResponseID != "r1" {
		t.Error("expected the analysis linked to its response")
	}

	if err := store.LinkAnalysisResponse(context.Background(), "missing", "r1"); err == nil {
		t.Error("expected error for an unknown analysis")
	}
}
