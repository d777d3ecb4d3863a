package reverie

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. It backs tests and the degraded
// non-persistent mode used when the database is unavailable: the user
// still gets answers, memory just stops surviving the process.
type MemStore struct {
	user         string
	records      []*Record
	analyses     []*Analysis
	insights     []*Insight
	flags        []*CassandraFlag
	interactions []*Interaction
	mu           sync.RWMutex
}

// NewMemStore creates an in-memory store scoped to one user.
func NewMemStore(user string) *MemStore {
	return &MemStore{user: user}
}

// PutRecord persists a record, assigning ID and timestamp.
func (s *MemStore) PutRecord(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now()
	}
	rec.UserID = s.user

	stored := *rec
	s.records = append(s.records, &stored)
	return rec, nil
}

// PutAnalysis persists an analysis, honoring a caller-assigned ID.
func (s *MemStore) PutAnalysis(_ context.Context, a *Analysis) (*Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Created.IsZero() {
		a.Created = time.Now()
	}
	a.UserID = s.user

	stored := *a
	s.analyses = append(s.analyses, &stored)
	return a, nil
}

// LinkAnalysisResponse sets the response an analysis produced.
func (s *MemStore) LinkAnalysisResponse(_ context.Context, analysisID, responseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.analyses {
		if a.ID == analysisID {
			id := responseID
			a.ResponseID = &id
			return nil
		}
	}
	return fmt.Errorf("analysis not found: %s", analysisID)
}

// PutInsight persists an insight.
func (s *MemStore) PutInsight(_ context.Context, in *Insight) (*Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	in.UserID = s.user

	stored := *in
	s.insights = append(s.insights, &stored)
	return in, nil
}

// PutFlag persists a cassandra flag.
func (s *MemStore) PutFlag(_ context.Context, f *CassandraFlag) (*CassandraFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Created.IsZero() {
		f.Created = time.Now()
	}
	f.UserID = s.user

	stored := *f
	s.flags = append(s.flags, &stored)
	return f, nil
}

// LinkInteraction persists the audit record for one turn.
func (s *MemStore) LinkInteraction(_ context.Context, in *Interaction) (*Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	in.UserID = s.user

	stored := *in
	s.interactions = append(s.interactions, &stored)
	return in, nil
}

// Annotate writes a summary and tags back onto a record. Last write wins.
func (s *MemStore) Annotate(_ context.Context, id, summary string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ID == id {
			rec.Summary = summary
			rec.Tags = append(StringList{}, tags...)
			return nil
		}
	}
	return fmt.Errorf("record not found: %s", id)
}

// AttachEmbedding attaches an embedding to a record. A record that
// already has an embedding keeps it.
func (s *MemStore) AttachEmbedding(_ context.Context, id string, emb Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ID == id {
			if rec.Embedding != nil {
				return nil
			}
			rec.Embedding = append(Vector{}, emb...)
			return nil
		}
	}
	return fmt.Errorf("record not found: %s", id)
}

// FindByTags returns records whose tag sets intersect tags, most recent first.
func (s *MemStore) FindByTags(_ context.Context, kinds []Kind, tags []string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	var matched []*Record
	for _, rec := range s.records {
		if !kindAllowed(rec.Kind, kinds) {
			continue
		}
		for _, t := range rec.Tags {
			if _, ok := want[t]; ok {
				matched = append(matched, copyRecord(rec))
				break
			}
		}
	}

	sortRecordsByRecency(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// FindByVector ranks embedded records by cosine similarity to query.
// Zero-norm embeddings are excluded; an empty query yields an empty result.
func (s *MemStore) FindByVector(_ context.Context, kinds []Kind, query Vector, limit int) ([]Scored, error) {
	if len(query) == 0 || query.IsZero() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []Scored
	for _, rec := range s.records {
		if !kindAllowed(rec.Kind, kinds) {
			continue
		}
		sim, ok := Cosine(query, rec.Embedding)
		if !ok {
			continue
		}
		scored = append(scored, Scored{Record: copyRecord(rec), Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if !scored[i].Record.Created.Equal(scored[j].Record.Created) {
			return scored[i].Record.Created.After(scored[j].Record.Created)
		}
		return scored[i].Record.ID < scored[j].Record.ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Recent returns the most recent records of one kind.
func (s *MemStore) Recent(_ context.Context, kind Kind, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	for _, rec := range s.records {
		if rec.Kind == kind {
			matched = append(matched, copyRecord(rec))
		}
	}

	sortRecordsByRecency(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// RecentInsights returns the most recent insights.
func (s *MemStore) RecentInsights(_ context.Context, limit int) ([]*Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	insights := make([]*Insight, len(s.insights))
	for i, in := range s.insights {
		stored := *in
		insights[i] = &stored
	}

	sort.SliceStable(insights, func(i, j int) bool {
		if !insights[i].Created.Equal(insights[j].Created) {
			return insights[i].Created.After(insights[j].Created)
		}
		return insights[i].ID < insights[j].ID
	})

	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}
	return insights, nil
}

// PendingInsight returns the most urgent undelivered insight, or nil.
func (s *MemStore) PendingInsight(_ context.Context) (*Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Insight
	for _, in := range s.insights {
		if in.Delivered {
			continue
		}
		if best == nil || in.Urgency > best.Urgency ||
			(in.Urgency == best.Urgency && in.Created.After(best.Created)) {
			best = in
		}
	}
	if best == nil {
		return nil, nil
	}
	stored := *best
	return &stored, nil
}

// MarkDelivered marks an insight as surfaced to the user.
func (s *MemStore) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.insights {
		if in.ID == id {
			in.Delivered = true
			return nil
		}
	}
	return fmt.Errorf("insight not found: %s", id)
}

// Analyses returns all stored analyses, for monitoring and tests.
func (s *MemStore) Analyses() []*Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Analysis, len(s.analyses))
	for i, a := range s.analyses {
		stored := *a
		out[i] = &stored
	}
	return out
}

// Flags returns all cassandra flags, for monitoring and tests.
func (s *MemStore) Flags() []*CassandraFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags := make([]*CassandraFlag, len(s.flags))
	for i, f := range s.flags {
		stored := *f
		flags[i] = &stored
	}
	return flags
}

// Interactions returns all linked interactions, for monitoring and tests.
func (s *MemStore) Interactions() []*Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Interaction, len(s.interactions))
	for i, in := range s.interactions {
		stored := *in
		out[i] = &stored
	}
	return out
}

func kindAllowed(k Kind, kinds []Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func copyRecord(rec *Record) *Record {
	c := *rec
	c.Tags = append(StringList{}, rec.Tags...)
	if rec.Embedding != nil {
		c.Embedding = append(Vector{}, rec.Embedding...)
	}
	return &c
}

func sortRecordsByRecency(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Created.Equal(recs[j].Created) {
			return recs[i].Created.After(recs[j].Created)
		}
		return recs[i].ID < recs[j].ID
	})
}

var _ Store = (*MemStore)(nil)
