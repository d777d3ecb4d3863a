package reverie

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// scanWindow bounds how many candidate rows tag and vector searches
// pull back for in-process filtering and scoring.
const scanWindow = 500

// SoyStore implements Store using soy for PostgreSQL persistence with
// pgvector embeddings. The user namespace is bound at construction and
// stamped onto every query.
type SoyStore struct {
	user         string
	records      *soy.Soy[Record]
	analyses     *soy.Soy[Analysis]
	insights     *soy.Soy[Insight]
	flags        *soy.Soy[CassandraFlag]
	interactions *soy.Soy[Interaction]
	db           *sqlx.DB
}

// NewSoyStore creates a soy-backed Store scoped to one user.
func NewSoyStore(db *sqlx.DB, user string) (*SoyStore, error) {
	renderer := postgres.New()

	records, err := soy.New[Record](db, "records", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize records table: %w", err)
	}
	analyses, err := soy.New[Analysis](db, "analyses", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyses table: %w", err)
	}
	insights, err := soy.New[Insight](db, "insights", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize insights table: %w", err)
	}
	flags, err := soy.New[CassandraFlag](db, "cassandra_flags", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cassandra_flags table: %w", err)
	}
	interactions, err := soy.New[Interaction](db, "interactions", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize interactions table: %w", err)
	}

	return &SoyStore{
		user:         user,
		records:      records,
		analyses:     analyses,
		insights:     insights,
		flags:        flags,
		interactions: interactions,
		db:           db,
	}, nil
}

// PutRecord persists a record, assigning timestamp and namespace.
func (s *SoyStore) PutRecord(ctx context.Context, rec *Record) (*Record, error) {
	if rec.Created.IsZero() {
		rec.Created = time.Now()
	}
	rec.UserID = s.user
	if rec.Tags == nil {
		rec.Tags = StringList{}
	}

	inserted, err := s.records.Insert().Exec(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}
	rec.ID = inserted.ID
	return rec, nil
}

// PutAnalysis persists an analysis, honoring a caller-assigned ID.
func (s *SoyStore) PutAnalysis(ctx context.Context, a *Analysis) (*Analysis, error) {
	if a.Created.IsZero() {
		a.Created = time.Now()
	}
	a.UserID = s.user

	inserted, err := s.analyses.Insert().Exec(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to insert analysis: %w", err)
	}
	a.ID = inserted.ID
	return a, nil
}

// LinkAnalysisResponse sets the response an analysis produced.
func (s *SoyStore) LinkAnalysisResponse(ctx context.Context, analysisID, responseID string) error {
	_, err := s.analyses.Modify().
		Set("response_id", "response_id").
		Where("id", "=", "id").
		Where("user_id", "=", "user_id").
		Exec(ctx, map[string]any{
			"response_id": responseID,
			"id":          analysisID,
			"user_id":     s.user,
		})
	if err != nil {
		return fmt.Errorf("failed to link analysis response: %w", err)
	}
	return nil
}

// PutInsight persists an insight.
func (s *SoyStore) PutInsight(ctx context.Context, in *Insight) (*Insight, error) {
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	in.UserID = s.user
	if in.Seeds == nil {
		in.Seeds = StringList{}
	}
	if in.Trace == nil {
		in.Trace = CycleTrace{}
	}

	inserted, err := s.insights.Insert().Exec(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to insert insight: %w", err)
	}
	in.ID = inserted.ID
	return in, nil
}

// PutFlag persists a cassandra flag.
func (s *SoyStore) PutFlag(ctx context.Context, f *CassandraFlag) (*CassandraFlag, error) {
	if f.Created.IsZero() {
		f.Created = time.Now()
	}
	f.UserID = s.user

	inserted, err := s.flags.Insert().Exec(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cassandra flag: %w", err)
	}
	f.ID = inserted.ID
	return f, nil
}

// LinkInteraction persists the audit record for one turn.
func (s *SoyStore) LinkInteraction(ctx context.Context, in *Interaction) (*Interaction, error) {
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	in.UserID = s.user
	if in.InsightIDs == nil {
		in.InsightIDs = StringList{}
	}
	if in.Tags == nil {
		in.Tags = StringList{}
	}

	inserted, err := s.interactions.Insert().Exec(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to link interaction: %w", err)
	}
	in.ID = inserted.ID
	return in, nil
}

// Annotate writes a summary and tags back onto a record. Last write wins.
func (s *SoyStore) Annotate(ctx context.Context, id, summary string, tags []string) error {
	_, err := s.records.Modify().
		Set("summary", "summary").
		Set("tags", "tags").
		Where("id", "=", "id").
		Where("user_id", "=", "user_id").
		Exec(ctx, map[string]any{
			"summary": summary,
			"tags":    StringList(tags),
			"id":      id,
			"user_id": s.user,
		})
	if err != nil {
		return fmt.Errorf("failed to annotate record: %w", err)
	}
	return nil
}

// AttachEmbedding attaches an embedding to a record that has none.
func (s *SoyStore) AttachEmbedding(ctx context.Context, id string, emb Vector) error {
	_, err := s.records.Modify().
		Set("embedding", "embedding").
		Where("id", "=", "id").
		Where("user_id", "=", "user_id").
		WhereNull("embedding").
		Exec(ctx, map[string]any{
			"embedding": emb,
			"id":        id,
			"user_id":   s.user,
		})
	if err != nil {
		return fmt.Errorf("failed to attach embedding: %w", err)
	}
	return nil
}

// FindByTags returns records whose tag sets intersect tags, most recent
// first. Tag intersection over the JSON column is evaluated in-process
// across a bounded recency window.
func (s *SoyStore) FindByTags(ctx context.Context, kinds []Kind, tags []string, limit int) ([]*Record, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	rows, err := s.recentWindow(ctx, kinds)
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	var matched []*Record
	for _, rec := range rows {
		for _, t := range rec.Tags {
			if _, ok := want[t]; ok {
				matched = append(matched, rec)
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
// pgvector pre-ranks the scan window; exact cosine, zero-norm exclusion,
// and recency tie-breaks are applied in-process so ordering is
// deterministic. An empty query yields an empty result.
func (s *SoyStore) FindByVector(ctx context.Context, kinds []Kind, query Vector, limit int) ([]Scored, error) {
	if len(query) == 0 || query.IsZero() {
		return nil, nil
	}

	q := s.records.Query().
		Where("user_id", "=", "user_id").
		WhereNotNull("embedding").
		OrderByExpr("embedding", "<->", "query_embedding", "asc").
		Limit(scanWindow)
	params := map[string]any{
		"user_id":         s.user,
		"query_embedding": query,
	}
	if len(kinds) > 0 {
		q = q.Where("kind", "IN", "kinds")
		params["kinds"] = kindStrings(kinds)
	}

	rows, err := q.Exec(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search by vector: %w", err)
	}

	var scored []Scored
	for _, rec := range rows {
		sim, ok := Cosine(query, rec.Embedding)
		if !ok {
			continue
		}
		scored = append(scored, Scored{Record: rec, Similarity: sim})
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
func (s *SoyStore) Recent(ctx context.Context, kind Kind, limit int) ([]*Record, error) {
	rows, err := s.records.Query().
		Where("user_id", "=", "user_id").
		Where("kind", "=", "kind").
		OrderBy("created", "desc").
		Limit(limit).
		Exec(ctx, map[string]any{
			"user_id": s.user,
			"kind":    string(kind),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent records: %w", err)
	}
	return rows, nil
}

// RecentInsights returns the most recent insights.
func (s *SoyStore) RecentInsights(ctx context.Context, limit int) ([]*Insight, error) {
	rows, err := s.insights.Query().
		Where("user_id", "=", "user_id").
		OrderBy("created", "desc").
		Limit(limit).
		Exec(ctx, map[string]any{"user_id": s.user})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent insights: %w", err)
	}
	return rows, nil
}

// PendingInsight returns the most urgent undelivered insight, or nil.
func (s *SoyStore) PendingInsight(ctx context.Context) (*Insight, error) {
	rows, err := s.insights.Query().
		Where("user_id", "=", "user_id").
		Where("delivered", "=", "delivered").
		OrderBy("urgency", "desc").
		Limit(scanWindow).
		Exec(ctx, map[string]any{
			"user_id":   s.user,
			"delivered": false,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending insight: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	best := rows[0]
	for _, in := range rows[1:] {
		if in.Urgency > best.Urgency ||
			(in.Urgency == best.Urgency && in.Created.After(best.Created)) {
			best = in
		}
	}
	return best, nil
}

// MarkDelivered marks an insight as surfaced to the user.
func (s *SoyStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.insights.Modify().
		Set("delivered", "delivered").
		Where("id", "=", "id").
		Where("user_id", "=", "user_id").
		Exec(ctx, map[string]any{
			"delivered": true,
			"id":        id,
			"user_id":   s.user,
		})
	if err != nil {
		return fmt.Errorf("failed to mark insight delivered: %w", err)
	}
	return nil
}

// recentWindow fetches the newest rows of the given kinds for
// in-process filtering.
func (s *SoyStore) recentWindow(ctx context.Context, kinds []Kind) ([]*Record, error) {
	q := s.records.Query().
		Where("user_id", "=", "user_id").
		OrderBy("created", "desc").
		Limit(scanWindow)
	params := map[string]any{"user_id": s.user}
	if len(kinds) > 0 {
		q = q.Where("kind", "IN", "kinds")
		params["kinds"] = kindStrings(kinds)
	}

	rows, err := q.Exec(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return rows, nil
}

func kindStrings(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Close closes the underlying database connection.
func (s *SoyStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SoyStore)(nil)
