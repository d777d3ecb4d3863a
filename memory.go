package reverie

import "context"

// Scored pairs a record with its cosine similarity to a query vector.
type Scored struct {
	Record     *Record
	Similarity float64
}

// Store defines persistence and retrieval over one user's namespace.
// Implementations bind the namespace at construction; every query is
// implicitly scoped to that user, so cross-user retrieval is impossible
// at this layer.
type Store interface {
	// PutRecord persists a record, assigning ID and timestamp, and
	// returns it with both populated. Records are append-only.
	PutRecord(ctx context.Context, rec *Record) (*Record, error)

	// PutAnalysis persists a thinker analysis. Honors a caller-assigned
	// ID so flags raised mid-loop can reference it.
	PutAnalysis(ctx context.Context, a *Analysis) (*Analysis, error)

	// LinkAnalysisResponse sets the response an analysis produced.
	// The analysis is created before the response exists, so the link
	// is written back once the response record is stored; after that,
	// every completed analysis references exactly one message/response
	// pair.
	LinkAnalysisResponse(ctx context.Context, analysisID, responseID string) error

	// PutInsight persists an autonomously generated insight.
	PutInsight(ctx context.Context, in *Insight) (*Insight, error)

	// PutFlag persists a cassandra flag independently of the analysis
	// that raised it.
	PutFlag(ctx context.Context, f *CassandraFlag) (*CassandraFlag, error)

	// LinkInteraction persists the audit record for one turn.
	LinkInteraction(ctx context.Context, in *Interaction) (*Interaction, error)

	// Annotate writes a summary and tags back onto a record.
	// Last write wins; the record text is never touched.
	Annotate(ctx context.Context, id, summary string, tags []string) error

	// AttachEmbedding attaches an embedding to a record. Embeddings,
	// once attached, are never recomputed for the same text.
	AttachEmbedding(ctx context.Context, id string, emb Vector) error

	// FindByTags returns records of the given kinds whose tag sets
	// intersect tags, ranked by recency.
	FindByTags(ctx context.Context, kinds []Kind, tags []string, limit int) ([]*Record, error)

	// FindByVector returns records of the given kinds ranked by cosine
	// similarity to query, descending, ties broken by most-recent
	// timestamp. Records with zero-norm embeddings are excluded. An
	// empty query vector yields an empty result, never an error.
	FindByVector(ctx context.Context, kinds []Kind, query Vector, limit int) ([]Scored, error)

	// Recent returns the most recent records of one kind.
	Recent(ctx context.Context, kind Kind, limit int) ([]*Record, error)

	// RecentInsights returns the most recent insights for display.
	RecentInsights(ctx context.Context, limit int) ([]*Insight, error)

	// PendingInsight returns the most urgent undelivered insight, or
	// nil when nothing is pending.
	PendingInsight(ctx context.Context) (*Insight, error)

	// MarkDelivered marks an insight as surfaced to the user.
	MarkDelivered(ctx context.Context, id string) error
}
