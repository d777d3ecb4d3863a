package reverie

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the retrievable record types sharing the records table.
type Kind string

// Record kinds.
const (
	KindMessage  Kind = "message"
	KindResponse Kind = "response"
	KindInsight  Kind = "insight"
)

// Insight sources.
const (
	SourceInternal = "internal"
	SourceCyclical = "cyclical"
)

// Analysis outcomes. The thinker loop always terminates in one of
// these: explicit sufficiency, a cap-forced exit, retrieval exhaustion
// with the verdict still insufficient, or a schema fallback.
const (
	OutcomeSufficient = "sufficient"
	OutcomeCapReached = "cap_reached"
	OutcomeExhausted  = "exhausted"
	OutcomeFallback   = "fallback"
)

// StringList is a []string stored as a JSON column.
// Implements sql.Scanner and driver.Valuer for database compatibility.
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch val := src.(type) {
	case []byte:
		b = val
	case string:
		b = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return json.Unmarshal(b, l)
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CycleStep is one level of a cyclical introspection chain.
type CycleStep struct {
	Cycle       int    `json:"cycle"`
	Observation string `json:"observation"`
	Connection  string `json:"connection,omitempty"`
}

// CycleTrace is the ordered multi-cycle trace of a cyclical insight,
// stored as a JSON column.
type CycleTrace []CycleStep

// Scan implements sql.Scanner.
func (t *CycleTrace) Scan(src any) error {
	if src == nil {
		*t = nil
		return nil
	}
	var b []byte
	switch val := src.(type) {
	case []byte:
		b = val
	case string:
		b = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into CycleTrace", src)
	}
	return json.Unmarshal(b, t)
}

// Value implements driver.Valuer.
func (t CycleTrace) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Record is one retrievable utterance or insight in a user's namespace.
// Messages and responses share this shape; a response links to the
// message it answers through ReplyTo. Records are immutable once created
// except for the summary/tag annotation written back by the summarizer
// and the embedding attached asynchronously after creation.
type Record struct {
	ID        string     `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	UserID    string     `db:"user_id" type:"text" constraints:"notnull"`
	Kind      Kind       `db:"kind" type:"text" constraints:"notnull"`
	Text      string     `db:"text" type:"text" constraints:"notnull"`
	Summary   string     `db:"summary" type:"text"`
	Tags      StringList `db:"tags" type:"jsonb" default:"'[]'"`
	Embedding Vector     `db:"embedding" type:"vector(1536)"`
	ReplyTo   *string    `db:"reply_to" type:"uuid" references:"records(id)"`
	Created   time.Time  `db:"created" type:"timestamp" constraints:"notnull"`
}

// Analysis is the thinker's structured output for one exchange.
// Append-only; Cycles records how many loop iterations actually ran and
// Outcome distinguishes explicit sufficiency from a cap-forced exit.
type Analysis struct {
	ID         string     `db:"id" type:"uuid" constraints:"primarykey"`
	UserID     string     `db:"user_id" type:"text" constraints:"notnull"`
	MessageID  string     `db:"message_id" type:"uuid" constraints:"notnull" references:"records(id)"`
	ResponseID *string    `db:"response_id" type:"uuid" references:"records(id)"`
	Reasoning  StringList `db:"reasoning" type:"jsonb" default:"'[]'"`
	Facts      StringList `db:"facts" type:"jsonb" default:"'[]'"`
	Requests   StringList `db:"requests" type:"jsonb" default:"'[]'"`
	Outcome    string     `db:"outcome" type:"text" constraints:"notnull"`
	Cycles     int        `db:"cycles" type:"integer" constraints:"notnull"`
	Created    time.Time  `db:"created" type:"timestamp" constraints:"notnull"`
}

// LowConfidence reports whether downstream consumers should treat the
// analysis as degraded (cap-forced exit or schema fallback).
func (a *Analysis) LowConfidence() bool {
	return a.Outcome != OutcomeSufficient
}

// Insight is an autonomously generated thought. Never mutated after
// creation; Delivered tracks the proactive surface only.
type Insight struct {
	ID        string     `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	UserID    string     `db:"user_id" type:"text" constraints:"notnull"`
	Seeds     StringList `db:"seeds" type:"jsonb" default:"'[]'"`
	Urgency   float64    `db:"urgency" type:"double precision" constraints:"notnull"`
	Insight   string     `db:"insight" type:"text" constraints:"notnull"`
	Trace     CycleTrace `db:"trace" type:"jsonb" default:"'[]'"`
	Synthesis string     `db:"synthesis" type:"text"`
	NextStep  string     `db:"next_step" type:"text"`
	Source    string     `db:"source" type:"text" constraints:"notnull"`
	Delivered bool       `db:"delivered" type:"boolean" default:"false"`
	Created   time.Time  `db:"created" type:"timestamp" constraints:"notnull"`
}

// Interaction is the durable audit trail for one conversational turn,
// linking the message, its response, its analysis, and any insights
// produced in the same turn.
type Interaction struct {
	ID         string     `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	UserID     string     `db:"user_id" type:"text" constraints:"notnull"`
	MessageID  string     `db:"message_id" type:"uuid" constraints:"notnull" references:"records(id)"`
	ResponseID string     `db:"response_id" type:"uuid" constraints:"notnull" references:"records(id)"`
	AnalysisID string     `db:"analysis_id" type:"uuid" constraints:"notnull" references:"analyses(id)"`
	InsightIDs StringList `db:"insight_ids" type:"jsonb" default:"'[]'"`
	Tags       StringList `db:"tags" type:"jsonb" default:"'[]'"`
	Embedding  Vector     `db:"embedding" type:"vector(1536)"`
	Created    time.Time  `db:"created" type:"timestamp" constraints:"notnull"`
}

// CassandraFlag is a standalone warning raised when the thinker detects
// an inconsistency or risk signal. Immutable; consumed by monitoring,
// never by the pipeline itself.
type CassandraFlag struct {
	ID         string    `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	UserID     string    `db:"user_id" type:"text" constraints:"notnull"`
	AnalysisID string    `db:"analysis_id" type:"uuid" constraints:"notnull"`
	Flag       string    `db:"flag" type:"text" constraints:"notnull"`
	Created    time.Time `db:"created" type:"timestamp" constraints:"notnull"`
}

// Provenance describes how an item earned its place in a ContextBundle.
type Provenance string

// Provenance values.
const (
	ByTags       Provenance = "tags"
	BySimilarity Provenance = "similarity"
	ByRecency    Provenance = "recency"
)

// ContextItem pairs a retrieved record with its selection provenance and
// the score that ranked it.
type ContextItem struct {
	Record     *Record
	Provenance Provenance
	Score      float64
	Similarity float64
	TagOverlap int
}

// ContextBundle is the transient, in-memory context assembled per
// request. Not persisted. Items are ordered by descending score with
// deterministic tie-breaking.
type ContextBundle struct {
	Items   []ContextItem
	Minimal bool
	Tags    []string
	Summary string
}

// Render formats the bundle for LLM consumption, one line per item.
func (b *ContextBundle) Render() string {
	if b == nil || len(b.Items) == 0 {
		return ""
	}
	out := ""
	for i, item := range b.Items {
		if i > 0 {
			out += "\n"
		}
		text := item.Record.Summary
		if text == "" {
			text = item.Record.Text
		}
		out += string(item.Record.Kind) + ": " + text
	}
	return out
}
