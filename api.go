// Package reverie implements a multi-stage reasoning pipeline with an
// associative long-term memory store for Go.
//
// reverie coordinates four specialized reasoning stages around a
// persistent, per-user knowledge base, plus a background engine that
// autonomously revisits stored history to produce unsolicited insights.
//
// # Pipeline
//
// Each conversational turn runs a fixed sequence of stages:
//
//   - [Curator] - decides what context to retrieve and what facts to persist
//   - [Thinker] - bounded iterative refinement producing an [Analysis]
//   - [Generator] - turns the analysis into user-facing text (batch or stream)
//   - [Summarizer] - produces retrieval-oriented summaries and tags post-hoc
//
// Stages are composed as pipz processors over a [Turn] carrier; see
// [Pipeline]. Turns for different users execute concurrently; stages
// within a turn are strictly sequential.
//
// # Memory
//
// The [Store] interface provides tag search, vector-similarity search,
// and recency retrieval over [Record] rows (messages, responses,
// insights), scoped to a single user's namespace. [SoyStore] persists to
// PostgreSQL with pgvector via soy; [MemStore] backs tests and the
// degraded non-persistent mode.
//
// The [Assembler] merges tag-matched, similarity-matched, and recent
// candidates into a bounded, deterministically ranked [ContextBundle].
//
// # Structured calls
//
// All LLM access goes through zyn synapses. [Invoke] enforces a typed
// result schema and degrades to a raw-text fallback when the backend
// returns unstructured output; network failures surface as typed errors.
//
// # Cyclical thinking
//
// The [Engine] samples historical records as seeds, runs a chain of
// introspective cycles, and synthesizes proactive [Insight] records on an
// idle-based cadence. Insights reach the user only through the proactive
// delivery surface, never mid-conversation.
//
// # Observability
//
// reverie emits capitan signals throughout execution. See signals.go for
// the complete list of events including TurnStarted, StageCompleted,
// ThinkerCycleCompleted, CassandraRaised, and InsightSynthesized.
package reverie
