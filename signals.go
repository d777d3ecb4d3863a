package reverie

import "github.com/zoobzio/capitan"

// Signal definitions for reverie pipeline events.
// Signals follow the pattern: reverie.<entity>.<event>.
var (
	// Turn lifecycle signals.
	TurnStarted = capitan.NewSignal(
		"reverie.turn.started",
		"Conversational turn began processing",
	)
	TurnCompleted = capitan.NewSignal(
		"reverie.turn.completed",
		"Conversational turn finished and interaction was linked",
	)
	TurnFailed = capitan.NewSignal(
		"reverie.turn.failed",
		"Conversational turn terminated with an unrecoverable error",
	)

	// Stage execution signals.
	StageStarted = capitan.NewSignal(
		"reverie.stage.started",
		"Pipeline stage began execution",
	)
	StageCompleted = capitan.NewSignal(
		"reverie.stage.completed",
		"Pipeline stage finished successfully",
	)
	StageFailed = capitan.NewSignal(
		"reverie.stage.failed",
		"Pipeline stage encountered an error",
	)
	StageFallback = capitan.NewSignal(
		"reverie.stage.fallback",
		"Structured call degraded to raw-text fallback",
	)

	// Thinker loop signals.
	ThinkerCycleCompleted = capitan.NewSignal(
		"reverie.thinker.cycle",
		"Thinker finished one analyze/gather cycle",
	)
	ThinkerCapReached = capitan.NewSignal(
		"reverie.thinker.cap",
		"Thinker loop force-terminated at the cycle cap",
	)
	CassandraRaised = capitan.NewSignal(
		"reverie.cassandra.raised",
		"Thinker flagged an inconsistency or risk signal",
	)

	// Memory signals.
	RecordStored = capitan.NewSignal(
		"reverie.record.stored",
		"Record persisted to the memory store",
	)
	RecordAnnotated = capitan.NewSignal(
		"reverie.record.annotated",
		"Summary and tags written back onto a record",
	)
	StoreDegraded = capitan.NewSignal(
		"reverie.store.degraded",
		"Persistence unavailable; turn continued in non-persistent mode",
	)
	EmbeddingSkipped = capitan.NewSignal(
		"reverie.embedding.skipped",
		"Embeddings backend unavailable; retrieval fell back to tags and recency",
	)

	// Cyclical thinking signals.
	SeedSelected = capitan.NewSignal(
		"reverie.seed.selected",
		"Engine chose a seed record for an introspective chain",
	)
	CycleObserved = capitan.NewSignal(
		"reverie.cycle.observed",
		"Engine completed one introspective cycle over a seed",
	)
	InsightSynthesized = capitan.NewSignal(
		"reverie.insight.synthesized",
		"Engine persisted a synthesized insight",
	)
)

// Field keys for reverie event data.
var (
	// Identity.
	FieldUser    = capitan.NewStringKey("user")
	FieldTurnID  = capitan.NewStringKey("turn_id")
	FieldRecord  = capitan.NewStringKey("record_id")
	FieldKind    = capitan.NewStringKey("kind")
	FieldSource  = capitan.NewStringKey("source")
	FieldSeed    = capitan.NewStringKey("seed_id")
	FieldOutcome = capitan.NewStringKey("outcome")

	// Stage metadata.
	FieldStage       = capitan.NewStringKey("stage") // curator, thinker, generator, summarizer
	FieldTemperature = capitan.NewFloat32Key("temperature")

	// Loop metrics.
	FieldCycle      = capitan.NewIntKey("cycle")
	FieldCycleCap   = capitan.NewIntKey("cycle_cap")
	FieldItemCount  = capitan.NewIntKey("item_count")
	FieldFlagCount  = capitan.NewIntKey("flag_count")
	FieldChunkCount = capitan.NewIntKey("chunk_count")
	FieldUrgency    = capitan.NewFloat32Key("urgency")

	// Timing.
	FieldDuration = capitan.NewDurationKey("duration")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
