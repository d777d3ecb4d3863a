package reverie

import (
	"os"
	"strconv"
	"time"

	"github.com/zoobzio/zyn"
)

// Default configuration values. The thinker cap and assembler weights
// are safety bounds and tunables, not semantic guarantees.
const (
	DefaultThinkerCycleCap = 5
	DefaultChunkThreshold  = 4000
	DefaultChunkSize       = 2000
	DefaultMaxContextItems = 12
	DefaultCycleDepth      = 3
	DefaultIdleThreshold   = 30 * time.Second
	DefaultUrgencyFloor    = 0.5
)

// Default temperatures for stage LLM calls.
var (
	// DefaultReasoningTemperature is used for curator, thinker, and
	// summarizer calls. Deterministic for consistent structured output.
	DefaultReasoningTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultGenerationTemperature is used for the generator and the
	// cyclical engine's synthesis calls.
	DefaultGenerationTemperature = zyn.DefaultTemperatureCreative
)

// Config is the environment-style configuration surface.
type Config struct {
	// GenerationURL is the OpenAI-compatible generation backend endpoint.
	GenerationURL string
	// GenerationModel is the model identifier sent to the backend.
	GenerationModel string
	// DatabaseURL is the Postgres connection string. Empty runs the
	// process in non-persistent mode.
	DatabaseURL string
	// EmbeddingsURL is the embeddings backend endpoint. Empty disables
	// vector search; retrieval degrades to tag/recency matching.
	EmbeddingsURL string
	// EmbeddingsModel is the embeddings model identifier.
	EmbeddingsModel string

	// ThinkerCycleCap bounds the thinker's analyze/gather loop.
	ThinkerCycleCap int
	// ChunkThreshold is the message length above which input is split.
	ChunkThreshold int
	// ChunkSize is the target size of each chunk.
	ChunkSize int
	// MaxContextItems bounds the assembled context bundle.
	MaxContextItems int
	// CycleDepth is the number of introspective cycles per engine chain.
	CycleDepth int
	// IdleThreshold is how long a user must be idle before the cyclical
	// engine fires; also the session eviction horizon multiplier base.
	IdleThreshold time.Duration
	// UrgencyFloor is the minimum urgency for proactive delivery.
	UrgencyFloor float64
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		GenerationURL:   "http://localhost:1234",
		GenerationModel: "reverie",
		EmbeddingsModel: "text-embedding-nomic-embed-text-v1.5",
		ThinkerCycleCap: DefaultThinkerCycleCap,
		ChunkThreshold:  DefaultChunkThreshold,
		ChunkSize:       DefaultChunkSize,
		MaxContextItems: DefaultMaxContextItems,
		CycleDepth:      DefaultCycleDepth,
		IdleThreshold:   DefaultIdleThreshold,
		UrgencyFloor:    DefaultUrgencyFloor,
	}
}

// FromEnv builds a Config from REVERIE_* environment variables, falling
// back to defaults for anything unset or unparseable.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REVERIE_GENERATION_URL"); v != "" {
		cfg.GenerationURL = v
	}
	if v := os.Getenv("REVERIE_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("REVERIE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REVERIE_EMBEDDINGS_URL"); v != "" {
		cfg.EmbeddingsURL = v
	}
	if v := os.Getenv("REVERIE_EMBEDDINGS_MODEL"); v != "" {
		cfg.EmbeddingsModel = v
	}
	if n, ok := envInt("REVERIE_THINKER_CYCLE_CAP"); ok && n > 0 {
		cfg.ThinkerCycleCap = n
	}
	if n, ok := envInt("REVERIE_CHUNK_THRESHOLD"); ok && n > 0 {
		cfg.ChunkThreshold = n
	}
	if n, ok := envInt("REVERIE_CHUNK_SIZE"); ok && n > 0 {
		cfg.ChunkSize = n
	}
	if n, ok := envInt("REVERIE_MAX_CONTEXT_ITEMS"); ok && n > 0 {
		cfg.MaxContextItems = n
	}
	if n, ok := envInt("REVERIE_CYCLE_DEPTH"); ok && n > 0 {
		cfg.CycleDepth = n
	}
	if v := os.Getenv("REVERIE_IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.IdleThreshold = d
		}
	}
	if v := os.Getenv("REVERIE_URGENCY_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.UrgencyFloor = f
		}
	}

	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
