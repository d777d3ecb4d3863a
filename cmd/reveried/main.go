package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/reverie-ai/reverie"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := reverie.FromEnv()

	provider := reverie.NewChatProvider(cfg.GenerationURL,
		reverie.WithChatModel(cfg.GenerationModel),
	)

	var embedder reverie.Embedder
	if cfg.EmbeddingsURL != "" {
		embedder = reverie.NewHTTPEmbedder(cfg.EmbeddingsURL,
			reverie.WithEmbeddingModel(cfg.EmbeddingsModel, embeddingDims(cfg.EmbeddingsModel)),
		)
	} else {
		logger.Warn("embeddings disabled, retrieval degrades to tags and recency")
	}

	stores := memoryFactory(logger)
	var db *sqlx.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("database unreachable, running non-persistent", "error", err)
		} else {
			stores = func(user string) (reverie.Store, error) {
				return reverie.NewSoyStore(db, user)
			}
		}
	} else {
		logger.Warn("no database configured, running non-persistent")
	}

	registry := reverie.NewRegistry(cfg, provider, embedder, stores)
	defer registry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go registry.Sweep(ctx)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           newHandler(logger, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", srv.Addr, "persistent", db != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func embeddingDims(model string) int {
	if model == reverie.ModelTextEmbedding3Small {
		return reverie.DimensionsTextEmbedding3
	}
	return reverie.DimensionsNomicEmbed
}

func listenAddr() string {
	if v := os.Getenv("REVERIE_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

// memoryFactory serves every user from process memory. The degraded
// mode when no database is reachable.
func memoryFactory(logger *slog.Logger) reverie.StoreFactory {
	return func(user string) (reverie.Store, error) {
		logger.Info("opening in-memory store", "user", user)
		return reverie.NewMemStore(user), nil
	}
}

type handler struct {
	logger   *slog.Logger
	registry *reverie.Registry
}

func newHandler(logger *slog.Logger, registry *reverie.Registry) http.Handler {
	h := &handler{logger: logger, registry: registry}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.chat)
	mux.HandleFunc("GET /stream", h.stream)
	mux.HandleFunc("GET /welcome", h.welcome)
	mux.HandleFunc("GET /proactive", h.proactive)
	mux.HandleFunc("GET /thoughts", h.thoughts)
	return mux
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Response   string   `json:"response"`
	AnalysisID string   `json:"analysis_id"`
	Outcome    string   `json:"outcome"`
	Insights   []string `json:"insights,omitempty"`
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Message == "" {
		http.Error(w, "user_id and message required", http.StatusBadRequest)
		return
	}

	pipeline, err := h.registry.Get(req.UserID)
	if err != nil {
		h.fail(w, "failed to open session", err)
		return
	}

	result, err := pipeline.Respond(r.Context(), req.Message)
	if err != nil {
		h.fail(w, "exchange failed", err)
		return
	}

	writeJSON(w, chatResponse{
		Response:   result.Response,
		AnalysisID: result.Analysis.ID,
		Outcome:    result.Analysis.Outcome,
		Insights:   result.Insights,
	})
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	message := r.URL.Query().Get("message")
	if user == "" || message == "" {
		http.Error(w, "user_id and message required", http.StatusBadRequest)
		return
	}

	pipeline, err := h.registry.Get(user)
	if err != nil {
		h.fail(w, "failed to open session", err)
		return
	}

	ew, err := reverie.NewEventWriter(w)
	if err != nil {
		h.fail(w, "streaming unsupported", err)
		return
	}

	if err := pipeline.Stream(r.Context(), message, ew.Send); err != nil {
		h.logger.Error("stream failed", "user", user, "error", err)
	}
}

func (h *handler) welcome(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	pipeline, err := h.registry.Get(user)
	if err != nil {
		h.fail(w, "failed to open session", err)
		return
	}

	ew, err := reverie.NewEventWriter(w)
	if err != nil {
		h.fail(w, "streaming unsupported", err)
		return
	}

	if err := pipeline.Welcome(r.Context(), ew.Send); err != nil {
		h.logger.Error("welcome failed", "user", user, "error", err)
	}
}

func (h *handler) proactive(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	pipeline, err := h.registry.Get(user)
	if err != nil {
		h.fail(w, "failed to open session", err)
		return
	}

	insight, err := pipeline.Proactive(r.Context())
	if err != nil {
		h.fail(w, "proactive lookup failed", err)
		return
	}
	if insight == nil {
		writeJSON(w, map[string]any{"pending": false})
		return
	}
	writeJSON(w, map[string]any{
		"pending": true,
		"text":    insight.Insight,
		"urgency": insight.Urgency,
	})
}

func (h *handler) thoughts(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	limit := thoughtsLimit(r.URL.Query().Get("limit"))

	pipeline, err := h.registry.Get(user)
	if err != nil {
		h.fail(w, "failed to open session", err)
		return
	}

	insights, err := pipeline.Thoughts(r.Context(), limit)
	if err != nil {
		h.fail(w, "thoughts lookup failed", err)
		return
	}
	writeJSON(w, insights)
}

// Bounds for the /thoughts limit parameter.
const (
	defaultThoughts = 20
	maxThoughts     = 100
)

func thoughtsLimit(raw string) int {
	limit := defaultThoughts
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		limit = n
	}
	if limit > maxThoughts {
		limit = maxThoughts
	}
	return limit
}

func (h *handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
