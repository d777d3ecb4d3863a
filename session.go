package reverie

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// sessionTTL is how long an untouched session survives before eviction.
const sessionTTL = 30 * time.Minute

// StoreFactory opens a Store bound to one user's namespace.
type StoreFactory func(user string) (Store, error)

// session is one live per-user pipeline plus its engine scheduler.
type session struct {
	pipeline *Pipeline
	store    Store
	cancel   context.CancelFunc
	lastUsed time.Time
}

// Registry manages per-user pipelines: created on first use, reused
// across requests, evicted after idling past the TTL. Each session runs
// its own cyclical engine scheduler until evicted.
type Registry struct {
	cfg      Config
	provider Provider
	embedder Embedder
	stores   StoreFactory

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewRegistry creates a registry. The factory is called once per user
// on first use; returning a MemStore keeps a user functional without
// persistence.
func NewRegistry(cfg Config, provider Provider, embedder Embedder, stores StoreFactory) *Registry {
	return &Registry{
		cfg:      cfg,
		provider: provider,
		embedder: embedder,
		stores:   stores,
		sessions: make(map[string]*session),
	}
}

// Get returns the pipeline for user, creating it on first use.
func (r *Registry) Get(user string) (*Pipeline, error) {
	if user == "" {
		return nil, fmt.Errorf("user required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry closed")
	}

	if s, ok := r.sessions[user]; ok {
		s.lastUsed = time.Now()
		return s.pipeline, nil
	}

	store, err := r.stores(user)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for %q: %w", user, err)
	}

	pipeline := NewPipeline(user, store, r.provider, r.embedder, r.cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go pipeline.Engine().Watch(ctx, r.cfg.IdleThreshold)

	r.sessions[user] = &session{
		pipeline: pipeline,
		store:    store,
		cancel:   cancel,
		lastUsed: time.Now(),
	}
	return pipeline, nil
}

// Sweep evicts sessions idle past the TTL. Run it periodically; Close
// handles everything left.
func (r *Registry) Sweep(ctx context.Context) {
	ticker := time.NewTicker(sessionTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle(ctx)
		}
	}
}

func (r *Registry) evictIdle(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-sessionTTL)
	for user, s := range r.sessions {
		if s.lastUsed.After(cutoff) {
			continue
		}
		s.cancel()
		if closer, ok := s.store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				capitan.Error(ctx, StoreDegraded,
					FieldUser.Field(user),
					FieldError.Field(err),
				)
			}
		}
		delete(r.sessions, user)
	}
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session's scheduler and closes their stores.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for user, s := range r.sessions {
		s.cancel()
		if closer, ok := s.store.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close store for %q: %w", user, err)
			}
		}
		delete(r.sessions, user)
	}
	return firstErr
}
