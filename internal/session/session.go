// Package session maps page views to their prompt generation workflows.
//
// Each browser session owns exactly one flow.Workflow. Sessions expire after a
// period of inactivity; an expired or deleted session is a torn-down view, so
// its workflow is closed and any generation in flight is cancelled.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Default registry settings.
const (
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Opts holds configuration options for a Registry.
type Opts struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	WorkflowOptions []flow.Option
}

// Option defines a configuration option for a Registry.
type Option func(*Opts)

// WithTTL sets how long an idle session is kept.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithCleanupInterval sets how often expired sessions are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Opts) { o.CleanupInterval = d }
}

// WithWorkflowOptions sets options applied to every new workflow.
func WithWorkflowOptions(opts ...flow.Option) Option {
	return func(o *Opts) { o.WorkflowOptions = append(o.WorkflowOptions, opts...) }
}

// Registry holds the live workflows keyed by session ID.
type Registry struct {
	mu       sync.Mutex // serializes lookup-or-create
	sessions *cache.Cache
	ttl      time.Duration
	wfOpts   []flow.Option
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := Opts{TTL: DefaultTTL, CleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := cache.New(cfg.TTL, cfg.CleanupInterval)
	c.OnEvicted(func(id string, v interface{}) {
		if wf, ok := v.(*flow.Workflow); ok {
			slog.Debug("Registry: session evicted", "session", id)
			wf.Close()
		}
	})
	slog.Debug("Registry.NewRegistry: created", "ttl", cfg.TTL, "cleanup_interval", cfg.CleanupInterval)
	return &Registry{
		sessions: c,
		ttl:      cfg.TTL,
		wfOpts:   cfg.WorkflowOptions,
	}
}

// Resolve returns the workflow for id, creating a new session when id is
// empty or unknown. The second result reports whether a session was created.
// Every lookup extends the session's lifetime.
func (r *Registry) Resolve(id string) (*flow.Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if v, found := r.sessions.Get(id); found {
			wf := v.(*flow.Workflow)
			r.sessions.Set(id, wf, cache.DefaultExpiration)
			return wf, false
		}
	}

	newID := uuid.NewString()
	opts := append(append([]flow.Option{}, r.wfOpts...), flow.WithSessionID(newID))
	wf := flow.NewWorkflow(opts...)
	r.sessions.Set(newID, wf, cache.DefaultExpiration)
	slog.Info("Registry.Resolve: session created", "session", newID, "requested", id)
	return wf, true
}

// Get returns the workflow for an existing session.
func (r *Registry) Get(id string) (*flow.Workflow, error) {
	if id == "" {
		return nil, models.ErrSessionNotFound
	}
	v, found := r.sessions.Get(id)
	if !found {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return v.(*flow.Workflow), nil
}

// End deletes a session and closes its workflow.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Delete(id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return r.sessions.ItemCount()
}

// Sweep evicts expired sessions now instead of waiting for the janitor.
func (r *Registry) Sweep() {
	r.sessions.DeleteExpired()
}

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.DeleteExpired()
	items := r.sessions.Items()
	for id := range items {
		r.sessions.Delete(id)
	}
	slog.Info("Registry.Close: all sessions closed", "count", len(items))
}
