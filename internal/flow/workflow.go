// Package flow implements the prompt generation workflow: the per-view state
// machine that accepts a prompt, waits out a simulated generation delay and
// publishes a placeholder image reference.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/google/uuid"
)

// DefaultGenerationDelay is the simulated latency of one generation.
const DefaultGenerationDelay = 2000 * time.Millisecond

// ReceiptSink receives a receipt for every generation that leaves the
// Generating state.
type ReceiptSink interface {
	AddGenerationReceipt(r models.GenerationReceipt) error
}

// Opts holds configuration options for a Workflow.
type Opts struct {
	SessionID string
	Delay     time.Duration
	Timer     Timer
	Generator ImageGenerator
	Receipts  ReceiptSink
	Now       func() time.Time
}

// Option defines a configuration option for a Workflow.
type Option func(*Opts)

// WithSessionID sets the session the workflow belongs to.
func WithSessionID(id string) Option {
	return func(o *Opts) { o.SessionID = id }
}

// WithDelay overrides the simulated generation delay.
func WithDelay(d time.Duration) Option {
	return func(o *Opts) { o.Delay = d }
}

// WithTimer sets the timer used to schedule generation completion.
func WithTimer(t Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithGenerator sets the image generator called on completion.
func WithGenerator(g ImageGenerator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithReceiptSink sets where generation receipts are recorded.
func WithReceiptSink(s ReceiptSink) Option {
	return func(o *Opts) { o.Receipts = s }
}

// WithClock overrides the time source used for receipts.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// generation is the in-flight submission.
type generation struct {
	timerID   string
	prompt    string // captured when the submission began
	startedAt time.Time
}

// Workflow owns PromptText, GenerationState and GeneratedImageRef for one view.
//
// Timer callbacks arrive on another goroutine, so all state is guarded by mu.
// At most one generation is in flight; that rule is enforced by the state
// check in Submit.
type Workflow struct {
	mu       sync.Mutex
	prompt   string
	state    models.GenerationState
	imageRef string
	lastErr  string
	inflight *generation
	closed   bool

	sessionID string
	delay     time.Duration
	timer     Timer
	generator ImageGenerator
	receipts  ReceiptSink
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkflow creates an idle workflow with an empty prompt and no image.
func NewWorkflow(opts ...Option) *Workflow {
	cfg := Opts{Delay: DefaultGenerationDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timer == nil {
		cfg.Timer = NewAfterFuncTimer()
	}
	if cfg.Generator == nil {
		cfg.Generator = PlaceholderGenerator{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())

	slog.Debug("Workflow.NewWorkflow: created", "session", cfg.SessionID, "delay", cfg.Delay)
	return &Workflow{
		state:     models.GenerationStateIdle,
		sessionID: cfg.SessionID,
		delay:     cfg.Delay,
		timer:     cfg.Timer,
		generator: cfg.Generator,
		receipts:  cfg.Receipts,
		now:       cfg.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SessionID returns the session this workflow belongs to.
func (w *Workflow) SessionID() string {
	return w.sessionID
}

// UpdatePrompt replaces the prompt text. It is accepted in every state and
// does not affect a generation already in flight.
func (w *Workflow) UpdatePrompt(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prompt = text
}

// Submit starts a generation for the current prompt. It returns false without
// changing anything when the prompt is blank, a generation is already in
// flight, or the workflow is closed.
func (w *Workflow) Submit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		slog.Debug("Workflow.Submit: ignored, workflow closed", "session", w.sessionID)
		return false
	}
	if models.IsBlank(w.prompt) {
		slog.Debug("Workflow.Submit: ignored, blank prompt", "session", w.sessionID)
		return false
	}
	if w.state == models.GenerationStateGenerating {
		slog.Debug("Workflow.Submit: ignored, generation in flight", "session", w.sessionID)
		return false
	}

	gen := &generation{prompt: w.prompt, startedAt: w.now()}
	id, err := w.timer.Schedule(w.delay, "generation for session "+w.sessionID, func() { w.complete(gen) })
	if err != nil {
		slog.Error("Workflow.Submit: failed to schedule generation", "error", err, "session", w.sessionID)
		w.lastErr = err.Error()
		return false
	}
	gen.timerID = id
	w.inflight = gen
	w.state = models.GenerationStateGenerating
	w.lastErr = ""

	slog.Info("Workflow.Submit: generation started", "session", w.sessionID, "timerID", id, "delay", w.delay)
	return true
}

// complete runs when the delay for gen has elapsed.
func (w *Workflow) complete(gen *generation) {
	w.mu.Lock()
	if w.closed || w.inflight != gen {
		w.mu.Unlock()
		slog.Debug("Workflow.complete: stale generation dropped", "session", w.sessionID, "timerID", gen.timerID)
		return
	}
	ctx := w.ctx
	w.mu.Unlock()

	// The generator may block; the Generating state keeps Submit out meanwhile.
	ref, err := w.generator.Generate(ctx, gen.prompt)
	if err == nil && ref == "" {
		err = models.ErrInvalidGenerationResult
	}

	w.mu.Lock()
	if w.closed || w.inflight != gen {
		w.mu.Unlock()
		return
	}
	outcome := models.GenerationOutcomeCompleted
	if err != nil {
		outcome = models.GenerationOutcomeFailed
		w.lastErr = err.Error()
		slog.Error("Workflow.complete: generation failed", "error", err, "session", w.sessionID)
	} else {
		w.imageRef = ref
		slog.Info("Workflow.complete: generation finished", "session", w.sessionID, "timerID", gen.timerID)
	}
	w.inflight = nil
	w.state = models.GenerationStateIdle
	w.mu.Unlock()

	w.record(gen, outcome)
}

// Close tears the workflow down with its view. A generation in flight is
// cancelled and never publishes an image. Close is safe to call repeatedly.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	gen := w.inflight
	w.inflight = nil
	w.state = models.GenerationStateIdle
	w.cancel()
	w.mu.Unlock()

	if gen == nil {
		slog.Debug("Workflow.Close: closed idle workflow", "session", w.sessionID)
		return
	}
	if err := w.timer.Cancel(gen.timerID); err != nil {
		slog.Warn("Workflow.Close: failed to cancel timer", "error", err, "timerID", gen.timerID)
	}
	slog.Info("Workflow.Close: cancelled in-flight generation", "session", w.sessionID, "timerID", gen.timerID)
	w.record(gen, models.GenerationOutcomeCancelled)
}

// Snapshot returns the observable state.
func (w *Workflow) Snapshot() models.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.Snapshot{
		SessionID:         w.sessionID,
		PromptText:        w.prompt,
		State:             w.state,
		GeneratedImageRef: w.imageRef,
		LastError:         w.lastErr,
	}
}

// State returns the current generation state.
func (w *Workflow) State() models.GenerationState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) record(gen *generation, outcome models.GenerationOutcome) {
	if w.receipts == nil {
		return
	}
	receipt := models.GenerationReceipt{
		ID:           uuid.NewString(),
		SessionID:    w.sessionID,
		Outcome:      outcome,
		PromptLength: utf8.RuneCountInString(gen.prompt),
		StartedAt:    gen.startedAt,
		CompletedAt:  w.now(),
	}
	if err := w.receipts.AddGenerationReceipt(receipt); err != nil {
		slog.Error("Workflow.record: failed to store receipt", "error", err, "session", w.sessionID, "outcome", outcome)
	}
}
