package session

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/BTreeMap/Pixwave/internal/testutil"
)

func TestResolveCreatesAndReuses(t *testing.T) {
	reg := NewRegistry(WithCleanupInterval(0))
	defer reg.Close()

	wf, created := reg.Resolve("")
	if !created || wf == nil {
		t.Fatal("expected a new session for an empty id")
	}
	id := wf.SessionID()
	if id == "" {
		t.Fatal("expected the workflow to carry its session id")
	}

	again, created := reg.Resolve(id)
	if created || again != wf {
		t.Error("expected the same workflow for a known session id")
	}
	if reg.Count() != 1 {
		t.Errorf("expected 1 session, got %d", reg.Count())
	}
}

func TestResolveUnknownIDCreatesFreshSession(t *testing.T) {
	reg := NewRegistry(WithCleanupInterval(0))
	defer reg.Close()

	wf, created := reg.Resolve("forged-or-expired")
	if !created {
		t.Fatal("expected unknown id to create a session")
	}
	if wf.SessionID() == "forged-or-expired" {
		t.Error("client-supplied ids must not be adopted")
	}
}

func TestGet(t *testing.T) {
	reg := NewRegistry(WithCleanupInterval(0))
	defer reg.Close()

	if _, err := reg.Get(""); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for empty id, got %v", err)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	wf, _ := reg.Resolve("")
	got, err := reg.Get(wf.SessionID())
	if err != nil || got != wf {
		t.Errorf("expected stored workflow, got %v, %v", got, err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	timer := testutil.NewManualTimer()
	reg := NewRegistry(WithCleanupInterval(0), WithWorkflowOptions(flow.WithTimer(timer)))
	defer reg.Close()

	a, _ := reg.Resolve("")
	b, _ := reg.Resolve("")
	a.UpdatePrompt("only in a")
	a.Submit()

	if b.Snapshot().PromptText != "" || b.State() != models.GenerationStateIdle {
		t.Errorf("session b affected by session a: %+v", b.Snapshot())
	}
	if !b.Snapshot().CanSubmit() && b.Snapshot().PromptText != "" {
		t.Error("unexpected submit state for b")
	}
}

func TestExpiryClosesWorkflow(t *testing.T) {
	timer := testutil.NewManualTimer()
	reg := NewRegistry(WithTTL(20*time.Millisecond), WithCleanupInterval(0), WithWorkflowOptions(flow.WithTimer(timer)))
	defer reg.Close()

	wf, _ := reg.Resolve("")
	wf.UpdatePrompt("abandoned view")
	wf.Submit()
	if timer.Pending() != 1 {
		t.Fatalf("expected one pending generation, got %d", timer.Pending())
	}

	time.Sleep(40 * time.Millisecond)
	reg.Sweep()

	if timer.Pending() != 0 {
		t.Error("expected eviction to cancel the in-flight generation")
	}
	if wf.Submit() {
		t.Error("evicted workflow should be closed")
	}
	if _, err := reg.Get(wf.SessionID()); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected evicted session to be gone, got %v", err)
	}
}

func TestEndAndClose(t *testing.T) {
	timer := testutil.NewManualTimer()
	reg := NewRegistry(WithCleanupInterval(0), WithWorkflowOptions(flow.WithTimer(timer)))

	a, _ := reg.Resolve("")
	b, _ := reg.Resolve("")
	a.UpdatePrompt("a")
	a.Submit()
	b.UpdatePrompt("b")
	b.Submit()

	reg.End(a.SessionID())
	if reg.Count() != 1 || timer.Pending() != 1 {
		t.Errorf("after End: count=%d pending=%d", reg.Count(), timer.Pending())
	}

	reg.Close()
	if reg.Count() != 0 || timer.Pending() != 0 {
		t.Errorf("after Close: count=%d pending=%d", reg.Count(), timer.Pending())
	}
}
