package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/BTreeMap/Pixwave/internal/scheduler"
	"github.com/BTreeMap/Pixwave/internal/session"
	"github.com/BTreeMap/Pixwave/internal/store"
	"github.com/BTreeMap/Pixwave/internal/testutil"
)

func TestBuildOptsDefaults(t *testing.T) {
	cfg := buildOpts(nil)
	if cfg.Addr != DefaultAddr || cfg.GenerationDelay != flow.DefaultGenerationDelay || cfg.SessionTTL != session.DefaultTTL {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Catalog == nil || cfg.Catalog.Validate() != nil {
		t.Error("expected the default catalog")
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	st, err := newStore(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store, got %T", st)
	}
	st.Close()

	dbPath := filepath.Join(t.TempDir(), "pixwave.db")
	st, err = newStore([]store.Option{store.WithSQLiteDSN(dbPath)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.SQLiteStore); !ok {
		t.Errorf("expected SQLite store, got %T", st)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pixwave.db")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, []store.Option{store.WithSQLiteDSN(dbPath)}, []Option{
			WithAddr("127.0.0.1:0"),
			WithSweepInterval(10 * time.Millisecond),
		})
	}()

	testutil.WaitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(dbPath)
		return err == nil
	}, "database created")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	err := Run(context.Background(), nil, []Option{WithAddr("127.0.0.1:-1")})
	if err == nil {
		t.Error("expected listen error for invalid address")
	}
}

func TestScheduleMaintenance(t *testing.T) {
	reg := session.NewRegistry(session.WithCleanupInterval(0))
	defer reg.Close()
	st := store.NewInMemoryStore()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := scheduleMaintenance(sched, reg, st, buildOpts(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobs := sched.Jobs(); len(jobs) != 1 || jobs[0].Name != "session-sweep" {
		t.Errorf("expected only the session sweep without retention, got %+v", jobs)
	}

	sched = scheduler.NewScheduler()
	defer sched.Stop()
	cfg := buildOpts([]Option{WithReceiptRetention(24 * time.Hour), WithSweepInterval(0)})
	if err := scheduleMaintenance(sched, reg, st, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobs := sched.Jobs(); len(jobs) != 1 || jobs[0].Name != "receipt-prune" {
		t.Errorf("expected only the prune job, got %+v", jobs)
	}
}

func TestSessionSweepJobEvictsExpired(t *testing.T) {
	reg := session.NewRegistry(session.WithTTL(10*time.Millisecond), session.WithCleanupInterval(0))
	defer reg.Close()
	reg.Resolve("")

	sched := scheduler.NewScheduler()
	if err := scheduleMaintenance(sched, reg, store.NewInMemoryStore(), buildOpts([]Option{WithSweepInterval(time.Second)})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	testutil.WaitFor(t, 3*time.Second, func() bool { return reg.Count() == 0 }, "expired session swept")
}

func TestPruneReceipts(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{48 * time.Hour, time.Hour} {
		completed := now.Add(-age)
		r := models.GenerationReceipt{
			ID:          "r" + string(rune('0'+i)),
			SessionID:   "s",
			Outcome:     models.GenerationOutcomeCompleted,
			StartedAt:   completed.Add(-2 * time.Second),
			CompletedAt: completed,
		}
		if err := st.AddGenerationReceipt(r); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	pruneReceipts(st, 24*time.Hour, now)

	receipts, _ := st.GetGenerationReceipts()
	if len(receipts) != 1 || receipts[0].ID != "r1" {
		t.Errorf("expected only the recent receipt to remain, got %+v", receipts)
	}
}
