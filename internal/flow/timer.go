package flow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/Pixwave/internal/models"
)

// Timer schedules delayed callbacks. Callbacks run on their own goroutine.
type Timer interface {
	// Schedule runs fn once after delay and returns an ID usable with Cancel.
	Schedule(delay time.Duration, label string, fn func()) (string, error)
	// Cancel stops a pending callback. Unknown IDs are ignored.
	Cancel(id string) error
}

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
	label       string
}

// AfterFuncTimer implements Timer on top of time.AfterFunc and keeps an index of
// pending callbacks for inspection.
type AfterFuncTimer struct {
	mu      sync.RWMutex
	timers  map[string]*timerEntry
	nextID  int64
	stopped bool
}

// NewAfterFuncTimer creates a new AfterFuncTimer.
func NewAfterFuncTimer() *AfterFuncTimer {
	slog.Debug("AfterFuncTimer.NewAfterFuncTimer: creating timer")
	return &AfterFuncTimer{
		timers: make(map[string]*timerEntry),
	}
}

// Schedule schedules fn to run after delay.
func (t *AfterFuncTimer) Schedule(delay time.Duration, label string, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("timer callback is nil")
	}
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return "", fmt.Errorf("timer stopped")
	}
	t.nextID++
	id := fmt.Sprintf("gen_%d", t.nextID)

	now := time.Now()
	entry := &timerEntry{
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		label:       label,
	}
	entry.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, pending := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !pending {
			return
		}
		slog.Debug("AfterFuncTimer: firing", "id", id, "label", label)
		fn()
	})
	t.timers[id] = entry

	slog.Debug("AfterFuncTimer.Schedule: scheduled", "id", id, "delay", delay, "label", label)
	return id, nil
}

// Cancel cancels a scheduled callback by ID.
func (t *AfterFuncTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.timers[id]
	if !exists {
		slog.Debug("AfterFuncTimer.Cancel: timer not found", "id", id)
		return nil
	}
	entry.timer.Stop()
	delete(t.timers, id)
	slog.Debug("AfterFuncTimer.Cancel: cancelled", "id", id)
	return nil
}

// Stop cancels all pending callbacks and rejects new ones.
func (t *AfterFuncTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("AfterFuncTimer.Stop: stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
	t.stopped = true
}

// ListActive returns information about all pending callbacks, soonest first.
func (t *AfterFuncTimer) ListActive() []models.TimerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	result := make([]models.TimerInfo, 0, len(t.timers))
	for id, entry := range t.timers {
		result = append(result, entry.info(id, now))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result
}

// GetTimer returns information about a specific pending callback.
func (t *AfterFuncTimer) GetTimer(id string) (*models.TimerInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.timers[id]
	if !exists {
		return nil, fmt.Errorf("timer with ID %s not found", id)
	}
	info := entry.info(id, time.Now())
	return &info, nil
}

func (e *timerEntry) info(id string, now time.Time) models.TimerInfo {
	remaining := e.expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return models.TimerInfo{
		ID:          id,
		ScheduledAt: e.scheduledAt,
		ExpiresAt:   e.expiresAt,
		Remaining:   remaining.String(),
		Description: e.label,
	}
}
