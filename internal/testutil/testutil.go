// Package testutil provides common test utilities and helpers for Pixwave tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// ManualTimer is a deterministic timer: callbacks only run when the test
// fires them.
type ManualTimer struct {
	mu      sync.Mutex
	nextID  int
	pending map[string]func()
	delays  map[string]time.Duration
	order   []string
}

// NewManualTimer creates an empty ManualTimer.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{
		pending: make(map[string]func()),
		delays:  make(map[string]time.Duration),
	}
}

// Schedule records fn without running it.
func (m *ManualTimer) Schedule(delay time.Duration, _ string, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("manual_%d", m.nextID)
	m.pending[id] = fn
	m.delays[id] = delay
	m.order = append(m.order, id)
	return id, nil
}

// Cancel drops a pending callback.
func (m *ManualTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

// Pending returns the number of callbacks waiting to fire.
func (m *ManualTimer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Scheduled returns how many callbacks were ever scheduled.
func (m *ManualTimer) Scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// LastDelay returns the delay passed to the most recent Schedule call.
func (m *ManualTimer) LastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return 0
	}
	return m.delays[m.order[len(m.order)-1]]
}

// FireAll runs every pending callback in scheduling order and returns how many ran.
func (m *ManualTimer) FireAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for _, id := range m.order {
		if _, ok := m.pending[id]; ok {
			ids = append(ids, id)
		}
	}
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.pending[id])
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// PendingIDs returns the IDs of pending callbacks, sorted.
func (m *ManualTimer) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, context string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: condition not met within %v", context, timeout)
}
