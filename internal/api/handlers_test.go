package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/BTreeMap/Pixwave/internal/content"
	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/BTreeMap/Pixwave/internal/session"
	"github.com/BTreeMap/Pixwave/internal/store"
	"github.com/BTreeMap/Pixwave/internal/testutil"
	"github.com/BTreeMap/Pixwave/internal/web"
)

type testServer struct {
	srv     *Server
	handler http.Handler
	gen     *testutil.ManualTimer
	timers  *flow.AfterFuncTimer
	st      *store.InMemoryStore
	reg     *session.Registry
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	gen := testutil.NewManualTimer()
	st := store.NewInMemoryStore()
	reg := session.NewRegistry(
		session.WithCleanupInterval(0),
		session.WithWorkflowOptions(flow.WithTimer(gen), flow.WithReceiptSink(st)),
	)
	timers := flow.NewAfterFuncTimer()
	t.Cleanup(func() {
		reg.Close()
		timers.Stop()
	})
	srv := NewServer(reg, st, timers, opts...)
	return &testServer{srv: srv, handler: srv.Handler(), gen: gen, timers: timers, st: st, reg: reg}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("response did not set %s cookie", SessionCookieName)
	return nil
}

func formRequest(path, prompt string, cookie *http.Cookie) *http.Request {
	form := url.Values{"prompt": {prompt}}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func getRequest(path string, cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func resultMap(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp["result"])
	}
	return result
}

func TestPageHandlerStartsSession(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(getRequest("/", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /")
	cookie := sessionCookie(t, rr)
	if !cookie.HttpOnly || cookie.Path != "/" {
		t.Errorf("unexpected cookie attributes: %+v", cookie)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML content type, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Pixwave AI") || !strings.Contains(body, `<button type="submit" disabled`) {
		t.Error("expected landing page with disabled submit")
	}

	// The same cookie keeps the same session.
	rr = ts.do(getRequest("/", cookie))
	if len(rr.Result().Cookies()) != 0 {
		t.Error("known session should not be reissued")
	}
	if ts.reg.Count() != 1 {
		t.Errorf("expected 1 session, got %d", ts.reg.Count())
	}
}

func TestPageHandlerRejectsOtherPathsAndMethods(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(getRequest("/nope", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "GET /nope")

	rr = ts.do(httptest.NewRequest(http.MethodPost, "/", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST /")
	if rr.Header().Get("Allow") != "GET, HEAD" {
		t.Errorf("unexpected Allow header %q", rr.Header().Get("Allow"))
	}
}

func TestGenerateFormFlow(t *testing.T) {
	ts := newTestServer(t)
	cookie := sessionCookie(t, ts.do(getRequest("/", nil)))

	rr := ts.do(formRequest("/generate", "A dragon flying over mountains at sunset", cookie))
	testutil.AssertHTTPStatus(t, http.StatusSeeOther, rr.Code, "POST /generate")
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
	if ts.gen.Pending() != 1 || ts.gen.LastDelay() != flow.DefaultGenerationDelay {
		t.Fatalf("expected one generation scheduled with default delay, pending=%d delay=%v", ts.gen.Pending(), ts.gen.LastDelay())
	}

	body := ts.do(getRequest("/", cookie)).Body.String()
	for _, want := range []string{"Generating...", `http-equiv="refresh"`, `value="A dragon flying over mountains at sunset"`} {
		if !strings.Contains(body, want) {
			t.Errorf("generating page missing %q", want)
		}
	}

	ts.gen.FireAll()

	body = ts.do(getRequest("/", cookie)).Body.String()
	if !strings.Contains(body, "https://placehold.co/512x512/7c3aed/ffffff?text=A%20dragon%20flying%20over") {
		t.Error("expected generated image after completion")
	}
	if strings.Contains(body, `http-equiv="refresh"`) {
		t.Error("idle page should not refresh")
	}
}

func TestGenerateWithoutCookieCreatesSession(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(formRequest("/generate", "hello", nil))
	testutil.AssertHTTPStatus(t, http.StatusSeeOther, rr.Code, "POST /generate")
	cookie := sessionCookie(t, rr)

	wf, err := ts.reg.Get(cookie.Value)
	if err != nil {
		t.Fatalf("expected session from cookie: %v", err)
	}
	if wf.State() != models.GenerationStateGenerating {
		t.Errorf("expected generating, got %s", wf.State())
	}
}

func TestGenerateJSON(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/generate", map[string]string{"prompt": "A cat"})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "first submit")
	cookie := sessionCookie(t, rr)
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "accepted"))
	if result["state"] != "generating" || result["prompt"] != "A cat" {
		t.Errorf("unexpected snapshot: %v", result)
	}

	// Re-entrancy: a second submit while generating does nothing.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/generate", map[string]string{"prompt": "A dog"})
	req.AddCookie(cookie)
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "second submit")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if resp["message"] != "Generation already in progress" {
		t.Errorf("unexpected message %v", resp["message"])
	}
	if ts.gen.Scheduled() != 1 {
		t.Errorf("expected exactly one scheduled generation, got %d", ts.gen.Scheduled())
	}

	ts.gen.FireAll()

	rr = ts.do(getRequest("/state", cookie))
	result = resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	// The prompt edit during generation is kept, the image uses the captured prompt.
	if result["prompt"] != "A dog" {
		t.Errorf("expected edited prompt, got %v", result["prompt"])
	}
	if result["generated_image"] != "https://placehold.co/512x512/7c3aed/ffffff?text=A%20cat" {
		t.Errorf("unexpected image %v", result["generated_image"])
	}
}

func TestGenerateBlankPromptIsNoop(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/generate", map[string]string{"prompt": "   "})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "blank submit")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if resp["message"] != "Prompt is blank" {
		t.Errorf("unexpected message %v", resp["message"])
	}
	if ts.gen.Scheduled() != 0 {
		t.Error("blank prompt must not schedule a generation")
	}
}

func TestGenerateRejectsLongPrompt(t *testing.T) {
	ts := newTestServer(t)
	long := strings.Repeat("a", models.MaxPromptLength+1)
	rr := ts.do(formRequest("/generate", long, nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "long prompt")
	testutil.AssertJSONResponse(t, rr, "error")
	if ts.reg.Count() != 0 {
		t.Error("rejected request should not create a session")
	}
}

func TestGenerateAcceptsFullPromptInput(t *testing.T) {
	// A browser caps the input in UTF-16 code units; three-byte runes and
	// surrogate pairs at that cap must still fit the byte limit.
	for _, r := range []rune{'龍', '😀'} {
		ts := newTestServer(t)
		prompt := strings.Repeat(string(r), web.PromptInputMaxLength/len(utf16.Encode([]rune{r})))
		rr := ts.do(formRequest("/generate", prompt, nil))
		testutil.AssertHTTPStatus(t, http.StatusSeeOther, rr.Code, "full input of "+string(r))
		if ts.gen.Scheduled() != 1 {
			t.Errorf("expected generation to start for a full input of %c", r)
		}
	}
}

func TestGenerateRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t)
	huge := strings.Repeat("%20", maxRequestBodyBytes)
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("prompt="+huge))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusRequestEntityTooLarge, rr.Code, "oversized body")
}

func TestGenerateInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(getRequest("/generate", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /generate")
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("unexpected Allow header %q", rr.Header().Get("Allow"))
	}
}

func TestPromptHandlerUpdatesWithoutSubmitting(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/prompt", map[string]string{"prompt": "draft"})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /prompt")
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["prompt"] != "draft" || result["state"] != "idle" {
		t.Errorf("unexpected snapshot %v", result)
	}
	if ts.gen.Scheduled() != 0 {
		t.Error("prompt update must not schedule a generation")
	}

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/prompt", map[string]string{})
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing prompt")
}

func TestStateHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(getRequest("/state", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "no session")
	testutil.AssertJSONResponse(t, rr, "error")

	rr = ts.do(getRequest("/state", &http.Cookie{Name: SessionCookieName, Value: "unknown"}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown session")

	cookie := sessionCookie(t, ts.do(getRequest("/", nil)))
	rr = ts.do(getRequest("/state", cookie))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "known session")
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["state"] != "idle" || result["session_id"] != cookie.Value {
		t.Errorf("unexpected snapshot %v", result)
	}
	if _, ok := result["generated_image"]; ok {
		t.Error("absent image should be omitted")
	}
}

func TestContentHandler(t *testing.T) {
	cat := content.Default()
	cat.Hero.Title = "Custom Title"
	ts := newTestServer(t, WithCatalog(cat))

	rr := ts.do(getRequest("/content", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /content")
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	features, ok := result["features"].([]interface{})
	if !ok || len(features) != content.FeatureCount {
		t.Errorf("expected %d features, got %v", content.FeatureCount, result["features"])
	}
	hero := result["hero"].(map[string]interface{})
	if hero["title"] != "Custom Title" {
		t.Errorf("expected catalog override, got %v", hero["title"])
	}

	body := ts.do(getRequest("/", nil)).Body.String()
	if !strings.Contains(body, "Custom Title") {
		t.Error("page should render the configured catalog")
	}
}

func TestStatsHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(getRequest("/stats", nil))
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["total"] != float64(0) {
		t.Errorf("expected empty stats, got %v", result)
	}

	cookie := sessionCookie(t, ts.do(formRequest("/generate", "héllo", nil)))
	ts.gen.FireAll()
	ts.do(formRequest("/generate", "again", cookie))
	ts.reg.End(cookie.Value)

	rr = ts.do(getRequest("/stats", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /stats")
	result = resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["total"] != float64(2) || result["completed"] != float64(1) || result["cancelled"] != float64(1) {
		t.Errorf("unexpected stats %v", result)
	}
	if result["avg_prompt_length"] != float64(5) {
		t.Errorf("expected average prompt length 5, got %v", result["avg_prompt_length"])
	}
}

func TestTimersHandler(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.timers.Schedule(time.Hour, "generation for session test", func() {})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	rr := ts.do(getRequest("/timers", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /timers")
	result := resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["count"] != float64(1) {
		t.Errorf("expected 1 timer, got %v", result["count"])
	}

	rr = ts.do(getRequest("/timers/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /timers/{id}")
	result = resultMap(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if result["id"] != id || result["description"] != "generation for session test" {
		t.Errorf("unexpected timer %v", result)
	}

	rr = ts.do(getRequest("/timers/missing", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown timer")

	rr = ts.do(httptest.NewRequest(http.MethodDelete, "/timers/"+id, nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "DELETE /timers/{id}")
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.do(getRequest("/", nil))

	rr := ts.do(getRequest("/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /health")
	resp := testutil.AssertJSONResponse(t, rr, "healthy")
	if resp["active_sessions"] != float64(1) {
		t.Errorf("expected 1 active session, got %v", resp["active_sessions"])
	}
}

func TestSecureCookieOption(t *testing.T) {
	ts := newTestServer(t, WithSecureCookies(true))
	cookie := sessionCookie(t, ts.do(getRequest("/", nil)))
	if !cookie.Secure {
		t.Error("expected Secure cookie")
	}
}
