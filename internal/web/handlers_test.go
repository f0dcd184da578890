package web

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/ops"
)

type testServer struct {
	handler http.Handler
}

func setupTest(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	svc, err := ops.NewHistoryService(database, config.DefaultConfig())
	if err != nil {
		t.Fatalf("NewHistoryService: %v", err)
	}
	handler, err := NewRouter(svc, database, nil, "test")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testServer{handler: handler}
}

// do sends a request as actor and returns the recorder.
func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %s", w.Body.String())
	}
	code, _ := e["code"].(string)
	return code
}

// seedCapsule creates a capsule owned by "owner" with one post and returns its ID.
func seedCapsule(t *testing.T, s *testServer, name string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/capsules", "owner", map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decodeBody(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = s.do(t, http.MethodPost, "/api/v1/capsules/"+id+"/posts", "ann", map[string]any{
		"author_name": "Ann", "content": "Summit reached before noon",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return id
}

func TestHealth(t *testing.T) {
	s := setupTest(t)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if decodeBody(t, w)["status"] != "ok" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	s := setupTest(t)
	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := setupTest(t)
	w := s.do(t, http.MethodGet, "/capsules", "", nil)
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestHandleList(t *testing.T) {
	s := setupTest(t)

	w := s.do(t, http.MethodGet, "/capsules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	if !strings.Contains(w.Body.String(), "No capsules found.") {
		t.Errorf("empty list page missing placeholder: %s", w.Body.String())
	}

	id := seedCapsule(t, s, "Weekend Hikers")
	w = s.do(t, http.MethodGet, "/capsules", "", nil)
	body := w.Body.String()
	if !strings.Contains(body, "Weekend Hikers") || !strings.Contains(body, "/capsules/"+id+"/history") {
		t.Errorf("list page missing capsule link: %s", body)
	}

	w = s.do(t, http.MethodGet, "/api/v1/capsules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	capsules, _ := decodeBody(t, w)["capsules"].([]any)
	if len(capsules) != 1 {
		t.Errorf("capsules = %v, want one", capsules)
	}
}

func TestHistoryPage(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Weekend Hikers")

	w := s.do(t, http.MethodGet, "/capsules/"+id+"/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, want := range []string{"<h1", "Weekend Hikers history", "This week", "All time"} {
		if !strings.Contains(body, want) {
			t.Errorf("history page missing %q", want)
		}
	}

	w = s.do(t, http.MethodGet, "/capsules/missing/history", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing capsule status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "404") {
		t.Errorf("error page should show the status code")
	}
}

func TestGetHistoryAPI(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")

	w := s.do(t, http.MethodGet, "/api/v1/capsules/"+id+"/history", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	if body["can_edit"] != true {
		t.Errorf("can_edit = %v, want true for owner", body["can_edit"])
	}
	snap, _ := body["snapshot"].(map[string]any)
	sections, _ := snap["sections"].([]any)
	if len(sections) != 3 {
		t.Errorf("sections = %d, want 3", len(sections))
	}

	w = s.do(t, http.MethodGet, "/api/v1/capsules/"+id+"/history", "stranger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	if body["can_edit"] != false || body["cached"] != true {
		t.Errorf("second read = can_edit %v cached %v, want false, true", body["can_edit"], body["cached"])
	}
}

func TestPublishAPI(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")
	path := "/api/v1/capsules/" + id + "/history/weekly/publish"

	w := s.do(t, http.MethodPost, path, "owner", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "CONFLICT" {
		t.Errorf("publish before generation = %d %s, want 409", w.Code, w.Body.String())
	}

	s.do(t, http.MethodGet, "/api/v1/capsules/"+id+"/history", "", nil)

	w = s.do(t, http.MethodPost, path, "ann", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-editor publish status = %d, want 403", w.Code)
	}

	w = s.do(t, http.MethodPost, path, "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	if body["custom"] != false || body["period"] != "weekly" {
		t.Errorf("publish body = %v", body)
	}

	w = s.do(t, http.MethodPost, "/api/v1/capsules/"+id+"/history/yearly/publish", "owner", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad period status = %d, want 400", w.Code)
	}
}

func TestPinsAPI(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")

	w := s.do(t, http.MethodPost, "/api/v1/capsules/"+id+"/history/weekly/pins", "owner", map[string]any{
		"type": "summary", "note": "Keep this",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pinID, _ := decodeBody(t, w)["id"].(string)
	require.NotEmpty(t, pinID)

	w = s.do(t, http.MethodDelete, "/api/v1/capsules/"+id+"/history/pins/"+pinID, "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	if decodeBody(t, w)["removed"] != true {
		t.Errorf("remove body = %s", w.Body.String())
	}

	w = s.do(t, http.MethodDelete, "/api/v1/capsules/"+id+"/history/pins/"+pinID, "owner", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Errorf("second remove = %d %s, want 404", w.Code, w.Body.String())
	}
}

func TestExclusionsAPI(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")
	base := "/api/v1/capsules/" + id + "/history/weekly/exclusions"

	w := s.do(t, http.MethodPost, base, "owner", map[string]any{"post_id": "p-1", "reason": "off topic"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, base, "owner", map[string]any{"post_id": "p-1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate exclusion status = %d, want 409", w.Code)
	}

	w = s.do(t, http.MethodDelete, base+"/p-1", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSettingsAndPromptAPI(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")

	w := s.do(t, http.MethodPatch, "/api/v1/capsules/"+id+"/history/monthly/settings", "owner", map[string]any{
		"notes": "Focus on routes", "template_id": "newsroom",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	if body["notes"] != "Focus on routes" || body["templateId"] != "newsroom" {
		t.Errorf("settings body = %v", body)
	}

	w = s.do(t, http.MethodPut, "/api/v1/capsules/"+id+"/history/prompt", "owner", map[string]any{
		"prompt_memory": map[string]any{"tone": "warm"},
		"templates":     map[string]string{"weekly": "concise"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	templates, _ := decodeBody(t, w)["templates"].(map[string]any)
	if templates["weekly"] != "concise" {
		t.Errorf("templates = %v, want weekly concise", templates)
	}
}

func TestRefineAPI_ModelUnavailable(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")
	s.do(t, http.MethodGet, "/api/v1/capsules/"+id+"/history", "", nil)

	w := s.do(t, http.MethodPost, "/api/v1/capsules/"+id+"/history/weekly/refine", "owner", map[string]any{
		"instructions": "Shorter please",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	if decodeBody(t, w)["applied"] != false {
		t.Errorf("refine without a model should not apply: %s", w.Body.String())
	}
}

func TestRefreshStaleAPI(t *testing.T) {
	s := setupTest(t)
	seedCapsule(t, s, "Hikers")

	w := s.do(t, http.MethodPost, "/api/v1/history/refresh-stale?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	if decodeBody(t, w)["checked"] != float64(1) {
		t.Errorf("refresh body = %s, want one checked", w.Body.String())
	}
}

func TestRequestValidation(t *testing.T) {
	s := setupTest(t)
	id := seedCapsule(t, s, "Hikers")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed json", http.MethodPost, "/api/v1/capsules", `{"name":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/capsules", `{"title":"x"}`, http.StatusBadRequest},
		{"missing body", http.MethodPost, "/api/v1/capsules/" + id + "/history/weekly/refine", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", nil, http.StatusNotFound},
		{"duplicate capsule", http.MethodPost, "/api/v1/capsules", map[string]any{"name": "hikers"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, "owner", tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
			if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
				t.Errorf("Content-Type = %q, want JSON", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRenderMarkdown_Sanitizes(t *testing.T) {
	templateSub, err := fs.Sub(templateFS, "templates")
	require.NoError(t, err)
	r, err := NewRenderer(templateSub, "test", nil)
	require.NoError(t, err)

	out := string(r.renderMarkdown("# Title\n\n<script>alert(1)</script>\n\n[x](javascript:alert(1))"))
	if !strings.Contains(out, "<h1") {
		t.Errorf("markdown not rendered: %s", out)
	}
	if strings.Contains(out, "<script") || strings.Contains(out, "javascript:") {
		t.Errorf("unsafe markup survived: %s", out)
	}
}
