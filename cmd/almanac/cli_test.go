package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/ops"
)

// setupTestDeps creates a temporary database and history service.
func setupTestDeps(t *testing.T) *appDeps {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	svc, err := ops.NewHistoryService(database, cfg)
	if err != nil {
		t.Fatalf("failed to create history service: %v", err)
	}
	return &appDeps{db: database, cfg: cfg, svc: svc, logger: zap.NewNop()}
}

// runCLI runs the app with args and an empty stdin, and returns what it
// wrote to stdout.
func runCLI(t *testing.T, deps *appDeps, args ...string) (string, error) {
	t.Helper()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	stdinW.Close()
	oldStdin := os.Stdin
	os.Stdin = stdinR
	defer func() {
		os.Stdin = oldStdin
		stdinR.Close()
	}()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	oldStdout := os.Stdout
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	app := newCLIApp(deps)
	runErr := app.Run(append([]string{"almanac"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return <-done, runErr
}

// runJSON runs the app, requires success, and decodes stdout.
func runJSON(t *testing.T, deps *appDeps, args ...string) map[string]any {
	t.Helper()
	out, err := runCLI(t, deps, args...)
	require.NoError(t, err, "almanac %s", strings.Join(args, " "))
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return result
}

// seedCapsule creates a capsule owned by "owner" with two posts.
func seedCapsule(t *testing.T, deps *appDeps, name string) string {
	t.Helper()
	created := runJSON(t, deps, "capsule", "create", "--name", name, "--owner", "owner")
	id := created["id"].(string)
	runJSON(t, deps, "post", "--author", "ann", "--author-name", "Ann", "--content", "Trail map uploaded", id)
	runJSON(t, deps, "post", "--author", "bo", "--content", "Summit photos", "--at", "2026-03-01T09:00:00Z", id)
	return id
}

func TestCLIHelpWithoutDeps(t *testing.T) {
	out, err := runCLI(t, nil, "--help")
	require.NoError(t, err)
	for _, cmd := range []string{"serve", "capsule", "history"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing %q", cmd)
		}
	}
}

func TestCLICapsule(t *testing.T) {
	deps := setupTestDeps(t)

	created := runJSON(t, deps, "capsule", "create", "--name", "  Weekend Hikers ", "--owner", "owner", "-d", "trails")
	if created["name"] != "Weekend Hikers" {
		t.Errorf("name = %v, want trimmed", created["name"])
	}

	list := runJSON(t, deps, "capsule", "list")
	if capsules := list["capsules"].([]any); len(capsules) != 1 {
		t.Errorf("capsules = %d, want 1", len(capsules))
	}

	_, err := runCLI(t, deps, "capsule", "create", "--name", "weekend hikers", "--owner", "x")
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("duplicate create error = %v, want CONFLICT", err)
	}
}

func TestCLIMemberAndPost(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")

	member := runJSON(t, deps, "member", "--actor", "owner", "--user", "ada", "--role", "moderator", id)
	if member["role"] != "moderator" {
		t.Errorf("role = %v, want moderator", member["role"])
	}

	_, err := runCLI(t, deps, "member", "--actor", "ada", "--user", "cy", id)
	if err == nil || !strings.Contains(err.Error(), "[FORBIDDEN]") {
		t.Errorf("moderator adding member error = %v, want FORBIDDEN", err)
	}

	post := runJSON(t, deps, "post", "--author", "cy", "--media", "2", "--kind", "photo", id)
	if post["media_count"] != float64(2) {
		t.Errorf("post = %v, want two media items", post)
	}

	_, err = runCLI(t, deps, "post", "--author", "cy", id)
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("empty post error = %v, want INVALID_REQUEST", err)
	}
}

func TestCLIHistoryShow(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")

	result := runJSON(t, deps, "history", "show", "--viewer", "owner", id)
	if result["can_edit"] != true {
		t.Errorf("can_edit = %v, want true", result["can_edit"])
	}
	snapshot := result["snapshot"].(map[string]any)
	if sections := snapshot["sections"].([]any); len(sections) != 3 {
		t.Errorf("sections = %d, want 3", len(sections))
	}

	out, err := runCLI(t, deps, "history", "show", "--format", "markdown", id)
	require.NoError(t, err)
	if !strings.HasPrefix(out, "# Hikers history") {
		t.Errorf("markdown output = %q", out)
	}

	_, err = runCLI(t, deps, "history", "show", "--format", "yaml", id)
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("bad format error = %v, want INVALID_REQUEST", err)
	}

	_, err = runCLI(t, deps, "history", "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("missing capsule error = %v, want NOT_FOUND", err)
	}
}

func TestCLIHistoryPublish(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")

	_, err := runCLI(t, deps, "history", "publish", "--actor", "owner", id)
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("publish before generation error = %v, want CONFLICT", err)
	}

	runJSON(t, deps, "history", "show", id)
	result := runJSON(t, deps, "history", "publish", "--actor", "owner", "--period", "monthly", "--reason", "looks good", id)
	if result["period"] != "monthly" || result["custom"] != false {
		t.Errorf("publish result = %v", result)
	}
}

func TestCLIHistoryPins(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")

	pin := runJSON(t, deps, "history", "pin", "add", "--actor", "owner", "--type", "highlight", "--quote", "Summit", "--rank", "3", id)
	if pin["rank"] != float64(3) || pin["type"] != "highlight" {
		t.Errorf("pin = %v", pin)
	}

	removed := runJSON(t, deps, "history", "pin", "remove", "--actor", "owner", id, pin["id"].(string))
	if removed["removed"] != true {
		t.Errorf("remove result = %v", removed)
	}

	_, err := runCLI(t, deps, "history", "pin", "add", "--actor", "owner", "--type", "timeline", id)
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("timeline pin without anchor error = %v, want INVALID_REQUEST", err)
	}
}

func TestCLIHistoryExclude(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")

	ex := runJSON(t, deps, "history", "exclude", "add", "--actor", "owner", "--period", "all_time", "--post", "p-1", "--reason", "spam", id)
	if ex["postId"] != "p-1" || ex["period"] != "all_time" {
		t.Errorf("exclusion = %v", ex)
	}

	_, err := runCLI(t, deps, "history", "exclude", "add", "--actor", "owner", "--period", "all_time", "--post", "p-1", id)
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("duplicate exclusion error = %v, want CONFLICT", err)
	}

	removed := runJSON(t, deps, "history", "exclude", "remove", "--actor", "owner", "--period", "all_time", "--post", "p-1", id)
	if removed["removed"] != true {
		t.Errorf("remove result = %v", removed)
	}
}

func TestCLIHistoryRefine(t *testing.T) {
	deps := setupTestDeps(t)
	id := seedCapsule(t, deps, "Hikers")
	runJSON(t, deps, "history", "show", id)

	result := runJSON(t, deps, "history", "refine", "--actor", "owner", "-i", "More about the summit", id)
	if result["applied"] != false {
		t.Errorf("refine without a model should not apply: %v", result)
	}
}

func TestCLIHistoryRefreshStale(t *testing.T) {
	deps := setupTestDeps(t)
	seedCapsule(t, deps, "Hikers")
	seedCapsule(t, deps, "Cyclists")

	result := runJSON(t, deps, "history", "refresh-stale", "--limit", "5", "--stale-after", "1h")
	if result["checked"] != float64(2) {
		t.Errorf("checked = %v, want 2", result["checked"])
	}

	result = runJSON(t, deps, "history", "refresh-stale")
	if result["checked"] != float64(0) {
		t.Errorf("checked after refresh = %v, want 0", result["checked"])
	}
}
