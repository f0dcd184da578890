package ops

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/llm"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func stringPtr(s string) *string {
	return &s
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeModel counts completions and replays a canned reply or error.
type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.Request
}

func (m *fakeModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.reply, m.err
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *fakeModel) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func (m *fakeModel) Set(reply string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply, m.err = reply, err
}

type testEnv struct {
	db    *sql.DB
	cfg   *config.Config
	clock *fakeClock
	model *fakeModel
	svc   *HistoryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		db:    database,
		cfg:   config.DefaultConfig(),
		clock: &fakeClock{now: testNow},
		model: &fakeModel{err: llm.ErrUnavailable},
	}
	env.svc, err = NewHistoryService(database, env.cfg, WithModel(env.model), WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("NewHistoryService failed: %v", err)
	}
	return env
}

func (e *testEnv) createCapsule(t *testing.T, name, owner string) *capsule.Capsule {
	t.Helper()
	c, err := CreateCapsule(context.Background(), e.db, CreateCapsuleInput{Name: name, OwnerID: owner})
	if err != nil {
		t.Fatalf("CreateCapsule failed: %v", err)
	}
	return c
}

func (e *testEnv) addMember(t *testing.T, capsuleID, userID string, role capsule.Role) {
	t.Helper()
	err := db.UpsertMember(context.Background(), e.db, &capsule.Member{
		CapsuleID: capsuleID, UserID: userID, Role: role, JoinedAt: testNow.Unix(),
	})
	if err != nil {
		t.Fatalf("UpsertMember failed: %v", err)
	}
}

func (e *testEnv) addPost(t *testing.T, capsuleID, author, content string, ago time.Duration) *capsule.Post {
	t.Helper()
	createdAt := e.clock.Now().Add(-ago)
	p, err := AddPost(context.Background(), e.db, AddPostInput{
		CapsuleID:  capsuleID,
		AuthorID:   "u-" + author,
		AuthorName: stringPtr(author),
		Content:    stringPtr(content),
		CreatedAt:  &createdAt,
	})
	if err != nil {
		t.Fatalf("AddPost failed: %v", err)
	}
	return p
}

// seedThreePosts adds three posts from two authors within the last day.
func (e *testEnv) seedThreePosts(t *testing.T, capsuleID string) []*capsule.Post {
	t.Helper()
	return []*capsule.Post{
		e.addPost(t, capsuleID, "Ann", "Finished the trail map for the spring hike, everyone check it out", time.Hour),
		e.addPost(t, capsuleID, "Bob", "Uploaded photos from Saturday's cleanup at the river", 3*time.Hour),
		e.addPost(t, capsuleID, "Ann", "Reminder that dues are due next Friday", 5*time.Hour),
	}
}

func (e *testEnv) get(t *testing.T, capsuleID, viewer string) *GetHistoryOutput {
	t.Helper()
	out, err := e.svc.GetHistory(context.Background(), GetHistoryInput{CapsuleID: capsuleID, ViewerID: viewer})
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	return out
}

func section(t *testing.T, snap *history.Snapshot, p history.Period) *history.Section {
	t.Helper()
	sec, ok := snap.Section(p)
	if !ok {
		t.Fatalf("section %s missing", p)
	}
	return sec
}
