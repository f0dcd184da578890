package ops

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/almanac/internal/capsule"
	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
)

func TestPublishSection_Suggested(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.seedThreePosts(t, c.ID)
	before := env.get(t, c.ID, "owner")

	out, err := env.svc.PublishSection(ctx, PublishSectionInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Reason: stringPtr("looks good"),
	})
	require.NoError(t, err)
	if out.Custom {
		t.Error("Custom = true, want false")
	}

	after := env.get(t, c.ID, "")
	weekly := section(t, after.Snapshot, history.PeriodWeekly)
	if weekly.Published == nil {
		t.Fatal("weekly should be published")
	}
	wantSuggested := section(t, before.Snapshot, history.PeriodWeekly).Suggested
	if diff := cmp.Diff(wantSuggested, *weekly.Published); diff != "" {
		t.Errorf("published differs from suggested (-want +got):\n%s", diff)
	}
	if weekly.PublishedOutdated {
		t.Error("PublishedOutdated should be false right after publishing")
	}
	if after.Snapshot.PublishedBy == nil || *after.Snapshot.PublishedBy != "owner" {
		t.Errorf("PublishedBy = %v, want owner", after.Snapshot.PublishedBy)
	}
	if section(t, after.Snapshot, history.PeriodMonthly).Published != nil {
		t.Error("monthly should stay unpublished")
	}
	require.Len(t, weekly.Versions, 1)
	if weekly.Versions[0].ChangeType != history.ChangePublish {
		t.Errorf("version ChangeType = %q, want publish", weekly.Versions[0].ChangeType)
	}

	// New activity changes the suggested content but not the published one.
	env.addPost(t, c.ID, "Cy", "Booked the campsite for June", 0)
	later := env.get(t, c.ID, "")
	weekly = section(t, later.Snapshot, history.PeriodWeekly)
	if !weekly.PublishedOutdated {
		t.Error("PublishedOutdated should be true after new activity")
	}
	if diff := cmp.Diff(wantSuggested, *weekly.Published); diff != "" {
		t.Errorf("published changed after regeneration (-want +got):\n%s", diff)
	}
}

func TestPublishSection_CustomContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.seedThreePosts(t, c.ID)
	env.get(t, c.ID, "")
	env.get(t, c.ID, "")

	content := &history.StoredSection{
		Summary:    history.ContentBlock{Text: "  A calm week on the trails.  "},
		Highlights: []history.ContentBlock{{Text: "The spring hike map is ready"}, {Text: "   "}},
		NextFocus:  []history.ContentBlock{{Text: "Sign up for the spring hike"}},
	}
	out, err := env.svc.PublishSection(ctx, PublishSectionInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "monthly", Content: content,
	})
	require.NoError(t, err)
	if !out.Custom || out.Section.Origin != history.OriginEditor {
		t.Errorf("Custom = %v, Origin = %q; want true, editor", out.Custom, out.Section.Origin)
	}
	if len(out.Section.Highlights) != 1 {
		t.Errorf("highlights = %d, want blank entries dropped", len(out.Section.Highlights))
	}

	got := env.get(t, c.ID, "")
	monthly := section(t, got.Snapshot, history.PeriodMonthly)
	if monthly.Published == nil || monthly.Published.Summary.Text != "A calm week on the trails." {
		t.Fatalf("published monthly = %+v", monthly.Published)
	}
	if monthly.Suggested.Origin != history.OriginFallback || monthly.Suggested.PostCount != 3 {
		t.Errorf("suggested monthly should be untouched, got origin %q with %d posts",
			monthly.Suggested.Origin, monthly.Suggested.PostCount)
	}
	if eff := monthly.Effective(); eff.Origin != history.OriginEditor {
		t.Errorf("Effective().Origin = %q, want editor", eff.Origin)
	}
	if env.model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", env.model.Calls())
	}

	_, err = env.svc.PublishSection(ctx, PublishSectionInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "monthly",
		Content: &history.StoredSection{Summary: history.ContentBlock{Text: " "}},
	})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty summary error = %v, want INVALID_REQUEST", err)
	}
}

func TestPublishSection_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.addMember(t, c.ID, "plain", capsule.RoleMember)

	_, err := env.svc.PublishSection(ctx, PublishSectionInput{CapsuleID: c.ID, ActorID: "owner", Period: "weekly"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("publish before generation error = %v, want CONFLICT", err)
	}
	_, err = env.svc.PublishSection(ctx, PublishSectionInput{CapsuleID: c.ID, ActorID: "plain", Period: "weekly"})
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("plain member error = %v, want FORBIDDEN", err)
	}
	_, err = env.svc.PublishSection(ctx, PublishSectionInput{CapsuleID: c.ID, ActorID: "owner", Period: "daily"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad period error = %v, want INVALID_REQUEST", err)
	}
}

func TestPins_AddRemoveRestoresSection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.seedThreePosts(t, c.ID)
	before := section(t, env.get(t, c.ID, "").Snapshot, history.PeriodWeekly)

	pin, err := env.svc.AddPin(ctx, AddPinInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinHighlight,
		Quote: stringPtr(before.Suggested.Highlights[0].Text), Note: stringPtr("Front page"),
	})
	require.NoError(t, err)
	if pin.Rank != 0 || pin.Source != "suggested" {
		t.Errorf("pin Rank = %d, Source = %q; want 0, suggested", pin.Rank, pin.Source)
	}

	got := env.get(t, c.ID, "")
	if got.Cached {
		t.Error("pin should invalidate the cached history")
	}
	if env.model.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", env.model.Calls())
	}
	weekly := section(t, got.Snapshot, history.PeriodWeekly)
	h := weekly.Suggested.Highlights[0]
	if !h.Pinned || h.PinID != pin.ID || h.Note != "Front page" {
		t.Errorf("highlight = %+v, want pinned by %s", h, pin.ID)
	}
	require.Len(t, weekly.Pins, 1)

	_, err = env.svc.RemovePin(ctx, RemovePinInput{CapsuleID: c.ID, ActorID: "owner", PinID: pin.ID})
	require.NoError(t, err)
	after := section(t, env.get(t, c.ID, "").Snapshot, history.PeriodWeekly)
	if diff := cmp.Diff(before.Suggested, after.Suggested); diff != "" {
		t.Errorf("section after pin removal differs (-want +got):\n%s", diff)
	}
	if len(after.Pins) != 0 {
		t.Errorf("pins = %d, want 0", len(after.Pins))
	}

	_, err = env.svc.RemovePin(ctx, RemovePinInput{CapsuleID: c.ID, ActorID: "owner", PinID: pin.ID})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second RemovePin error = %v, want NOT_FOUND", err)
	}
}

func TestPins_TimelineAndDetached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	posts := env.seedThreePosts(t, c.ID)
	env.get(t, c.ID, "")

	timelinePin, err := env.svc.AddPin(ctx, AddPinInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinTimeline, PostID: &posts[1].ID,
	})
	require.NoError(t, err)
	detached, err := env.svc.AddPin(ctx, AddPinInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinHighlight, Quote: stringPtr("nothing says this"),
	})
	require.NoError(t, err)
	if detached.Rank != timelinePin.Rank+1 {
		t.Errorf("second pin rank = %d, want %d", detached.Rank, timelinePin.Rank+1)
	}

	weekly := section(t, env.get(t, c.ID, "").Snapshot, history.PeriodWeekly)
	var pinned int
	for _, e := range weekly.Suggested.Timeline {
		if e.Pinned {
			pinned++
			if e.PostID == nil || *e.PostID != posts[1].ID {
				t.Errorf("pinned timeline entry = %v, want post %s", e.PostID, posts[1].ID)
			}
		}
	}
	if pinned != 1 {
		t.Errorf("pinned timeline entries = %d, want 1", pinned)
	}
	if diff := cmp.Diff([]string{detached.ID}, weekly.DetachedPinIDs); diff != "" {
		t.Errorf("DetachedPinIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPin_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.addMember(t, c.ID, "plain", capsule.RoleMember)
	rank := 5000

	tests := []struct {
		name  string
		input AddPinInput
		code  errors.ErrorCode
	}{
		{"unknown type", AddPinInput{CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: "banner"}, errors.ErrInvalidRequest},
		{"highlight without target", AddPinInput{CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinHighlight}, errors.ErrInvalidRequest},
		{"bad source", AddPinInput{CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinSummary, Source: "draft"}, errors.ErrInvalidRequest},
		{"rank out of range", AddPinInput{CapsuleID: c.ID, ActorID: "owner", Period: "weekly", Type: history.PinSummary, Rank: &rank}, errors.ErrInvalidRequest},
		{"plain member", AddPinInput{CapsuleID: c.ID, ActorID: "plain", Period: "weekly", Type: history.PinSummary}, errors.ErrForbidden},
		{"missing capsule", AddPinInput{CapsuleID: "nope", ActorID: "owner", Period: "weekly", Type: history.PinSummary}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AddPin(ctx, tt.input)
			if !errors.Is(err, tt.code) {
				t.Errorf("AddPin error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestExclusions_UnionAndGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	posts := env.seedThreePosts(t, c.ID)

	// Settings written before discrete exclusion rows existed.
	err := db.UpsertSectionSettings(ctx, env.db, &history.SectionSettings{
		CapsuleID: c.ID, Period: history.PeriodWeekly, ExcludedPostIDs: []string{posts[1].ID}, UpdatedAt: testNow.Unix(),
	})
	require.NoError(t, err)
	env.get(t, c.ID, "")

	ex, err := env.svc.AddExclusion(ctx, ExclusionInput{
		CapsuleID: c.ID, ActorID: "owner", Period: "weekly", PostID: posts[2].ID, Reason: stringPtr("off topic"),
	})
	require.NoError(t, err)
	if ex.Reason == nil || *ex.Reason != "off topic" {
		t.Errorf("Reason = %v, want off topic", ex.Reason)
	}

	weekly := section(t, env.get(t, c.ID, "").Snapshot, history.PeriodWeekly)
	if diff := cmp.Diff([]string{posts[1].ID, posts[2].ID}, weekly.ExcludedPostIDs); diff != "" {
		t.Errorf("ExcludedPostIDs mismatch (-want +got):\n%s", diff)
	}
	if env.model.Calls() != 1 {
		t.Errorf("exclusion should not regenerate, model calls = %d", env.model.Calls())
	}

	out, err := env.svc.GetHistory(ctx, GetHistoryInput{CapsuleID: c.ID, ViewerID: "owner", ForceRefresh: true})
	require.NoError(t, err)
	weekly = section(t, out.Snapshot, history.PeriodWeekly)
	if weekly.Suggested.PostCount != 1 {
		t.Errorf("weekly PostCount = %d, want 1 after exclusions", weekly.Suggested.PostCount)
	}
	if monthly := section(t, out.Snapshot, history.PeriodMonthly); monthly.Suggested.PostCount != 3 {
		t.Errorf("monthly PostCount = %d, want 3", monthly.Suggested.PostCount)
	}
	for _, cand := range weekly.Candidates {
		if cand.PostID != nil && (*cand.PostID == posts[1].ID || *cand.PostID == posts[2].ID) {
			t.Errorf("excluded post %s offered as candidate", *cand.PostID)
		}
	}
}

func TestExclusions_DuplicateAndRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	posts := env.seedThreePosts(t, c.ID)
	in := ExclusionInput{CapsuleID: c.ID, ActorID: "owner", Period: "monthly", PostID: posts[0].ID}

	_, err := env.svc.AddExclusion(ctx, in)
	require.NoError(t, err)
	_, err = env.svc.AddExclusion(ctx, in)
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("duplicate exclusion error = %v, want CONFLICT", err)
	}

	require.NoError(t, env.svc.RemoveExclusion(ctx, in))
	st, err := db.GetSectionSettings(ctx, env.db, c.ID, history.PeriodMonthly)
	require.NoError(t, err)
	if len(st.ExcludedPostIDs) != 0 {
		t.Errorf("settings projection = %v, want empty", st.ExcludedPostIDs)
	}
	if err := env.svc.RemoveExclusion(ctx, in); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second RemoveExclusion error = %v, want NOT_FOUND", err)
	}

	// Projection-only exclusions can be removed too.
	err = db.UpsertSectionSettings(ctx, env.db, &history.SectionSettings{
		CapsuleID: c.ID, Period: history.PeriodAllTime, ExcludedPostIDs: []string{posts[1].ID},
	})
	require.NoError(t, err)
	err = env.svc.RemoveExclusion(ctx, ExclusionInput{CapsuleID: c.ID, ActorID: "owner", Period: "all_time", PostID: posts[1].ID})
	require.NoError(t, err)

	edits, err := db.ListEdits(ctx, env.db, c.ID, 0, false)
	require.NoError(t, err)
	if len(edits) != 3 {
		t.Errorf("edits = %d, want 3", len(edits))
	}
}

func TestUpdateSectionSettings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.addMember(t, c.ID, "mod", capsule.RoleModerator)
	env.seedThreePosts(t, c.ID)

	st, err := env.svc.UpdateSectionSettings(ctx, UpdateSectionSettingsInput{
		CapsuleID:           c.ID,
		ActorID:             "mod",
		Period:              "weekly",
		Tone:                stringPtr("playful"),
		Notes:               stringPtr("Mention the spring hike"),
		TemplateID:          stringPtr("newsroom"),
		DiscussionThreadURL: stringPtr("https://forum.example.com/t/42"),
	})
	require.NoError(t, err)
	if st.UpdatedBy == nil || *st.UpdatedBy != "mod" {
		t.Errorf("UpdatedBy = %v, want mod", st.UpdatedBy)
	}

	// A second partial update keeps earlier fields.
	st, err = env.svc.UpdateSectionSettings(ctx, UpdateSectionSettingsInput{
		CapsuleID: c.ID, ActorID: "mod", Period: "weekly", PromptOverrides: map[string]string{"summary": "Lead with dates"},
	})
	require.NoError(t, err)
	if st.Tone == nil || *st.Tone != "playful" {
		t.Errorf("Tone = %v, want playful", st.Tone)
	}

	out := env.get(t, c.ID, "")
	weekly := section(t, out.Snapshot, history.PeriodWeekly)
	if weekly.TemplateID != "newsroom" {
		t.Errorf("TemplateID = %q, want newsroom", weekly.TemplateID)
	}
	payload := env.model.LastRequest().User
	for _, want := range []string{"playful", "Mention the spring hike", "Lead with dates"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q", want)
		}
	}

	tests := []struct {
		name  string
		input UpdateSectionSettingsInput
	}{
		{"empty", UpdateSectionSettingsInput{CapsuleID: c.ID, ActorID: "mod", Period: "weekly"}},
		{"unknown template", UpdateSectionSettingsInput{CapsuleID: c.ID, ActorID: "mod", Period: "weekly", TemplateID: stringPtr("tabloid")}},
		{"bad url", UpdateSectionSettingsInput{CapsuleID: c.ID, ActorID: "mod", Period: "weekly", DiscussionThreadURL: stringPtr("ftp://x")}},
		{"long tone", UpdateSectionSettingsInput{CapsuleID: c.ID, ActorID: "mod", Period: "weekly", Tone: stringPtr(strings.Repeat("a", MaxToneChars+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpdateSectionSettings(ctx, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("UpdateSectionSettings error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestUpdatePromptSettings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.createCapsule(t, "Hikers", "owner")
	env.seedThreePosts(t, c.ID)

	out, err := env.svc.UpdatePromptSettings(ctx, UpdatePromptSettingsInput{
		CapsuleID: c.ID,
		ActorID:   "owner",
		PromptMemory: &history.PromptMemory{
			Guidelines: "Keep it short and name every contributor.",
			Tone:       "warm",
			Avoid:      []string{"inside jokes", "  ", "<b>spoilers</b> about the <i>route</i>", strings.Repeat("x", 250), "<br>"},
		},
		Templates: map[string]string{"weekly": "concise", "monthly": "celebration"},
	})
	require.NoError(t, err)
	wantAvoid := []string{"inside jokes", "spoilers about the route", strings.Repeat("x", history.MaxHighlightChars-1) + "…"}
	if diff := cmp.Diff(wantAvoid, out.PromptMemory.Avoid); diff != "" {
		t.Errorf("Avoid mismatch (-want +got):\n%s", diff)
	}

	// Clearing one period keeps the other template.
	out, err = env.svc.UpdatePromptSettings(ctx, UpdatePromptSettingsInput{
		CapsuleID: c.ID, ActorID: "owner", Templates: map[string]string{"monthly": ""},
	})
	require.NoError(t, err)
	want := map[history.Period]string{history.PeriodWeekly: "concise"}
	if diff := cmp.Diff(want, out.Templates); diff != "" {
		t.Errorf("Templates mismatch (-want +got):\n%s", diff)
	}
	if out.PromptMemory.Tone != "warm" {
		t.Errorf("PromptMemory.Tone = %q, want warm (unchanged)", out.PromptMemory.Tone)
	}

	snap := env.get(t, c.ID, "").Snapshot
	if snap.PromptMemory.Guidelines != "Keep it short and name every contributor." {
		t.Errorf("composed PromptMemory = %+v", snap.PromptMemory)
	}
	if section(t, snap, history.PeriodWeekly).TemplateID != "concise" {
		t.Errorf("weekly template = %q, want concise", section(t, snap, history.PeriodWeekly).TemplateID)
	}
	if !strings.Contains(env.model.LastRequest().User, "name every contributor") {
		t.Error("payload should carry prompt memory guidelines")
	}

	_, err = env.svc.UpdatePromptSettings(ctx, UpdatePromptSettingsInput{CapsuleID: c.ID, ActorID: "owner"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty update error = %v, want INVALID_REQUEST", err)
	}
	_, err = env.svc.UpdatePromptSettings(ctx, UpdatePromptSettingsInput{
		CapsuleID: c.ID, ActorID: "owner", Templates: map[string]string{"yearly": "concise"},
	})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad period error = %v, want INVALID_REQUEST", err)
	}
}
