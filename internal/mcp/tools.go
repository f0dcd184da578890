package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Shared argument helpers.

func capsuleIDArg() mcp.ToolOption {
	return mcp.WithString("capsule_id",
		mcp.Required(),
		mcp.Description("Capsule ID"),
	)
}

func actorIDArg() mcp.ToolOption {
	return mcp.WithString("actor_id",
		mcp.Required(),
		mcp.Description("User performing the change; must be the owner, an admin or a moderator"),
	)
}

func periodArg() mcp.ToolOption {
	return mcp.WithString("period",
		mcp.Required(),
		mcp.Enum("weekly", "monthly", "all_time"),
		mcp.Description("History period"),
	)
}

var historyGetToolDef = mcp.NewTool("history_get",
	mcp.WithDescription("Get the composed history of a capsule: suggested and published sections per period with pins, exclusions, coverage and version history. Cached; regenerates when new activity arrives or the snapshot ages out."),
	capsuleIDArg(),
	mcp.WithString("viewer_id",
		mcp.Description("Viewer user ID; decides can_edit"),
	),
	mcp.WithBoolean("force_refresh",
		mcp.Description("Regenerate now (editors only, default: false)"),
	),
	mcp.WithString("format",
		mcp.Enum("json", "markdown"),
		mcp.Description("Result format (default: json)"),
	),
)

var historyPublishToolDef = mcp.NewTool("history_publish",
	mcp.WithDescription("Publish one period. Without content, the current suggested section is published; with content, an editor-authored section is sanitized and published."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithObject("content",
		mcp.Description("Custom section: summary, highlights, articles, timeline, nextFocus"),
	),
	mcp.WithString("reason",
		mcp.Description("Audit note (max 500 chars)"),
	),
)

var historyPinAddToolDef = mcp.NewTool("history_pin_add",
	mcp.WithDescription("Pin a content block so it is promoted in the composed section. Non-summary pins need a post_id or a quote to match against."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithString("type",
		mcp.Required(),
		mcp.Enum("summary", "highlight", "timeline", "next_focus"),
		mcp.Description("Pin type"),
	),
	mcp.WithString("post_id",
		mcp.Description("Post the pinned block derives from"),
	),
	mcp.WithString("quote",
		mcp.Description("Text fragment of the pinned block"),
	),
	mcp.WithString("note",
		mcp.Description("Editor note shown with the pinned block"),
	),
	mcp.WithString("source",
		mcp.Enum("suggested", "published"),
		mcp.Description("Which side the pin applies to (default: suggested)"),
	),
	mcp.WithNumber("rank",
		mcp.Description("Ordering among pins, 0-1000 (default: after existing pins)"),
	),
)

var historyPinRemoveToolDef = mcp.NewTool("history_pin_remove",
	mcp.WithDescription("Remove a pin."),
	capsuleIDArg(),
	actorIDArg(),
	mcp.WithString("pin_id",
		mcp.Required(),
		mcp.Description("Pin ID"),
	),
)

var historyExclusionAddToolDef = mcp.NewTool("history_exclusion_add",
	mcp.WithDescription("Exclude a post from generation for one period. Takes effect on the next regeneration."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithString("post_id",
		mcp.Required(),
		mcp.Description("Post to exclude"),
	),
	mcp.WithString("reason",
		mcp.Description("Audit note (max 500 chars)"),
	),
)

var historyExclusionRemoveToolDef = mcp.NewTool("history_exclusion_remove",
	mcp.WithDescription("Stop excluding a post for one period."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithString("post_id",
		mcp.Required(),
		mcp.Description("Excluded post"),
	),
)

var historySettingsUpdateToolDef = mcp.NewTool("history_settings_update",
	mcp.WithDescription("Update per-period editorial settings. Omitted fields are left unchanged; empty strings clear a field."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithString("notes",
		mcp.Description("Editor notes fed to generation"),
	),
	mcp.WithString("template_id",
		mcp.Description("Narrative template: classic, newsroom, celebration, concise; empty clears"),
	),
	mcp.WithString("tone",
		mcp.Description("Tone override"),
	),
	mcp.WithObject("prompt_overrides",
		mcp.Description("String map of extra prompt directives"),
	),
	mcp.WithString("discussion_thread_url",
		mcp.Description("http(s) link to the discussion of this period"),
	),
	mcp.WithObject("metadata",
		mcp.Description("Free-form metadata stored with the settings"),
	),
)

var historyPromptUpdateToolDef = mcp.NewTool("history_prompt_update",
	mcp.WithDescription("Update capsule-wide prompt memory and per-period template selection."),
	capsuleIDArg(),
	actorIDArg(),
	mcp.WithObject("prompt_memory",
		mcp.Description("guidelines, tone, audience, avoid[]; replaces the stored memory"),
	),
	mcp.WithObject("templates",
		mcp.Description("Map of period to template id; an empty id clears the period"),
	),
)

var historyRefineToolDef = mcp.NewTool("history_refine",
	mcp.WithDescription("Re-run generation for one period with editor instructions. When the model is unavailable or its output unusable, applied is false and nothing changes."),
	capsuleIDArg(),
	actorIDArg(),
	periodArg(),
	mcp.WithString("instructions",
		mcp.Required(),
		mcp.Description("Direction for the model (max 2000 chars)"),
	),
)

var historyRefreshStaleToolDef = mcp.NewTool("history_refresh_stale",
	mcp.WithDescription("Regenerate capsules whose suggested history is missing or older than the threshold, oldest first."),
	mcp.WithNumber("limit",
		mcp.Description("Max capsules to check (default: 25, max: 500)"),
	),
	mcp.WithNumber("stale_after_minutes",
		mcp.Description("Age threshold in minutes (default: 360)"),
	),
	mcp.WithNumber("concurrency",
		mcp.Description("Parallel regenerations (default: 1)"),
	),
)

var capsuleCreateToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Create a capsule. The owner becomes its first member."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Display name, unique case-insensitively"),
	),
	mcp.WithString("owner_id",
		mcp.Required(),
		mcp.Description("Owner user ID"),
	),
	mcp.WithString("description",
		mcp.Description("Optional description"),
	),
)

var capsuleMemberAddToolDef = mcp.NewTool("capsule_member_add",
	mcp.WithDescription("Add or update a capsule member. Only the owner or an admin may do this."),
	capsuleIDArg(),
	actorIDArg(),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Member user ID"),
	),
	mcp.WithString("role",
		mcp.Required(),
		mcp.Enum("admin", "moderator", "member"),
		mcp.Description("Member role"),
	),
)

var capsulePostAddToolDef = mcp.NewTool("capsule_post_add",
	mcp.WithDescription("Add a post to a capsule's activity stream."),
	capsuleIDArg(),
	mcp.WithString("author_id",
		mcp.Required(),
		mcp.Description("Author user ID"),
	),
	mcp.WithString("author_name",
		mcp.Description("Author display name"),
	),
	mcp.WithString("kind",
		mcp.Description("Post kind (default: text)"),
	),
	mcp.WithString("content",
		mcp.Description("Post text; optional when media_count > 0"),
	),
	mcp.WithNumber("media_count",
		mcp.Description("Attached media items"),
	),
	mcp.WithString("created_at",
		mcp.Description("RFC 3339 timestamp (default: now)"),
	),
)
