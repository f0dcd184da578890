package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ModelTemperature is the sampling temperature for narrative generation.
const ModelTemperature = 0.4

// PeriodGuidance carries per-period editorial direction into the model payload.
type PeriodGuidance struct {
	Template        Template
	Tone            string
	Notes           string
	PromptOverrides map[string]string
}

// GenerationInput is everything a generation pass needs besides the model itself.
type GenerationInput struct {
	CapsuleID    string
	CapsuleName  *string
	Frames       []Timeframe
	PromptMemory PromptMemory
	Guidance     map[Period]PeriodGuidance
	Now          time.Time
}

type payloadCapsule struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

type payloadTemplate struct {
	ID           string `json:"id"`
	Tone         string `json:"tone"`
	Instructions string `json:"instructions"`
}

type payloadPeriod struct {
	Start           *time.Time        `json:"start"`
	End             time.Time         `json:"end"`
	PostCount       int               `json:"post_count"`
	Template        *payloadTemplate  `json:"template,omitempty"`
	Tone            string            `json:"tone,omitempty"`
	EditorNotes     string            `json:"editor_notes,omitempty"`
	PromptOverrides map[string]string `json:"prompt_overrides,omitempty"`
}

type payloadPost struct {
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"created_at"`
	Author    *string    `json:"author"`
	Kind      string     `json:"kind"`
	HasMedia  bool       `json:"has_media"`
	Summary   string     `json:"summary"`
	InWeekly  bool       `json:"in_weekly"`
	InMonthly bool       `json:"in_monthly"`
}

type modelPayload struct {
	Capsule      payloadCapsule           `json:"capsule"`
	GeneratedAt  time.Time                `json:"generated_at"`
	Periods      map[Period]payloadPeriod `json:"periods"`
	PromptMemory *PromptMemory            `json:"prompt_memory,omitempty"`
	Posts        []payloadPost            `json:"posts"`
}

// frameFor returns the timeframe for a period, if present.
func frameFor(frames []Timeframe, p Period) (Timeframe, bool) {
	for _, tf := range frames {
		if tf.Period == p {
			return tf, true
		}
	}
	return Timeframe{}, false
}

func buildPayload(in GenerationInput) modelPayload {
	payload := modelPayload{
		Capsule:     payloadCapsule{ID: in.CapsuleID, Name: in.CapsuleName},
		GeneratedAt: in.Now,
		Periods:     make(map[Period]payloadPeriod, len(in.Frames)),
		Posts:       []payloadPost{},
	}
	if !in.PromptMemory.IsZero() {
		mem := in.PromptMemory
		payload.PromptMemory = &mem
	}

	membership := make(map[Period]map[string]bool, len(in.Frames))
	var union []Post
	seen := make(map[string]bool)
	for _, tf := range in.Frames {
		pp := payloadPeriod{Start: tf.Start, End: tf.End, PostCount: len(tf.Posts)}
		if g, ok := in.Guidance[tf.Period]; ok {
			if g.Template.ID != "" {
				pp.Template = &payloadTemplate{ID: g.Template.ID, Tone: g.Template.Tone, Instructions: g.Template.Instructions}
			}
			pp.Tone = g.Tone
			pp.EditorNotes = g.Notes
			pp.PromptOverrides = g.PromptOverrides
		}
		payload.Periods[tf.Period] = pp

		ids := make(map[string]bool, len(tf.Posts))
		for _, post := range tf.Posts {
			ids[post.ID] = true
			if !seen[post.ID] {
				seen[post.ID] = true
				union = append(union, post)
			}
		}
		membership[tf.Period] = ids
	}

	SortNewestFirst(union)
	if len(union) > MaxPayloadPosts {
		union = union[:MaxPayloadPosts]
	}
	for _, post := range union {
		payload.Posts = append(payload.Posts, payloadPost{
			ID:        post.ID,
			CreatedAt: post.CreatedAt,
			Author:    post.Author,
			Kind:      post.Kind,
			HasMedia:  post.HasMedia,
			Summary:   Truncate(post.Content, MaxPayloadPostText),
			InWeekly:  membership[PeriodWeekly][post.ID],
			InMonthly: membership[PeriodMonthly][post.ID],
		})
	}
	return payload
}

// BuildPayload renders the compact JSON payload submitted to the model.
func BuildPayload(in GenerationInput) ([]byte, error) {
	data, err := json.Marshal(buildPayload(in))
	if err != nil {
		return nil, fmt.Errorf("marshal history payload: %w", err)
	}
	return data, nil
}

// BuildRefinePayload renders the payload for a single-period refinement pass.
func BuildRefinePayload(in GenerationInput, period Period, current StoredSection, instructions string) ([]byte, error) {
	base := buildPayload(in)
	frames := base.Periods
	base.Periods = map[Period]payloadPeriod{period: frames[period]}
	tf, _ := frameFor(in.Frames, period)
	inPeriod := make(map[string]bool, len(tf.Posts))
	for _, p := range tf.Posts {
		inPeriod[p.ID] = true
	}
	posts := make([]payloadPost, 0, len(base.Posts))
	for _, p := range base.Posts {
		if inPeriod[p.ID] {
			posts = append(posts, p)
		}
	}
	base.Posts = posts

	data, err := json.Marshal(struct {
		modelPayload
		Period       Period        `json:"period"`
		Current      StoredSection `json:"current_section"`
		Instructions string        `json:"editor_instructions"`
	}{base, period, current, CleanText(instructions)})
	if err != nil {
		return nil, fmt.Errorf("marshal refine payload: %w", err)
	}
	return data, nil
}

// SystemPrompt is the fixed instruction for full-history generation.
func SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You write the community history of a capsule from its recent posts.\n")
	sb.WriteString("Return one JSON object with the keys weekly, monthly and all_time.\n")
	sb.WriteString("Each period has summary, highlights, articles, timeline and next_focus, plus empty=true when the period has no posts.\n")
	sb.WriteString("Only use facts present in the posts. Reference posts in timeline entries with post_id.\n")
	sb.WriteString("Follow each period's template, tone, editor notes and prompt overrides when given, and the capsule prompt_memory.\n")
	sb.WriteString(fmt.Sprintf("Limits: summary <= %d chars; highlights <= %d items of <= %d chars; ", MaxSummaryChars, MaxHighlights, MaxHighlightChars))
	sb.WriteString(fmt.Sprintf("articles <= %d with title <= %d chars and <= %d paragraphs of <= %d chars; ", MaxArticles, MaxArticleTitle, MaxArticleParagraphs, MaxParagraphChars))
	sb.WriteString(fmt.Sprintf("timeline <= %d entries (label <= %d, detail <= %d chars); next_focus <= %d items of <= %d chars.\n", MaxTimelineEntries, MaxTimelineLabel, MaxTimelineDetail, MaxNextFocus, MaxNextFocusChars))
	sb.WriteString("Respond with ONLY the JSON object. No markdown, no commentary.")
	return sb.String()
}

// RefineSystemPrompt is the fixed instruction for a single-period refinement.
func RefineSystemPrompt() string {
	return "You revise one period of a capsule's community history. " +
		"Apply the editor_instructions to current_section using only facts from the posts. " +
		`Return ONLY a JSON object {"section": {...}} with summary, highlights, articles, timeline and next_focus.`
}

var stringSchema = map[string]any{"type": "string"}

// SectionSchema is the JSON schema of one generated period.
func SectionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":    stringSchema,
			"highlights": map[string]any{"type": "array", "items": stringSchema, "maxItems": MaxHighlights},
			"articles": map[string]any{
				"type":     "array",
				"maxItems": MaxArticles,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":      stringSchema,
						"paragraphs": map[string]any{"type": "array", "items": stringSchema, "maxItems": MaxArticleParagraphs},
						"links": map[string]any{
							"type":     "array",
							"maxItems": MaxArticleLinks,
							"items": map[string]any{
								"type":       "object",
								"properties": map[string]any{"label": stringSchema, "url": stringSchema},
								"required":   []string{"label", "url"},
							},
						},
					},
					"required": []string{"title", "paragraphs"},
				},
			},
			"timeline": map[string]any{
				"type":     "array",
				"maxItems": MaxTimelineEntries,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"label":     stringSchema,
						"detail":    stringSchema,
						"post_id":   stringSchema,
						"timestamp": stringSchema,
					},
					"required": []string{"label", "detail"},
				},
			},
			"next_focus": map[string]any{"type": "array", "items": stringSchema, "maxItems": MaxNextFocus},
			"empty":      map[string]any{"type": "boolean"},
		},
		"required": []string{"summary", "highlights", "articles", "timeline", "next_focus"},
	}
}

// ResponseSchema is the JSON schema of a full generation response.
func ResponseSchema() map[string]any {
	props := make(map[string]any, len(Periods))
	required := make([]string, 0, len(Periods))
	for _, p := range Periods {
		props[string(p)] = SectionSchema()
		required = append(required, string(p))
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

// RefineSchema is the JSON schema of a refinement response.
func RefineSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"section": SectionSchema()},
		"required":   []string{"section"},
	}
}

// sortedPeriods returns the keys of m in display order.
func sortedPeriods[V any](m map[Period]V) []Period {
	out := make([]Period, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	order := map[Period]int{PeriodWeekly: 0, PeriodMonthly: 1, PeriodAllTime: 2}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
