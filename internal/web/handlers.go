package web

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/db"
	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/ops"
)

// ActorHeader carries the id of the user performing a request.
// Authentication happens upstream; this service trusts the header.
const ActorHeader = "X-Actor-ID"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP route handlers.
type Handlers struct {
	db       *sql.DB
	svc      *ops.HistoryService
	renderer *Renderer
	logger   *zap.Logger
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

var errEmptyBody = errors.NewInvalidRequest("request body is required")

// decodeJSON reads a JSON body into dst. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for bodies that may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if err == errEmptyBody {
		return nil
	}
	return err
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		renderJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleList handles GET /capsules, the capsule index page.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	capsules, err := db.ListCapsules(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"capsules": capsules})
		return
	}
	h.renderer.renderPage(w, http.StatusOK, "list", ListPageData{
		PageData: PageData{Title: "Capsules", Version: h.renderer.version},
		Capsules: capsules,
	})
}

// HandleHistoryPage handles GET /capsules/{id}/history, the rendered history.
func (h *Handlers) HandleHistoryPage(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetHistory(r.Context(), ops.GetHistoryInput{
		CapsuleID: chi.URLParam(r, "id"),
		ViewerID:  actor(r),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	snap := out.Snapshot
	title := "History"
	if snap.CapsuleName != nil {
		title = *snap.CapsuleName
	}
	data := HistoryPageData{
		PageData:     PageData{Title: title, Version: h.renderer.version},
		Sections:     snap.Sections,
		RenderedHTML: h.renderer.renderMarkdown(history.RenderMarkdown(snap)),
		Cached:       out.Cached,
	}
	if snap.SuggestedGeneratedAt != nil {
		data.GeneratedAt = snap.SuggestedGeneratedAt.UTC().Format("2006-01-02 15:04")
	}
	h.renderer.renderPage(w, http.StatusOK, "history", data)
}

type createCapsuleRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// HandleCreateCapsule handles POST /api/v1/capsules. The actor becomes the owner.
func (h *Handlers) HandleCreateCapsule(w http.ResponseWriter, r *http.Request) {
	var req createCapsuleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	c, err := ops.CreateCapsule(r.Context(), h.db, ops.CreateCapsuleInput{
		Name: req.Name, OwnerID: actor(r), Description: req.Description,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, c)
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// HandleAddMember handles POST /api/v1/capsules/{id}/members.
func (h *Handlers) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	m, err := ops.AddMember(r.Context(), h.db, ops.AddMemberInput{
		CapsuleID: chi.URLParam(r, "id"), ActorID: actor(r), UserID: req.UserID, Role: req.Role,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, m)
}

type addPostRequest struct {
	AuthorName *string    `json:"author_name"`
	Kind       string     `json:"kind"`
	Content    *string    `json:"content"`
	MediaCount int        `json:"media_count"`
	CreatedAt  *time.Time `json:"created_at"`
}

// HandleAddPost handles POST /api/v1/capsules/{id}/posts. The actor is the author.
func (h *Handlers) HandleAddPost(w http.ResponseWriter, r *http.Request) {
	var req addPostRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	p, err := ops.AddPost(r.Context(), h.db, ops.AddPostInput{
		CapsuleID:  chi.URLParam(r, "id"),
		AuthorID:   actor(r),
		AuthorName: req.AuthorName,
		Kind:       req.Kind,
		Content:    req.Content,
		MediaCount: req.MediaCount,
		CreatedAt:  req.CreatedAt,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, p)
}

// HandleGetHistory handles GET /api/v1/capsules/{id}/history.
func (h *Handlers) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetHistory(r.Context(), ops.GetHistoryInput{
		CapsuleID:    chi.URLParam(r, "id"),
		ViewerID:     actor(r),
		ForceRefresh: parseBoolParam(r, "refresh"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type publishRequest struct {
	Content *history.StoredSection `json:"content"`
	Reason  *string                `json:"reason"`
}

// HandlePublish handles POST /api/v1/capsules/{id}/history/{period}/publish.
// An empty body publishes the suggested section.
func (h *Handlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.PublishSection(r.Context(), ops.PublishSectionInput{
		CapsuleID: chi.URLParam(r, "id"),
		ActorID:   actor(r),
		Period:    chi.URLParam(r, "period"),
		Content:   req.Content,
		Reason:    req.Reason,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type addPinRequest struct {
	Type   string  `json:"type"`
	PostID *string `json:"post_id"`
	Quote  *string `json:"quote"`
	Note   *string `json:"note"`
	Source string  `json:"source"`
	Rank   *int    `json:"rank"`
}

// HandleAddPin handles POST /api/v1/capsules/{id}/history/{period}/pins.
func (h *Handlers) HandleAddPin(w http.ResponseWriter, r *http.Request) {
	var req addPinRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	pin, err := h.svc.AddPin(r.Context(), ops.AddPinInput{
		CapsuleID: chi.URLParam(r, "id"),
		ActorID:   actor(r),
		Period:    chi.URLParam(r, "period"),
		Type:      req.Type,
		PostID:    req.PostID,
		Quote:     req.Quote,
		Note:      req.Note,
		Source:    req.Source,
		Rank:      req.Rank,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, pin)
}

// HandleRemovePin handles DELETE /api/v1/capsules/{id}/history/pins/{pinID}.
func (h *Handlers) HandleRemovePin(w http.ResponseWriter, r *http.Request) {
	pin, err := h.svc.RemovePin(r.Context(), ops.RemovePinInput{
		CapsuleID: chi.URLParam(r, "id"),
		ActorID:   actor(r),
		PinID:     chi.URLParam(r, "pinID"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"removed": true, "pin": pin})
}

type addExclusionRequest struct {
	PostID string  `json:"post_id"`
	Reason *string `json:"reason"`
}

// HandleAddExclusion handles POST /api/v1/capsules/{id}/history/{period}/exclusions.
func (h *Handlers) HandleAddExclusion(w http.ResponseWriter, r *http.Request) {
	var req addExclusionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	ex, err := h.svc.AddExclusion(r.Context(), ops.ExclusionInput{
		CapsuleID: chi.URLParam(r, "id"),
		ActorID:   actor(r),
		Period:    chi.URLParam(r, "period"),
		PostID:    req.PostID,
		Reason:    req.Reason,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, ex)
}

// HandleRemoveExclusion handles DELETE /api/v1/capsules/{id}/history/{period}/exclusions/{postID}.
func (h *Handlers) HandleRemoveExclusion(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveExclusion(r.Context(), ops.ExclusionInput{
		CapsuleID: chi.URLParam(r, "id"),
		ActorID:   actor(r),
		Period:    chi.URLParam(r, "period"),
		PostID:    chi.URLParam(r, "postID"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"removed": true})
}

type settingsRequest struct {
	Notes               *string           `json:"notes"`
	TemplateID          *string           `json:"template_id"`
	Tone                *string           `json:"tone"`
	PromptOverrides     map[string]string `json:"prompt_overrides"`
	DiscussionThreadURL *string           `json:"discussion_thread_url"`
	Metadata            map[string]any    `json:"metadata"`
}

// HandleUpdateSettings handles PATCH /api/v1/capsules/{id}/history/{period}/settings.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	st, err := h.svc.UpdateSectionSettings(r.Context(), ops.UpdateSectionSettingsInput{
		CapsuleID:           chi.URLParam(r, "id"),
		ActorID:             actor(r),
		Period:              chi.URLParam(r, "period"),
		Notes:               req.Notes,
		TemplateID:          req.TemplateID,
		Tone:                req.Tone,
		PromptOverrides:     req.PromptOverrides,
		DiscussionThreadURL: req.DiscussionThreadURL,
		Metadata:            req.Metadata,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

type promptRequest struct {
	PromptMemory *history.PromptMemory `json:"prompt_memory"`
	Templates    map[string]string     `json:"templates"`
}

// HandleUpdatePrompt handles PUT /api/v1/capsules/{id}/history/prompt.
func (h *Handlers) HandleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.UpdatePromptSettings(r.Context(), ops.UpdatePromptSettingsInput{
		CapsuleID:    chi.URLParam(r, "id"),
		ActorID:      actor(r),
		PromptMemory: req.PromptMemory,
		Templates:    req.Templates,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type refineRequest struct {
	Instructions string `json:"instructions"`
}

// HandleRefine handles POST /api/v1/capsules/{id}/history/{period}/refine.
func (h *Handlers) HandleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.RefineSection(r.Context(), ops.RefineSectionInput{
		CapsuleID:    chi.URLParam(r, "id"),
		ActorID:      actor(r),
		Period:       chi.URLParam(r, "period"),
		Instructions: req.Instructions,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRefreshStale handles POST /api/v1/history/refresh-stale.
func (h *Handlers) HandleRefreshStale(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RefreshStaleHistories(r.Context(), ops.RefreshStaleInput{
		Limit:             parseIntParam(r, "limit", 0),
		StaleAfterMinutes: parseIntParam(r, "stale_after_minutes", 0),
		Concurrency:       parseIntParam(r, "concurrency", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
