package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/history"
	"github.com/hpungsan/almanac/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.HistoryService
	db  *sql.DB
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.HistoryService, db *sql.DB) *Handlers {
	return &Handlers{svc: svc, db: db}
}

// Request types for each tool

// HistoryGetRequest represents the arguments for history_get.
type HistoryGetRequest struct {
	CapsuleID    string `json:"capsule_id"`
	ViewerID     string `json:"viewer_id,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	Format       string `json:"format,omitempty"`
}

// PublishRequest represents the arguments for history_publish.
type PublishRequest struct {
	CapsuleID string                 `json:"capsule_id"`
	ActorID   string                 `json:"actor_id"`
	Period    string                 `json:"period"`
	Content   *history.StoredSection `json:"content,omitempty"`
	Reason    *string                `json:"reason,omitempty"`
}

// PinAddRequest represents the arguments for history_pin_add.
type PinAddRequest struct {
	CapsuleID string  `json:"capsule_id"`
	ActorID   string  `json:"actor_id"`
	Period    string  `json:"period"`
	Type      string  `json:"type"`
	PostID    *string `json:"post_id,omitempty"`
	Quote     *string `json:"quote,omitempty"`
	Note      *string `json:"note,omitempty"`
	Source    string  `json:"source,omitempty"`
	Rank      *int    `json:"rank,omitempty"`
}

// PinRemoveRequest represents the arguments for history_pin_remove.
type PinRemoveRequest struct {
	CapsuleID string `json:"capsule_id"`
	ActorID   string `json:"actor_id"`
	PinID     string `json:"pin_id"`
}

// ExclusionRequest represents the arguments for the exclusion tools.
type ExclusionRequest struct {
	CapsuleID string  `json:"capsule_id"`
	ActorID   string  `json:"actor_id"`
	Period    string  `json:"period"`
	PostID    string  `json:"post_id"`
	Reason    *string `json:"reason,omitempty"`
}

// SettingsUpdateRequest represents the arguments for history_settings_update.
type SettingsUpdateRequest struct {
	CapsuleID           string            `json:"capsule_id"`
	ActorID             string            `json:"actor_id"`
	Period              string            `json:"period"`
	Notes               *string           `json:"notes,omitempty"`
	TemplateID          *string           `json:"template_id,omitempty"`
	Tone                *string           `json:"tone,omitempty"`
	PromptOverrides     map[string]string `json:"prompt_overrides,omitempty"`
	DiscussionThreadURL *string           `json:"discussion_thread_url,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
}

// PromptUpdateRequest represents the arguments for history_prompt_update.
type PromptUpdateRequest struct {
	CapsuleID    string                `json:"capsule_id"`
	ActorID      string                `json:"actor_id"`
	PromptMemory *history.PromptMemory `json:"prompt_memory,omitempty"`
	Templates    map[string]string     `json:"templates,omitempty"`
}

// RefineRequest represents the arguments for history_refine.
type RefineRequest struct {
	CapsuleID    string `json:"capsule_id"`
	ActorID      string `json:"actor_id"`
	Period       string `json:"period"`
	Instructions string `json:"instructions"`
}

// RefreshStaleRequest represents the arguments for history_refresh_stale.
type RefreshStaleRequest struct {
	Limit             int `json:"limit,omitempty"`
	StaleAfterMinutes int `json:"stale_after_minutes,omitempty"`
	Concurrency       int `json:"concurrency,omitempty"`
}

// CapsuleCreateRequest represents the arguments for capsule_create.
type CapsuleCreateRequest struct {
	Name        string  `json:"name"`
	OwnerID     string  `json:"owner_id"`
	Description *string `json:"description,omitempty"`
}

// MemberAddRequest represents the arguments for capsule_member_add.
type MemberAddRequest struct {
	CapsuleID string `json:"capsule_id"`
	ActorID   string `json:"actor_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}

// PostAddRequest represents the arguments for capsule_post_add.
type PostAddRequest struct {
	CapsuleID  string     `json:"capsule_id"`
	AuthorID   string     `json:"author_id"`
	AuthorName *string    `json:"author_name,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Content    *string    `json:"content,omitempty"`
	MediaCount int        `json:"media_count,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// Handler implementations

// HandleHistoryGet handles the history_get tool call.
func (h *Handlers) HandleHistoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Format != "" && input.Format != "json" && input.Format != "markdown" {
		return errorResult(errors.NewInvalidRequest("format must be one of: json, markdown")), nil
	}

	result, err := h.svc.GetHistory(ctx, ops.GetHistoryInput{
		CapsuleID:    input.CapsuleID,
		ViewerID:     input.ViewerID,
		ForceRefresh: input.ForceRefresh,
	})
	if err != nil {
		return errorResult(err), nil
	}

	if input.Format == "markdown" {
		return mcp.NewToolResultText(history.RenderMarkdown(result.Snapshot)), nil
	}
	return successResult(result)
}

// HandlePublish handles the history_publish tool call.
func (h *Handlers) HandlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PublishRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.PublishSection(ctx, ops.PublishSectionInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		Period:    input.Period,
		Content:   input.Content,
		Reason:    input.Reason,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePinAdd handles the history_pin_add tool call.
func (h *Handlers) HandlePinAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PinAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.AddPin(ctx, ops.AddPinInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		Period:    input.Period,
		Type:      input.Type,
		PostID:    input.PostID,
		Quote:     input.Quote,
		Note:      input.Note,
		Source:    input.Source,
		Rank:      input.Rank,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePinRemove handles the history_pin_remove tool call.
func (h *Handlers) HandlePinRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PinRemoveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.RemovePin(ctx, ops.RemovePinInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		PinID:     input.PinID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"removed": true, "pin": result})
}

// HandleExclusionAdd handles the history_exclusion_add tool call.
func (h *Handlers) HandleExclusionAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExclusionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.AddExclusion(ctx, ops.ExclusionInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		Period:    input.Period,
		PostID:    input.PostID,
		Reason:    input.Reason,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExclusionRemove handles the history_exclusion_remove tool call.
func (h *Handlers) HandleExclusionRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExclusionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	err = h.svc.RemoveExclusion(ctx, ops.ExclusionInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		Period:    input.Period,
		PostID:    input.PostID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"removed": true})
}

// HandleSettingsUpdate handles the history_settings_update tool call.
func (h *Handlers) HandleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.UpdateSectionSettings(ctx, ops.UpdateSectionSettingsInput{
		CapsuleID:           input.CapsuleID,
		ActorID:             input.ActorID,
		Period:              input.Period,
		Notes:               input.Notes,
		TemplateID:          input.TemplateID,
		Tone:                input.Tone,
		PromptOverrides:     input.PromptOverrides,
		DiscussionThreadURL: input.DiscussionThreadURL,
		Metadata:            input.Metadata,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePromptUpdate handles the history_prompt_update tool call.
func (h *Handlers) HandlePromptUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.UpdatePromptSettings(ctx, ops.UpdatePromptSettingsInput{
		CapsuleID:    input.CapsuleID,
		ActorID:      input.ActorID,
		PromptMemory: input.PromptMemory,
		Templates:    input.Templates,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRefine handles the history_refine tool call.
func (h *Handlers) HandleRefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefineRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.RefineSection(ctx, ops.RefineSectionInput{
		CapsuleID:    input.CapsuleID,
		ActorID:      input.ActorID,
		Period:       input.Period,
		Instructions: input.Instructions,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRefreshStale handles the history_refresh_stale tool call.
func (h *Handlers) HandleRefreshStale(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RefreshStaleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.RefreshStaleHistories(ctx, ops.RefreshStaleInput{
		Limit:             input.Limit,
		StaleAfterMinutes: input.StaleAfterMinutes,
		Concurrency:       input.Concurrency,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCapsuleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCapsuleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapsuleCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreateCapsule(ctx, h.db, ops.CreateCapsuleInput{
		Name:        input.Name,
		OwnerID:     input.OwnerID,
		Description: input.Description,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleMemberAdd handles the capsule_member_add tool call.
func (h *Handlers) HandleMemberAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MemberAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AddMember(ctx, h.db, ops.AddMemberInput{
		CapsuleID: input.CapsuleID,
		ActorID:   input.ActorID,
		UserID:    input.UserID,
		Role:      input.Role,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePostAdd handles the capsule_post_add tool call.
func (h *Handlers) HandlePostAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PostAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AddPost(ctx, h.db, ops.AddPostInput{
		CapsuleID:  input.CapsuleID,
		AuthorID:   input.AuthorID,
		AuthorName: input.AuthorName,
		Kind:       input.Kind,
		Content:    input.Content,
		MediaCount: input.MediaCount,
		CreatedAt:  input.CreatedAt,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are withheld; they may carry SQL or file paths.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if aErr, ok := errors.As(err); ok && aErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    aErr.Code,
			"message": aErr.Message,
			"status":  aErr.Status,
		}
		if aErr.Details != nil {
			errorObj["details"] = aErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
