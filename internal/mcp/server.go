package mcp

import (
	"database/sql"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"capsule", "history"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"history_get": {
		def:     historyGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryGet },
	},
	"history_publish": {
		def:     historyPublishToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePublish },
	},
	"history_pin_add": {
		def:     historyPinAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePinAdd },
	},
	"history_pin_remove": {
		def:     historyPinRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePinRemove },
	},
	"history_exclusion_add": {
		def:     historyExclusionAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExclusionAdd },
	},
	"history_exclusion_remove": {
		def:     historyExclusionRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExclusionRemove },
	},
	"history_settings_update": {
		def:     historySettingsUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsUpdate },
	},
	"history_prompt_update": {
		def:     historyPromptUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptUpdate },
	},
	"history_refine": {
		def:     historyRefineToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRefine },
	},
	"history_refresh_stale": {
		def:     historyRefreshStaleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRefreshStale },
	},
	"capsule_create": {
		def:     capsuleCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleCreate },
	},
	"capsule_member_add": {
		def:     capsuleMemberAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMemberAdd },
	},
	"capsule_post_add": {
		def:     capsulePostAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePostAdd },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "history_get" → "history").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// NewServer creates a new MCP server with the history tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(svc *ops.HistoryService, db *sql.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"almanac",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(svc, db)

	// Expand types first, then add individual tools.
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc *ops.HistoryService, db *sql.DB, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(svc, db, cfg, version))
}
