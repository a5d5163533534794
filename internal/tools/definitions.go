package tools

import "github.com/toolgate/toolgate/internal/reqctx"

// allRoles grants a tool to every role. Tool handlers still enforce
// row-level access on top.
var allRoles = []reqctx.Role{
	reqctx.RoleUberAdmin, reqctx.RoleTenantAdmin,
	reqctx.RoleProjectAdmin, reqctx.RoleEndUser,
}

var adminRoles = []reqctx.Role{reqctx.RoleUberAdmin, reqctx.RoleTenantAdmin}

// RegisterAll wires every tool into the registry.
func RegisterAll(r *Registry, s *Set) {
	registerMemoryTools(r, s)
	registerSessionTools(r, s)
	registerSearchTools(r, s)
}

func registerMemoryTools(r *Registry, s *Set) {
	r.MustRegister(Definition{
		Name:        "mem0_add_memory",
		Description: "Store conversational messages in the user's long-term memory",
		InputSchema: buildSchema(map[string]any{
			"user_id":  uuidSchema("Target user, defaults to the caller"),
			"messages": arraySchema("Messages to remember", messageSchema()),
			"metadata": objectSchema("Arbitrary metadata, e.g. memory_key"),
		}, []string{"messages"}),
		Roles: allRoles,
	}, s.HandleAddMemory)

	r.MustRegister(Definition{
		Name:        "mem0_search_memory",
		Description: "Search the user's long-term memory by relevance",
		InputSchema: buildSchema(map[string]any{
			"user_id":    uuidSchema("Target user, defaults to the caller"),
			"query":      stringSchema("Search query"),
			"limit":      integerSchema("Maximum results, default 10"),
			"memory_key": stringSchema("Restrict to one memory key"),
		}, []string{"query"}),
		Roles: allRoles,
	}, s.HandleSearchMemory)

	r.MustRegister(Definition{
		Name:        "mem0_get_user_memory",
		Description: "List everything stored for the user",
		InputSchema: buildSchema(map[string]any{
			"user_id": uuidSchema("Target user, defaults to the caller"),
		}, nil),
		Roles: allRoles,
	}, s.HandleGetUserMemory)

	r.MustRegister(Definition{
		Name:        "mem0_update_memory",
		Description: "Replace the text of one stored memory",
		InputSchema: buildSchema(map[string]any{
			"user_id":   uuidSchema("Target user, defaults to the caller"),
			"memory_id": stringSchema("Memory to update"),
			"text":      stringSchema("Replacement text"),
		}, []string{"memory_id", "text"}),
		Roles: allRoles,
	}, s.HandleUpdateMemory)

	r.MustRegister(Definition{
		Name:        "mem0_delete_memory",
		Description: "Delete one stored memory",
		InputSchema: buildSchema(map[string]any{
			"user_id":   uuidSchema("Target user, defaults to the caller"),
			"memory_id": stringSchema("Memory to delete"),
		}, []string{"memory_id"}),
		Roles: allRoles,
	}, s.HandleDeleteMemory)
}

func registerSessionTools(r *Registry, s *Set) {
	r.MustRegister(Definition{
		Name:        "rag_store_session_context",
		Description: "Store working context for a conversation session",
		InputSchema: buildSchema(map[string]any{
			"session_id":       stringSchema("Session identifier"),
			"context":          objectSchema("Conversation state to store"),
			"user_preferences": objectSchema("Stated preferences, e.g. preferred_tags"),
		}, []string{"session_id"}),
		Roles: allRoles,
	}, s.HandleStoreSession)

	r.MustRegister(Definition{
		Name:        "rag_get_session_context",
		Description: "Fetch the stored context for a session",
		InputSchema: buildSchema(map[string]any{
			"session_id": stringSchema("Session identifier"),
		}, []string{"session_id"}),
		Roles: allRoles,
	}, s.HandleGetSession)

	r.MustRegister(Definition{
		Name:        "rag_update_session_context",
		Description: "Merge updates into a session's stored context",
		InputSchema: buildSchema(map[string]any{
			"session_id":          stringSchema("Session identifier"),
			"updates":             objectSchema("Conversation state to merge, new keys win"),
			"user_preferences":    objectSchema("Preferences to merge"),
			"recent_interactions": arraySchema("Interactions to append", objectSchema("One interaction")),
		}, []string{"session_id"}),
		Roles: allRoles,
	}, s.HandleUpdateSession)

	r.MustRegister(Definition{
		Name:        "rag_interrupt_session",
		Description: "Record the in-flight query when the conversation is cut off",
		InputSchema: buildSchema(map[string]any{
			"session_id":    stringSchema("Session identifier"),
			"current_query": stringSchema("Query in flight at the interruption"),
		}, []string{"session_id", "current_query"}),
		Roles: allRoles,
	}, s.HandleInterruptSession)

	r.MustRegister(Definition{
		Name:        "rag_resume_session",
		Description: "Resume an interrupted or dormant session",
		InputSchema: buildSchema(map[string]any{
			"session_id": stringSchema("Session identifier"),
		}, []string{"session_id"}),
		Roles: allRoles,
	}, s.HandleResumeSession)

	r.MustRegister(Definition{
		Name:        "rag_cleanup_sessions",
		Description: "Delete the tenant's stale sessions",
		InputSchema: buildSchema(map[string]any{
			"older_than_hours": integerSchema("Age threshold in hours, default 48"),
		}, nil),
		Roles: adminRoles,
	}, s.HandleCleanupSessions)
}

func registerSearchTools(r *Registry, s *Set) {
	r.MustRegister(Definition{
		Name:        "recognize_user",
		Description: "Build a greeting and context summary for a returning user",
		InputSchema: buildSchema(map[string]any{
			"user_id": uuidSchema("Target user, defaults to the caller"),
		}, nil),
		Roles: allRoles,
	}, s.HandleRecognizeUser)

	r.MustRegister(Definition{
		Name:        "doc_search",
		Description: "Search documents, personalized by memory and session context",
		InputSchema: buildSchema(map[string]any{
			"query":      stringSchema("Search query"),
			"limit":      integerSchema("Maximum results, default 10"),
			"session_id": stringSchema("Active session for personalization"),
		}, []string{"query"}),
		Roles: allRoles,
	}, s.HandleDocSearch)

	r.MustRegister(Definition{
		Name:        "doc_index",
		Description: "Add a document to the tenant's search index",
		InputSchema: buildSchema(map[string]any{
			"id":    stringSchema("Document id, generated when omitted"),
			"title": stringSchema("Document title"),
			"body":  stringSchema("Document body"),
			"type":  stringSchema("Document type, e.g. guide"),
			"tags":  arraySchema("Tags for preference matching", stringSchema("One tag")),
		}, []string{"title", "body"}),
		Roles: adminRoles,
	}, s.HandleIndexDocument)
}
