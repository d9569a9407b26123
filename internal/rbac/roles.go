// Package rbac names which agent tools require admin permission. The
// model is a binary PUBLIC/ADMIN_ONLY gate: a tool either requires admin or
// it doesn't, and agent.Registry.Visible enforces that at call time.
package rbac

// AdminOnlyTools lists tool names that must be registered with
// agent.ToolSpec.IsAdmin = true, hidden from PUBLIC callers entirely.
var AdminOnlyTools = map[string]bool{
	"delete_document": true,
	"reset_document":  true,
}

// RequiresAdmin reports whether a tool name is admin-only.
func RequiresAdmin(tool string) bool {
	return AdminOnlyTools[tool]
}
