// Package agent implements the reasoning agent: a ReAct loop that streams
// LLM output, dispatches tool calls with timeout and panic recovery, and
// resolves to a final answer, in two interchangeable shapes (a straight
// reactive executor and a state-graph variant).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ragcore/qacore/internal/model"
	"github.com/ragcore/qacore/internal/ragerr"
	"github.com/ragcore/qacore/internal/rbac"
)

// DefaultToolTimeout is the default tool-call deadline.
const DefaultToolTimeout = 20 * time.Second

// ToolFunc is a registered tool's callable: a `(string) -> string`
// contract, given a context for cancellation.
type ToolFunc func(ctx context.Context, input string) (string, error)

// ToolSpec describes one entry in the tool registry.
type ToolSpec struct {
	Name        string
	Description string
	IsAdmin     bool
	Fn          ToolFunc
}

// Registry is the agent's tool registry: keyed by name, each value a callable with
// a one-line description, optionally restricted to admin users.
type Registry struct {
	tools map[string]ToolSpec
	order []string // registration order, for stable prompt rendering
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]ToolSpec{}}
}

// Register adds a tool.
func (r *Registry) Register(spec ToolSpec) {
	if _, exists := r.tools[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.tools[spec.Name] = spec
}

// Visible returns the tools available to a caller at the given permission,
// filtering out admin-only tools for PUBLIC users.
func (r *Registry) Visible(userPermission model.Permission) []ToolSpec {
	out := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name]
		if isAdminOnly(spec) && userPermission != model.PermissionAdminOnly {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// lookup finds a tool by name, respecting the same permission filter as
// Visible, an admin-only tool is invisible (not merely unauthorized) to a
// public caller.
func (r *Registry) lookup(name string, userPermission model.Permission) (ToolSpec, bool) {
	spec, ok := r.tools[name]
	if !ok {
		return ToolSpec{}, false
	}
	if isAdminOnly(spec) && userPermission != model.PermissionAdminOnly {
		return ToolSpec{}, false
	}
	return spec, true
}

// isAdminOnly is the authoritative admin gate: rbac.RequiresAdmin governs by
// name even if a ToolSpec forgot to set IsAdmin.
func isAdminOnly(spec ToolSpec) bool {
	return spec.IsAdmin || rbac.RequiresAdmin(spec.Name)
}

// execute runs a tool with a timeout, returning its raw string observation.
// A tool's JSON object response carrying a `documents` list is detected by
// the caller (agent.go), not here.
func (r *Registry) execute(ctx context.Context, name, input string, userPermission model.Permission) (string, error) {
	spec, ok := r.lookup(name, userPermission)
	if !ok {
		return "", ragerr.NewToolError(name, errors.New("unknown tool"))
	}

	cctx, cancel := context.WithTimeout(model.WithPermission(ctx, userPermission), DefaultToolTimeout)
	defer cancel()

	resultCh := make(chan struct {
		out string
		err error
	}, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- struct {
					out string
					err error
				}{"", ragerr.NewToolError(name, fmt.Errorf("panicked: %v", p))}
			}
		}()
		out, err := spec.Fn(cctx, input)
		if err != nil {
			err = ragerr.NewToolError(name, err)
		}
		resultCh <- struct {
			out string
			err error
		}{out, err}
	}()

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-cctx.Done():
		return "", ragerr.NewTimeoutError(fmt.Sprintf("tool %q", name), DefaultToolTimeout)
	}
}

// toolDocuments extracts a `documents` list from a tool observation that is a
// JSON object, step ACT's document-merge rule. Returns nil if
// the observation is not a matching JSON object.
func toolDocuments(observation string) []model.DocumentRef {
	var payload struct {
		Documents []model.DocumentRef `json:"documents"`
	}
	if err := json.Unmarshal([]byte(observation), &payload); err != nil {
		return nil
	}
	return payload.Documents
}
