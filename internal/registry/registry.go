// Package registry layers the three capability registries (actions, prompts,
// resources) over the router. The three registries are structurally identical,
// so a single Registries type serves all kinds, with per-kind normalization of
// advertised capabilities and responses.
//
// Writers are Admit and UnregisterSession only. Admission runs synchronously
// inside session startup, before the session handle is returned, and teardown
// cancels the session's scope before unregistering, so readers never observe a
// mid-removal state.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conductor/internal/boundary"
	"conductor/internal/router"
	"conductor/internal/transport"
	"conductor/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// InvocationError wraps the failure of a routed call with the capability name
// and the owning session. It is not retried at this layer; retry policy
// belongs to the caller.
type InvocationError struct {
	Capability string
	SessionID  string
	Err        error
}

func (e *InvocationError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("invocation of %q failed: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("invocation of %q on session %s failed: %v", e.Capability, e.SessionID, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Capability is the normalized form of one advertised item, independent of
// kind. For resources, Name carries the URI.
type Capability struct {
	Name        string
	Description string
	Kind        router.Kind
	Schema      map[string]interface{}
}

// Result is the normalized response of an invocation, render, or fetch.
type Result struct {
	Content string
	IsError bool
}

// ClientSource provides access to the live transport client and invoke
// timeout of a session. The supervisor implements this.
type ClientSource interface {
	Client(sessionID string) (transport.Client, bool)
	InvokeTimeout(sessionID string) time.Duration
}

// Registries exposes lookup and invocation over all capability kinds.
type Registries struct {
	router   *router.Router
	boundary *boundary.Boundary
	sessions ClientSource
}

// New creates the registries over a router, boundary and session source.
func New(rt *router.Router, bd *boundary.Boundary, sessions ClientSource) *Registries {
	return &Registries{
		router:   rt,
		boundary: bd,
		sessions: sessions,
	}
}

// Discover queries a session for everything it offers among the declared
// kinds. Actions are considered mandatory when declared; a session that
// cannot list its tools fails discovery. Prompt and resource listing failures
// are tolerated, since many servers support only a subset of the protocol.
func (r *Registries) Discover(ctx context.Context, sessionID string, client transport.Client, kinds []router.Kind) ([]Capability, error) {
	declared := make(map[router.Kind]bool, len(kinds))
	for _, k := range kinds {
		declared[k] = true
	}
	if len(kinds) == 0 {
		for _, k := range router.Kinds {
			declared[k] = true
		}
	}

	var advertised []Capability

	if declared[router.KindAction] {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools for session %s: %w", sessionID, err)
		}
		for _, tool := range tools {
			advertised = append(advertised, normalizeTool(tool))
		}
	}

	if declared[router.KindPrompt] {
		prompts, err := client.ListPrompts(ctx)
		if err != nil {
			logging.Debug("Registry", "Failed to list prompts for %s: %v", sessionID, err)
		} else {
			for _, prompt := range prompts {
				advertised = append(advertised, normalizePrompt(prompt))
			}
		}
	}

	if declared[router.KindResource] {
		resources, err := client.ListResources(ctx)
		if err != nil {
			logging.Debug("Registry", "Failed to list resources for %s: %v", sessionID, err)
		} else {
			for _, resource := range resources {
				advertised = append(advertised, normalizeResource(resource))
			}
		}
	}

	logging.Debug("Registry", "Session %s advertised %d capabilities", sessionID, len(advertised))
	return advertised, nil
}

// Admit filters advertised capabilities against the session's exclusion list
// and registers the survivors. The filter runs before any registration, so an
// excluded capability never becomes routable, even transiently. Returns the
// number admitted.
func (r *Registries) Admit(sessionID string, advertised []Capability, exclusions []string, tags []string, weight float64) int {
	excluded := make(map[string]struct{}, len(exclusions))
	for _, name := range exclusions {
		excluded[name] = struct{}{}
	}

	admitted := 0
	for _, cap := range advertised {
		if _, skip := excluded[cap.Name]; skip {
			logging.Debug("Registry", "Excluding %s %q for session %s", cap.Kind, cap.Name, sessionID)
			continue
		}
		err := r.router.Register(router.Record{
			Name:        cap.Name,
			Kind:        cap.Kind,
			SessionID:   sessionID,
			Tags:        tags,
			Weight:      weight,
			Schema:      cap.Schema,
			Description: cap.Description,
		})
		if err != nil {
			logging.Warn("Registry", "Failed to register %s %q for session %s: %v", cap.Kind, cap.Name, sessionID, err)
			continue
		}
		admitted++
	}

	logging.Info("Registry", "Session %s admitted %d of %d advertised capabilities", sessionID, admitted, len(advertised))
	return admitted
}

// UnregisterSession removes every record owned by the session.
func (r *Registries) UnregisterSession(sessionID string) {
	removed := r.router.UnregisterSession(sessionID)
	logging.Debug("Registry", "Removed %d capability records for session %s", removed, sessionID)
}

// Invoke routes an action call to its serving session and forwards it.
// Underlying failures, including the per-session timeout, are wrapped as
// InvocationError.
func (r *Registries) Invoke(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	decision, err := r.router.Select(name, router.KindAction, nil)
	if err != nil {
		return nil, err
	}

	client, ok := r.sessions.Client(decision.SessionID)
	if !ok {
		return nil, &InvocationError{Capability: name, SessionID: decision.SessionID, Err: fmt.Errorf("session has no live client")}
	}

	callCtx, cancel := r.withInvokeTimeout(ctx, decision.SessionID)
	defer cancel()

	result, err := client.CallTool(callCtx, name, args)
	if err != nil {
		return nil, &InvocationError{Capability: name, SessionID: decision.SessionID, Err: err}
	}

	return normalizeCallResult(result), nil
}

// Render routes a prompt request to its serving session and renders it.
func (r *Registries) Render(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	decision, err := r.router.Select(name, router.KindPrompt, nil)
	if err != nil {
		return nil, err
	}

	client, ok := r.sessions.Client(decision.SessionID)
	if !ok {
		return nil, &InvocationError{Capability: name, SessionID: decision.SessionID, Err: fmt.Errorf("session has no live client")}
	}

	callCtx, cancel := r.withInvokeTimeout(ctx, decision.SessionID)
	defer cancel()

	result, err := client.GetPrompt(callCtx, name, args)
	if err != nil {
		return nil, &InvocationError{Capability: name, SessionID: decision.SessionID, Err: err}
	}

	return normalizePromptResult(result), nil
}

// Fetch routes a resource read to its serving session. The URI is validated
// against the session's access boundary before the call is forwarded.
func (r *Registries) Fetch(ctx context.Context, uri string) (*Result, error) {
	decision, err := r.router.Select(uri, router.KindResource, nil)
	if err != nil {
		return nil, err
	}

	if err := r.boundary.Authorize(decision.SessionID, uri); err != nil {
		return nil, &InvocationError{Capability: uri, SessionID: decision.SessionID, Err: err}
	}

	client, ok := r.sessions.Client(decision.SessionID)
	if !ok {
		return nil, &InvocationError{Capability: uri, SessionID: decision.SessionID, Err: fmt.Errorf("session has no live client")}
	}

	callCtx, cancel := r.withInvokeTimeout(ctx, decision.SessionID)
	defer cancel()

	result, err := client.ReadResource(callCtx, uri)
	if err != nil {
		return nil, &InvocationError{Capability: uri, SessionID: decision.SessionID, Err: err}
	}

	return normalizeResourceResult(result), nil
}

// List enumerates registered records of a kind, optionally restricted to one
// session. Used to present available capabilities to an LLM.
func (r *Registries) List(kind router.Kind, sessionID string) []router.Record {
	return r.router.List(kind, sessionID)
}

func (r *Registries) withInvokeTimeout(ctx context.Context, sessionID string) (context.Context, context.CancelFunc) {
	timeout := r.sessions.InvokeTimeout(sessionID)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func normalizeTool(tool mcp.Tool) Capability {
	schema := map[string]interface{}{
		"type":       tool.InputSchema.Type,
		"properties": tool.InputSchema.Properties,
	}
	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}
	return Capability{
		Name:        tool.Name,
		Description: tool.Description,
		Kind:        router.KindAction,
		Schema:      schema,
	}
}

func normalizePrompt(prompt mcp.Prompt) Capability {
	schema := make(map[string]interface{}, len(prompt.Arguments))
	for _, arg := range prompt.Arguments {
		schema[arg.Name] = map[string]interface{}{
			"description": arg.Description,
			"required":    arg.Required,
		}
	}
	return Capability{
		Name:        prompt.Name,
		Description: prompt.Description,
		Kind:        router.KindPrompt,
		Schema:      schema,
	}
}

func normalizeResource(resource mcp.Resource) Capability {
	return Capability{
		Name:        resource.URI,
		Description: resource.Description,
		Kind:        router.KindResource,
	}
}

func normalizeCallResult(result *mcp.CallToolResult) *Result {
	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	return &Result{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
	}
}

func normalizePromptResult(result *mcp.GetPromptResult) *Result {
	var parts []string
	for _, msg := range result.Messages {
		if text, ok := mcp.AsTextContent(msg.Content); ok {
			parts = append(parts, text.Text)
		}
	}
	return &Result{Content: strings.Join(parts, "\n")}
}

func normalizeResourceResult(result *mcp.ReadResourceResult) *Result {
	var parts []string
	for _, contents := range result.Contents {
		if text, ok := mcp.AsTextResourceContents(contents); ok {
			parts = append(parts, text.Text)
		}
	}
	return &Result{Content: strings.Join(parts, "\n")}
}
