// Package host assembles the orchestration core: credential vault, access
// boundary, session supervisor, capability router and registries, and the
// conversation driver, behind one facade.
package host

import (
	"context"
	"time"

	"conductor/internal/boundary"
	"conductor/internal/conversation"
	"conductor/internal/llm"
	"conductor/internal/registry"
	"conductor/internal/router"
	"conductor/internal/session"
	"conductor/internal/transport"
	"conductor/internal/vault"
	"conductor/pkg/logging"
)

// Settings carries host-wide defaults supplied by configuration.
type Settings struct {
	MaxIterations int
	SystemPrompt  string

	// DefaultWeight applies to sessions that do not set one.
	DefaultWeight float64

	// DefaultInvokeTimeout applies to sessions that do not set one.
	DefaultInvokeTimeout time.Duration
}

// supervisorRef breaks the construction cycle between router, registries and
// supervisor. It is bound once during New, before any concurrency starts.
type supervisorRef struct {
	sup *session.Supervisor
}

func (r *supervisorRef) IsLive(sessionID string) bool {
	if r.sup == nil {
		return false
	}
	return r.sup.IsLive(sessionID)
}

func (r *supervisorRef) Client(sessionID string) (transport.Client, bool) {
	if r.sup == nil {
		return nil, false
	}
	return r.sup.Client(sessionID)
}

func (r *supervisorRef) InvokeTimeout(sessionID string) time.Duration {
	if r.sup == nil {
		return 0
	}
	return r.sup.InvokeTimeout(sessionID)
}

// Host is the public surface of the orchestration core.
type Host struct {
	settings   Settings
	vault      *vault.Vault
	boundary   *boundary.Boundary
	router     *router.Router
	registries *registry.Registries
	supervisor *session.Supervisor
	caller     llm.Caller
}

// New wires the core together. factory may be nil to use the real transport
// factory; caller may be nil when only capability operations are needed.
func New(ctx context.Context, settings Settings, factory transport.Factory, caller llm.Caller) *Host {
	vt := vault.New()
	bd := boundary.New()

	ref := &supervisorRef{}
	rt := router.New(ref)
	reg := registry.New(rt, bd, ref)
	sup := session.NewSupervisor(ctx, factory, vt, bd, reg)
	ref.sup = sup

	return &Host{
		settings:   settings,
		vault:      vt,
		boundary:   bd,
		router:     rt,
		registries: reg,
		supervisor: sup,
		caller:     caller,
	}
}

// Vault exposes the credential vault for secret provisioning.
func (h *Host) Vault() *vault.Vault { return h.vault }

// RegisterSession starts a capability server session. Defaults from the host
// settings fill in weight and invoke timeout when the config leaves them zero.
func (h *Host) RegisterSession(cfg session.Config) (*session.Handle, error) {
	if cfg.Weight == 0 {
		cfg.Weight = h.settings.DefaultWeight
	}
	if cfg.InvokeTimeout == 0 {
		cfg.InvokeTimeout = h.settings.DefaultInvokeTimeout
	}
	return h.supervisor.Start(cfg)
}

// DeregisterSession stops a session. Idempotent.
func (h *Host) DeregisterSession(sessionID string) error {
	return h.supervisor.Stop(sessionID)
}

// Sessions lists live session ids.
func (h *Host) Sessions() []string {
	return h.supervisor.Sessions()
}

// ListCapabilities enumerates registered capabilities of a kind, optionally
// restricted to one session.
func (h *Host) ListCapabilities(kind router.Kind, sessionID string) []router.Record {
	return h.registries.List(kind, sessionID)
}

// InvokeCapability routes and executes a single action call without a
// conversation.
func (h *Host) InvokeCapability(ctx context.Context, name string, args map[string]interface{}) (*registry.Result, error) {
	return h.registries.Invoke(ctx, name, args)
}

// RenderPrompt routes and renders a single prompt.
func (h *Host) RenderPrompt(ctx context.Context, name string, args map[string]interface{}) (*registry.Result, error) {
	return h.registries.Render(ctx, name, args)
}

// FetchResource routes and reads a single resource, subject to the serving
// session's access boundary.
func (h *Host) FetchResource(ctx context.Context, uri string) (*registry.Result, error) {
	return h.registries.Fetch(ctx, uri)
}

// RunConversation drives a bounded conversation starting from initialMessage.
// sessionFilter, when non-empty, limits the capability listing presented to
// the model to that session. The result is always returned, never raised;
// failures are carried in Result.Err.
func (h *Host) RunConversation(ctx context.Context, initialMessage, sessionFilter string) *conversation.Result {
	driver := conversation.New(h.caller, h.registries, conversation.Options{
		MaxIterations: h.settings.MaxIterations,
		SystemPrompt:  h.settings.SystemPrompt,
		SessionFilter: sessionFilter,
	})
	return driver.Run(ctx, initialMessage)
}

// Shutdown stops every session and cancels the umbrella scope. Individual
// session failures do not abort the sweep.
func (h *Host) Shutdown() error {
	logging.Info("Host", "Shutting down %d sessions", len(h.supervisor.Sessions()))
	return h.supervisor.StopAll()
}
