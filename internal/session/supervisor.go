// Package session supervises capability server sessions. Each session runs
// under its own cancellation scope nested inside one umbrella scope, so
// stopping a session never disturbs its siblings and stopping the host
// cascades to every session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conductor/internal/boundary"
	"conductor/internal/registry"
	"conductor/internal/router"
	"conductor/internal/transport"
	"conductor/internal/vault"
	"conductor/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// DefaultStartupTimeout bounds launch, handshake and capability discovery for
// one session.
const DefaultStartupTimeout = 30 * time.Second

// SecretSpec names a vault token to resolve into one environment variable of
// a stdio session. Cleartext exists only between resolution and process
// launch and is never logged.
type SecretSpec struct {
	Env   string
	Token string
}

// Config describes one capability server session. Immutable once passed to
// Start; owned by configuration.
type Config struct {
	ID        string
	Transport transport.Descriptor

	// Kinds declares which capability classes to discover. Empty means all.
	Kinds []router.Kind

	// Exclusions lists advertised capability names that must never be admitted.
	Exclusions []string

	Tags   []string
	Weight float64

	// ResourceRoots restricts which resource URIs this session may serve.
	// Empty means unrestricted.
	ResourceRoots []string

	Secrets []SecretSpec

	InvokeTimeout  time.Duration
	StartupTimeout time.Duration
}

// StartupError reports a pre-readiness session failure. It is fatal only to
// the Start call that produced it.
type StartupError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("session %s failed during %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Handle is returned once a session has completed handshake and admission.
type Handle struct {
	ID              string
	ProtocolVersion string
	Admitted        int
}

// Admitter is the registry surface the supervisor drives during session
// startup and teardown. The concrete implementation is registry.Registries.
type Admitter interface {
	Discover(ctx context.Context, sessionID string, client transport.Client, kinds []router.Kind) ([]registry.Capability, error)
	Admit(sessionID string, advertised []registry.Capability, exclusions []string, tags []string, weight float64) int
	UnregisterSession(sessionID string)
}

// session is the runtime handle behind one Config.
type session struct {
	id            string
	client        transport.Client
	cancel        context.CancelFunc
	done          chan struct{}
	invokeTimeout time.Duration
	live          bool
}

// Supervisor starts, tracks and stops sessions. It implements the router's
// Liveness and the registry's ClientSource.
type Supervisor struct {
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	factory  transport.Factory
	vault    *vault.Vault
	boundary *boundary.Boundary
	admitter Admitter
	sessions map[string]*session
	// starting holds ids claimed by an in-flight Start, so the duplicate
	// check and the eventual insert act as one atomic claim.
	starting map[string]struct{}
}

// NewSupervisor creates a supervisor whose umbrella scope nests inside ctx.
func NewSupervisor(ctx context.Context, factory transport.Factory, vt *vault.Vault, bd *boundary.Boundary, admitter Admitter) *Supervisor {
	umbrella, cancel := context.WithCancel(ctx)
	if factory == nil {
		factory = transport.New
	}
	return &Supervisor{
		ctx:      umbrella,
		cancel:   cancel,
		factory:  factory,
		vault:    vt,
		boundary: bd,
		admitter: admitter,
		sessions: make(map[string]*session),
		starting: make(map[string]struct{}),
	}
}

// Start launches a session and returns once it is ready: secrets resolved,
// transport connected, handshake complete, capabilities discovered and
// admitted. Any failure before that point is returned synchronously as a
// StartupError and leaves no trace of the session behind. At most one live
// session per id.
func (s *Supervisor) Start(cfg Config) (*Handle, error) {
	if cfg.ID == "" {
		return nil, &StartupError{SessionID: cfg.ID, Stage: "validation", Err: fmt.Errorf("session id is required")}
	}

	// Claim the id before any blocking work. A concurrent Start for the same
	// id fails here instead of racing the insert at the end, so at most one
	// live session per id ever exists.
	s.mu.Lock()
	if _, exists := s.sessions[cfg.ID]; exists {
		s.mu.Unlock()
		return nil, &StartupError{SessionID: cfg.ID, Stage: "validation", Err: fmt.Errorf("session already running")}
	}
	if _, exists := s.starting[cfg.ID]; exists {
		s.mu.Unlock()
		return nil, &StartupError{SessionID: cfg.ID, Stage: "validation", Err: fmt.Errorf("session is already starting")}
	}
	s.starting[cfg.ID] = struct{}{}
	s.mu.Unlock()

	// The claim is released on every return path; on success the session is
	// already in s.sessions by then.
	defer func() {
		s.mu.Lock()
		delete(s.starting, cfg.ID)
		s.mu.Unlock()
	}()

	if err := s.ctx.Err(); err != nil {
		return nil, &StartupError{SessionID: cfg.ID, Stage: "validation", Err: fmt.Errorf("supervisor is shut down: %w", err)}
	}

	desc, err := s.resolveSecrets(cfg)
	if err != nil {
		return nil, &StartupError{SessionID: cfg.ID, Stage: "credentials", Err: err}
	}

	if len(cfg.ResourceRoots) > 0 {
		if err := s.boundary.SetRoots(cfg.ID, cfg.ResourceRoots); err != nil {
			return nil, &StartupError{SessionID: cfg.ID, Stage: "boundary", Err: err}
		}
	}

	client, err := s.factory(desc)
	if err != nil {
		s.boundary.RemoveSession(cfg.ID)
		return nil, &StartupError{SessionID: cfg.ID, Stage: "launch", Err: err}
	}

	startupTimeout := cfg.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	startCtx, startCancel := context.WithTimeout(s.ctx, startupTimeout)
	defer startCancel()

	if err := client.Initialize(startCtx); err != nil {
		client.Close()
		s.boundary.RemoveSession(cfg.ID)
		return nil, &StartupError{SessionID: cfg.ID, Stage: "handshake", Err: err}
	}

	// Admission runs synchronously before the handle is returned, so the
	// session never serves read traffic half-registered.
	advertised, err := s.admitter.Discover(startCtx, cfg.ID, client, cfg.Kinds)
	if err != nil {
		client.Close()
		s.boundary.RemoveSession(cfg.ID)
		return nil, &StartupError{SessionID: cfg.ID, Stage: "discovery", Err: err}
	}
	admitted := s.admitter.Admit(cfg.ID, advertised, cfg.Exclusions, cfg.Tags, cfg.Weight)

	sessCtx, sessCancel := context.WithCancel(s.ctx)
	sess := &session{
		id:            cfg.ID,
		client:        client,
		cancel:        sessCancel,
		done:          make(chan struct{}),
		invokeTimeout: cfg.InvokeTimeout,
		live:          true,
	}

	s.mu.Lock()
	s.sessions[cfg.ID] = sess
	s.mu.Unlock()

	go s.supervise(sessCtx, sess)

	logging.Info("Session", "Session %s ready (protocol: %s, capabilities: %d)", cfg.ID, client.ProtocolVersion(), admitted)
	return &Handle{
		ID:              cfg.ID,
		ProtocolVersion: client.ProtocolVersion(),
		Admitted:        admitted,
	}, nil
}

// supervise blocks until the session's scope is cancelled, then releases the
// transport. Failures here are post-readiness and stay isolated to this
// session.
func (s *Supervisor) supervise(ctx context.Context, sess *session) {
	defer close(sess.done)

	<-ctx.Done()

	if err := sess.client.Close(); err != nil {
		logging.Warn("Session", "Session %s transport close failed: %v", sess.id, err)
	}
	logging.Debug("Session", "Session %s supervision ended", sess.id)
}

// Stop gracefully shuts one session down. Idempotent; stopping an unknown
// session is a no-op. The session's scope is cancelled and its transport
// released before its capability records are removed.
func (s *Supervisor) Stop(sessionID string) error {
	s.mu.Lock()
	sess, exists := s.sessions[sessionID]
	if !exists {
		s.mu.Unlock()
		return nil
	}
	sess.live = false
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	sess.cancel()
	<-sess.done

	s.admitter.UnregisterSession(sessionID)
	s.boundary.RemoveSession(sessionID)

	logging.Info("Session", "Session %s stopped", sessionID)
	return nil
}

// StopAll stops every session, continuing past individual failures, and
// cancels the umbrella scope. Used at host shutdown.
func (s *Supervisor) StopAll() error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.Stop(id); err != nil {
				return fmt.Errorf("stop %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	s.cancel()
	return err
}

// IsLive reports whether the session is currently serving.
func (s *Supervisor) IsLive(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[sessionID]
	return exists && sess.live
}

// Client returns the transport client of a live session.
func (s *Supervisor) Client(sessionID string) (transport.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[sessionID]
	if !exists || !sess.live {
		return nil, false
	}
	return sess.client, true
}

// InvokeTimeout returns the per-session invocation timeout, zero when none
// is configured.
func (s *Supervisor) InvokeTimeout(sessionID string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, exists := s.sessions[sessionID]
	if !exists {
		return 0
	}
	return sess.invokeTimeout
}

// Sessions lists the ids of all live sessions.
func (s *Supervisor) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// resolveSecrets materializes secret-injection specs into a copy of the
// transport descriptor's environment. The original config is not mutated and
// cleartext never reaches a log line.
func (s *Supervisor) resolveSecrets(cfg Config) (transport.Descriptor, error) {
	desc := cfg.Transport
	if len(cfg.Secrets) == 0 {
		return desc, nil
	}

	env := make(map[string]string, len(desc.Env)+len(cfg.Secrets))
	for k, v := range desc.Env {
		env[k] = v
	}
	for _, spec := range cfg.Secrets {
		cleartext, err := s.vault.Resolve(spec.Token)
		if err != nil {
			return desc, fmt.Errorf("resolve secret for %s: %w", spec.Env, err)
		}
		env[spec.Env] = string(cleartext)
		logging.Debug("Session", "Resolved secret into %s for session %s", spec.Env, cfg.ID)
	}
	desc.Env = env
	return desc, nil
}
