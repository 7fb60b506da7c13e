// ABOUTME: Agent identity lifecycle: Unregistered -> Registering -> Registered, or Exhausted
// ABOUTME: EnsureRegistered is the gate every outbound event and config sync passes through

package registration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/agentlens/internal/metrics"
	"github.com/2389/agentlens/internal/transport"
)

// State is a registration lifecycle state.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	Exhausted
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Request is the /agents/register body.
type Request struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes the workspace the agent runs in.
type Metadata struct {
	Workspace string `json:"workspace,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Registrar owns the agent identity. The identity is set at most once and
// never changes afterwards.
type Registrar struct {
	poster      transport.Poster
	request     Request
	maxAttempts int
	logger      *slog.Logger

	// attemptMu serializes attempts so a caller that waited behind a
	// successful attempt short-circuits instead of registering twice.
	attemptMu sync.Mutex

	mu       sync.Mutex
	state    State
	attempts int
	agentID  string
	fallback *time.Timer
}

// New creates a Registrar in the Unregistered state.
func New(poster transport.Poster, req Request, maxAttempts int, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Registrar{
		poster:      poster,
		request:     req,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "registration"),
	}
}

// Register performs one registration attempt unless the outcome is already
// decided. It returns true once an identity exists.
func (r *Registrar) Register(ctx context.Context) bool {
	r.attemptMu.Lock()
	defer r.attemptMu.Unlock()

	r.mu.Lock()
	switch r.state {
	case Registered:
		r.mu.Unlock()
		return true
	case Exhausted:
		r.mu.Unlock()
		return false
	}
	// Counted before the network call so the budget stays exact.
	r.attempts++
	attempt := r.attempts
	r.state = Registering
	r.mu.Unlock()

	r.logger.Debug("registering agent", "attempt", attempt, "name", r.request.Name)

	resp, ok := r.poster.Post(ctx, transport.PathRegister, r.request)
	agentID := ""
	if ok {
		agentID = identityFrom(resp)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if agentID != "" {
		r.state = Registered
		r.agentID = agentID
		metrics.RegistrationAttempts.WithLabelValues("registered").Inc()
		r.logger.Info("agent registered", "agent_id", agentID, "attempt", attempt)
		return true
	}

	if ok {
		r.logger.Warn("registration response missing agent_id", "attempt", attempt)
	}

	if r.attempts >= r.maxAttempts {
		r.state = Exhausted
		metrics.RegistrationAttempts.WithLabelValues("exhausted").Inc()
		r.logger.Error("registration attempts exhausted, telemetry disabled until restart",
			"attempts", r.attempts)
		return false
	}

	r.state = Unregistered
	metrics.RegistrationAttempts.WithLabelValues("failed").Inc()
	r.logger.Warn("registration failed", "attempt", attempt, "max_attempts", r.maxAttempts)
	return false
}

// EnsureRegistered returns immediately when an identity exists and otherwise
// delegates to Register.
func (r *Registrar) EnsureRegistered(ctx context.Context) bool {
	r.mu.Lock()
	registered := r.state == Registered
	r.mu.Unlock()

	if registered {
		return true
	}
	return r.Register(ctx)
}

// AgentID returns the identity, if one has been established.
func (r *Registrar) AgentID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentID, r.state == Registered
}

// State returns the current lifecycle state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts returns the attempt counter.
func (r *Registrar) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Reset clears the attempt counter on a fresh start. An existing identity is kept.
func (r *Registrar) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = 0
	if r.state != Registered {
		r.state = Unregistered
	}
}

// ScheduleFallback fires one registration attempt after delay. It covers a
// gateway start signal that fired before the hooks were attached.
func (r *Registrar) ScheduleFallback(ctx context.Context, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fallback != nil {
		r.fallback.Stop()
	}
	r.fallback = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("fallback registration firing")
		r.Register(ctx)
	})
}

// StopFallback cancels a pending fallback attempt.
func (r *Registrar) StopFallback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fallback != nil {
		r.fallback.Stop()
		r.fallback = nil
	}
}

func identityFrom(resp map[string]any) string {
	id, _ := resp["agent_id"].(string)
	return strings.TrimSpace(id)
}
