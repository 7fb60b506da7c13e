// ABOUTME: Maps a session key to its currently open trace id across one conversation turn
// ABOUTME: Opens lazily on the first event, closes on turn completion, and mirrors each turn as an otel span

package trace

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/2389/agentlens/internal/metrics"
)

// DefaultSessionKey stands in for a missing session key so single-session
// deployments still correlate.
const DefaultSessionKey = "default"

const tracerName = "github.com/2389/agentlens"

type openTrace struct {
	id     string
	opened time.Time
	span   oteltrace.Span
}

// Correlator owns every open trace. At most one trace is open per session key.
type Correlator struct {
	mu     sync.Mutex
	open   map[string]*openTrace
	tracer oteltrace.Tracer
	now    func() time.Time
	logger *slog.Logger
}

// NewCorrelator creates an empty Correlator using the global tracer provider.
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		open:   make(map[string]*openTrace),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		logger: logger.With("component", "trace"),
	}
}

// NormalizeKey maps an empty session key to DefaultSessionKey.
func NormalizeKey(sessionKey string) string {
	if strings.TrimSpace(sessionKey) == "" {
		return DefaultSessionKey
	}
	return sessionKey
}

// Open returns the trace id open for sessionKey, opening a new one if none is.
// The second result reports whether a new trace was opened.
func (c *Correlator) Open(sessionKey string) (string, bool) {
	key := NormalizeKey(sessionKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.open[key]; ok {
		return t.id, false
	}

	now := c.now()
	id := NewTraceID(now)
	_, span := c.tracer.Start(context.Background(), "conversation.turn",
		oteltrace.WithTimestamp(now),
		oteltrace.WithAttributes(
			attribute.String("session.key", key),
			attribute.String("agentlens.trace_id", id),
		),
	)
	c.open[key] = &openTrace{id: id, opened: now, span: span}
	metrics.OpenTraces.Inc()

	c.logger.Debug("trace opened", "session_key", key, "trace_id", id)
	return id, true
}

// Current returns the open trace id for sessionKey without opening one.
func (c *Correlator) Current(sessionKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.open[NormalizeKey(sessionKey)]
	if !ok {
		return "", false
	}
	return t.id, true
}

// AddEvent records a named event on the open turn span, if any.
func (c *Correlator) AddEvent(sessionKey, name string, attrs ...attribute.KeyValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.open[NormalizeKey(sessionKey)]; ok {
		t.span.AddEvent(name, oteltrace.WithAttributes(attrs...))
	}
}

// Close removes the open trace for sessionKey. Closing a key with no open
// trace is a no-op.
func (c *Correlator) Close(sessionKey string) {
	key := NormalizeKey(sessionKey)

	c.mu.Lock()
	t, ok := c.open[key]
	if ok {
		delete(c.open, key)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	now := c.now()
	t.span.End(oteltrace.WithTimestamp(now))
	metrics.OpenTraces.Dec()
	c.logger.Debug("trace closed",
		"session_key", key,
		"trace_id", t.id,
		"duration", now.Sub(t.opened),
	)
}

// Len returns the number of open traces.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// CloseAll ends every open trace; used at shutdown.
func (c *Correlator) CloseAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.open))
	for k := range c.open {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Close(k)
	}
}

// NewTraceID builds an opaque id from a time prefix and a random suffix.
func NewTraceID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return "tr_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + suffix
}
