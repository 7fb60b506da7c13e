// ABOUTME: The owned context object: one Relay per running instance wires every component together
// ABOUTME: Implements the host hook handlers; network I/O runs in tracked goroutines so hooks never block

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/agentlens/internal/config"
	"github.com/2389/agentlens/internal/dedupe"
	"github.com/2389/agentlens/internal/event"
	"github.com/2389/agentlens/internal/health"
	"github.com/2389/agentlens/internal/metrics"
	"github.com/2389/agentlens/internal/registration"
	"github.com/2389/agentlens/internal/sanitize"
	"github.com/2389/agentlens/internal/scheduler"
	"github.com/2389/agentlens/internal/trace"
	"github.com/2389/agentlens/internal/transport"
)

// Sync triggers, used as metric labels.
const (
	TriggerStart     = "start"
	TriggerHeartbeat = "heartbeat"
	TriggerTimer     = "timer"
	TriggerManual    = "manual"
)

// Options configures a Relay. Only Config is required.
type Options struct {
	Config *config.Config
	// Poster defaults to a transport.Client for Config.Collector.
	Poster transport.Poster
	// Source defaults to the file at Config.Host.ConfigPath, or an empty config.
	Source  sanitize.Source
	Version string
	Logger  *slog.Logger
}

// Relay holds all per-instance state: identity, open traces, error ring,
// sync timer and the fingerprints of events already sent.
type Relay struct {
	cfg        *config.Config
	poster     transport.Poster
	registrar  *registration.Registrar
	correlator *trace.Correlator
	monitor    *health.Monitor
	scheduler  *scheduler.Scheduler
	sent       *dedupe.Cache
	sanitizer  *sanitize.Sanitizer
	source     sanitize.Source
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New builds a Relay. A missing or mis-prefixed credential is returned as an
// error and nothing is started.
func New(opts Options) (*Relay, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("relay: config is required")
	}
	if err := config.ValidateAPIKey(cfg.Collector.APIKey); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poster := opts.Poster
	if poster == nil {
		poster = transport.NewClient(cfg.Collector.Endpoint, cfg.Collector.APIKey, cfg.Collector.RequestTimeout, logger)
	}

	source := opts.Source
	if source == nil {
		if cfg.Host.ConfigPath != "" {
			source = sanitize.FileSource(cfg.Host.ConfigPath)
		} else {
			source = sanitize.StaticSource(nil)
		}
	}

	req := registration.Request{
		Name: cfg.Agent.Name,
		Type: cfg.Agent.Type,
		Metadata: registration.Metadata{
			Workspace: cfg.Agent.Workspace,
			Version:   opts.Version,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		cfg:        cfg,
		poster:     poster,
		registrar:  registration.New(poster, req, cfg.Sync.MaxRegisterAttempts, logger),
		correlator: trace.NewCorrelator(logger),
		monitor:    health.NewMonitor(health.NewErrorBuffer(cfg.Sync.ErrorBufferSize)),
		sent:       dedupe.New(cfg.Sync.DedupeTTL, 0),
		sanitizer:  sanitize.New(cfg.Sanitize.ExtraSecretKeys),
		source:     source,
		logger:     logger.With("component", "relay"),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.scheduler = scheduler.New(cfg.Sync.Interval, func() { r.goSync(TriggerTimer) }, logger)
	return r, nil
}

// Activate arms the one-shot fallback registration in case the gateway
// start hook fired before this process was attached.
func (r *Relay) Activate() {
	r.registrar.ScheduleFallback(r.ctx, r.cfg.Sync.RegisterFallbackDelay)
	r.logger.Info("relay active",
		"endpoint", r.cfg.Collector.Endpoint,
		"agent", r.cfg.Agent.Name,
		"sync_interval", r.cfg.Sync.Interval,
	)
}

// Registrar exposes the identity state machine.
func (r *Relay) Registrar() *registration.Registrar { return r.registrar }

// Stats returns the current gateway health block.
func (r *Relay) Stats() health.GatewayStats { return r.monitor.Stats() }

// Sync uploads the sanitized host config plus gateway stats. It returns
// whether the collector accepted it.
func (r *Relay) Sync(ctx context.Context, trigger string) bool {
	metrics.SyncsTotal.WithLabelValues(trigger).Inc()

	if !r.registrar.EnsureRegistered(ctx) {
		r.logger.Debug("skipping config sync, not registered", "trigger", trigger)
		return false
	}
	agentID, _ := r.registrar.AgentID()

	hostCfg, err := r.source(ctx)
	if err != nil {
		r.logger.Warn("reading host config failed, syncing stats only", "error", err)
		hostCfg = nil
	}

	payload := r.sanitizer.Sanitize(hostCfg)
	payload["gateway_stats"] = r.monitor.Stats()

	_, ok := r.poster.Post(ctx, transport.ConfigPath(agentID), payload)
	if ok {
		r.logger.Debug("config synced", "trigger", trigger)
	}
	return ok
}

func (r *Relay) goSync(trigger string) {
	r.spawn(func(ctx context.Context) { r.Sync(ctx, trigger) })
}

// send relays ev once an identity exists. Events raised while the identity
// cannot be established are dropped.
func (r *Relay) send(ev event.Event) {
	r.spawn(func(ctx context.Context) {
		if !r.registrar.EnsureRegistered(ctx) {
			r.logger.Debug("dropping event, not registered", "type", ev.Type(), "trace_id", ev.TraceID())
			return
		}
		agentID, _ := r.registrar.AgentID()
		wire := ev.WithAgent(agentID).Wire()

		if _, ok := r.poster.Post(ctx, transport.PathEvents, wire); ok {
			metrics.EventsTotal.WithLabelValues(string(ev.Type())).Inc()
			r.logger.Debug("event relayed", "type", ev.Type(), "trace_id", ev.TraceID())
		}
	})
}

// spawn runs fn in a tracked goroutine unless shutdown has begun.
func (r *Relay) spawn(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Shutdown stops the timers and waits for in-flight requests until ctx is
// done; whatever is still running then is cancelled. Open traces are ended.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.scheduler.Stop()
	r.registrar.StopFallback()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("in-flight telemetry abandoned: %w", ctx.Err())
		r.cancel()
		<-done
	}

	r.cancel()
	r.correlator.CloseAll()
	r.sent.Close()
	return err
}
