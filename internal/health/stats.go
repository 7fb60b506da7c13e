// ABOUTME: Gateway health stats embedded in config sync payloads
// ABOUTME: Combines uptime since the last gateway start with the error buffer snapshot

package health

import (
	"sync"
	"time"
)

// GatewayStats is the `gateway_stats` block of a config sync.
type GatewayStats struct {
	UptimeSeconds int64         `json:"uptime"`
	ErrorCount    int           `json:"error_count"`
	RecentErrors  []ErrorRecord `json:"recent_errors"`
}

// Monitor tracks the gateway start time alongside the error buffer.
type Monitor struct {
	mu      sync.Mutex
	started time.Time
	errors  *ErrorBuffer
	now     func() time.Time
}

// NewMonitor creates a Monitor whose uptime starts now.
func NewMonitor(errors *ErrorBuffer) *Monitor {
	m := &Monitor{errors: errors, now: time.Now}
	m.started = m.now()
	return m
}

// Restart resets the start timestamp and the error buffer.
func (m *Monitor) Restart() {
	m.mu.Lock()
	m.started = m.now()
	m.mu.Unlock()
	m.errors.Reset()
}

// Errors exposes the underlying buffer for recording failures.
func (m *Monitor) Errors() *ErrorBuffer {
	return m.errors
}

// Stats snapshots uptime, cumulative error count and the retained records.
func (m *Monitor) Stats() GatewayStats {
	m.mu.Lock()
	uptime := m.now().Sub(m.started)
	m.mu.Unlock()

	return GatewayStats{
		UptimeSeconds: int64(uptime / time.Second),
		ErrorCount:    m.errors.Total(),
		RecentErrors:  m.errors.Recent(),
	}
}
