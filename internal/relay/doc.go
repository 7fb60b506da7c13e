// Package relay is the running instance of agentlens.
//
// A Relay owns every piece of mutable state the telemetry shim has: the agent
// identity, the open traces, the tool failure ring, the sync timer and the
// fingerprints of events already relayed. It implements hooks.Handler, so a
// hooks.Dispatcher feeding host callbacks into it is the whole runtime.
//
// Hook handlers do their bookkeeping (trace open/close, failure recording,
// dedupe marks) inline, in the order the host delivered the hooks. Collector
// requests run in goroutines tracked by the Relay so Shutdown can give them a
// grace period. Every outbound request passes the registration gate first.
package relay
