// Package health holds liveness and readiness probes and their HTTP handlers.
//
// Probes compose with [All] and [Any]. [ShutdownGate] fails readiness as soon
// as draining starts so the load balancer stops routing to an instance that
// is about to close its listener.
package health
