// Package session owns the client/gateway transports.
//
// Ownership boundary:
// - CommandConn: reliable request/response over TCP, one request in flight
// - TelemetryConn: best-effort telemetry datagrams over UDP
// - timeouts, context deadlines and connect backoff for both
//
// Every blocking socket call runs under a deadline of
// min(ctx deadline, now + configured timeout). A context cancelled mid-call
// expires the deadline immediately.
package session
