// Package client is the remote-control library for a simulation gateway.
//
// Ownership boundary:
// - mode selection and mode gating of every operation
// - companion gateway discovery: manual address or spawned process
// - the command channel session and optional telemetry subscription
// - the single last-error record
//
// A Client is not safe for concurrent use. Every operation overwrites the
// last-error record, which is reset to CodeNone on success.
package client
