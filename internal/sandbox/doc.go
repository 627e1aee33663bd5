// Package sandbox is a small frame-stepped world that stands in for the
// simulation engine behind a gateway.
//
// Ownership boundary:
// - fixture parsing for vehicles, traffic lights and static objects
// - per-vehicle slot boards (dials, buttons, monitors, params)
// - frame stepping with one-frame slot latency
// - object, debug and telemetry views consumed by the gateway
//
// Kinematics are intentionally trivial: constant velocity along the
// heading, integrated over the configured substeps.
package sandbox
