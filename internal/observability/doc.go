// Package observability owns Prometheus metrics and the gin middleware
// for the gateway admin surface.
package observability
