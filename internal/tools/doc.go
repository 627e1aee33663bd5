// Package tools provides host process helpers shared by the client and
// command-line tools.
//
// Ownership boundary:
// - companion process launch, reaping, and graceful stop
//
// - exit status classification
package tools
