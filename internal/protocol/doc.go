// Package protocol owns the simlink wire contract.
//
// Ownership boundary:
// - frame: fixed header codec and limits
// - schema: opcode table and payload-kind validation
// - tlv: typed fields for structured command payloads
// - chunk: chunk headers, item splitting, script splitting
// - message: one tagged payload type per opcode
// - session: command and telemetry transports with timeouts
//
// Both channels use big-endian byte order for every multi-byte field.
package protocol
