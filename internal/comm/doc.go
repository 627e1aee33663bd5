// Package comm owns the frame-latched communication slots shared by
// simulation entities.
//
// Ownership boundary:
// - Dial / Monitor / Button double buffers and their visibility law
// - Param slots for activation-time argument passing
// - per-entity Board registries addressed by slot name
// - the Clock contract that supplies the current frame
//
// Slots are not safe for concurrent use. Every entity activity for frame F
// completes before frame F+1 begins, so one accepted write per slot per
// frame is enough to make reads deterministic without locks.
package comm
