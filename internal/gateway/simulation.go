package gateway

import (
	"github.com/danmuck/simlink/internal/comm"
	"github.com/danmuck/simlink/internal/protocol/message"
)

// Simulation is the engine contract the gateway drives. Calls come only
// from the dispatch goroutine.
type Simulation interface {
	LoadScenario(script []byte, params message.SimParams) error
	Start() error
	// Step enters the next frame and runs it with the given substeps.
	Step(substeps int) error
	End() error
	Frame() int64

	DynamicObjects() []message.ObjectDescriptor
	TrafficControls() []message.ObjectDescriptor
	InstancedObjects() []message.ObjectDescriptor
	ChangedStaticObjects() []message.ObjectDescriptor
	DebugData() []message.DebugItem
	SetDebugMode(mode, level int, ids []int32)

	// Entity returns the slot board of the entity owning ownerID.
	Entity(ownerID int32) (*comm.Board, bool)
	// ApplyTelemetry applies one externally received record by name.
	ApplyTelemetry(rec message.TelemetryRecord) bool
}
