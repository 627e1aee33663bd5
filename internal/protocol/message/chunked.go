package message

import (
	"errors"

	"github.com/danmuck/simlink/internal/protocol/chunk"
	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/schema"
)

var ErrEmptyScript = errors.New("message: empty scenario script")

// ObjectReply renders a "get N objects" reply: a ListHeader followed by
// exactly Header.Frames object chunks.
func ObjectReply(objs []ObjectDescriptor, limits frame.Limits) ([]Message, error) {
	perFrame, err := chunk.PerFrame(schema.ObjectDescriptorSize, limits.PayloadCapacity())
	if err != nil {
		return nil, err
	}
	h, err := chunk.Plan(len(objs), perFrame)
	if err != nil {
		return nil, err
	}
	parts, err := chunk.Split(objs, perFrame)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, 1+len(parts))
	out = append(out, ListHeader{Header: h})
	for _, p := range parts {
		out = append(out, ObjectChunk{Objects: p})
	}
	return out, nil
}

// DebugReply renders a "get N debug items" reply.
func DebugReply(items []DebugItem, limits frame.Limits) ([]Message, error) {
	perFrame, err := chunk.PerFrame(schema.DebugItemSize, limits.PayloadCapacity())
	if err != nil {
		return nil, err
	}
	h, err := chunk.Plan(len(items), perFrame)
	if err != nil {
		return nil, err
	}
	parts, err := chunk.Split(items, perFrame)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, 1+len(parts))
	out = append(out, ListHeader{Header: h})
	for _, p := range parts {
		out = append(out, DebugChunk{Items: p})
	}
	return out, nil
}

// ScriptMessages splits script into ceil(L/U) frames: ScenarioScriptPart
// for every part but the last and ScenarioScript for the last.
func ScriptMessages(script []byte, limits frame.Limits) ([]Message, error) {
	if len(script) == 0 {
		return nil, ErrEmptyScript
	}
	parts, err := chunk.SplitBytes(script, limits.PayloadCapacity())
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(parts))
	for i, p := range parts {
		if i == len(parts)-1 {
			out = append(out, ScenarioScript{Data: p})
			continue
		}
		out = append(out, ScenarioScriptPart{Data: p})
	}
	return out, nil
}

// TelemetryBatches spreads records over as many datagrams as capacity
// requires. An empty snapshot still yields one datagram carrying the frame.
func TelemetryBatches(frameNo int64, records []TelemetryRecord, limits frame.Limits) ([]Telemetry, error) {
	perFrame, err := chunk.PerFrame(schema.TelemetryRecordSize, limits.PayloadCapacity()-schema.TelemetryPreludeSize)
	if err != nil {
		return nil, err
	}
	parts, err := chunk.Split(records, perFrame)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return []Telemetry{{Frame: frameNo}}, nil
	}
	out := make([]Telemetry, 0, len(parts))
	for _, p := range parts {
		out = append(out, Telemetry{Frame: frameNo, Records: p})
	}
	return out, nil
}
