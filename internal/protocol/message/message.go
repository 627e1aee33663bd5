package message

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/simlink/internal/protocol/chunk"
	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/schema"
	"github.com/danmuck/simlink/internal/protocol/tlv"
)

var (
	ErrUnknownOpcode = errors.New("message: unknown opcode")
	ErrDebugID       = errors.New("message: debug entity id out of short range")
)

// Message is one tagged payload. Each opcode has exactly one type.
type Message interface {
	Opcode() schema.Opcode
}

type (
	Ping                    struct{}
	StartScenario           struct{}
	EndScenario             struct{}
	Quit                    struct{}
	GetDynamicObjects       struct{}
	GetChangedStaticObjects struct{}
	GetInstancedObjects     struct{}
	GetDebugData            struct{}
	AckOK                   struct{}
)

// ScenarioScript carries the final (or only) part of a script.
type ScenarioScript struct {
	Data []byte
}

// ScenarioScriptPart carries a non-final script part.
type ScenarioScriptPart struct {
	Data []byte
}

type SimParams struct {
	FrequencyHz float64
	Substeps    int32
	LRIDir      string
	ScenarioDir string
}

type RunFrames struct {
	Count    int32
	Substeps int32
}

// SetDebugMode selects entities for debug output. IDs travel as shorts.
type SetDebugMode struct {
	Mode  int16
	Level int16
	IDs   []int16
}

type ControlObject struct {
	OwnerID int32
	Command ControlCommand
	// Value is the speed for velocity commands and ignored otherwise.
	Value float64
}

type SetDialByName struct {
	OwnerID int32
	Dial    string
	Value   string
}

type ResetDialByName struct {
	OwnerID int32
	Dial    string
}

type AckError struct {
	Message string
}

type ListHeader struct {
	chunk.Header
}

type ObjectChunk struct {
	Objects []ObjectDescriptor
}

type DebugChunk struct {
	Items []DebugItem
}

// Telemetry is one datagram: the sender's frame and a batch of records.
type Telemetry struct {
	Frame   int64
	Records []TelemetryRecord
}

func (Ping) Opcode() schema.Opcode                    { return schema.OpPing }
func (ScenarioScript) Opcode() schema.Opcode          { return schema.OpScenarioScript }
func (ScenarioScriptPart) Opcode() schema.Opcode      { return schema.OpScenarioScriptPart }
func (SimParams) Opcode() schema.Opcode               { return schema.OpSimParams }
func (StartScenario) Opcode() schema.Opcode           { return schema.OpStartScenario }
func (RunFrames) Opcode() schema.Opcode               { return schema.OpRunFrames }
func (EndScenario) Opcode() schema.Opcode             { return schema.OpEndScenario }
func (Quit) Opcode() schema.Opcode                    { return schema.OpQuit }
func (SetDebugMode) Opcode() schema.Opcode            { return schema.OpSetDebugMode }
func (GetDynamicObjects) Opcode() schema.Opcode       { return schema.OpGetDynamicObjects }
func (GetChangedStaticObjects) Opcode() schema.Opcode { return schema.OpGetChangedStaticObjects }
func (GetInstancedObjects) Opcode() schema.Opcode     { return schema.OpGetInstancedObjects }
func (GetDebugData) Opcode() schema.Opcode            { return schema.OpGetDebugData }
func (ControlObject) Opcode() schema.Opcode           { return schema.OpControlObject }
func (SetDialByName) Opcode() schema.Opcode           { return schema.OpSetDialByName }
func (ResetDialByName) Opcode() schema.Opcode         { return schema.OpResetDialByName }
func (AckOK) Opcode() schema.Opcode                   { return schema.OpAckOK }
func (AckError) Opcode() schema.Opcode                { return schema.OpAckError }
func (ListHeader) Opcode() schema.Opcode              { return schema.OpListHeader }
func (ObjectChunk) Opcode() schema.Opcode             { return schema.OpObjectChunk }
func (DebugChunk) Opcode() schema.Opcode              { return schema.OpDebugChunk }
func (Telemetry) Opcode() schema.Opcode               { return schema.OpTelemetry }

// Encode renders m as one frame.
func Encode(m Message) (frame.Frame, error) {
	payload, err := encodePayload(m)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Opcode: uint32(m.Opcode()), Payload: payload}, nil
}

func encodePayload(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Ping, StartScenario, EndScenario, Quit, GetDynamicObjects, GetChangedStaticObjects,
		GetInstancedObjects, GetDebugData, AckOK:
		return nil, nil
	case ScenarioScript:
		return v.Data, nil
	case ScenarioScriptPart:
		return v.Data, nil
	case SimParams:
		return tlv.EncodeFields([]tlv.Field{
			tlv.F64(schema.FieldFrequencyHz, v.FrequencyHz),
			tlv.I32(schema.FieldSubsteps, v.Substeps),
			tlv.String(schema.FieldLRIDir, v.LRIDir),
			tlv.String(schema.FieldScenarioDir, v.ScenarioDir),
		}), nil
	case RunFrames:
		return encodeInt32s([]int32{v.Count, v.Substeps}), nil
	case SetDebugMode:
		return encodeInt16s(append([]int16{v.Mode, v.Level}, v.IDs...)), nil
	case ControlObject:
		return tlv.EncodeFields([]tlv.Field{
			tlv.I32(schema.FieldOwnerID, v.OwnerID),
			tlv.I32(schema.FieldCommand, int32(v.Command)),
			tlv.F64(schema.FieldValue, v.Value),
		}), nil
	case SetDialByName:
		return tlv.EncodeFields([]tlv.Field{
			tlv.I32(schema.FieldOwnerID, v.OwnerID),
			tlv.String(schema.FieldDialName, v.Dial),
			tlv.String(schema.FieldDialValue, v.Value),
		}), nil
	case ResetDialByName:
		return tlv.EncodeFields([]tlv.Field{
			tlv.I32(schema.FieldOwnerID, v.OwnerID),
			tlv.String(schema.FieldDialName, v.Dial),
		}), nil
	case AckError:
		return []byte(v.Message), nil
	case ListHeader:
		return encodeInt32s(v.Ints()), nil
	case ObjectChunk:
		e := encoder{buf: make([]byte, 0, len(v.Objects)*schema.ObjectDescriptorSize)}
		for _, o := range v.Objects {
			if err := o.encode(&e); err != nil {
				return nil, err
			}
		}
		return e.buf, nil
	case DebugChunk:
		e := encoder{buf: make([]byte, 0, len(v.Items)*schema.DebugItemSize)}
		for _, it := range v.Items {
			if err := it.encode(&e); err != nil {
				return nil, err
			}
		}
		return e.buf, nil
	case Telemetry:
		e := encoder{buf: make([]byte, 0, schema.TelemetryPreludeSize+len(v.Records)*schema.TelemetryRecordSize)}
		e.i64(v.Frame)
		for _, r := range v.Records {
			if err := r.encode(&e); err != nil {
				return nil, err
			}
		}
		return e.buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOpcode, m)
	}
}

// Decode validates f against the opcode table and returns its typed
// payload.
func Decode(f frame.Frame) (Message, error) {
	op := schema.Opcode(f.Opcode)
	if !schema.Known(op) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, f.Opcode)
	}
	if err := schema.Validate(op, f.Payload); err != nil {
		return nil, err
	}
	p := f.Payload
	switch op {
	case schema.OpPing:
		return Ping{}, nil
	case schema.OpScenarioScript:
		return ScenarioScript{Data: p}, nil
	case schema.OpScenarioScriptPart:
		return ScenarioScriptPart{Data: p}, nil
	case schema.OpSimParams:
		return decodeSimParams(p)
	case schema.OpStartScenario:
		return StartScenario{}, nil
	case schema.OpRunFrames:
		v := decodeInt32s(p)
		return RunFrames{Count: v[0], Substeps: v[1]}, nil
	case schema.OpEndScenario:
		return EndScenario{}, nil
	case schema.OpQuit:
		return Quit{}, nil
	case schema.OpSetDebugMode:
		v := decodeInt16s(p)
		return SetDebugMode{Mode: v[0], Level: v[1], IDs: v[2:]}, nil
	case schema.OpGetDynamicObjects:
		return GetDynamicObjects{}, nil
	case schema.OpGetChangedStaticObjects:
		return GetChangedStaticObjects{}, nil
	case schema.OpGetInstancedObjects:
		return GetInstancedObjects{}, nil
	case schema.OpGetDebugData:
		return GetDebugData{}, nil
	case schema.OpControlObject:
		return decodeControlObject(p)
	case schema.OpSetDialByName:
		return decodeSetDial(p)
	case schema.OpResetDialByName:
		return decodeResetDial(p)
	case schema.OpAckOK:
		return AckOK{}, nil
	case schema.OpAckError:
		return AckError{Message: string(p)}, nil
	case schema.OpListHeader:
		h, err := chunk.HeaderFromInts(decodeInt32s(p))
		if err != nil {
			return nil, err
		}
		return ListHeader{Header: h}, nil
	case schema.OpObjectChunk:
		d := decoder{buf: p}
		objs := make([]ObjectDescriptor, 0, len(p)/schema.ObjectDescriptorSize)
		for d.remaining() > 0 {
			objs = append(objs, decodeObject(&d))
		}
		return ObjectChunk{Objects: objs}, d.err
	case schema.OpDebugChunk:
		d := decoder{buf: p}
		items := make([]DebugItem, 0, len(p)/schema.DebugItemSize)
		for d.remaining() > 0 {
			items = append(items, decodeDebugItem(&d))
		}
		return DebugChunk{Items: items}, d.err
	case schema.OpTelemetry:
		d := decoder{buf: p}
		t := Telemetry{Frame: d.i64()}
		t.Records = make([]TelemetryRecord, 0, d.remaining()/schema.TelemetryRecordSize)
		for d.remaining() > 0 {
			t.Records = append(t.Records, decodeTelemetryRecord(&d))
		}
		return t, d.err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
}

func decodeSimParams(p []byte) (Message, error) {
	fields, err := tlv.DecodeFields(p)
	if err != nil {
		return nil, err
	}
	var m SimParams
	if m.FrequencyHz, err = tlv.GetF64(fields, schema.FieldFrequencyHz); err != nil {
		return nil, err
	}
	if m.Substeps, err = tlv.GetI32(fields, schema.FieldSubsteps); err != nil {
		return nil, err
	}
	if m.LRIDir, err = tlv.GetString(fields, schema.FieldLRIDir); err != nil {
		return nil, err
	}
	if m.ScenarioDir, err = tlv.GetString(fields, schema.FieldScenarioDir); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeControlObject(p []byte) (Message, error) {
	fields, err := tlv.DecodeFields(p)
	if err != nil {
		return nil, err
	}
	var m ControlObject
	if m.OwnerID, err = tlv.GetI32(fields, schema.FieldOwnerID); err != nil {
		return nil, err
	}
	cmd, err := tlv.GetI32(fields, schema.FieldCommand)
	if err != nil {
		return nil, err
	}
	m.Command = ControlCommand(cmd)
	if _, ok := tlv.GetField(fields, schema.FieldValue); ok {
		if m.Value, err = tlv.GetF64(fields, schema.FieldValue); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeSetDial(p []byte) (Message, error) {
	fields, err := tlv.DecodeFields(p)
	if err != nil {
		return nil, err
	}
	var m SetDialByName
	if m.OwnerID, err = tlv.GetI32(fields, schema.FieldOwnerID); err != nil {
		return nil, err
	}
	if m.Dial, err = tlv.GetString(fields, schema.FieldDialName); err != nil {
		return nil, err
	}
	if m.Value, err = tlv.GetString(fields, schema.FieldDialValue); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeResetDial(p []byte) (Message, error) {
	fields, err := tlv.DecodeFields(p)
	if err != nil {
		return nil, err
	}
	var m ResetDialByName
	if m.OwnerID, err = tlv.GetI32(fields, schema.FieldOwnerID); err != nil {
		return nil, err
	}
	if m.Dial, err = tlv.GetString(fields, schema.FieldDialName); err != nil {
		return nil, err
	}
	return m, nil
}

// DebugIDs narrows entity ids to the short range the wire carries.
func DebugIDs(ids []int) ([]int16, error) {
	out := make([]int16, 0, len(ids))
	for _, id := range ids {
		if id < math.MinInt16 || id > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d", ErrDebugID, id)
		}
		out = append(out, int16(id))
	}
	return out, nil
}

// ControlCommand is a high-level remote control verb.
type ControlCommand int32

const (
	CmdTurnLeft        ControlCommand = 1
	CmdTurnRight       ControlCommand = 2
	CmdChangeLaneLeft  ControlCommand = 3
	CmdChangeLaneRight ControlCommand = 4
	CmdForceVelocity   ControlCommand = 5
	CmdMaxVelocity     ControlCommand = 6
)

var commandNames = map[ControlCommand]string{
	CmdTurnLeft:        "turn_left",
	CmdTurnRight:       "turn_right",
	CmdChangeLaneLeft:  "change_lane_left",
	CmdChangeLaneRight: "change_lane_right",
	CmdForceVelocity:   "force_velocity",
	CmdMaxVelocity:     "max_velocity",
}

func (c ControlCommand) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// ParseControlCommand accepts the snake_case command names.
func ParseControlCommand(raw string) (ControlCommand, error) {
	want := strings.ToLower(strings.TrimSpace(raw))
	want = strings.ReplaceAll(want, "-", "_")
	for c, name := range commandNames {
		if name == want {
			return c, nil
		}
	}
	return 0, fmt.Errorf("message: unknown control command %q", raw)
}
