package schema

import (
	"fmt"

	"github.com/danmuck/simlink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Opcode identifies a frame's payload type.
type Opcode uint32

// Requests on the command channel.
const (
	OpPing                    Opcode = 1
	OpScenarioScript          Opcode = 2
	OpScenarioScriptPart      Opcode = 3
	OpSimParams               Opcode = 4
	OpStartScenario           Opcode = 5
	OpRunFrames               Opcode = 6
	OpEndScenario             Opcode = 7
	OpQuit                    Opcode = 8
	OpSetDebugMode            Opcode = 9
	OpGetDynamicObjects       Opcode = 10
	OpGetChangedStaticObjects Opcode = 11
	OpGetInstancedObjects     Opcode = 12
	OpGetDebugData            Opcode = 13
	OpControlObject           Opcode = 14
	OpSetDialByName           Opcode = 15
	OpResetDialByName         Opcode = 16
)

// Replies on the command channel.
const (
	OpAckOK       Opcode = 100
	OpAckError    Opcode = 101
	OpListHeader  Opcode = 102
	OpObjectChunk Opcode = 103
	OpDebugChunk  Opcode = 104
)

// Datagrams on the telemetry channel.
const (
	OpTelemetry Opcode = 200
)

// Fixed record sizes.
const (
	ObjectDescriptorSize = 96
	DebugItemSize        = 92
	TelemetryRecordSize  = 72
	TelemetryPreludeSize = 8
	NameSize             = 32
	DebugTextSize        = 32
)

// Field IDs for TLV payloads.
const (
	FieldFrequencyHz uint16 = 1
	FieldSubsteps    uint16 = 2
	FieldLRIDir      uint16 = 3
	FieldScenarioDir uint16 = 4

	FieldOwnerID uint16 = 10
	FieldCommand uint16 = 11
	FieldValue   uint16 = 12

	FieldDialName  uint16 = 20
	FieldDialValue uint16 = 21
)

// PayloadKind is the payload layout an opcode carries.
type PayloadKind int

const (
	KindEmpty PayloadKind = iota
	KindBytes
	KindText
	KindObjects
	KindDebugItems
	KindInt32s
	KindInt16s
	KindFields
	KindTelemetry
)

type Requirement struct {
	ID   uint16
	Type uint8
}

// Spec describes one opcode.
type Spec struct {
	Name string
	Kind PayloadKind
	// MinItems bounds int arrays and NonEmpty bounds byte payloads.
	MinItems int
	MaxItems int
	NonEmpty bool
	Fields   []Requirement
}

var specs = map[Opcode]Spec{
	OpPing:               {Name: "ping", Kind: KindEmpty},
	OpScenarioScript:     {Name: "scenario_script", Kind: KindBytes, NonEmpty: true},
	OpScenarioScriptPart: {Name: "scenario_script_part", Kind: KindBytes, NonEmpty: true},
	OpSimParams: {Name: "sim_params", Kind: KindFields, Fields: []Requirement{
		{FieldFrequencyHz, tlv.TypeF64},
		{FieldSubsteps, tlv.TypeI32},
		{FieldLRIDir, tlv.TypeString},
		{FieldScenarioDir, tlv.TypeString},
	}},
	OpStartScenario:           {Name: "start_scenario", Kind: KindEmpty},
	OpRunFrames:               {Name: "run_frames", Kind: KindInt32s, MinItems: 2, MaxItems: 2},
	OpEndScenario:             {Name: "end_scenario", Kind: KindEmpty},
	OpQuit:                    {Name: "quit", Kind: KindEmpty},
	OpSetDebugMode:            {Name: "set_debug_mode", Kind: KindInt16s, MinItems: 2},
	OpGetDynamicObjects:       {Name: "get_dynamic_objects", Kind: KindEmpty},
	OpGetChangedStaticObjects: {Name: "get_changed_static_objects", Kind: KindEmpty},
	OpGetInstancedObjects:     {Name: "get_instanced_objects", Kind: KindEmpty},
	OpGetDebugData:            {Name: "get_debug_data", Kind: KindEmpty},
	OpControlObject: {Name: "control_object", Kind: KindFields, Fields: []Requirement{
		{FieldOwnerID, tlv.TypeI32},
		{FieldCommand, tlv.TypeI32},
	}},
	OpSetDialByName: {Name: "set_dial_by_name", Kind: KindFields, Fields: []Requirement{
		{FieldOwnerID, tlv.TypeI32},
		{FieldDialName, tlv.TypeString},
		{FieldDialValue, tlv.TypeString},
	}},
	OpResetDialByName: {Name: "reset_dial_by_name", Kind: KindFields, Fields: []Requirement{
		{FieldOwnerID, tlv.TypeI32},
		{FieldDialName, tlv.TypeString},
	}},

	OpAckOK:       {Name: "ack_ok", Kind: KindEmpty},
	OpAckError:    {Name: "ack_error", Kind: KindText},
	OpListHeader:  {Name: "list_header", Kind: KindInt32s, MinItems: 4, MaxItems: 4},
	OpObjectChunk: {Name: "object_chunk", Kind: KindObjects},
	OpDebugChunk:  {Name: "debug_chunk", Kind: KindDebugItems},

	OpTelemetry: {Name: "telemetry", Kind: KindTelemetry},
}

func (o Opcode) String() string {
	if s, ok := specs[o]; ok {
		return s.Name
	}
	return fmt.Sprintf("opcode(%d)", uint32(o))
}

// Lookup returns the table entry for op.
func Lookup(op Opcode) (Spec, bool) {
	s, ok := specs[op]
	return s, ok
}

// Known reports whether op is in the opcode table.
func Known(op Opcode) bool {
	_, ok := specs[op]
	return ok
}

type ValidationError struct {
	Opcode  Opcode
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: opcode=%s: %s", e.Opcode, e.Reason)
	}
	return fmt.Sprintf("schema: opcode=%s field=%d: %s", e.Opcode, e.FieldID, e.Reason)
}

// Validate checks payload size and layout against the opcode table.
// Unknown TLV fields are ignored.
func Validate(op Opcode, payload []byte) error {
	s, ok := specs[op]
	if !ok {
		log.Error().Msgf("schema.Validate unknown opcode=%d", uint32(op))
		return ValidationError{Opcode: op, Reason: "unknown opcode"}
	}
	fail := func(fieldID uint16, reason string) error {
		log.Error().Msgf("schema.Validate opcode=%s field_id=%d reason=%q len=%d", op, fieldID, reason, len(payload))
		return ValidationError{Opcode: op, FieldID: fieldID, Reason: reason}
	}
	switch s.Kind {
	case KindEmpty:
		if len(payload) != 0 {
			return fail(0, "unexpected payload")
		}
	case KindBytes, KindText:
		if s.NonEmpty && len(payload) == 0 {
			return fail(0, "empty payload")
		}
	case KindObjects:
		if len(payload)%ObjectDescriptorSize != 0 {
			return fail(0, "payload not a multiple of object descriptor size")
		}
	case KindDebugItems:
		if len(payload)%DebugItemSize != 0 {
			return fail(0, "payload not a multiple of debug item size")
		}
	case KindTelemetry:
		if len(payload) < TelemetryPreludeSize || (len(payload)-TelemetryPreludeSize)%TelemetryRecordSize != 0 {
			return fail(0, "malformed telemetry payload")
		}
	case KindInt32s:
		if err := checkArray(s, len(payload), 4); err != "" {
			return fail(0, err)
		}
	case KindInt16s:
		if err := checkArray(s, len(payload), 2); err != "" {
			return fail(0, err)
		}
	case KindFields:
		fields, err := tlv.DecodeFields(payload)
		if err != nil {
			return fail(0, err.Error())
		}
		for _, req := range s.Fields {
			f, found := tlv.GetField(fields, req.ID)
			if !found {
				return fail(req.ID, "missing required field")
			}
			if f.Type != req.Type {
				return fail(req.ID, "type mismatch")
			}
		}
	}
	log.Debug().Msgf("schema.Validate ok opcode=%s len=%d", op, len(payload))
	return nil
}

func checkArray(s Spec, n, width int) string {
	if n%width != 0 {
		return "payload not a multiple of element width"
	}
	items := n / width
	if items < s.MinItems {
		return "too few elements"
	}
	if s.MaxItems > 0 && items > s.MaxItems {
		return "too many elements"
	}
	return ""
}
