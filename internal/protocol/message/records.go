package message

import (
	"fmt"

	"github.com/danmuck/simlink/internal/protocol/schema"
)

// ObjectCategory classifies an object descriptor.
type ObjectCategory int32

const (
	CategoryVehicle      ObjectCategory = 1
	CategoryTrafficLight ObjectCategory = 2
	CategoryStatic       ObjectCategory = 3
	CategoryExternal     ObjectCategory = 4
)

func (c ObjectCategory) String() string {
	switch c {
	case CategoryVehicle:
		return "vehicle"
	case CategoryTrafficLight:
		return "traffic_light"
	case CategoryStatic:
		return "static"
	case CategoryExternal:
		return "external"
	default:
		return fmt.Sprintf("category(%d)", int32(c))
	}
}

// ObjectDescriptor is the fixed-size per-object record in object chunks.
type ObjectDescriptor struct {
	ID           int32          `json:"id" yaml:"id"`
	Category     ObjectCategory `json:"category" yaml:"category"`
	OwnerID      int32          `json:"owner_id" yaml:"owner_id"`
	State        int32          `json:"state" yaml:"state"`
	Name         string         `json:"name" yaml:"name"`
	Position     [3]float64     `json:"position" yaml:"position"`
	Heading      float64        `json:"heading" yaml:"heading"`
	Velocity     float64        `json:"velocity" yaml:"velocity"`
	Acceleration float64        `json:"acceleration" yaml:"acceleration"`
}

func (o ObjectDescriptor) encode(e *encoder) error {
	e.i32(o.ID)
	e.i32(int32(o.Category))
	e.i32(o.OwnerID)
	e.i32(o.State)
	if err := e.fixed(o.Name, schema.NameSize, false); err != nil {
		return err
	}
	for _, p := range o.Position {
		e.f64(p)
	}
	e.f64(o.Heading)
	e.f64(o.Velocity)
	e.f64(o.Acceleration)
	return nil
}

func decodeObject(d *decoder) ObjectDescriptor {
	var o ObjectDescriptor
	o.ID = d.i32()
	o.Category = ObjectCategory(d.i32())
	o.OwnerID = d.i32()
	o.State = d.i32()
	o.Name = d.fixed(schema.NameSize)
	for i := range o.Position {
		o.Position[i] = d.f64()
	}
	o.Heading = d.f64()
	o.Velocity = d.f64()
	o.Acceleration = d.f64()
	return o
}

// DebugItem is the fixed-size per-entry record in debug chunks. Text
// longer than the fixed field is truncated.
type DebugItem struct {
	OwnerID int32   `json:"owner_id" yaml:"owner_id"`
	Kind    int32   `json:"kind" yaml:"kind"`
	Level   int32   `json:"level" yaml:"level"`
	Name    string  `json:"name" yaml:"name"`
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
	Text    string  `json:"text" yaml:"text"`
}

func (it DebugItem) encode(e *encoder) error {
	e.i32(it.OwnerID)
	e.i32(it.Kind)
	e.i32(it.Level)
	if err := e.fixed(it.Name, schema.NameSize, false); err != nil {
		return err
	}
	e.f64(it.X)
	e.f64(it.Y)
	return e.fixed(it.Text, schema.DebugTextSize, true)
}

func decodeDebugItem(d *decoder) DebugItem {
	var it DebugItem
	it.OwnerID = d.i32()
	it.Kind = d.i32()
	it.Level = d.i32()
	it.Name = d.fixed(schema.NameSize)
	it.X = d.f64()
	it.Y = d.f64()
	it.Text = d.fixed(schema.DebugTextSize)
	return it
}

// TelemetryRecord is one entity's kinematic state on the telemetry
// channel, keyed by name on the receiving side.
type TelemetryRecord struct {
	Name     string     `json:"name" yaml:"name"`
	Position [3]float64 `json:"position" yaml:"position"`
	Heading  float64    `json:"heading" yaml:"heading"`
	Velocity float64    `json:"velocity" yaml:"velocity"`
}

func (r TelemetryRecord) encode(e *encoder) error {
	if err := e.fixed(r.Name, schema.NameSize, false); err != nil {
		return err
	}
	for _, p := range r.Position {
		e.f64(p)
	}
	e.f64(r.Heading)
	e.f64(r.Velocity)
	return nil
}

func decodeTelemetryRecord(d *decoder) TelemetryRecord {
	var r TelemetryRecord
	r.Name = d.fixed(schema.NameSize)
	for i := range r.Position {
		r.Position[i] = d.f64()
	}
	r.Heading = d.f64()
	r.Velocity = d.f64()
	return r
}
