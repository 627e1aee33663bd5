package sandbox

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/simlink/internal/comm"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotLoaded  = errors.New("sandbox: no scenario loaded")
	ErrNotRunning = errors.New("sandbox: scenario not running")
	ErrRunning    = errors.New("sandbox: scenario already running")
	ErrBadParams  = errors.New("sandbox: invalid simulation parameters")
)

// Signal phases reported in a traffic light's State.
const (
	PhaseRed    int32 = 0
	PhaseGreen  int32 = 1
	PhaseYellow int32 = 2
)

type light struct {
	id     int32
	name   string
	x, y   float64
	period int64
	phase  int32
}

type static struct {
	id        int32
	name      string
	x, y      float64
	at        int64
	instanced bool
}

type external struct {
	id  int32
	rec message.TelemetryRecord
}

// World is a frame-stepped scenario. It is not safe for concurrent use;
// the gateway drives it from its dispatch goroutine.
type World struct {
	clock  *comm.ManualClock
	params message.SimParams

	loaded  bool
	running bool

	nextID    int32
	vehicles  []*vehicle
	lights    []*light
	statics   []*static
	externals map[string]*external
	byID      map[int32]*vehicle
	byName    map[string]*vehicle

	changed map[int32]struct{}

	debugMode  int
	debugLevel int
	debugIDs   map[int32]struct{}
}

func NewWorld() *World {
	w := &World{clock: comm.NewManualClock(0)}
	w.reset()
	return w
}

// Clock exposes the world's frame clock.
func (w *World) Clock() comm.Clock { return w.clock }

func (w *World) Frame() int64 { return w.clock.Frame() }

func (w *World) Params() message.SimParams { return w.params }

func (w *World) Running() bool { return w.running }

// LoadScenario replaces the world with the fixture in script.
func (w *World) LoadScenario(script []byte, params message.SimParams) error {
	if w.running {
		return ErrRunning
	}
	if params.FrequencyHz <= 0 || params.Substeps < 1 {
		return fmt.Errorf("%w: frequency=%v substeps=%d", ErrBadParams, params.FrequencyHz, params.Substeps)
	}
	fx, err := parseFixture(script)
	if err != nil {
		return err
	}
	w.reset()
	w.params = params
	for _, spec := range fx.vehicles {
		v := newVehicle(w.allocID(), spec, w.clock)
		w.vehicles = append(w.vehicles, v)
		w.byID[v.id] = v
		w.byName[v.name] = v
	}
	for _, spec := range fx.lights {
		w.lights = append(w.lights, &light{id: w.allocID(), name: spec.name, x: spec.x, y: spec.y, period: spec.period})
	}
	for _, spec := range fx.statics {
		w.statics = append(w.statics, &static{id: w.allocID(), name: spec.name, x: spec.x, y: spec.y})
	}
	for _, spec := range fx.instances {
		w.statics = append(w.statics, &static{id: w.allocID(), name: spec.name, x: spec.x, y: spec.y, at: spec.at, instanced: true})
	}
	w.loaded = true
	log.Info().Msgf("sandbox.World.LoadScenario vehicles=%d lights=%d statics=%d freq=%v substeps=%d",
		len(fx.vehicles), len(fx.lights), len(fx.statics)+len(fx.instances), params.FrequencyHz, params.Substeps)
	return nil
}

func (w *World) reset() {
	w.clock.Set(0)
	w.nextID = 0
	w.vehicles = nil
	w.lights = nil
	w.statics = nil
	w.externals = make(map[string]*external)
	w.byID = make(map[int32]*vehicle)
	w.byName = make(map[string]*vehicle)
	w.changed = make(map[int32]struct{})
	w.debugMode = 0
	w.debugLevel = 0
	w.debugIDs = nil
}

func (w *World) allocID() int32 {
	w.nextID++
	return w.nextID
}

func (w *World) Start() error {
	if !w.loaded {
		return ErrNotLoaded
	}
	if w.running {
		return ErrRunning
	}
	w.running = true
	for _, l := range w.lights {
		w.changed[l.id] = struct{}{}
	}
	return nil
}

// Step enters the next frame and runs every entity once.
func (w *World) Step(substeps int) error {
	if !w.running {
		return ErrNotRunning
	}
	f := w.clock.Advance()
	dt := 1 / w.params.FrequencyHz
	for _, v := range w.vehicles {
		v.step(dt, substeps)
	}
	for _, l := range w.lights {
		phase := int32((f / l.period) % 3)
		if phase != l.phase {
			l.phase = phase
			w.changed[l.id] = struct{}{}
		}
	}
	return nil
}

func (w *World) End() error {
	if !w.running {
		return ErrNotRunning
	}
	w.running = false
	w.loaded = false
	return nil
}

// Entity returns the slot board of the vehicle with ownerID.
func (w *World) Entity(ownerID int32) (*comm.Board, bool) {
	v, ok := w.byID[ownerID]
	if !ok {
		return nil, false
	}
	return v.board, true
}

// EntityByName resolves a vehicle name to its id.
func (w *World) EntityByName(name string) (int32, bool) {
	v, ok := w.byName[name]
	if !ok {
		return 0, false
	}
	return v.id, true
}

func (w *World) DynamicObjects() []message.ObjectDescriptor {
	out := make([]message.ObjectDescriptor, 0, len(w.vehicles)+len(w.externals))
	for _, v := range w.vehicles {
		out = append(out, message.ObjectDescriptor{
			ID:           v.id,
			Category:     message.CategoryVehicle,
			OwnerID:      v.id,
			Name:         v.name,
			Position:     [3]float64{v.x, v.y, 0},
			Heading:      v.heading,
			Velocity:     v.velocity,
			Acceleration: v.acceleration,
		})
	}
	exts := make([]*external, 0, len(w.externals))
	for _, e := range w.externals {
		exts = append(exts, e)
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].id < exts[j].id })
	for _, e := range exts {
		out = append(out, message.ObjectDescriptor{
			ID:       e.id,
			Category: message.CategoryExternal,
			Name:     e.rec.Name,
			Position: e.rec.Position,
			Heading:  e.rec.Heading,
			Velocity: e.rec.Velocity,
		})
	}
	return out
}

func (w *World) TrafficControls() []message.ObjectDescriptor {
	out := make([]message.ObjectDescriptor, 0, len(w.lights))
	for _, l := range w.lights {
		out = append(out, lightDescriptor(l))
	}
	return out
}

// InstancedObjects lists static objects created at runtime that exist in
// the current frame.
func (w *World) InstancedObjects() []message.ObjectDescriptor {
	now := w.clock.Frame()
	out := make([]message.ObjectDescriptor, 0)
	for _, s := range w.statics {
		if !s.instanced || !w.running || s.at > now {
			continue
		}
		out = append(out, message.ObjectDescriptor{
			ID:       s.id,
			Category: message.CategoryStatic,
			Name:     s.name,
			Position: [3]float64{s.x, s.y, 0},
		})
	}
	return out
}

// ChangedStaticObjects returns traffic controls whose phase changed since
// the previous call.
func (w *World) ChangedStaticObjects() []message.ObjectDescriptor {
	out := make([]message.ObjectDescriptor, 0, len(w.changed))
	for _, l := range w.lights {
		if _, ok := w.changed[l.id]; ok {
			out = append(out, lightDescriptor(l))
		}
	}
	w.changed = make(map[int32]struct{})
	return out
}

func lightDescriptor(l *light) message.ObjectDescriptor {
	return message.ObjectDescriptor{
		ID:       l.id,
		Category: message.CategoryTrafficLight,
		State:    l.phase,
		Name:     l.name,
		Position: [3]float64{l.x, l.y, 0},
	}
}

// SetDebugMode selects vehicles for debug output. Mode 0 disables it; an
// empty id set selects every vehicle.
func (w *World) SetDebugMode(mode, level int, ids []int32) {
	w.debugMode = mode
	w.debugLevel = level
	w.debugIDs = make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		w.debugIDs[id] = struct{}{}
	}
}

func (w *World) DebugData() []message.DebugItem {
	if w.debugMode == 0 {
		return []message.DebugItem{}
	}
	out := make([]message.DebugItem, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		if len(w.debugIDs) > 0 {
			if _, ok := w.debugIDs[v.id]; !ok {
				continue
			}
		}
		out = append(out, message.DebugItem{
			OwnerID: v.id,
			Kind:    int32(w.debugMode),
			Level:   int32(w.debugLevel),
			Name:    v.name,
			X:       v.x,
			Y:       v.y,
			Text:    fmt.Sprintf("f=%d v=%.2f h=%.2f", w.clock.Frame(), v.velocity, v.heading),
		})
	}
	return out
}

// ApplyTelemetry moves the named vehicle, or tracks an unknown name as an
// external object.
func (w *World) ApplyTelemetry(rec message.TelemetryRecord) bool {
	if !w.loaded {
		return false
	}
	if v, ok := w.byName[rec.Name]; ok {
		v.x, v.y = rec.Position[0], rec.Position[1]
		v.heading = rec.Heading
		v.velocity = rec.Velocity
		return true
	}
	e, ok := w.externals[rec.Name]
	if !ok {
		e = &external{id: w.allocID()}
		w.externals[rec.Name] = e
	}
	e.rec = rec
	return true
}
