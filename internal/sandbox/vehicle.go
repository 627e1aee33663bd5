package sandbox

import (
	"math"

	"github.com/danmuck/simlink/internal/comm"
)

// Slot names exposed on every vehicle board.
const (
	DialForcedVelocity    = "ForcedVelocity"
	DialMaxSpeed          = "MaxSpeed"
	ButtonTurnLeft        = "TurnLeft"
	ButtonTurnRight       = "TurnRight"
	ButtonChangeLaneLeft  = "ChangeLaneLeft"
	ButtonChangeLaneRight = "ChangeLaneRight"
	MonitorSpeed          = "Speed"
	ParamInitialVelocity  = "InitialVelocity"
)

// LaneWidth is the lateral shift applied by a lane change.
const LaneWidth = 3.5

type vehicle struct {
	id   int32
	name string

	board     *comm.Board
	forced    *comm.Dial[float64]
	maxSpeed  *comm.Dial[float64]
	turnLeft  *comm.Button
	turnRight *comm.Button
	laneLeft  *comm.Button
	laneRight *comm.Button
	speed     *comm.Monitor[float64]
	initial   *comm.Param[float64]

	x, y         float64
	heading      float64
	velocity     float64
	acceleration float64
}

func newVehicle(id int32, spec vehicleSpec, clock comm.Clock) *vehicle {
	v := &vehicle{
		id:        id,
		name:      spec.name,
		board:     comm.NewBoard(clock),
		forced:    comm.NewDial[float64](DialForcedVelocity, clock, comm.ParseFloat),
		maxSpeed:  comm.NewDial[float64](DialMaxSpeed, clock, comm.ParseFloat),
		turnLeft:  comm.NewButton(ButtonTurnLeft, clock),
		turnRight: comm.NewButton(ButtonTurnRight, clock),
		laneLeft:  comm.NewButton(ButtonChangeLaneLeft, clock),
		laneRight: comm.NewButton(ButtonChangeLaneRight, clock),
		speed:     comm.NewMonitor[float64](MonitorSpeed, clock),
		initial:   comm.NewParam[float64](ParamInitialVelocity, comm.ParamInput),
		x:         spec.x,
		y:         spec.y,
		heading:   spec.heading,
		velocity:  spec.velocity,
	}
	v.initial.Set(spec.velocity)
	// names are fixed and distinct, registration cannot fail
	_ = v.board.AddDial(v.forced)
	_ = v.board.AddDial(v.maxSpeed)
	_ = v.board.AddButton(v.turnLeft)
	_ = v.board.AddButton(v.turnRight)
	_ = v.board.AddButton(v.laneLeft)
	_ = v.board.AddButton(v.laneRight)
	_ = v.board.AddMonitor(v.speed)
	_ = v.board.AddParam(v.initial)
	return v
}

// step runs one frame of vehicle activity. Slot reads observe writes made
// in earlier frames only.
func (v *vehicle) step(dt float64, substeps int) {
	prev := v.velocity
	if f, ok := v.forced.Read(); ok {
		v.velocity = f
	}
	if m, ok := v.maxSpeed.Read(); ok && v.velocity > m {
		v.velocity = m
	}
	if v.turnLeft.IsPressed() {
		v.heading = normalizeHeading(v.heading + math.Pi/2)
	}
	if v.turnRight.IsPressed() {
		v.heading = normalizeHeading(v.heading - math.Pi/2)
	}
	if v.laneLeft.IsPressed() {
		v.shiftLateral(LaneWidth)
	}
	if v.laneRight.IsPressed() {
		v.shiftLateral(-LaneWidth)
	}
	if substeps < 1 {
		substeps = 1
	}
	h := dt / float64(substeps)
	for i := 0; i < substeps; i++ {
		v.x += v.velocity * math.Cos(v.heading) * h
		v.y += v.velocity * math.Sin(v.heading) * h
	}
	if dt > 0 {
		v.acceleration = (v.velocity - prev) / dt
	}
	v.speed.Write(v.velocity)
}

// shiftLateral moves the vehicle perpendicular to its heading; positive is
// to the left.
func (v *vehicle) shiftLateral(d float64) {
	v.x += -math.Sin(v.heading) * d
	v.y += math.Cos(v.heading) * d
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h, 2*math.Pi)
	if h < 0 {
		h += 2 * math.Pi
	}
	return h
}
