package gateway

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/danmuck/simlink/internal/comm"
	"github.com/danmuck/simlink/internal/protocol/message"
)

var (
	ErrUnknownEntity  = errors.New("gateway: unknown entity")
	ErrUnknownDial    = errors.New("gateway: unknown dial")
	ErrUnknownCommand = errors.New("gateway: unknown control command")
	ErrUnboundControl = errors.New("gateway: control slot not present on entity")
)

// ControlBindings names the slots a control command drives. Button
// commands press a button; value commands write a dial.
type ControlBindings struct {
	Buttons map[message.ControlCommand]string
	Dials   map[message.ControlCommand]string
}

func DefaultControlBindings() ControlBindings {
	return ControlBindings{
		Buttons: map[message.ControlCommand]string{
			message.CmdTurnLeft:        "TurnLeft",
			message.CmdTurnRight:       "TurnRight",
			message.CmdChangeLaneLeft:  "ChangeLaneLeft",
			message.CmdChangeLaneRight: "ChangeLaneRight",
		},
		Dials: map[message.ControlCommand]string{
			message.CmdForceVelocity: "ForcedVelocity",
			message.CmdMaxVelocity:   "MaxSpeed",
		},
	}
}

// applyControl routes one control command to the owner's board. An owner
// that does not exist is ignored and reported as applied=false.
func applyControl(sim Simulation, b ControlBindings, m message.ControlObject) (bool, error) {
	buttonName, isButton := b.Buttons[m.Command]
	dialName, isDial := b.Dials[m.Command]
	if !isButton && !isDial {
		return false, fmt.Errorf("%w: %d", ErrUnknownCommand, m.Command)
	}
	board, ok := sim.Entity(m.OwnerID)
	if !ok {
		return false, nil
	}
	if isButton {
		btn, ok := board.Button(buttonName)
		if !ok {
			return false, fmt.Errorf("%w: button %q", ErrUnboundControl, buttonName)
		}
		btn.Press()
		return true, nil
	}
	dial, ok := board.Dial(dialName)
	if !ok {
		return false, fmt.Errorf("%w: dial %q", ErrUnboundControl, dialName)
	}
	if _, err := dial.SetFromString(strconv.FormatFloat(m.Value, 'g', -1, 64)); err != nil {
		return false, err
	}
	return true, nil
}

func lookupDial(sim Simulation, ownerID int32, name string) (comm.DialControl, error) {
	board, ok := sim.Entity(ownerID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, ownerID)
	}
	dial, ok := board.Dial(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q on entity %d", ErrUnknownDial, name, ownerID)
	}
	return dial, nil
}

// setDial writes a dial from its textual value. A second write in the
// same frame is accepted and ignored; it returns written=false.
func setDial(sim Simulation, m message.SetDialByName) (bool, error) {
	dial, err := lookupDial(sim, m.OwnerID, m.Dial)
	if err != nil {
		return false, err
	}
	return dial.SetFromString(m.Value)
}

func resetDial(sim Simulation, m message.ResetDialByName) (bool, error) {
	dial, err := lookupDial(sim, m.OwnerID, m.Dial)
	if err != nil {
		return false, err
	}
	return dial.Reset(), nil
}
