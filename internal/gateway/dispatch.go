package gateway

import (
	"errors"
	"fmt"

	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrSynchronousOnly = errors.New("gateway: operation requires synchronous pacing")
	ErrNoScript        = errors.New("gateway: no scenario script loaded")
	ErrNotLoaded       = errors.New("gateway: scenario parameters not applied")
	ErrNotRunning      = errors.New("gateway: scenario not running")
	ErrBadFrameCount   = errors.New("gateway: run-frames count must not be negative")
	ErrScenarioRunning = errors.New("gateway: scenario running, end it before loading another")
	ErrScriptTooLarge  = errors.New("gateway: scenario script too large")
)

func opcodeName(op uint32) string {
	return schema.Opcode(op).String()
}

// dispatch handles one decoded request and returns its replies in wire
// order. A script part returns no reply.
func (s *Service) dispatch(c *clientConn, req message.Message) []message.Message {
	if part, ok := req.(message.ScenarioScriptPart); ok {
		s.handleScriptPart(c, part)
		return nil
	}
	if s.cfg.Pacing == PacingFree && synchronousOnly(req) {
		if _, ok := req.(message.ScenarioScript); ok {
			c.takeScript()
		}
		return ackErr(fmt.Errorf("%w: %s", ErrSynchronousOnly, req.Opcode()))
	}
	switch m := req.(type) {
	case message.Ping:
		return ackOK()
	case message.ScenarioScript:
		return s.handleScript(c, m)
	case message.SimParams:
		return s.handleSimParams(m)
	case message.StartScenario:
		return s.handleStart()
	case message.RunFrames:
		return s.handleRunFrames(m)
	case message.EndScenario:
		return s.handleEnd()
	case message.Quit:
		s.stopping = true
		log.Info().Msgf("gateway.Service.dispatch quit client=%s", c.id)
		return ackOK()
	case message.SetDebugMode:
		ids := make([]int32, len(m.IDs))
		for i, id := range m.IDs {
			ids[i] = int32(id)
		}
		s.sim.SetDebugMode(int(m.Mode), int(m.Level), ids)
		return ackOK()
	case message.GetDynamicObjects:
		objs := s.sim.DynamicObjects()
		objs = append(objs, s.sim.TrafficControls()...)
		objs = append(objs, s.sim.InstancedObjects()...)
		return s.objectReply(objs)
	case message.GetChangedStaticObjects:
		return s.objectReply(s.sim.ChangedStaticObjects())
	case message.GetInstancedObjects:
		return s.objectReply(s.sim.InstancedObjects())
	case message.GetDebugData:
		replies, err := message.DebugReply(s.sim.DebugData(), s.cfg.Session.Limits)
		if err != nil {
			return ackErr(err)
		}
		return replies
	case message.ControlObject:
		applied, err := applyControl(s.sim, s.bindings, m)
		if err != nil {
			return ackErr(err)
		}
		if !applied {
			log.Debug().Msgf("gateway.Service.dispatch control ignored owner=%d cmd=%s", m.OwnerID, m.Command)
		}
		return ackOK()
	case message.SetDialByName:
		if _, err := setDial(s.sim, m); err != nil {
			return ackErr(err)
		}
		return ackOK()
	case message.ResetDialByName:
		if _, err := resetDial(s.sim, m); err != nil {
			return ackErr(err)
		}
		return ackOK()
	default:
		return ackErr(fmt.Errorf("gateway: %s is not a request", req.Opcode()))
	}
}

func synchronousOnly(req message.Message) bool {
	switch req.(type) {
	case message.ScenarioScript, message.SimParams,
		message.StartScenario, message.RunFrames, message.EndScenario, message.Quit:
		return true
	default:
		return false
	}
}

// handleScriptPart buffers one part of a multi-part script. A rejected
// part is remembered and reported once, on the final script frame.
func (s *Service) handleScriptPart(c *clientConn, m message.ScenarioScriptPart) {
	switch {
	case c.partErr != nil:
	case s.cfg.Pacing == PacingFree:
		c.rejectScript(fmt.Errorf("%w: %s", ErrSynchronousOnly, m.Opcode()))
	case s.phase == PhaseRunning:
		c.rejectScript(ErrScenarioRunning)
	case len(c.parts)+len(m.Data) > s.cfg.MaxScriptBytes:
		c.rejectScript(fmt.Errorf("%w: more than %d bytes", ErrScriptTooLarge, s.cfg.MaxScriptBytes))
	default:
		c.parts = append(c.parts, m.Data...)
	}
}

func (s *Service) handleScript(c *clientConn, m message.ScenarioScript) []message.Message {
	parts, partErr := c.takeScript()
	if partErr != nil {
		return ackErr(partErr)
	}
	if s.phase == PhaseRunning {
		return ackErr(ErrScenarioRunning)
	}
	if len(parts)+len(m.Data) > s.cfg.MaxScriptBytes {
		return ackErr(fmt.Errorf("%w: more than %d bytes", ErrScriptTooLarge, s.cfg.MaxScriptBytes))
	}
	script := append(parts, m.Data...)
	if len(script) == 0 {
		return ackErr(message.ErrEmptyScript)
	}
	s.script = script
	s.phase = PhaseScriptLoaded
	log.Info().Msgf("gateway.Service.handleScript client=%s script_bytes=%d", c.id, len(script))
	return ackOK()
}

func (s *Service) handleSimParams(m message.SimParams) []message.Message {
	if s.phase == PhaseRunning {
		return ackErr(ErrScenarioRunning)
	}
	if len(s.script) == 0 {
		return ackErr(ErrNoScript)
	}
	if err := s.sim.LoadScenario(s.script, m); err != nil {
		return ackErr(err)
	}
	s.params = m
	s.phase = PhaseLoaded
	log.Info().Msgf("gateway.Service.handleSimParams frequency_hz=%g substeps=%d lri_dir=%q scenario_dir=%q",
		m.FrequencyHz, m.Substeps, m.LRIDir, m.ScenarioDir)
	return ackOK()
}

func (s *Service) handleStart() []message.Message {
	if s.phase != PhaseLoaded {
		return ackErr(fmt.Errorf("%w: phase=%s", ErrNotLoaded, s.phase))
	}
	if err := s.sim.Start(); err != nil {
		return ackErr(err)
	}
	s.phase = PhaseRunning
	return ackOK()
}

func (s *Service) handleRunFrames(m message.RunFrames) []message.Message {
	if s.phase != PhaseRunning {
		return ackErr(fmt.Errorf("%w: phase=%s", ErrNotRunning, s.phase))
	}
	if m.Count < 0 {
		return ackErr(ErrBadFrameCount)
	}
	substeps := int(m.Substeps)
	if substeps < 1 {
		substeps = int(s.params.Substeps)
	}
	for i := int32(0); i < m.Count; i++ {
		if err := s.sim.Step(substeps); err != nil {
			return ackErr(err)
		}
	}
	return ackOK()
}

func (s *Service) handleEnd() []message.Message {
	if s.phase != PhaseRunning {
		return ackErr(fmt.Errorf("%w: phase=%s", ErrNotRunning, s.phase))
	}
	if err := s.sim.End(); err != nil {
		return ackErr(err)
	}
	s.phase = PhaseEnded
	s.script = nil
	return ackOK()
}

func (s *Service) objectReply(objs []message.ObjectDescriptor) []message.Message {
	replies, err := message.ObjectReply(objs, s.cfg.Session.Limits)
	if err != nil {
		return ackErr(err)
	}
	return replies
}

func ackOK() []message.Message {
	return []message.Message{message.AckOK{}}
}

func ackErr(err error) []message.Message {
	log.Debug().Msgf("gateway.Service.dispatch ack_error err=%v", err)
	return []message.Message{message.AckError{Message: err.Error()}}
}
