package gateway

import (
	"context"
	"strings"

	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// openTelemetry starts the accumulator worker on the inbound socket and
// opens the outbound socket when targets are configured.
func (s *Service) openTelemetry(ctx context.Context) error {
	if s.inbound == nil && strings.TrimSpace(s.cfg.TelemetryListenAddr) != "" {
		conn, err := session.ListenTelemetry(s.cfg.TelemetryListenAddr, s.cfg.Session)
		if err != nil {
			return err
		}
		s.inbound = conn
	}
	if s.inbound != nil {
		log.Info().Msgf("gateway.Service.openTelemetry listening addr=%q", s.inbound.LocalAddr().String())
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			_ = s.acc.Run(ctx, s.inbound, s.cfg.GatewayID)
		}()
	}
	if len(s.targets) > 0 {
		if s.inbound != nil {
			s.sender = s.inbound
		} else {
			conn, err := session.ListenTelemetry(":0", s.cfg.Session)
			if err != nil {
				return err
			}
			s.sender = conn
		}
	}
	return nil
}

// closeTelemetry closes both sockets; the closed inbound socket ends the
// worker's receive.
func (s *Service) closeTelemetry() {
	if s.inbound != nil {
		_ = s.inbound.Close()
	}
	if s.sender != nil && s.sender != s.inbound {
		_ = s.sender.Close()
	}
	s.workers.Wait()
}

// drainTelemetry swaps out the accumulator, keeps the newest record per
// name, and applies each to the simulation.
func (s *Service) drainTelemetry() {
	batches := s.acc.Swap()
	if len(batches) == 0 {
		return
	}
	s.dirty = true
	pending := make(map[string]message.TelemetryRecord)
	for _, b := range batches {
		for _, rec := range b.Records {
			pending[rec.Name] = rec
			s.latest[rec.Name] = rec
		}
	}
	for _, rec := range pending {
		if !s.sim.ApplyTelemetry(rec) {
			log.Debug().Msgf("gateway.Service.drainTelemetry not applied name=%q", rec.Name)
		}
	}
}

// publishTelemetry sends the local dynamic objects to every target once
// per frame. Objects learned from telemetry are not echoed back.
func (s *Service) publishTelemetry(ctx context.Context) {
	if s.sender == nil || s.phase != PhaseRunning {
		return
	}
	frameNo := s.sim.Frame()
	if frameNo == s.published {
		return
	}
	s.published = frameNo
	objs := s.sim.DynamicObjects()
	records := make([]message.TelemetryRecord, 0, len(objs))
	for _, o := range objs {
		if o.Category == message.CategoryExternal {
			continue
		}
		records = append(records, message.TelemetryRecord{
			Name:     o.Name,
			Position: o.Position,
			Heading:  o.Heading,
			Velocity: o.Velocity,
		})
	}
	batches, err := message.TelemetryBatches(frameNo, records, s.sender.Limits())
	if err != nil {
		log.Error().Msgf("gateway.Service.publishTelemetry frame=%d err=%v", frameNo, err)
		return
	}
	for _, target := range s.targets {
		for _, b := range batches {
			if err := s.sender.Send(ctx, target, b); err != nil {
				observability.RecordTelemetry(s.cfg.GatewayID, "out", "error", 1)
				log.Warn().Msgf("gateway.Service.publishTelemetry target=%s err=%v", target, err)
				break
			}
			observability.RecordTelemetry(s.cfg.GatewayID, "out", "ok", 1)
		}
	}
}
