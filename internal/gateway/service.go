package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/schema"
	"github.com/danmuck/simlink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSimulation       = errors.New("gateway: simulation is required")
	ErrListenerDeadline   = errors.New("gateway: listener does not support deadlines")
	ErrAlreadyServing     = errors.New("gateway: already serving")
	ErrPreloadSynchronous = errors.New("gateway: preload requires free pacing")
)

// per-connection request budget for one tick
const maxRequestsPerTick = 32

// Phase is the scenario lifecycle as seen by the gateway.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScriptLoaded
	PhaseLoaded
	PhaseRunning
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScriptLoaded:
		return "script_loaded"
	case PhaseLoaded:
		return "loaded"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type clientConn struct {
	id        string
	conn      *session.CommandConn
	remote    string
	connected time.Time
	// script parts received so far, joined on the final frame
	parts []byte
	// first rejected part, answered on the final frame
	partErr error
}

func (c *clientConn) rejectScript(err error) {
	if c.partErr == nil {
		c.partErr = err
	}
	c.parts = nil
}

func (c *clientConn) takeScript() ([]byte, error) {
	parts, err := c.parts, c.partErr
	c.parts, c.partErr = nil, nil
	return parts, err
}

// Service runs the gateway dispatch loop in front of a Simulation.
type Service struct {
	cfg      ServiceConfig
	sim      Simulation
	bindings ControlBindings
	acc      *Accumulator

	// dispatch-goroutine state
	clients   []*clientConn
	phase     Phase
	script    []byte
	params    message.SimParams
	latest    map[string]message.TelemetryRecord
	published int64
	paceStart time.Time
	paceBase  int64
	stopping  bool
	// dirty forces the next snapshot even when the frame has not moved
	dirty bool

	inbound *session.TelemetryConn
	sender  *session.TelemetryConn
	targets []*net.UDPAddr

	serving atomic.Bool
	ready   atomic.Bool
	snap    atomic.Pointer[Snapshot]
	started time.Time

	workers sync.WaitGroup
}

// Gateway service constructor using default config.
func NewService(sim Simulation) (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig(), sim)
}

// Gateway service constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig, sim Simulation) (*Service, error) {
	if sim == nil {
		return nil, ErrNoSimulation
	}
	cfg = cfg.withDefaults()
	if _, err := ParsePacing(string(cfg.Pacing)); err != nil {
		return nil, err
	}
	targets, err := session.ResolveTargets(cfg.TelemetryTargets)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		sim:      sim,
		bindings: DefaultControlBindings(),
		acc:      NewAccumulator(cfg.AccumulatorLimit),
		latest:   make(map[string]message.TelemetryRecord),
		targets:  targets,
		started:  time.Now(),
	}
	s.snap.Store(&Snapshot{GatewayID: cfg.GatewayID, Pacing: cfg.Pacing, Phase: PhaseIdle.String()})
	return s, nil
}

func (s *Service) Config() ServiceConfig { return s.cfg }

// SetControlBindings replaces the command-to-slot table. Call before Serve.
func (s *Service) SetControlBindings(b ControlBindings) {
	s.bindings = b
}

// AttachTelemetry binds an already open telemetry socket as the inbound
// channel. Call before Serve; it replaces TelemetryListenAddr and Serve
// closes it on return.
func (s *Service) AttachTelemetry(conn *session.TelemetryConn) {
	s.inbound = conn
}

// Preload loads and starts a scenario before serving. Free pacing only;
// a synchronous gateway receives its scenario from the client.
func (s *Service) Preload(script []byte, params message.SimParams) error {
	if s.cfg.Pacing != PacingFree {
		return ErrPreloadSynchronous
	}
	if err := s.sim.LoadScenario(script, params); err != nil {
		return err
	}
	if err := s.sim.Start(); err != nil {
		return err
	}
	s.script = append([]byte(nil), script...)
	s.params = params
	s.phase = PhaseRunning
	log.Info().Msgf("gateway.Service.Preload script_bytes=%d frequency_hz=%g substeps=%d", len(script), params.FrequencyHz, params.Substeps)
	return nil
}

// Gateway runtime entrypoint that blocks until signal shutdown or Quit.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.ListenAddr))
	if err != nil {
		return err
	}
	log.Info().Msgf("gateway.Service.Run listening addr=%q pacing=%s", ln.Addr().String(), s.cfg.Pacing)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		cancel()
		return err
	case err := <-adminErr:
		if err != nil {
			cancel()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Serve runs the dispatch loop on ln until ctx ends or a client sends
// Quit. ln is closed on return.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer ln.Close()
	dl, ok := ln.(deadlineListener)
	if !ok {
		return ErrListenerDeadline
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.openTelemetry(ctx); err != nil {
		return err
	}
	defer s.closeTelemetry()
	defer s.closeAllClients()

	s.paceStart = time.Now()
	s.paceBase = s.sim.Frame()
	s.published = -1
	s.dirty = true
	s.ready.Store(true)
	defer s.ready.Store(false)

	for {
		if ctx.Err() != nil {
			log.Info().Msgf("gateway.Service.Serve shutdown gateway_id=%q", s.cfg.GatewayID)
			return nil
		}
		if err := s.acceptPending(ln, dl); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.pollClients(ctx)
		if s.stopping {
			log.Info().Msgf("gateway.Service.Serve quit requested gateway_id=%q", s.cfg.GatewayID)
			return nil
		}
		s.drainTelemetry()
		s.advanceFree()
		s.publishTelemetry(ctx)
		s.publishSnapshot()
	}
}

// acceptPending waits up to PollInterval for the first connection, then
// takes whatever else is already queued.
func (s *Service) acceptPending(ln net.Listener, dl deadlineListener) error {
	wait := s.cfg.PollInterval
	for {
		if err := dl.SetDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		conn, err := ln.Accept()
		if err != nil {
			if session.IsTimeout(err) {
				return nil
			}
			return err
		}
		s.admit(conn)
		wait = time.Millisecond
	}
}

func (s *Service) admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	if s.cfg.MaxClients > 0 && len(s.clients) >= s.cfg.MaxClients {
		log.Warn().Msgf("gateway.Service.admit rejected remote=%q max_clients=%d", remote, s.cfg.MaxClients)
		_ = conn.Close()
		return
	}
	c := &clientConn{
		id:        uuid.NewString(),
		conn:      session.NewCommandConn(conn, s.cfg.Session),
		remote:    remote,
		connected: time.Now(),
	}
	s.clients = append(s.clients, c)
	s.dirty = true
	observability.SetConnectedClients(s.cfg.GatewayID, len(s.clients))
	log.Info().Msgf("gateway.Service.admit client connected id=%s remote=%q active_clients=%d", c.id, remote, len(s.clients))
}

func (s *Service) pollClients(ctx context.Context) {
	kept := s.clients[:0]
	for _, c := range s.clients {
		if s.stopping || s.serveClient(ctx, c) {
			kept = append(kept, c)
			continue
		}
		_ = c.conn.Close()
		s.dirty = true
		log.Info().Msgf("gateway.Service.pollClients client disconnected id=%s remote=%q", c.id, c.remote)
	}
	for i := len(kept); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = kept
	observability.SetConnectedClients(s.cfg.GatewayID, len(s.clients))
}

// serveClient handles every request already waiting on c, up to the per
// tick budget. It returns false when the connection must be dropped.
func (s *Service) serveClient(ctx context.Context, c *clientConn) bool {
	for i := 0; i < maxRequestsPerTick && !s.stopping; i++ {
		pending, err := c.conn.Poll()
		if err != nil {
			if !isDisconnect(err) {
				log.Warn().Msgf("gateway.Service.serveClient poll id=%s err=%v", c.id, err)
			}
			return false
		}
		if !pending {
			return true
		}
		f, err := c.conn.ReceiveFrame(ctx)
		if err != nil {
			log.Warn().Msgf("gateway.Service.serveClient read id=%s err=%v", c.id, err)
			return false
		}
		start := time.Now()
		op := opcodeName(f.Opcode)
		req, err := message.Decode(f)
		var replies []message.Message
		switch {
		case err != nil && schema.Opcode(f.Opcode) == schema.OpScenarioScriptPart:
			c.rejectScript(err)
		case err != nil:
			replies = []message.Message{message.AckError{Message: err.Error()}}
		default:
			replies = s.dispatch(c, req)
		}
		frames, err := encodeReplies(replies, s.cfg.Session.Limits)
		if err != nil {
			log.Warn().Msgf("gateway.Service.serveClient encode id=%s op=%s err=%v", c.id, op, err)
		}
		if len(frames) > 0 {
			if err := c.conn.SendFrames(ctx, frames); err != nil {
				observability.RecordCommand(s.cfg.GatewayID, op, "dropped", time.Since(start))
				log.Warn().Msgf("gateway.Service.serveClient write id=%s op=%s err=%v", c.id, op, err)
				return false
			}
		}
		observability.RecordCommand(s.cfg.GatewayID, op, outcomeOf(frames), time.Since(start))
		s.dirty = true
	}
	return true
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, session.ErrClosed) || errors.Is(err, syscall.ECONNRESET)
}

// advanceFree steps a free-running scenario by the frames its wall clock
// says are due, bounded per tick.
func (s *Service) advanceFree() {
	if s.cfg.Pacing != PacingFree || s.phase != PhaseRunning {
		return
	}
	hz := s.params.FrequencyHz
	if hz <= 0 {
		hz = s.cfg.FrequencyHz
	}
	substeps := int(s.params.Substeps)
	if substeps < 1 {
		substeps = s.cfg.Substeps
	}
	due := s.paceBase + int64(time.Since(s.paceStart).Seconds()*hz)
	steps := due - s.sim.Frame()
	if steps > int64(s.cfg.MaxFramesPerTick) {
		log.Warn().Msgf("gateway.Service.advanceFree behind frames=%d cap=%d", steps, s.cfg.MaxFramesPerTick)
		steps = int64(s.cfg.MaxFramesPerTick)
		// drop the backlog rather than chase it
		s.paceStart = time.Now()
		s.paceBase = s.sim.Frame() + steps
	}
	for i := int64(0); i < steps; i++ {
		if err := s.sim.Step(substeps); err != nil {
			log.Error().Msgf("gateway.Service.advanceFree step frame=%d err=%v", s.sim.Frame(), err)
			return
		}
	}
}

func (s *Service) closeAllClients() {
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clients = nil
	observability.SetConnectedClients(s.cfg.GatewayID, 0)
}

// ClientCount reports open command connections as of the last tick.
func (s *Service) ClientCount() int {
	return s.snap.Load().Clients
}

func (s *Service) Ready() bool { return s.ready.Load() }
