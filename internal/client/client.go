package client

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/session"
	"github.com/danmuck/simlink/internal/tools"
	"github.com/rs/zerolog/log"
)

// ManualPrefix marks a companion target as an already running gateway.
const ManualPrefix = "manual:"

type Mode int

const (
	ModeNone Mode = iota
	ModeSynchronous
	ModeFreeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSynchronous:
		return "synchronous"
	case ModeFreeRunning:
		return "free_running"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by Mode.String plus short forms.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sync", "synchronous":
		return ModeSynchronous, nil
	case "free", "free_running", "free-running", "freerunning":
		return ModeFreeRunning, nil
	case "", "none":
		return ModeNone, nil
	default:
		return ModeNone, fmt.Errorf("client: unknown mode %q", raw)
	}
}

type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateScenarioStarted
	StateScenarioEnded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateScenarioStarted:
		return "scenario_started"
	case StateScenarioEnded:
		return "scenario_ended"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config controls companion discovery and the session.
type Config struct {
	// BinDir and CompanionBinary locate the gateway executable spawned by
	// InitSynchronous.
	BinDir          string
	CompanionBinary string
	CompanionArgs   []string
	// ListenAddr is the address a spawned companion is told to listen on.
	ListenAddr string
	// SpawnDelay is waited after spawning before the first connect.
	SpawnDelay time.Duration
	// StopGrace bounds how long Quit and Close wait for a spawned
	// companion to exit before killing it.
	StopGrace time.Duration
	Session   session.Config
	Launcher  tools.Launcher
}

func DefaultConfig() Config {
	return Config{
		CompanionBinary: "gatewayd",
		ListenAddr:      "127.0.0.1:7400",
		SpawnDelay:      250 * time.Millisecond,
		StopGrace:       tools.DefaultStopGrace,
		Session:         session.DefaultConfig(),
		Launcher:        tools.ExecLauncher{},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.CompanionBinary) == "" {
		c.CompanionBinary = def.CompanionBinary
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.SpawnDelay < 0 {
		c.SpawnDelay = 0
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	if c.Launcher == nil {
		c.Launcher = def.Launcher
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Client drives one gateway session.
type Client struct {
	cfg   Config
	mode  Mode
	state State

	conn      *session.CommandConn
	proc      tools.Process
	telemetry *session.TelemetryConn

	lastCode ErrorCode
	lastMsg  string
	rng      *rand.Rand
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) Mode() Mode   { return c.mode }
func (c *Client) State() State { return c.state }

// LastError returns the outcome of the most recent operation.
func (c *Client) LastError() (ErrorCode, string) {
	return c.lastCode, c.lastMsg
}

func (c *Client) ok() error {
	c.lastCode, c.lastMsg = CodeNone, ""
	return nil
}

func (c *Client) fail(e *Error) error {
	c.lastCode = e.Code
	c.lastMsg = e.Message
	if e.Err != nil && e.Code != CodeGeneric {
		c.lastMsg = e.Message + ": " + e.Err.Error()
	}
	log.Debug().Msgf("client.Client.fail code=%s msg=%q", e.Code, c.lastMsg)
	return e
}

func (c *Client) failf(code ErrorCode, format string, args ...any) error {
	return c.fail(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
}

// ioFailure records err from a session call. Socket failures close the
// session; remote errors leave it open.
func (c *Client) ioFailure(op string, err error) error {
	e := classify(op, err)
	if e.Code == CodeSocketComm {
		c.teardown()
	}
	return c.fail(e)
}

// SetMode selects the pacing mode. It is allowed only before a session is
// open.
func (c *Client) SetMode(m Mode) error {
	if m != ModeSynchronous && m != ModeFreeRunning {
		return c.failf(CodeMode, "invalid mode %s", m)
	}
	if c.conn != nil {
		return c.failf(CodeMode, "mode is fixed while connected (current %s)", c.mode)
	}
	c.mode = m
	c.state = StateUninitialized
	return c.ok()
}

func (c *Client) requireMode(op string, m Mode) error {
	if c.mode != m {
		return c.failf(CodeMode, "%s requires %s mode, client is %s", op, m, c.mode)
	}
	return nil
}

func (c *Client) requireSession(op string) error {
	if c.mode == ModeNone {
		return c.failf(CodeMode, "%s requires a mode", op)
	}
	if c.conn == nil {
		return c.failf(CodeSocketComm, "%s: not connected", op)
	}
	return nil
}

// InitSynchronous connects to the companion gateway. A target of the form
// "manual:<addr>" names a gateway that is already running; otherwise the
// companion binary is spawned listening on target, or on
// Config.ListenAddr when target is empty.
func (c *Client) InitSynchronous(ctx context.Context, target string) error {
	if err := c.requireMode("InitSynchronous", ModeSynchronous); err != nil {
		return err
	}
	if c.conn != nil {
		return c.failf(CodeGeneric, "already connected")
	}
	target = strings.TrimSpace(target)
	if addr, manual := strings.CutPrefix(target, ManualPrefix); manual {
		return c.connect(ctx, strings.TrimSpace(addr))
	}
	addr := target
	if addr == "" {
		addr = c.cfg.ListenAddr
	}
	bin := filepath.Join(c.cfg.BinDir, c.cfg.CompanionBinary)
	args := append([]string{"--listen", addr}, c.cfg.CompanionArgs...)
	// the companion outlives the init context
	proc, err := c.cfg.Launcher.Start(context.Background(), bin, args...)
	if err != nil {
		return c.fail(&Error{Code: CodeExecProcess, Message: "spawn " + bin, Err: err})
	}
	c.proc = proc
	log.Info().Msgf("client.Client.InitSynchronous spawned pid=%d bin=%q addr=%q", proc.Pid(), bin, addr)
	if c.cfg.SpawnDelay > 0 {
		select {
		case <-ctx.Done():
			c.teardown()
			return c.fail(&Error{Code: CodeExecProcess, Message: "waiting for companion", Err: ctx.Err()})
		case <-time.After(c.cfg.SpawnDelay):
		}
	}
	return c.connect(ctx, addr)
}

// InitFreeRunning connects to a free-running gateway at host:port.
func (c *Client) InitFreeRunning(ctx context.Context, host string, port int) error {
	if err := c.requireMode("InitFreeRunning", ModeFreeRunning); err != nil {
		return err
	}
	if c.conn != nil {
		return c.failf(CodeGeneric, "already connected")
	}
	if port <= 0 || port > 65535 {
		return c.failf(CodeGeneric, "invalid port %d", port)
	}
	return c.connect(ctx, net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(port)))
}

func (c *Client) connect(ctx context.Context, addr string) error {
	if addr == "" {
		return c.failf(CodeGeneric, "empty gateway address")
	}
	conn, err := session.DialWithRetry(ctx, addr, c.cfg.Session, c.rng)
	if err != nil {
		c.teardown()
		return c.fail(&Error{Code: CodeSocketComm, Message: "connect " + addr, Err: err})
	}
	c.conn = conn
	if err := conn.RequestAck(ctx, message.Ping{}); err != nil {
		return c.ioFailure("ping", err)
	}
	c.state = StateConnected
	log.Info().Msgf("client.Client.connect connected addr=%q mode=%s", addr, c.mode)
	return c.ok()
}

// StartScenario sends the scenario script, the simulation parameters, and
// the start request. Each must be acknowledged.
func (c *Client) StartScenario(ctx context.Context, script []byte, lriDir string, frequencyHz float64, substeps int, scenarioDir string) error {
	if err := c.requireMode("StartScenario", ModeSynchronous); err != nil {
		return err
	}
	if err := c.requireSession("StartScenario"); err != nil {
		return err
	}
	if len(script) == 0 {
		return c.fail(&Error{Code: CodeGeneric, Message: "empty scenario script", Err: message.ErrEmptyScript})
	}
	if err := c.conn.SendScript(ctx, script); err != nil {
		return c.ioFailure("send script", err)
	}
	params := message.SimParams{
		FrequencyHz: frequencyHz,
		Substeps:    int32(substeps),
		LRIDir:      lriDir,
		ScenarioDir: scenarioDir,
	}
	if err := c.conn.RequestAck(ctx, params); err != nil {
		return c.ioFailure("sim params", err)
	}
	if err := c.conn.RequestAck(ctx, message.StartScenario{}); err != nil {
		return c.ioFailure("start scenario", err)
	}
	c.state = StateScenarioStarted
	return c.ok()
}

// RunFrames asks the gateway to execute n frames and waits for them.
func (c *Client) RunFrames(ctx context.Context, n, substeps int) error {
	if err := c.requireMode("RunFrames", ModeSynchronous); err != nil {
		return err
	}
	if err := c.requireSession("RunFrames"); err != nil {
		return err
	}
	if err := c.conn.RequestAck(ctx, message.RunFrames{Count: int32(n), Substeps: int32(substeps)}); err != nil {
		return c.ioFailure("run frames", err)
	}
	return c.ok()
}

func (c *Client) EndScenario(ctx context.Context) error {
	if err := c.requireMode("EndScenario", ModeSynchronous); err != nil {
		return err
	}
	if err := c.requireSession("EndScenario"); err != nil {
		return err
	}
	if err := c.conn.RequestAck(ctx, message.EndScenario{}); err != nil {
		return c.ioFailure("end scenario", err)
	}
	c.state = StateScenarioEnded
	return c.ok()
}

// Quit stops the gateway, closes the session, and reaps a spawned
// companion.
func (c *Client) Quit(ctx context.Context) error {
	if err := c.requireMode("Quit", ModeSynchronous); err != nil {
		return err
	}
	if err := c.requireSession("Quit"); err != nil {
		return err
	}
	if err := c.conn.RequestAck(ctx, message.Quit{}); err != nil {
		return c.ioFailure("quit", err)
	}
	c.teardown()
	return c.ok()
}

// Close releases the session without protocol traffic. A spawned
// companion is stopped.
func (c *Client) Close() error {
	c.teardown()
	return c.ok()
}

func (c *Client) teardown() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.telemetry != nil {
		_ = c.telemetry.Close()
		c.telemetry = nil
	}
	if c.proc != nil {
		if err := c.proc.Stop(c.cfg.StopGrace); err != nil {
			log.Warn().Msgf("client.Client.teardown stop companion pid=%d err=%v", c.proc.Pid(), err)
		}
		c.proc = nil
	}
	if c.state != StateUninitialized || c.mode != ModeNone {
		c.state = StateClosed
	}
}
