package gateway

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/session"
	"github.com/danmuck/simlink/internal/sandbox"
	"github.com/danmuck/simlink/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

const testScript = `vehicle car1 0 0 10
vehicle car2 0 10 5
light sig1 50 0 2
instance cone 20 0 3
`

var testParams = message.SimParams{FrequencyHz: 10, Substeps: 1, LRIDir: "lri", ScenarioDir: "scn"}

type running struct {
	svc   *Service
	world *sandbox.World
	addr  string
	done  chan error
}

func startGateway(t *testing.T, cfg ServiceConfig, setup func(*Service)) *running {
	t.Helper()
	world := sandbox.NewWorld()
	cfg.PollInterval = 2 * time.Millisecond
	svc, err := NewServiceWithConfig(cfg, world)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if setup != nil {
		setup(svc)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{svc: svc, world: world, addr: ln.Addr().String(), done: make(chan error, 1)}
	go func() {
		r.done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Errorf("gateway did not stop")
		}
	})
	return r
}

func dialGateway(t *testing.T, addr string) *session.CommandConn {
	t.Helper()
	c, err := session.Dial(context.Background(), addr, session.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startScenario(t *testing.T, c *session.CommandConn) {
	t.Helper()
	ctx := context.Background()
	if err := c.SendScript(ctx, []byte(testScript)); err != nil {
		t.Fatalf("script: %v", err)
	}
	if err := c.RequestAck(ctx, testParams); err != nil {
		t.Fatalf("sim params: %v", err)
	}
	if err := c.RequestAck(ctx, message.StartScenario{}); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func objectByName(objs []message.ObjectDescriptor, name string) (message.ObjectDescriptor, bool) {
	for _, o := range objs {
		if o.Name == name {
			return o, true
		}
	}
	return message.ObjectDescriptor{}, false
}

func TestSynchronousRunEndToEnd(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()

	if err := c.RequestAck(ctx, message.Ping{}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	startScenario(t, c)
	for i := 0; i < 5; i++ {
		if err := c.RequestAck(ctx, message.RunFrames{Count: 1, Substeps: 1}); err != nil {
			t.Fatalf("run frame %d: %v", i, err)
		}
	}
	objs, h, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
	if err != nil {
		t.Fatalf("get dynamic objects: %v", err)
	}
	if int(h.Total) != len(objs) {
		t.Fatalf("declared total %d, got %d objects", h.Total, len(objs))
	}
	// two vehicles, one light, one cone instanced at frame 3
	if len(objs) != 4 {
		t.Fatalf("expected 4 objects, got %+v", objs)
	}
	car1, ok := objectByName(objs, "car1")
	if !ok || math.Abs(car1.Position[0]-5) > 1e-9 {
		t.Fatalf("car1 should have moved 5m in 5 frames: %+v", car1)
	}
	waitFor(t, "snapshot frame", func() bool { return g.svc.Snapshot().Frame == 5 })
	log.Info().Msgf("gateway/e2e: frames=5 objects=%d", len(objs))

	if err := c.RequestAck(ctx, message.EndScenario{}); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestControlObjectUnknownOwnerIsNoop(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)

	before, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if err := c.RequestAck(ctx, message.ControlObject{OwnerID: 999, Command: message.CmdTurnLeft}); err != nil {
		t.Fatalf("control on unknown owner should succeed: %v", err)
	}
	after, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("object count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("object %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestControlObjectDrivesSlots(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)

	if err := c.RequestAck(ctx, message.ControlObject{OwnerID: 1, Command: message.CmdTurnLeft}); err != nil {
		t.Fatalf("turn left: %v", err)
	}
	if err := c.RequestAck(ctx, message.ControlObject{OwnerID: 2, Command: message.CmdForceVelocity, Value: 3}); err != nil {
		t.Fatalf("force velocity: %v", err)
	}
	if err := c.RequestAck(ctx, message.ControlObject{OwnerID: 1, Command: message.ControlCommand(99)}); err == nil {
		t.Fatalf("expected unknown command to fail")
	}
	if err := c.RequestAck(ctx, message.RunFrames{Count: 1, Substeps: 1}); err != nil {
		t.Fatalf("run: %v", err)
	}
	objs, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
	if err != nil {
		t.Fatalf("objects: %v", err)
	}
	car1, _ := objectByName(objs, "car1")
	if math.Abs(car1.Heading-math.Pi/2) > 1e-9 {
		t.Fatalf("car1 heading = %v, want pi/2", car1.Heading)
	}
	car2, _ := objectByName(objs, "car2")
	if car2.Velocity != 3 {
		t.Fatalf("car2 velocity = %v, want 3", car2.Velocity)
	}
}

func TestDialByName(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)

	cases := []struct {
		name string
		msg  message.Message
		ok   bool
	}{
		{"unknown entity", message.SetDialByName{OwnerID: 42, Dial: "MaxSpeed", Value: "1"}, false},
		{"unknown dial", message.SetDialByName{OwnerID: 1, Dial: "Nope", Value: "1"}, false},
		{"malformed", message.SetDialByName{OwnerID: 1, Dial: "MaxSpeed", Value: "fast"}, false},
		{"set", message.SetDialByName{OwnerID: 1, Dial: "MaxSpeed", Value: "4"}, true},
		{"reset unknown", message.ResetDialByName{OwnerID: 1, Dial: "Nope"}, false},
		{"reset", message.ResetDialByName{OwnerID: 2, Dial: "ForcedVelocity"}, true},
	}
	for _, tc := range cases {
		err := c.RequestAck(ctx, tc.msg)
		var remote *session.RemoteError
		if tc.ok && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !tc.ok && !errors.As(err, &remote) {
			t.Fatalf("%s: expected remote error, got %v", tc.name, err)
		}
	}

	if err := c.RequestAck(ctx, message.RunFrames{Count: 1, Substeps: 1}); err != nil {
		t.Fatalf("run: %v", err)
	}
	objs, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
	if err != nil {
		t.Fatalf("objects: %v", err)
	}
	if car1, _ := objectByName(objs, "car1"); car1.Velocity != 4 {
		t.Fatalf("car1 velocity should be capped to 4, got %v", car1.Velocity)
	}
}

func TestLifecycleOrderingErrors(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()

	var remote *session.RemoteError
	if err := c.RequestAck(ctx, message.RunFrames{Count: 1, Substeps: 1}); !errors.As(err, &remote) {
		t.Fatalf("run before start: expected remote error, got %v", err)
	}
	if err := c.RequestAck(ctx, testParams); !errors.As(err, &remote) {
		t.Fatalf("params before script: expected remote error, got %v", err)
	}
	if err := c.RequestAck(ctx, message.StartScenario{}); !errors.As(err, &remote) {
		t.Fatalf("start before load: expected remote error, got %v", err)
	}
	startScenario(t, c)
	if err := c.SendScript(ctx, []byte(testScript)); !errors.As(err, &remote) {
		t.Fatalf("script while running: expected remote error, got %v", err)
	}
	if err := c.RequestAck(ctx, message.RunFrames{Count: -1, Substeps: 1}); !errors.As(err, &remote) {
		t.Fatalf("negative count: expected remote error, got %v", err)
	}
	if err := c.RequestAck(ctx, message.RunFrames{Count: 3, Substeps: 2}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if g.world.Frame() != 3 {
		t.Fatalf("frame = %d, want 3", g.world.Frame())
	}
}

func TestMultiPartScriptIsJoined(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Session.Limits = frame.Limits{MaxFrameBytes: frame.HeaderLen + 64}
	g := startGateway(t, cfg, nil)

	scfg := session.DefaultConfig()
	scfg.Limits = cfg.Session.Limits
	c, err := session.Dial(context.Background(), g.addr, scfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.SendScript(ctx, []byte(testScript)); err != nil {
		t.Fatalf("script: %v", err)
	}
	if err := c.RequestAck(ctx, testParams); err != nil {
		t.Fatalf("params: %v", err)
	}
	if err := c.RequestAck(ctx, message.StartScenario{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := g.world.EntityByName("car2"); !ok {
		t.Fatalf("joined script should define car2")
	}
}

func TestMalformedRequestKeepsConnection(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	conn, err := net.Dial("tcp", g.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	limits := frame.DefaultLimits()
	reader := bufio.NewReader(conn)

	if err := frame.WriteFrame(conn, frame.Frame{Opcode: 9999}, limits); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := frame.ReadFrame(reader, limits)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	reply, err := message.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := reply.(message.AckError); !ok {
		t.Fatalf("expected ack error, got %T", reply)
	}

	ping, _ := message.Encode(message.Ping{})
	if err := frame.WriteFrame(conn, ping, limits); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	f, err = frame.ReadFrame(reader, limits)
	if err != nil {
		t.Fatalf("read ping reply: %v", err)
	}
	if reply, _ := message.Decode(f); reply != (message.AckOK{}) {
		t.Fatalf("expected ack ok after malformed request, got %#v", reply)
	}
}

func TestFreePacingAdvancesAndRejectsSynchronousOps(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Pacing = PacingFree
	g := startGateway(t, cfg, func(s *Service) {
		if err := s.Preload([]byte(testScript), message.SimParams{FrequencyHz: 100, Substeps: 1}); err != nil {
			t.Fatalf("preload: %v", err)
		}
	})
	c := dialGateway(t, g.addr)
	ctx := context.Background()

	err := c.RequestAck(ctx, message.RunFrames{Count: 1, Substeps: 1})
	var remote *session.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "synchronous") {
		t.Fatalf("expected synchronous-only rejection, got %v", err)
	}
	if _, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{}); err != nil {
		t.Fatalf("fetch is allowed in free pacing: %v", err)
	}
	waitFor(t, "free-running frames", func() bool { return g.svc.Snapshot().Frame > 3 })
}

func TestPreloadRequiresFreePacing(t *testing.T) {
	testlog.Start(t)
	svc, err := NewService(sandbox.NewWorld())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Preload([]byte(testScript), testParams); !errors.Is(err, ErrPreloadSynchronous) {
		t.Fatalf("expected ErrPreloadSynchronous, got %v", err)
	}
	if _, err := NewService(nil); !errors.Is(err, ErrNoSimulation) {
		t.Fatalf("expected ErrNoSimulation, got %v", err)
	}
}

func TestQuitStopsServing(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	if err := c.RequestAck(context.Background(), message.Quit{}); err != nil {
		t.Fatalf("quit: %v", err)
	}
	select {
	case err := <-g.done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
		g.done <- nil
	case <-time.After(3 * time.Second):
		t.Fatalf("gateway kept serving after quit")
	}
}

func TestMaxClientsClosesExtraConnections(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.MaxClients = 1
	g := startGateway(t, cfg, nil)
	first := dialGateway(t, g.addr)
	ctx := context.Background()
	if err := first.RequestAck(ctx, message.Ping{}); err != nil {
		t.Fatalf("first ping: %v", err)
	}
	second := dialGateway(t, g.addr)
	if err := second.RequestAck(ctx, message.Ping{}); err == nil {
		t.Fatalf("expected second connection to be closed")
	}
	if err := first.RequestAck(ctx, message.Ping{}); err != nil {
		t.Fatalf("first connection should survive: %v", err)
	}
}

func TestTelemetryIngestAppliesByName(t *testing.T) {
	testlog.Start(t)
	inbound, err := session.ListenTelemetry("127.0.0.1:0", session.DefaultConfig())
	if err != nil {
		t.Fatalf("listen telemetry: %v", err)
	}
	g := startGateway(t, DefaultServiceConfig(), func(s *Service) { s.AttachTelemetry(inbound) })
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)

	out, err := session.ListenTelemetry("127.0.0.1:0", session.DefaultConfig())
	if err != nil {
		t.Fatalf("listen sender: %v", err)
	}
	defer out.Close()
	to := inbound.LocalAddr().(*net.UDPAddr)
	batch := message.Telemetry{Frame: 1, Records: []message.TelemetryRecord{
		{Name: "car1", Position: [3]float64{100, 5, 0}, Velocity: 7},
		{Name: "remote", Position: [3]float64{-3, 2, 0}, Velocity: 1},
	}}
	if err := out.Send(ctx, to, batch); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	waitFor(t, "telemetry applied", func() bool {
		objs, _, err := c.RequestObjects(ctx, message.GetDynamicObjects{})
		if err != nil {
			t.Fatalf("objects: %v", err)
		}
		car1, _ := objectByName(objs, "car1")
		remote, ok := objectByName(objs, "remote")
		return car1.Position[0] == 100 && ok && remote.Category == message.CategoryExternal
	})
	waitFor(t, "telemetry snapshot", func() bool { return len(g.svc.Snapshot().Telemetry) == 2 })
}

func TestTelemetryPublishedToTargets(t *testing.T) {
	testlog.Start(t)
	sink, err := session.ListenTelemetry("127.0.0.1:0", session.DefaultConfig())
	if err != nil {
		t.Fatalf("listen sink: %v", err)
	}
	defer sink.Close()
	cfg := DefaultServiceConfig()
	cfg.TelemetryTargets = []string{sink.LocalAddr().String()}
	g := startGateway(t, cfg, nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)
	if err := c.RequestAck(ctx, message.RunFrames{Count: 2, Substeps: 1}); err != nil {
		t.Fatalf("run: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	// the frame-0 snapshot published after start may arrive first
	for {
		m, _, err := sink.Receive(rctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if m.Frame < 2 {
			continue
		}
		if m.Frame != 2 || len(m.Records) != 2 || m.Records[0].Name != "car1" {
			t.Fatalf("unexpected telemetry: %+v", m)
		}
		return
	}
}

func dialWithLimits(t *testing.T, addr string, maxFrameBytes int) *session.CommandConn {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Limits = frame.Limits{MaxFrameBytes: maxFrameBytes}
	c, err := session.Dial(context.Background(), addr, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFreePacingMultiPartScriptGetsOneReply(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Pacing = PacingFree
	g := startGateway(t, cfg, func(s *Service) {
		if err := s.Preload([]byte(testScript), message.SimParams{FrequencyHz: 100, Substeps: 1}); err != nil {
			t.Fatalf("preload: %v", err)
		}
	})
	c := dialWithLimits(t, g.addr, frame.HeaderLen+128)
	ctx := context.Background()

	script := []byte(strings.Repeat("# padding comment line\n", 20))
	err := c.SendScript(ctx, script)
	var remote *session.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "synchronous") {
		t.Fatalf("expected one synchronous-only rejection, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.RequestAck(ctx, message.Ping{}); err != nil {
			t.Fatalf("ping %d after rejected script: %v", i, err)
		}
	}
}

func TestScriptOverLimitRejectedOnceThenAccepted(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.MaxScriptBytes = len(testScript) + 8
	g := startGateway(t, cfg, nil)
	c := dialWithLimits(t, g.addr, frame.HeaderLen+64)
	ctx := context.Background()

	err := c.SendScript(ctx, []byte(strings.Repeat(testScript, 4)))
	var remote *session.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "too large") {
		t.Fatalf("expected script size rejection, got %v", err)
	}
	if err := c.RequestAck(ctx, message.Ping{}); err != nil {
		t.Fatalf("ping after oversized script: %v", err)
	}
	startScenario(t, c)
	waitFor(t, "running phase", func() bool { return g.svc.Snapshot().Phase == PhaseRunning.String() })
}

func TestOversizedDialTokenAnswersAndKeepsConnection(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	c := dialGateway(t, g.addr)
	ctx := context.Background()
	startScenario(t, c)

	err := c.RequestAck(ctx, message.SetDialByName{OwnerID: 1, Dial: "MaxSpeed", Value: strings.Repeat("\x01", 9000)})
	var remote *session.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if len(remote.Message) > c.Limits().PayloadCapacity() {
		t.Fatalf("error reply exceeds frame capacity: %d bytes", len(remote.Message))
	}
	if err := c.RequestAck(ctx, message.Ping{}); err != nil {
		t.Fatalf("ping after rejected dial: %v", err)
	}
}

func TestPartialHeaderDoesNotStallOtherClients(t *testing.T) {
	testlog.Start(t)
	g := startGateway(t, DefaultServiceConfig(), nil)
	slow, err := net.Dial("tcp", g.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer slow.Close()
	_ = slow.SetDeadline(time.Now().Add(5 * time.Second))
	limits := frame.DefaultLimits()
	ping, _ := message.Encode(message.Ping{})
	raw, err := frame.Marshal(ping, limits)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := slow.Write(raw[:5]); err != nil {
		t.Fatalf("write partial header: %v", err)
	}

	c := dialGateway(t, g.addr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := c.RequestAck(ctx, message.Ping{}); err != nil {
			t.Fatalf("ping %d while another client is mid-frame: %v", i, err)
		}
	}

	if _, err := slow.Write(raw[5:]); err != nil {
		t.Fatalf("write rest: %v", err)
	}
	f, err := frame.ReadFrame(bufio.NewReader(slow), limits)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply, _ := message.Decode(f); reply != (message.AckOK{}) {
		t.Fatalf("expected ack ok once the frame completed, got %#v", reply)
	}
}
