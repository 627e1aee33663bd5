package client

import (
	"context"

	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/session"
)

// The operations below are allowed in either mode once connected.

func (c *Client) GetDynamicObjects(ctx context.Context) ([]message.ObjectDescriptor, error) {
	return c.objects(ctx, "GetDynamicObjects", message.GetDynamicObjects{})
}

// GetChangedStaticObjects returns static objects whose state changed
// since the previous call by any client.
func (c *Client) GetChangedStaticObjects(ctx context.Context) ([]message.ObjectDescriptor, error) {
	return c.objects(ctx, "GetChangedStaticObjects", message.GetChangedStaticObjects{})
}

func (c *Client) GetInstancedObjects(ctx context.Context) ([]message.ObjectDescriptor, error) {
	return c.objects(ctx, "GetInstancedObjects", message.GetInstancedObjects{})
}

func (c *Client) objects(ctx context.Context, op string, req message.Message) ([]message.ObjectDescriptor, error) {
	if err := c.requireSession(op); err != nil {
		return nil, err
	}
	objs, _, err := c.conn.RequestObjects(ctx, req)
	if err != nil {
		return nil, c.ioFailure(op, err)
	}
	return objs, c.ok()
}

func (c *Client) GetDebugData(ctx context.Context) ([]message.DebugItem, error) {
	if err := c.requireSession("GetDebugData"); err != nil {
		return nil, err
	}
	items, _, err := c.conn.RequestDebug(ctx, message.GetDebugData{})
	if err != nil {
		return nil, c.ioFailure("GetDebugData", err)
	}
	return items, c.ok()
}

// SetDebugMode selects debug output. An empty ids list selects every
// entity; ids must fit in 16 bits.
func (c *Client) SetDebugMode(ctx context.Context, mode, level int, ids []int) error {
	if err := c.requireSession("SetDebugMode"); err != nil {
		return err
	}
	wireIDs, err := message.DebugIDs(ids)
	if err != nil {
		return c.fail(&Error{Code: CodeGeneric, Message: "debug ids", Err: err})
	}
	req := message.SetDebugMode{Mode: int16(mode), Level: int16(level), IDs: wireIDs}
	if err := c.conn.RequestAck(ctx, req); err != nil {
		return c.ioFailure("SetDebugMode", err)
	}
	return c.ok()
}

// ControlObject sends one control command. The gateway acknowledges a
// command for an unknown owner without applying it.
func (c *Client) ControlObject(ctx context.Context, ownerID int32, cmd message.ControlCommand, value float64) error {
	return c.ack(ctx, "ControlObject", message.ControlObject{OwnerID: ownerID, Command: cmd, Value: value})
}

// SetDialByName writes a dial from its textual value; it takes effect in
// the next frame.
func (c *Client) SetDialByName(ctx context.Context, ownerID int32, dial, value string) error {
	return c.ack(ctx, "SetDialByName", message.SetDialByName{OwnerID: ownerID, Dial: dial, Value: value})
}

func (c *Client) ResetDialByName(ctx context.Context, ownerID int32, dial string) error {
	return c.ack(ctx, "ResetDialByName", message.ResetDialByName{OwnerID: ownerID, Dial: dial})
}

func (c *Client) ack(ctx context.Context, op string, req message.Message) error {
	if err := c.requireSession(op); err != nil {
		return err
	}
	if err := c.conn.RequestAck(ctx, req); err != nil {
		return c.ioFailure(op, err)
	}
	return c.ok()
}

// OpenTelemetry binds a local UDP socket for telemetry published by the
// gateway. Point the gateway's telemetry targets at TelemetryAddr.
func (c *Client) OpenTelemetry(addr string) error {
	if c.mode == ModeNone {
		return c.failf(CodeMode, "OpenTelemetry requires a mode")
	}
	if c.telemetry != nil {
		return c.failf(CodeGeneric, "telemetry already open on %s", c.telemetry.LocalAddr())
	}
	conn, err := session.ListenTelemetry(addr, c.cfg.Session)
	if err != nil {
		return c.fail(&Error{Code: CodeSocketComm, Message: "listen telemetry " + addr, Err: err})
	}
	c.telemetry = conn
	return c.ok()
}

func (c *Client) TelemetryAddr() string {
	if c.telemetry == nil {
		return ""
	}
	return c.telemetry.LocalAddr().String()
}

// ReceiveTelemetry waits for one telemetry datagram. A timeout is
// reported as a socket error but leaves the socket open.
func (c *Client) ReceiveTelemetry(ctx context.Context) (message.Telemetry, error) {
	if c.mode == ModeNone {
		return message.Telemetry{}, c.failf(CodeMode, "ReceiveTelemetry requires a mode")
	}
	if c.telemetry == nil {
		return message.Telemetry{}, c.failf(CodeSocketComm, "telemetry not open")
	}
	m, _, err := c.telemetry.Receive(ctx)
	if err != nil {
		return message.Telemetry{}, c.fail(&Error{Code: CodeSocketComm, Message: "receive telemetry", Err: err})
	}
	return m, c.ok()
}
