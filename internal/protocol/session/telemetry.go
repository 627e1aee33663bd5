package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/message"
)

// TelemetryConn sends and receives telemetry datagrams. Delivery is best
// effort: nothing is acknowledged or retried.
type TelemetryConn struct {
	conn *net.UDPConn
	cfg  Config
	buf  []byte
}

// ListenTelemetry binds a UDP socket. Use "127.0.0.1:0" for an ephemeral
// send-only socket.
func ListenTelemetry(addr string, cfg Config) (*TelemetryConn, error) {
	cfg = cfg.WithDefaults()
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &TelemetryConn{conn: conn, cfg: cfg, buf: make([]byte, cfg.Limits.MaxFrameBytes)}, nil
}

func (t *TelemetryConn) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *TelemetryConn) Close() error { return t.conn.Close() }

func (t *TelemetryConn) Limits() frame.Limits { return t.cfg.Limits }

// Send writes one telemetry datagram to addr.
func (t *TelemetryConn) Send(ctx context.Context, addr *net.UDPAddr, m message.Telemetry) error {
	f, err := message.Encode(m)
	if err != nil {
		return err
	}
	b, err := frame.Marshal(f, t.cfg.Limits)
	if err != nil {
		return err
	}
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(b, addr)
	return err
}

// Receive reads one datagram. Datagrams that are not telemetry frames
// return an error; the socket remains usable.
func (t *TelemetryConn) Receive(ctx context.Context) (message.Telemetry, *net.UDPAddr, error) {
	if err := ctx.Err(); err != nil {
		return message.Telemetry{}, nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if err := t.conn.SetReadDeadline(deadline(ctx, t.cfg.ReadTimeout)); err != nil {
		return message.Telemetry{}, nil, err
	}
	n, from, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		return message.Telemetry{}, nil, err
	}
	f, err := frame.Unmarshal(t.buf[:n], t.cfg.Limits)
	if err != nil {
		return message.Telemetry{}, from, err
	}
	m, err := message.Decode(f)
	if err != nil {
		return message.Telemetry{}, from, err
	}
	tm, ok := m.(message.Telemetry)
	if !ok {
		return message.Telemetry{}, from, fmt.Errorf("%w: %s on telemetry channel", ErrUnexpectedReply, m.Opcode())
	}
	return tm, from, nil
}

// ResolveTargets resolves host:port strings, skipping blanks.
func ResolveTargets(addrs []string) ([]*net.UDPAddr, error) {
	out := make([]*net.UDPAddr, 0, len(addrs))
	for _, raw := range addrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		a, err := net.ResolveUDPAddr("udp", raw)
		if err != nil {
			return nil, fmt.Errorf("session: resolve telemetry target %q: %w", raw, err)
		}
		out = append(out, a)
	}
	return out, nil
}
