package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/simlink/internal/protocol/chunk"
	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed          = errors.New("session: connection closed")
	ErrUnexpectedReply = errors.New("session: unexpected reply")
	ErrStalledFrame    = errors.New("session: partial frame not completed")
)

// RemoteError is an ACK-ERROR reply. The connection stays usable.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "session: remote error: " + e.Message
}

// CommandConn is one end of the reliable command channel. Requests are
// serialized: a request holds the connection until its reply has been
// fully read.
type CommandConn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config
	closed bool
	// when Poll first saw an incomplete frame buffered
	partialSince time.Time
}

func NewCommandConn(conn net.Conn, cfg Config) *CommandConn {
	cfg = cfg.WithDefaults()
	return &CommandConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, cfg.Limits.MaxFrameBytes),
		cfg:    cfg,
	}
}

// Dial opens a command connection with the configured connect timeout.
func Dial(ctx context.Context, addr string, cfg Config) (*CommandConn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewCommandConn(conn, cfg), nil
}

// DialWithRetry dials up to cfg.MaxConnectAttempts times with backoff
// between attempts.
func DialWithRetry(ctx context.Context, addr string, cfg Config, rng *rand.Rand) (*CommandConn, error) {
	cfg = cfg.WithDefaults()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxConnectAttempts; attempt++ {
		c, err := Dial(ctx, addr, cfg)
		if err == nil {
			return c, nil
		}
		lastErr = err
		log.Warn().Msgf("session.DialWithRetry attempt=%d/%d addr=%q err=%v", attempt, cfg.MaxConnectAttempts, addr, err)
		if attempt == cfg.MaxConnectAttempts {
			break
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("session: connect %s after %d attempts: %w", addr, cfg.MaxConnectAttempts, lastErr)
}

func (c *CommandConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *CommandConn) Limits() frame.Limits { return c.cfg.Limits }

func (c *CommandConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Send writes one message.
func (c *CommandConn) Send(ctx context.Context, m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(ctx, func() error { return c.send(ctx, m) })
}

// SendAll writes msgs in order, as for a chunked reply.
func (c *CommandConn) SendAll(ctx context.Context, msgs []message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(ctx, func() error {
		for _, m := range msgs {
			if err := c.send(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// SendFrames writes already encoded frames in order.
func (c *CommandConn) SendFrames(ctx context.Context, frames []frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(ctx, func() error {
		for _, f := range frames {
			if err := c.sendFrame(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// Receive reads one message.
func (c *CommandConn) Receive(ctx context.Context) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out message.Message
	err := c.exchange(ctx, func() error {
		m, err := c.receive(ctx)
		out = m
		return err
	})
	return out, err
}

// ReceiveFrame reads one raw frame without decoding it, so a caller can
// tell a broken stream from a well-framed but invalid request.
func (c *CommandConn) ReceiveFrame(ctx context.Context) (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out frame.Frame
	err := c.exchange(ctx, func() error {
		f, err := c.receiveFrame(ctx)
		out = f
		return err
	})
	return out, err
}

// Request sends m and reads exactly one reply.
func (c *CommandConn) Request(ctx context.Context, m message.Message) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out message.Message
	err := c.exchange(ctx, func() error {
		if err := c.send(ctx, m); err != nil {
			return err
		}
		reply, err := c.receive(ctx)
		out = reply
		return err
	})
	return out, err
}

// RequestAck sends m and requires ACK-OK. ACK-ERROR becomes *RemoteError.
func (c *CommandConn) RequestAck(ctx context.Context, m message.Message) error {
	reply, err := c.Request(ctx, m)
	if err != nil {
		return err
	}
	return ackResult(reply)
}

// SendScript streams a script as parts plus a final frame. Only the final
// frame is acknowledged.
func (c *CommandConn) SendScript(ctx context.Context, script []byte) error {
	msgs, err := message.ScriptMessages(script, c.cfg.Limits)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var reply message.Message
	err = c.exchange(ctx, func() error {
		for _, m := range msgs {
			if err := c.send(ctx, m); err != nil {
				return err
			}
		}
		r, err := c.receive(ctx)
		reply = r
		return err
	})
	if err != nil {
		return err
	}
	return ackResult(reply)
}

// RequestObjects sends m and reads a chunked object reply. The returned
// slice length always equals the header's declared total.
func (c *CommandConn) RequestObjects(ctx context.Context, m message.Message) ([]message.ObjectDescriptor, chunk.Header, error) {
	return requestList(ctx, c, m, func(r message.Message) ([]message.ObjectDescriptor, bool) {
		oc, ok := r.(message.ObjectChunk)
		return oc.Objects, ok
	})
}

// RequestDebug sends m and reads a chunked debug reply.
func (c *CommandConn) RequestDebug(ctx context.Context, m message.Message) ([]message.DebugItem, chunk.Header, error) {
	return requestList(ctx, c, m, func(r message.Message) ([]message.DebugItem, bool) {
		dc, ok := r.(message.DebugChunk)
		return dc.Items, ok
	})
}

func requestList[T any](ctx context.Context, c *CommandConn, m message.Message, items func(message.Message) ([]T, bool)) ([]T, chunk.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		h   chunk.Header
		out []T
	)
	err := c.exchange(ctx, func() error {
		if err := c.send(ctx, m); err != nil {
			return err
		}
		first, err := c.receive(ctx)
		if err != nil {
			return err
		}
		lh, ok := first.(message.ListHeader)
		if !ok {
			if ae, isErr := first.(message.AckError); isErr {
				return &RemoteError{Message: ae.Message}
			}
			return fmt.Errorf("%w: %s before list header", ErrUnexpectedReply, first.Opcode())
		}
		h = lh.Header
		parts := make([][]T, 0, h.Frames)
		for i := 0; i < int(h.Frames); i++ {
			r, err := c.receive(ctx)
			if err != nil {
				return err
			}
			chunkItems, ok := items(r)
			if !ok {
				return fmt.Errorf("%w: %s in chunk %d", ErrUnexpectedReply, r.Opcode(), i)
			}
			parts = append(parts, chunkItems)
		}
		out, err = chunk.Join(h, parts)
		return err
	})
	return out, h, err
}

func ackResult(reply message.Message) error {
	switch r := reply.(type) {
	case message.AckOK:
		return nil
	case message.AckError:
		return &RemoteError{Message: r.Message}
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Opcode())
	}
}

// Poll reports whether a complete frame is buffered, waiting at most
// PollTimeout. A partial frame stays buffered and reports false until
// the rest arrives; one left incomplete past ReadTimeout fails with
// ErrStalledFrame. A header that can never frame reports true so the
// next Receive surfaces its error.
func (c *CommandConn) Poll() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollTimeout)); err != nil {
		return false, err
	}
	for {
		complete, need := c.bufferedFrame()
		if complete {
			c.partialSince = time.Time{}
			return true, nil
		}
		if _, err := c.reader.Peek(need); err != nil {
			if !IsTimeout(err) {
				return false, err
			}
			return false, c.checkPartial()
		}
	}
}

// bufferedFrame reports whether a whole frame sits in the read buffer,
// and otherwise how many bytes to wait for.
func (c *CommandConn) bufferedFrame() (bool, int) {
	n := c.reader.Buffered()
	if n < frame.HeaderLen {
		return false, frame.HeaderLen
	}
	b, err := c.reader.Peek(frame.HeaderLen)
	if err != nil {
		return false, frame.HeaderLen
	}
	h, err := frame.DecodeHeader(b)
	if err != nil || h.StartMarker != frame.StartMarker || int(h.PayloadLen) > c.cfg.Limits.PayloadCapacity() {
		return true, 0
	}
	need := frame.HeaderLen + int(h.PayloadLen)
	return n >= need, need
}

func (c *CommandConn) checkPartial() error {
	if c.reader.Buffered() == 0 {
		c.partialSince = time.Time{}
		return nil
	}
	if c.partialSince.IsZero() {
		c.partialSince = time.Now()
		return nil
	}
	if waited := time.Since(c.partialSince); waited > c.cfg.ReadTimeout {
		return fmt.Errorf("%w: %d bytes buffered for %s", ErrStalledFrame, c.reader.Buffered(), waited.Round(time.Millisecond))
	}
	return nil
}

// exchange runs fn with the connection's deadline tied to ctx. Caller
// holds c.mu.
func (c *CommandConn) exchange(ctx context.Context, fn func() error) error {
	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()
	err := fn()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (c *CommandConn) send(ctx context.Context, m message.Message) error {
	f, err := message.Encode(m)
	if err != nil {
		return err
	}
	return c.sendFrame(ctx, f)
}

func (c *CommandConn) sendFrame(ctx context.Context, f frame.Frame) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return frame.WriteFrame(c.conn, f, c.cfg.Limits)
}

func (c *CommandConn) receive(ctx context.Context) (message.Message, error) {
	f, err := c.receiveFrame(ctx)
	if err != nil {
		return nil, err
	}
	return message.Decode(f)
}

func (c *CommandConn) receiveFrame(ctx context.Context) (frame.Frame, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout)); err != nil {
		return frame.Frame{}, err
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	return frame.ReadFrame(c.reader, c.cfg.Limits)
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// IsTimeout reports whether err is a network deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
