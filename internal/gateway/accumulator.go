package gateway

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/simlink/internal/observability"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Accumulator buffers telemetry between dispatch ticks. Append and Swap
// are its only touch points; the list is never iterated under the lock.
type Accumulator struct {
	mu      sync.Mutex
	items   []message.Telemetry
	limit   int
	dropped atomic.Uint64
}

func NewAccumulator(limit int) *Accumulator {
	return &Accumulator{limit: limit}
}

// Append adds one datagram. It returns false when the buffer is full.
func (a *Accumulator) Append(m message.Telemetry) bool {
	a.mu.Lock()
	if a.limit > 0 && len(a.items) >= a.limit {
		a.mu.Unlock()
		a.dropped.Add(1)
		return false
	}
	a.items = append(a.items, m)
	a.mu.Unlock()
	return true
}

// Swap moves every buffered datagram out and leaves the buffer empty.
func (a *Accumulator) Swap() []message.Telemetry {
	a.mu.Lock()
	items := a.items
	a.items = nil
	a.mu.Unlock()
	return items
}

func (a *Accumulator) Dropped() uint64 {
	return a.dropped.Load()
}

// Run receives datagrams from conn until ctx ends or conn is closed.
func (a *Accumulator) Run(ctx context.Context, conn *session.TelemetryConn, node string) error {
	for {
		m, from, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if session.IsTimeout(err) {
				continue
			}
			observability.RecordTelemetry(node, "in", "malformed", 1)
			log.Warn().Msgf("gateway.Accumulator.Run drop from=%v err=%v", from, err)
			continue
		}
		if !a.Append(m) {
			observability.RecordTelemetry(node, "in", "overflow", 1)
			continue
		}
		observability.RecordTelemetry(node, "in", "ok", 1)
	}
}
