package gateway

import (
	"fmt"
	"strings"

	"github.com/danmuck/simlink/internal/protocol/frame"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/protocol/schema"
)

// encodeReplies renders replies as frames that fit limits. When any reply
// cannot be framed the whole reply becomes one ACK-ERROR, so the request
// is still answered exactly once. The returned error is that encode
// failure, for logging.
func encodeReplies(replies []message.Message, limits frame.Limits) ([]frame.Frame, error) {
	capacity := limits.PayloadCapacity()
	frames := make([]frame.Frame, 0, len(replies))
	for _, m := range replies {
		if ae, ok := m.(message.AckError); ok {
			m = message.AckError{Message: clampText(ae.Message, capacity)}
		}
		f, err := message.Encode(m)
		if err == nil && len(f.Payload) > capacity {
			err = fmt.Errorf("%w: %s %d > %d", frame.ErrPayloadTooLarge, m.Opcode(), len(f.Payload), capacity)
		}
		if err != nil {
			return []frame.Frame{errorFrame(err, capacity)}, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func errorFrame(err error, capacity int) frame.Frame {
	return frame.Frame{
		Opcode:  uint32(schema.OpAckError),
		Payload: []byte(clampText(err.Error(), capacity)),
	}
}

// clampText cuts s to at most n bytes without splitting a UTF-8 sequence.
func clampText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func outcomeOf(frames []frame.Frame) string {
	if len(frames) == 0 {
		return "partial"
	}
	if schema.Opcode(frames[0].Opcode) == schema.OpAckError {
		return "error"
	}
	return "ok"
}
