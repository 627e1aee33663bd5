package chunk

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrBadCapacity    = errors.New("chunk: capacity must be positive")
	ErrHeaderMismatch = errors.New("chunk: header fields inconsistent")
	ErrChunkCount     = errors.New("chunk: unexpected number of chunks")
	ErrChunkSize      = errors.New("chunk: unexpected chunk size")
	ErrItemTooLarge   = errors.New("chunk: item larger than frame capacity")
	ErrNegativeCount  = errors.New("chunk: negative item count")
	ErrTooManyItems   = errors.New("chunk: item count exceeds int32")
)

// Header precedes every "get N items" reply.
type Header struct {
	Total    int32
	Frames   int32
	PerFrame int32
	Last     int32
}

// Plan computes the header for n items at perFrame items per frame.
// n == 0 yields zero follow-on frames and Last == 0.
func Plan(n, perFrame int) (Header, error) {
	if perFrame <= 0 {
		return Header{}, ErrBadCapacity
	}
	if n < 0 {
		return Header{}, ErrNegativeCount
	}
	if n > math.MaxInt32 {
		return Header{}, ErrTooManyItems
	}
	frames := FrameCount(n, perFrame)
	last := 0
	if frames > 0 {
		last = n - perFrame*(frames-1)
	}
	return Header{Total: int32(n), Frames: int32(frames), PerFrame: int32(perFrame), Last: int32(last)}, nil
}

// Validate checks that the four fields agree with each other.
func (h Header) Validate() error {
	if h.PerFrame <= 0 || h.Total < 0 {
		return fmt.Errorf("%w: %+v", ErrHeaderMismatch, h)
	}
	want, err := Plan(int(h.Total), int(h.PerFrame))
	if err != nil {
		return err
	}
	if want != h {
		return fmt.Errorf("%w: got %+v want %+v", ErrHeaderMismatch, h, want)
	}
	return nil
}

// Ints renders the header as the wire int array.
func (h Header) Ints() []int32 {
	return []int32{h.Total, h.Frames, h.PerFrame, h.Last}
}

func HeaderFromInts(v []int32) (Header, error) {
	if len(v) != 4 {
		return Header{}, fmt.Errorf("%w: %d fields", ErrHeaderMismatch, len(v))
	}
	h := Header{Total: v[0], Frames: v[1], PerFrame: v[2], Last: v[3]}
	return h, h.Validate()
}

// ExpectedSize returns the item count frame i (0-based) must carry.
func (h Header) ExpectedSize(i int) int {
	if i == int(h.Frames)-1 {
		return int(h.Last)
	}
	return int(h.PerFrame)
}

// FrameCount is ceil(n/perFrame).
func FrameCount(n, perFrame int) int {
	if n <= 0 || perFrame <= 0 {
		return 0
	}
	return (n + perFrame - 1) / perFrame
}

// PerFrame is how many fixed-size items fit in capacity bytes.
func PerFrame(itemSize, capacity int) (int, error) {
	if itemSize <= 0 || capacity <= 0 {
		return 0, ErrBadCapacity
	}
	if itemSize > capacity {
		return 0, ErrItemTooLarge
	}
	return capacity / itemSize, nil
}

// Split cuts items into consecutive chunks of perFrame. The final chunk
// may be partial; there is never an empty trailing chunk.
func Split[T any](items []T, perFrame int) ([][]T, error) {
	if perFrame <= 0 {
		return nil, ErrBadCapacity
	}
	out := make([][]T, 0, FrameCount(len(items), perFrame))
	for start := 0; start < len(items); start += perFrame {
		end := min(start+perFrame, len(items))
		out = append(out, items[start:end])
	}
	return out, nil
}

// Join reassembles chunks and checks them against h.
func Join[T any](h Header, chunks [][]T) ([]T, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(chunks) != int(h.Frames) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrChunkCount, len(chunks), h.Frames)
	}
	out := make([]T, 0, h.Total)
	for i, c := range chunks {
		if len(c) != h.ExpectedSize(i) {
			return nil, fmt.Errorf("%w: chunk %d has %d items want %d", ErrChunkSize, i, len(c), h.ExpectedSize(i))
		}
		out = append(out, c...)
	}
	return out, nil
}

// SplitBytes cuts b into ceil(len(b)/capacity) parts whose concatenation
// is b.
func SplitBytes(b []byte, capacity int) ([][]byte, error) {
	return Split(b, capacity)
}
