// Package ring tokenizes a boundary-agnostic byte stream into length-delimited
// protobuf-style frames.
//
// The stream is a sequence of [tag varint][length varint][payload] frames. The
// transport delivers it in order and without loss, but chunks need not line up
// with frame boundaries: one Append may carry half a header, several frames,
// or the tail of one frame and the head of the next.
//
// Expected usage:
//
//	rb.Append(chunk)
//	for {
//		msg := rb.ReadMessage()
//		if !msg.Valid() {
//			break
//		}
//		decode(msg.Data)
//	}
//
// Internally the buffer never wraps. The read cursor usually chases the write
// cursor all the way, in which case both reset to zero on the next Append.
// When the tail runs out of room the live bytes are first shifted down over
// the consumed prefix, and only if that is not enough is the buffer expanded.
// A single frame is at most MaxMessageSize, so expansion is bounded by twice
// that plus one growth quantum.
package ring

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/protoring/internal/protocol/frame"
)

const (
	MaxMessageSize         = frame.DefaultMaxPayloadBytes
	DefaultInitialCapacity = 4 * 1024

	growQuantum = 4 * 1024
)

var ErrCapacityOverflow = errors.New("ring: capacity overflow")

// Observer receives buffer-management and extraction events. Calls happen
// synchronously on the owner's goroutine.
type Observer interface {
	Appended(n int)
	Extracted(fieldID uint32, payloadLen int)
	Compacted(moved int)
	Grew(oldCap, newCap int)
	Failed(err error)
}

// Config controls the initial allocation and the framing limit.
type Config struct {
	InitialCapacity int
	MaxMessageSize  int
	Observer        Observer
}

func DefaultConfig() Config {
	return Config{
		InitialCapacity: DefaultInitialCapacity,
		MaxMessageSize:  MaxMessageSize,
	}
}

// Buffer is the tokenizer. It is not safe for concurrent use: one owner
// appends and reads, strictly interleaved.
type Buffer struct {
	buf    []byte
	rd     int // first unconsumed byte
	wr     int // first free byte
	limits frame.Limits
	obs    Observer

	// Header of the frame at rd when its payload is still incomplete.
	// Offsets are relative to rd, so compaction and growth keep it valid.
	cached    frame.Header
	hasCached bool

	failed bool
	err    error

	consumed uint64 // stream offset of rd
	gen      uint64
}

func New(cfg Config) *Buffer {
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = MaxMessageSize
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Buffer{
		buf:    make([]byte, cfg.InitialCapacity),
		limits: frame.Limits{MaxPayloadBytes: uint64(cfg.MaxMessageSize)},
		obs:    obs,
	}
}

func NewDefault() *Buffer {
	return New(DefaultConfig())
}

// Append copies data into the buffer, recompacting or expanding it if needed.
// It invalidates every Message previously returned by ReadMessage.
func (b *Buffer) Append(data []byte) {
	b.gen++
	if b.failed {
		return
	}

	// Everything buffered was consumed: restart at the front instead of
	// ringing forward. This is the common case.
	if b.rd == b.wr {
		b.rd, b.wr = 0, 0
	}
	if len(data) == 0 {
		return
	}

	if len(data) > len(b.buf)-b.wr {
		// Compact only if shifting alone makes room.
		if b.rd > 0 && len(data) <= len(b.buf)-(b.wr-b.rd) {
			b.compact()
		} else {
			b.growTo(len(data))
		}
	}
	b.wr += copy(b.buf[b.wr:], data)
	b.obs.Appended(len(data))
}

// ReadMessage returns the next complete frame's payload and advances past it.
// It returns an invalid Message when more bytes are needed, and an invalid
// Message with Fatal set once the stream has failed framing; the failure is
// permanent. The returned Data aliases the buffer and is only valid until the
// next Append or ReadMessage.
func (b *Buffer) ReadMessage() Message {
	b.gen++
	if b.failed {
		return Message{Fatal: true, gen: b.gen}
	}
	if b.rd == b.wr {
		return Message{gen: b.gen}
	}

	live := b.buf[b.rd:b.wr]
	h := b.cached
	if !b.hasCached {
		var err error
		h, err = frame.ParseHeader(live, b.limits)
		if err != nil {
			if frame.IsFatal(err) {
				b.fail(err)
				return Message{Fatal: true, gen: b.gen}
			}
			return Message{gen: b.gen}
		}
	}

	if h.FrameLen() > uint64(len(live)) {
		b.cached, b.hasCached = h, true
		return Message{gen: b.gen}
	}

	start := b.rd + h.Len
	end := start + int(h.PayloadLen)
	b.rd = end
	b.consumed += h.FrameLen()
	b.hasCached = false
	b.obs.Extracted(h.FieldID, int(h.PayloadLen))

	return Message{
		Data:    b.buf[start:end:end],
		FieldID: h.FieldID,
		valid:   true,
		gen:     b.gen,
	}
}

// Stale reports whether m was invalidated by a later Append or ReadMessage.
func (b *Buffer) Stale(m Message) bool {
	return m.gen != b.gen
}

// Cap returns the size of the backing allocation.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of buffered, unconsumed bytes.
func (b *Buffer) Len() int { return b.wr - b.rd }

// Avail returns how many bytes could be buffered without expanding.
func (b *Buffer) Avail() int { return len(b.buf) - (b.wr - b.rd) }

// Consumed returns the stream offset of the read cursor.
func (b *Buffer) Consumed() uint64 { return b.consumed }

func (b *Buffer) Failed() bool { return b.failed }

// Err returns the framing failure that disabled the buffer, if any.
func (b *Buffer) Err() error { return b.err }

func (b *Buffer) fail(cause error) {
	b.failed = true
	b.hasCached = false
	b.err = fmt.Errorf("ring: framing failure at stream offset %d: %w", b.consumed, cause)
	b.obs.Failed(b.err)
}

// compact moves [rd, wr) down to offset zero.
func (b *Buffer) compact() {
	moved := copy(b.buf, b.buf[b.rd:b.wr])
	b.wr = moved
	b.rd = 0
	b.obs.Compacted(moved)
}

// growTo reallocates so that at least minFree bytes follow the live data.
func (b *Buffer) growTo(minFree int) {
	live := b.wr - b.rd
	if minFree > math.MaxInt-live {
		panic(ErrCapacityOverflow)
	}
	need := live + minFree

	oldCap := len(b.buf)
	newCap := need
	if oldCap <= math.MaxInt/2 && 2*oldCap > newCap {
		newCap = 2 * oldCap
	}
	if newCap <= math.MaxInt-growQuantum {
		newCap = (newCap + growQuantum - 1) / growQuantum * growQuantum
	}
	if limit := b.capLimit(); newCap > limit {
		newCap = max(need, limit)
	}

	nb := make([]byte, newCap)
	copy(nb, b.buf[b.rd:b.wr])
	b.buf = nb
	b.rd, b.wr = 0, live
	b.obs.Grew(oldCap, newCap)
}

// capLimit is the most a well-behaved stream ever needs: one maximal frame
// in flight plus the tail of the previous one.
func (b *Buffer) capLimit() int {
	maxMsg := b.limits.MaxPayloadBytes
	if maxMsg > (math.MaxInt-growQuantum-2*frame.MaxHeaderLen)/2 {
		return math.MaxInt
	}
	return 2*(int(maxMsg)+frame.MaxHeaderLen) + growQuantum
}

type nopObserver struct{}

func (nopObserver) Appended(int)          {}
func (nopObserver) Extracted(uint32, int) {}
func (nopObserver) Compacted(int)         {}
func (nopObserver) Grew(int, int)         {}
func (nopObserver) Failed(error)          {}
