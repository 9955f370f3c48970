// Package stream adapts an io.Reader carrying a length-delimited frame stream
// to the ring tokenizer.
//
// Reader.Next hands out owned copies, buffering every message a single chunk
// unblocks. Reader.Each is the zero-copy path: the callback sees views into the
// ring buffer that die when it returns.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoring/internal/protocol/ring"
)

const DefaultChunkSize = 32 * 1024

var (
	ErrFramingFailed   = errors.New("stream: framing failed")
	ErrTruncatedStream = errors.New("stream: truncated stream")
)

type Config struct {
	ChunkSize int
	Ring      ring.Config
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Ring:      ring.DefaultConfig(),
	}
}

// Stats counts what a Reader has pulled from its source.
type Stats struct {
	Chunks   uint64
	Bytes    uint64
	Messages uint64
}

// Reader is owned by one goroutine, like the ring.Buffer it wraps.
type Reader struct {
	src     io.Reader
	rb      *ring.Buffer
	chunk   []byte
	pending deque.Deque[ring.Message]
	srcErr  error // held until the ring is drained
	err     error
	stats   Stats
	log     zerolog.Logger
}

func NewReader(src io.Reader, cfg Config) *Reader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Reader{
		src:   src,
		rb:    ring.New(cfg.Ring),
		chunk: make([]byte, cfg.ChunkSize),
		log:   logger.With().Str("component", "stream").Logger(),
	}
}

// Next returns the next message with caller-owned Data. It returns io.EOF
// after the last complete frame of a cleanly terminated stream,
// ErrTruncatedStream when the source ends mid-frame, and ErrFramingFailed
// once the tokenizer rejects the stream. Messages decoded before a failure
// are still delivered first.
func (r *Reader) Next() (ring.Message, error) {
	for r.pending.Len() == 0 {
		if r.err != nil {
			return ring.Message{}, r.err
		}
		if err := r.step(r.enqueue); err != nil {
			return ring.Message{}, err
		}
	}
	return r.pending.PopFront(), nil
}

// Each calls fn for every remaining message until the source is exhausted,
// fn returns an error, or ctx is done. Message Data passed to fn is only valid
// for the duration of the call. A cleanly terminated stream returns nil.
// After fn fails, a later Next or Each resumes with the following message.
func (r *Reader) Each(ctx context.Context, fn func(ring.Message) error) error {
	for r.pending.Len() > 0 {
		if err := fn(r.pending.PopFront()); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				return nil
			}
			return r.err
		}
		if err := r.step(fn); err != nil {
			return err
		}
	}
}

func (r *Reader) Stats() Stats { return r.stats }

// Pending returns the number of buffered bytes not yet part of a message.
func (r *Reader) Pending() int { return r.rb.Len() }

// Offset returns the stream offset just past the last extracted frame.
func (r *Reader) Offset() uint64 { return r.rb.Consumed() }

func (r *Reader) enqueue(m ring.Message) error {
	r.pending.PushBack(m.Clone())
	return nil
}

// step drains complete frames left in the ring, then performs one read from
// the source. A source error is only classified once the ring is drained. The
// returned error comes from fn; stream-level failures land in r.err.
func (r *Reader) step(fn func(ring.Message) error) error {
	if err := r.drain(fn); err != nil {
		return err
	}
	if r.err != nil {
		return nil
	}
	if r.srcErr != nil {
		r.finish(r.srcErr)
		return nil
	}

	n, readErr := r.src.Read(r.chunk)
	if n > 0 {
		r.stats.Chunks++
		r.stats.Bytes += uint64(n)
		r.rb.Append(r.chunk[:n])
	}
	r.srcErr = readErr
	return nil
}

func (r *Reader) drain(fn func(ring.Message) error) error {
	for {
		msg := r.rb.ReadMessage()
		if !msg.Valid() {
			if msg.Fatal && r.err == nil {
				r.err = fmt.Errorf("%w: %w", ErrFramingFailed, r.rb.Err())
				r.log.Warn().Err(r.rb.Err()).Uint64("offset", r.rb.Consumed()).Msg("stream rejected")
			}
			return nil
		}
		r.stats.Messages++
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (r *Reader) finish(readErr error) {
	if !errors.Is(readErr, io.EOF) {
		r.err = fmt.Errorf("stream: read: %w", readErr)
		return
	}
	if pending := r.rb.Len(); pending > 0 {
		r.err = fmt.Errorf("%w: %d bytes pending at offset %d", ErrTruncatedStream, pending, r.rb.Consumed())
		r.log.Debug().Int("pending", pending).Msg("source ended inside a frame")
		return
	}
	r.err = io.EOF
}
