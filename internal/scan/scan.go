// Package scan tokenizes many frame streams concurrently and summarizes them.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/protoring/internal/protocol/ring"
	"github.com/danmuck/protoring/internal/protocol/stream"
)

// Input names one stream and knows how to open it.
type Input struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileInput opens path, or stdin when path is "-".
func FileInput(path string) Input {
	return Input{
		Name: path,
		Open: func() (io.ReadCloser, error) {
			if path == "-" {
				return io.NopCloser(os.Stdin), nil
			}
			return os.Open(path)
		},
	}
}

// FieldStats aggregates messages sharing one field id.
type FieldStats struct {
	Messages     uint64 `json:"messages"`
	PayloadBytes uint64 `json:"payload_bytes"`
	MaxPayload   int    `json:"max_payload"`
}

// Report summarizes one input. Err holds stream-level failures (framing or
// truncation); such inputs are reported, not aborted on.
type Report struct {
	Input        string                `json:"input"`
	StreamBytes  uint64                `json:"stream_bytes"`
	Messages     uint64                `json:"messages"`
	PayloadBytes uint64                `json:"payload_bytes"`
	Fields       map[uint32]FieldStats `json:"fields"`
	Error        string                `json:"error,omitempty"`
	Err          error                 `json:"-"`
}

// FieldIDs returns the ids seen, ascending.
func (r Report) FieldIDs() []uint32 {
	ids := make([]uint32, 0, len(r.Fields))
	for id := range r.Fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Report) Failed() bool { return r.Err != nil }

type Options struct {
	Stream  stream.Config
	Workers int
	// Observer, when set, supplies a per-input ring observer.
	Observer func(input string) ring.Observer
}

// Run scans every input with at most Workers in flight. Reports come back in
// input order. I/O errors and cancellation abort the run; framing failures
// only mark the affected report.
func Run(ctx context.Context, inputs []Input, opts Options) ([]Report, error) {
	reports := make([]Report, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, in := range inputs {
		g.Go(func() error {
			rep, err := scanOne(ctx, in, opts)
			if err != nil {
				return fmt.Errorf("scan %s: %w", in.Name, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func scanOne(ctx context.Context, in Input, opts Options) (Report, error) {
	rc, err := in.Open()
	if err != nil {
		return Report{}, err
	}
	defer rc.Close()

	cfg := opts.Stream
	if opts.Observer != nil {
		cfg.Ring.Observer = opts.Observer(in.Name)
	}
	r := stream.NewReader(rc, cfg)

	rep := Report{Input: in.Name, Fields: make(map[uint32]FieldStats)}
	err = r.Each(ctx, func(msg ring.Message) error {
		fs := rep.Fields[msg.FieldID]
		fs.Messages++
		fs.PayloadBytes += uint64(msg.Len())
		fs.MaxPayload = max(fs.MaxPayload, msg.Len())
		rep.Fields[msg.FieldID] = fs
		rep.Messages++
		rep.PayloadBytes += uint64(msg.Len())
		return nil
	})
	rep.StreamBytes = r.Stats().Bytes

	switch {
	case err == nil:
	case errors.Is(err, stream.ErrFramingFailed), errors.Is(err, stream.ErrTruncatedStream):
		rep.Err = err
		rep.Error = err.Error()
	default:
		return Report{}, err
	}

	log.Debug().
		Str("input", in.Name).
		Uint64("messages", rep.Messages).
		Uint64("bytes", rep.StreamBytes).
		Bool("failed", rep.Failed()).
		Msg("scan finished")
	return rep, nil
}
