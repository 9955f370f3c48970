package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoring/internal/protocol/frame"
)

type genOptions struct {
	count   int
	fields  []uint32
	minSize int
	maxSize int
	seed    uint64
}

func runGen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	count := fs.Int("count", 100, "number of frames")
	fields := fs.String("fields", "1", "comma-separated field ids, cycled")
	minSize := fs.Int("min-size", 0, "minimum payload size")
	maxSize := fs.Int("max-size", 256, "maximum payload size")
	seed := fs.Uint64("seed", 1, "payload PRNG seed")
	out := fs.String("out", "-", "output path (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids, err := parseFieldList(*fields)
	if err != nil {
		return err
	}
	opts := genOptions{count: *count, fields: ids, minSize: *minSize, maxSize: *maxSize, seed: *seed}
	if opts.count < 0 || opts.minSize < 0 || opts.maxSize < opts.minSize {
		return fmt.Errorf("gen: invalid sizes (count=%d min=%d max=%d)", opts.count, opts.minSize, opts.maxSize)
	}

	w := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := generate(w, opts)
	if err != nil {
		return err
	}
	log.Debug().Int("frames", opts.count).Int64("bytes", n).Str("out", *out).Msg("stream generated")
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func generate(w io.Writer, opts genOptions) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	limits := frame.Limits{MaxPayloadBytes: uint64(opts.maxSize)}

	payload := make([]byte, opts.maxSize)
	for i := 0; i < opts.count; i++ {
		size := opts.minSize
		if span := opts.maxSize - opts.minSize; span > 0 {
			size += rng.IntN(span + 1)
		}
		for j := 0; j < size; j++ {
			payload[j] = byte(rng.Uint32())
		}
		f := frame.Frame{FieldID: opts.fields[i%len(opts.fields)], Payload: payload[:size]}
		if err := frame.WriteFrame(bw, f, limits); err != nil {
			return cw.n, err
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func parseFieldList(raw string) ([]uint32, error) {
	var ids []uint32
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("gen: invalid field id %q", part)
		}
		ids = append(ids, uint32(id))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("gen: no field ids")
	}
	return ids, nil
}
