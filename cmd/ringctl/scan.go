package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoring/internal/config"
	"github.com/danmuck/protoring/internal/logging"
	"github.com/danmuck/protoring/internal/observability"
	"github.com/danmuck/protoring/internal/scan"
)

var errStreamsFailed = errors.New("one or more streams failed framing")

func runScan(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML scan config (defaults apply when empty)")
	chunk := fs.Int("chunk", 0, "read chunk size in bytes (overrides config)")
	workers := fs.Int("workers", 0, "inputs scanned concurrently (overrides config)")
	asJSON := fs.Bool("json", false, "emit reports as JSON lines")
	metricsPath := fs.String("metrics", "", "write prometheus text metrics to this file")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("scan: no inputs (use - for stdin)")
	}

	cfg := config.DefaultScanConfig()
	if *configPath != "" {
		loaded, err := config.LoadScanConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *chunk > 0 {
		cfg.ChunkSize = *chunk
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := config.ValidateScanConfig(cfg); err != nil {
		return err
	}

	observability.InitLogger("ringctl")
	logging.SetLevel(cfg.LogLevel)

	inputs := make([]scan.Input, 0, fs.NArg())
	for _, path := range fs.Args() {
		inputs = append(inputs, scan.FileInput(path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reports, err := scan.Run(ctx, inputs, scan.Options{
		Stream:   cfg.StreamConfig(),
		Workers:  cfg.Workers,
		Observer: observability.RingObserver,
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, rep := range reports {
		if rep.Failed() {
			failed++
			log.Warn().Str("input", rep.Input).Err(rep.Err).Msg("stream failed")
		}
		if err := writeReport(stdout, rep, cfg, *asJSON); err != nil {
			return err
		}
	}

	if *metricsPath != "" {
		if err := observability.WriteMetrics(*metricsPath); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		log.Info().Str("path", *metricsPath).Msg("metrics written")
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errStreamsFailed, failed, len(reports))
	}
	return nil
}

func writeReport(w io.Writer, rep scan.Report, cfg config.ScanConfig, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(rep)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d messages, %d payload bytes, %d stream bytes\n",
		rep.Input, rep.Messages, rep.PayloadBytes, rep.StreamBytes)
	for _, id := range rep.FieldIDs() {
		fs := rep.Fields[id]
		fmt.Fprintf(&b, "  field %s: %d messages, %d bytes, max %d\n",
			cfg.FieldName(id), fs.Messages, fs.PayloadBytes, fs.MaxPayload)
	}
	if rep.Failed() {
		fmt.Fprintf(&b, "  error: %s\n", rep.Error)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
