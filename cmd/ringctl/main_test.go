package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/protoring/internal/protocol/frame"
	"github.com/danmuck/protoring/internal/protocol/stream"
	"github.com/danmuck/protoring/internal/scan"
	"github.com/danmuck/protoring/internal/testutil/testlog"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run([]string{"frobnicate"}, &bytes.Buffer{})
	require.ErrorIs(t, err, errUsage)
	require.ErrorIs(t, run(nil, &bytes.Buffer{}), errUsage)
}

func TestGenerateIsDeterministicAndParses(t *testing.T) {
	opts := genOptions{count: 25, fields: []uint32{1, 7, 300}, minSize: 0, maxSize: 64, seed: 9}

	var a, b bytes.Buffer
	n, err := generate(&a, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(a.Len()), n)
	_, err = generate(&b, opts)
	require.NoError(t, err)
	require.Equal(t, a.Bytes(), b.Bytes())

	r := stream.NewReader(bytes.NewReader(a.Bytes()), stream.DefaultConfig())
	for i := 0; i < opts.count; i++ {
		msg, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, opts.fields[i%len(opts.fields)], msg.FieldID)
		assert.LessOrEqual(t, msg.Len(), opts.maxSize)
	}
}

func TestParseFieldList(t *testing.T) {
	ids, err := parseFieldList(" 1, 2,,40 ")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 40}, ids)

	_, err = parseFieldList("1,x")
	require.Error(t, err)
	_, err = parseFieldList(",")
	require.Error(t, err)
	_, err = parseFieldList("4294967296")
	require.Error(t, err)
}

func TestGenThenScanRoundTrip(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.bin")
	metrics := filepath.Join(dir, "ring.prom")

	require.NoError(t, run([]string{"gen", "-count", "12", "-fields", "3,4", "-max-size", "40", "-out", path}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, run([]string{"scan", "-chunk", "5", "-json", "-metrics", metrics, path}, &out))

	var rep scan.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, path, rep.Input)
	assert.Equal(t, uint64(12), rep.Messages)
	assert.Equal(t, uint64(6), rep.Fields[3].Messages)
	assert.Equal(t, uint64(6), rep.Fields[4].Messages)
	assert.Empty(t, rep.Error)

	text, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(text), "protoring_ring_messages_total")
}

func TestScanTextOutputUsesFieldNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "named.bin")
	cfgPath := filepath.Join(dir, "ringctl.toml")
	require.NoError(t, os.WriteFile(path, frame.AppendFrame(nil, frame.Frame{FieldID: 2, Payload: []byte("hi")}), 0o600))
	require.NoError(t, os.WriteFile(cfgPath, []byte("[fields]\n2 = \"event\"\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"scan", "-config", cfgPath, path}, &out))
	assert.Contains(t, out.String(), "1 messages, 2 payload bytes")
	assert.Contains(t, out.String(), "field event")
}

func TestScanFailsWhenAnyStreamIsRejected(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bin")
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(good, frame.AppendFrame(nil, frame.Frame{FieldID: 1, Payload: []byte("ok")}), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte{0x08, 0x01}, 0o600))

	var out bytes.Buffer
	err := run([]string{"scan", good, bad}, &out)
	require.ErrorIs(t, err, errStreamsFailed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], good+":"))
	assert.Contains(t, out.String(), "error:")
}

func TestScanRequiresInputs(t *testing.T) {
	require.Error(t, run([]string{"scan"}, &bytes.Buffer{}))
}

func TestScanKeepsEnvironmentLogLevelWithoutOverride(t *testing.T) {
	testlog.Start(t)
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	path := filepath.Join(t.TempDir(), "one.bin")
	require.NoError(t, os.WriteFile(path, frame.AppendFrame(nil, frame.Frame{FieldID: 1, Payload: []byte("x")}), 0o600))

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	require.NoError(t, run([]string{"scan", path}, &bytes.Buffer{}))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	require.NoError(t, run([]string{"scan", "-log-level", "error", path}, &bytes.Buffer{}))
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
