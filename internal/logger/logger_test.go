package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, "debug", normalizeLogLevel("DEBUG"))
	assert.Equal(t, "warn", normalizeLogLevel("  warn  "))
	assert.Equal(t, "info", normalizeLogLevel(""))
	assert.Equal(t, "info", normalizeLogLevel("verbose"))
}

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.Tracef("trace message")
	log.Debugf("debug message")
	log.Infof("info message")
	log.Warnf("warn message")
	log.Errorf("error message")

	out := buf.String()
	assert.NotContains(t, out, "trace message")
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestConsoleLoggerFormatsAndTimestamps(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	log.Infof("cycle %d finished in %s", 3, "45s")

	line := strings.TrimRight(buf.String(), "\n")
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] cycle 3 finished in 45s$`, line)
}

func TestConsoleLoggerNilWriter(t *testing.T) {
	log := NewConsoleLogger(nil, "info")
	assert.NotPanics(t, func() { log.Infof("goes nowhere") })
}

// recordingLogger captures every line for fan-out assertions.
type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) record(level, format string, args ...interface{}) {
	r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Tracef(format string, args ...interface{}) { r.record("trace", format, args...) }
func (r *recordingLogger) Debugf(format string, args ...interface{}) { r.record("debug", format, args...) }
func (r *recordingLogger) Infof(format string, args ...interface{})  { r.record("info", format, args...) }
func (r *recordingLogger) Warnf(format string, args ...interface{})  { r.record("warn", format, args...) }
func (r *recordingLogger) Errorf(format string, args ...interface{}) { r.record("error", format, args...) }

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Infof("hello %s", "world")
	multi.Errorf("boom")

	want := []string{"info: hello world", "error: boom"}
	assert.Equal(t, want, a.lines)
	assert.Equal(t, want, b.lines)
}

func TestFileLoggerWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewFileLogger(dir, "debug")
	require.NoError(t, err)

	log.Debugf("debug line %d", 1)
	log.Tracef("trace line is filtered")
	log.Errorf("error line")
	require.NoError(t, log.Close())

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[debug] debug line 1")
	assert.Contains(t, content, "[error] error line")
	assert.NotContains(t, content, "trace line")
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	log, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)
	require.NoError(t, log.Close())
	assert.NoError(t, log.Close())
	assert.NotPanics(t, func() { log.Infof("after close") })
}
