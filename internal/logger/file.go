package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// flushInterval is how long buffered lines may sit in memory before
// being written out.
const flushInterval = 100 * time.Millisecond

// FileLogger writes leveled messages to daily log files named
// YYYY-MM-DD.log under a log directory. Lines are buffered and flushed
// on a short interval; Close flushes any remainder.
type FileLogger struct {
	logDir   string
	logLevel string

	mu      sync.Mutex
	buf     bytes.Buffer
	curDay  string
	file    *os.File
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileLogger creates a FileLogger writing under logDir, creating the
// directory if needed.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		logLevel: normalizeLogLevel(logLevel),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go fl.flushLoop()
	return fl, nil
}

func (fl *FileLogger) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	defer close(fl.doneCh)

	for {
		select {
		case <-ticker.C:
			fl.Flush()
		case <-fl.stopCh:
			fl.Flush()
			return
		}
	}
}

// Flush writes any buffered lines to the current day's file.
func (fl *FileLogger) Flush() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.flushLocked()
}

func (fl *FileLogger) flushLocked() {
	if fl.buf.Len() == 0 {
		return
	}
	if err := fl.ensureFileLocked(); err != nil {
		// Drop the buffer rather than grow without bound.
		fl.buf.Reset()
		return
	}
	fl.file.Write(fl.buf.Bytes())
	fl.buf.Reset()
}

// ensureFileLocked opens (or rolls over) the file for today's date.
func (fl *FileLogger) ensureFileLocked() error {
	day := time.Now().Format("2006-01-02")
	if fl.file != nil && fl.curDay == day {
		return nil
	}
	if fl.file != nil {
		fl.file.Close()
		fl.file = nil
	}
	path := filepath.Join(fl.logDir, day+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	fl.file = file
	fl.curDay = day
	return nil
}

func (fl *FileLogger) log(level, format string, args ...interface{}) {
	if logLevelToInt(level) < logLevelToInt(fl.logLevel) {
		return
	}

	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, message)

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return
	}
	fl.buf.WriteString(line)
}

// Close flushes remaining lines and releases the file handle.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	if fl.closed {
		fl.mu.Unlock()
		return nil
	}
	fl.closed = true
	fl.mu.Unlock()

	close(fl.stopCh)
	<-fl.doneCh

	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.flushLocked()
	if fl.file != nil {
		err := fl.file.Close()
		fl.file = nil
		return err
	}
	return nil
}

// Tracef logs at trace level.
func (fl *FileLogger) Tracef(format string, args ...interface{}) {
	fl.log("trace", format, args...)
}

// Debugf logs at debug level.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.log("debug", format, args...)
}

// Infof logs at info level.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.log("info", format, args...)
}

// Warnf logs at warn level.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.log("warn", format, args...)
}

// Errorf logs at error level.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.log("error", format, args...)
}
