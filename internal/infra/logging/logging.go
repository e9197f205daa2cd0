// Package logging builds the process logger: logrus with a compact line
// formatter, optionally teeing into a size-rotated file.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/coachpo/asxtrader/internal/infra/config"
)

// Formatter renders entries as
//
//	[2026-10-17 09:30:00] [req-id] [info ] [connection.go:120] message key=value ...
//
// Known fields come first in a fixed order, the rest sorted.
type Formatter struct{}

var fieldOrder = []string{"component", "mode", "state", "account", "method", "path", "status", "attempt", "error"}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), reqID, level)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	seen := map[string]bool{"request_id": true}
	for _, k := range fieldOrder {
		if v, ok := entry.Data[k]; ok {
			fmt.Fprintf(buffer, " %s=%v", k, v)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

// New returns a logger configured from cfg, writing to stderr. The returned
// close func releases the rotated file if one was opened.
func New(cfg config.LoggingConfig) (*logrus.Logger, func() error, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, console io.Writer) (*logrus.Logger, func() error, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&Formatter{})
	logger.SetReportCaller(true)
	logger.SetOutput(console)

	closer := func() error { return nil }
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: create log directory: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(io.MultiWriter(console, rotated))
		closer = rotated.Close
	}
	return logger, closer, nil
}
