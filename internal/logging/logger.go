// Package logging configures the shared logrus logger: a compact text
// formatter for the terminal, optional rotated file output, and a debug
// toggle.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Formatter renders log entries as
// [2026-01-12 20:14:04] [debug] [client.go:132] message.
type Formatter struct{}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%-5s] [%s:%d] %s\n", timestamp, level,
			filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		fmt.Fprintf(buffer, "[%s] [%-5s] %s\n", timestamp, level, message)
	}

	return buffer.Bytes(), nil
}

// Setup initializes the global logger. When logFile is non-empty, output is
// mirrored to a size-rotated file alongside stderr. Safe to call more than
// once; only the first call takes effect.
func Setup(debug bool, logFile string) {
	setupOnce.Do(func() {
		log.SetFormatter(&Formatter{})
		log.SetReportCaller(debug)

		level := log.InfoLevel
		if debug {
			level = log.DebugLevel
		}
		log.SetLevel(level)

		var out io.Writer = os.Stderr
		if logFile != "" {
			rotated := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			out = io.MultiWriter(os.Stderr, rotated)
		}
		log.SetOutput(out)
	})
}
