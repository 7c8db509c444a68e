package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02 15:04:05"

// LogOptions configures file output and rotation.
type LogOptions struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stdout mirrors log lines to standard output.
	Stdout bool
}

// Logger writes timestamped lines to a rotated log file.
type Logger struct {
	entry  *logrus.Entry
	writer *lumberjack.Logger
}

// NewLogger opens logFile for appending with default rotation settings.
// An empty path logs to stdout only.
func NewLogger(logFile string) *Logger {
	return NewLoggerWithOptions(LogOptions{File: logFile, Level: "info", MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 28})
}

// NewLoggerWithOptions builds a logger from explicit options.
func NewLoggerWithOptions(opts LogOptions) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		DisableColors:   true,
	})
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(opts.Level)); err == nil {
		base.SetLevel(lvl)
	}

	l := &Logger{}
	var outputs []io.Writer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "%s: error creating log directory (%s): %v\n", timestampNow(), opts.File, err)
		} else {
			l.writer = &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			}
			outputs = append(outputs, l.writer)
		}
	}
	if opts.Stdout || len(outputs) == 0 {
		outputs = append(outputs, os.Stdout)
	}
	base.SetOutput(io.MultiWriter(outputs...))
	l.entry = logrus.NewEntry(base)
	return l
}

// NewDiscardLogger returns a logger that drops everything; used by tests.
func NewDiscardLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

func timestampNow() string {
	return time.Now().Format(timestampFormat)
}

// Write appends a message at info level.
func (l *Logger) Write(message string) {
	if l == nil {
		return
	}
	l.entry.Info(message)
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Errorf(format, args...)
}

// WithFields returns a child logger carrying structured context.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{entry: l.entry.WithFields(fields), writer: l.writer}
}

// SetLevel changes the level of the underlying logger and all its children.
func (l *Logger) SetLevel(level logrus.Level) {
	if l == nil {
		return
	}
	l.entry.Logger.SetLevel(level)
}

// Entry exposes the logrus entry for libraries that take one.
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

// LogPipe logs every line read from pipe at the given level until EOF.
func (l *Logger) LogPipe(pipe io.Reader, level logrus.Level) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		if l != nil {
			l.entry.Log(level, scanner.Text())
		}
	}
}

// Close flushes and closes the rotated file.
func (l *Logger) Close() {
	if l != nil && l.writer != nil {
		_ = l.writer.Close()
	}
}

// File returns the active log file path, or "" when logging to stdout.
func (l *Logger) File() string {
	if l == nil || l.writer == nil {
		return ""
	}
	return l.writer.Filename
}
