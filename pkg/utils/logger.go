package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RotatableLogger writes to a file and rotates it when it reaches a certain size.
type RotatableLogger struct {
	Filename   string
	MaxSize    int64 // bytes
	MaxBackups int
	file       *os.File
	mu         sync.Mutex
}

// NewRotatableLogger creates a new RotatableLogger.
func NewRotatableLogger(filename string, maxSize int64, maxBackups int) *RotatableLogger {
	return &RotatableLogger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
}

func (l *RotatableLogger) open() error {
	file, err := os.OpenFile(l.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	return nil
}

func (l *RotatableLogger) close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *RotatableLogger) rotate() error {
	if err := l.close(); err != nil {
		return err
	}

	for i := l.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.Filename, i)
		newPath := fmt.Sprintf("%s.%d", l.Filename, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	if l.MaxBackups > 0 {
		_ = os.Rename(l.Filename, fmt.Sprintf("%s.1", l.Filename))
	}

	return l.open()
}

func (l *RotatableLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.open(); err != nil {
			// Fallback to stderr if file open fails
			return os.Stderr.Write(p)
		}
	}

	info, err := l.file.Stat()
	if err == nil && info.Size() > l.MaxSize {
		if err := l.rotate(); err != nil {
			return 0, err
		}
	}

	return l.file.Write(p)
}

// Close releases the underlying file.
func (l *RotatableLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.close()
}

// SetupLogger builds the process logger: console output on stderr plus a
// rotated JSON log under logDir. An empty logDir logs to stderr only.
func SetupLogger(logDir, level, appEnv string) zerolog.Logger {
	var console io.Writer = os.Stderr
	if appEnv == "development" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	out := console
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			// 10MB limit, 5 backups
			file := NewRotatableLogger(filepath.Join(logDir, "mediabot.log"), 10*1024*1024, 5)
			out = zerolog.MultiLevelWriter(console, file)
		}
	}

	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
