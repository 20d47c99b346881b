package logger

import (
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured tool output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig describes the daemon's structured logger.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool
	TimeStamps bool
	Source     bool
}

// FileConfig describes where captured preview-tool output goes.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<session>.stdout.log and Dir/<session>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory for captured output
	StdoutPath string // explicit stdout path overrides Dir
	StderrPath string // explicit stderr path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Config bundles structured logging and tool-output capture.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// NewSlogger builds the daemon logger from the Slog section.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Slog.Level.slogLevel(), AddSource: c.Slog.Source}
	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(os.Stdout, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(os.Stdout, opts, c.Slog.TimeStamps)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// SessionWriters returns io.WriteClosers capturing the preview tool's stdout
// and stderr for one session. Returns nil writers when neither Dir nor an
// explicit path is configured. The key may be a document path; unsafe runes
// are folded into a stable file-name form.
func (c Config) SessionWriters(key string) (io.WriteCloser, io.WriteCloser, error) {
	name := sessionFileName(key)
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, name+".stdout.log")
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, name+".stderr.log")
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotator(stdout)
	}
	if stderr != "" {
		errW = c.File.rotator(stderr)
	}
	return outW, errW, nil
}

// NewSessionLogger returns a structured logger whose records land in the
// session's captured stdout file, or nil when capture is not configured.
func (c Config) NewSessionLogger(key string) *slog.Logger {
	outW, _, err := c.SessionWriters(key)
	if err != nil || outW == nil {
		return nil
	}
	return slog.New(slog.NewTextHandler(outW, &slog.HandlerOptions{Level: c.Slog.Level.slogLevel()}))
}

func (f FileConfig) rotator(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func (l Level) slogLevel() slog.Level {
	switch strings.ToLower(string(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// sessionFileName maps a session key to a file-name-safe form. Plain names
// pass through; path-like keys become <base>-<fnv32> so distinct documents
// with the same base name do not collide.
func sessionFileName(key string) string {
	if key == "" {
		return "session"
	}
	if isPlainName(key) {
		return key
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	base := []rune(filepath.Base(key))
	for i, r := range base {
		if !safeRune(r) {
			base[i] = '-'
		}
	}
	return fmt.Sprintf("%s-%08x", string(base), h.Sum32())
}

func isPlainName(s string) bool {
	for _, r := range s {
		if !safeRune(r) {
			return false
		}
	}
	return true
}

func safeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
