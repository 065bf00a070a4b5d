// Package obs adapts the teacher's hand-rolled, multi-sink Logger
// (cmd/auctiond/logger.go: console + file + audit, level-gated) onto
// zerolog, which is already pulled in as an indirect dependency of the
// teacher's own go.mod (via gnark's internal logger) and is promoted to a
// direct dependency here.
package obs

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the teacher's LogLevel enum (DEBUG/INFO/WARN/ERROR/FATAL).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger fans writes out to a console sink, an append-mode file sink (never
// rotated), and an append-only audit sink, exactly as the teacher's Logger
// does, but backed by zerolog's structured writers instead of hand-rolled
// *log.Logger instances.
type Logger struct {
	console zerolog.Logger
	file    zerolog.Logger
	audit   zerolog.Logger
}

// New builds a Logger at the given minimum level, writing the file sink to
// logFile and the audit sink to auditFile (both created/appended, 0644).
func New(level Level, logFile, auditFile string) (*Logger, error) {
	zerolog.SetGlobalLevel(level.zerolog())

	var consoleWriter io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		consoleWriter = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	console := zerolog.New(consoleWriter).Level(level.zerolog()).With().Timestamp().Logger()

	fileHandle, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	file := zerolog.New(fileHandle).Level(level.zerolog()).With().Timestamp().Logger()

	auditHandle, err := os.OpenFile(auditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	audit := zerolog.New(auditHandle).With().Timestamp().Logger()

	l := &Logger{console: console, file: file, audit: audit}
	log.Logger = console // installs this logger as the package-level default
	return l, nil
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.emit(zerolog.ErrorLevel, msg, fields) }

// Fatal logs at fatal level on every sink and then terminates the process,
// matching the teacher's Fatal behavior (used only at startup, never
// mid-request — spec.md §7 distinguishes fatal-to-start from
// fatal-to-request).
func (l *Logger) Fatal(msg string, fields map[string]any) {
	l.emit(zerolog.FatalLevel, msg, fields)
	os.Exit(1)
}

// Audit records a privacy/security-relevant event (e.g. treasury fallback
// warning, checksum failure) to the audit sink only, independent of the
// configured minimum level.
func (l *Logger) Audit(msg string, fields map[string]any) {
	ev := l.audit.Log()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *Logger) emit(level zerolog.Level, msg string, fields map[string]any) {
	for _, sink := range []*zerolog.Logger{&l.console, &l.file} {
		ev := sink.WithLevel(level)
		for k, v := range fields {
			ev = ev.Interface(k, v)
		}
		ev.Msg(msg)
	}
}
