// Package filestorlog is a thin structured-logging wrapper, built the way
// go-ethereum's own log package is: a key/value logger that colors
// terminal output when the attached stream is a real TTY and writes plain
// text otherwise, with NewFileLogger for output rotated through a file and
// AsSlogHandler to expose a Logger as a log/slog handler.
package filestorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface call sites use; it matches the key/value call
// shape (log.Warn("message", "key", val, ...)) used throughout the
// teacher's codebase.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	// Crit logs at the highest level and then terminates the process. It
	// is reserved for invariant violations (double release, unknown
	// stripe index) per spec.md §7 — programming errors, not expected
	// conditions.
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

// Level is the minimum severity a Logger will emit.
type Level int

const (
	levelTrace Level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelCrit
)

var levelNames = map[Level]string{
	levelTrace: "TRACE",
	levelDebug: "DBUG",
	levelInfo:  "INFO",
	levelWarn:  "WARN",
	levelError: "EROR",
	levelCrit:  "CRIT",
}

var levelColors = map[Level]*color.Color{
	levelTrace: color.New(color.FgHiBlack),
	levelDebug: color.New(color.FgBlue),
	levelInfo:  color.New(color.FgGreen),
	levelWarn:  color.New(color.FgYellow),
	levelError: color.New(color.FgRed),
	levelCrit:  color.New(color.FgHiRed, color.Bold),
}

type logger struct {
	out     io.Writer
	color   bool
	minimum Level
	ctx     []any
}

// Root is the default logger: colorized output to stderr if it's a TTY,
// plain text otherwise, at Info level and above.
var Root Logger = New(os.Stderr, levelInfo)

// New builds a Logger writing to w. Color is auto-detected via isatty; a
// non-TTY destination (a file, a pipe, a lumberjack rotator) always gets
// plain text, matching the teacher's terminal-vs-daemon log split.
func New(w io.Writer, min Level) Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if useColor {
			w = colorable.NewColorable(f)
		}
	}
	return &logger{out: w, color: useColor, minimum: min}
}

// NewFileLogger builds a Logger that rotates its output through
// lumberjack, for long-running daemon deployments where a plain os.File
// would grow without bound.
func NewFileLogger(path string, maxSizeMB, maxBackups, maxAgeDays int, min Level) Logger {
	return &logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		},
		minimum: min,
	}
}

func (l *logger) log(lv Level, msg string, ctx []any) {
	if lv < l.minimum {
		return
	}
	all := append(append([]any{}, l.ctx...), ctx...)
	var b strings.Builder
	name := levelNames[lv]
	if l.color {
		name = levelColors[lv].Sprint(name)
	}
	fmt.Fprintf(&b, "%s[%s] %s", timestamp(), name, msg)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(levelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(levelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(levelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(levelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(levelError, msg, ctx) }

func (l *logger) Crit(msg string, ctx ...any) {
	l.log(levelCrit, msg, ctx)
	os.Exit(1)
}

func (l *logger) With(ctx ...any) Logger {
	return &logger{out: l.out, color: l.color, minimum: l.minimum, ctx: append(append([]any{}, l.ctx...), ctx...)}
}

// AsSlogHandler adapts l to an slog.Handler for call sites (e.g. a
// third-party library) that only know about log/slog; kept minimal since
// the core package never needs more than the Logger interface above.
func AsSlogHandler(l Logger) slog.Handler {
	return slogAdapter{l: l}
}

type slogAdapter struct{ l Logger }

func (a slogAdapter) Enabled(context.Context, slog.Level) bool { return true }
func (a slogAdapter) Handle(_ context.Context, r slog.Record) error {
	var kv []any
	r.Attrs(func(attr slog.Attr) bool {
		kv = append(kv, attr.Key, attr.Value.Any())
		return true
	})
	switch {
	case r.Level >= slog.LevelError:
		a.l.Error(r.Message, kv...)
	case r.Level >= slog.LevelWarn:
		a.l.Warn(r.Message, kv...)
	case r.Level >= slog.LevelInfo:
		a.l.Info(r.Message, kv...)
	default:
		a.l.Debug(r.Message, kv...)
	}
	return nil
}
func (a slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler { return a }
func (a slogAdapter) WithGroup(string) slog.Handler            { return a }

// Exported level constants for callers constructing a Logger.
const (
	LevelTrace = levelTrace
	LevelDebug = levelDebug
	LevelInfo  = levelInfo
	LevelWarn  = levelWarn
	LevelError = levelError
	LevelCrit  = levelCrit
)

func timestamp() string {
	return nowFunc().Format("2006-01-02T15:04:05.000Z07:00") + " "
}
