package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a thin structured logger over zerolog.
type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string

	// Rotation, only used when Output is a file path.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a logger from cfg. The level applies to this logger and its
// children only.
func New(cfg *Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		lv, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lv
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   cfg.Compress,
		}
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	switch cfg.Format {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl}, nil
}

// NewWriter builds a debug-level JSON logger on w for tests and tools.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.context(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }

func emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.event(e)
	}
	e.Msg(msg)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindStrings
	kindInt
	kindFloat
	kindBool
	kindError
	kindAny
)

// Field is one typed key/value pair.
type Field struct {
	key  string
	kind fieldKind
	str  string
	strs []string
	num  int64
	flt  float64
	err  error
	any  interface{}
}

func (f Field) event(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.key, f.str)
	case kindStrings:
		e.Strs(f.key, f.strs)
	case kindInt:
		e.Int64(f.key, f.num)
	case kindFloat:
		e.Float64(f.key, f.flt)
	case kindBool:
		e.Bool(f.key, f.num != 0)
	case kindError:
		e.AnErr(f.key, f.err)
	default:
		e.Interface(f.key, f.any)
	}
}

func (f Field) context(c zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return c.Str(f.key, f.str)
	case kindStrings:
		return c.Strs(f.key, f.strs)
	case kindInt:
		return c.Int64(f.key, f.num)
	case kindFloat:
		return c.Float64(f.key, f.flt)
	case kindBool:
		return c.Bool(f.key, f.num != 0)
	case kindError:
		return c.AnErr(f.key, f.err)
	default:
		return c.Interface(f.key, f.any)
	}
}

func String(key, value string) Field { return Field{key: key, kind: kindString, str: value} }

func Strings(key string, value []string) Field {
	return Field{key: key, kind: kindStrings, strs: value}
}

func Int(key string, value int) Field     { return Field{key: key, kind: kindInt, num: int64(value)} }
func Int64(key string, value int64) Field { return Field{key: key, kind: kindInt, num: value} }

func Float64(key string, value float64) Field { return Field{key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

// Duration logs d in whole milliseconds.
func Duration(key string, d time.Duration) Field {
	return Field{key: key, kind: kindInt, num: d.Milliseconds()}
}

// Error logs err under "error"; a nil error is omitted.
func Error(err error) Field { return Field{key: zerolog.ErrorFieldName, kind: kindError, err: err} }

func Any(key string, value interface{}) Field { return Field{key: key, kind: kindAny, any: value} }
