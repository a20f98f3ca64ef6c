package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()

	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		k, v := f.GetKeyValue()
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger(), collector: l.collector}
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		field.AddTo(event)
	}
	event.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.log(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(l.zl.Warn(), msg, fields)
	l.collect("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.log(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil || !l.collector.accepts(level) {
		return
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if i := strings.Index(file, "/internal/"); i >= 0 {
			file = file[i:]
		} else if i := strings.Index(file, "/pkg/"); i >= 0 {
			file = file[i:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	fieldMap := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		key, value := field.GetKeyValue()
		fieldMap[key] = value
	}
	l.collector.AddLog(level, msg, fieldMap, caller)
}

func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field types for structured logging.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type StringField struct {
	Key   string
	Value string
}

func (f StringField) AddTo(event *zerolog.Event)         { event.Str(f.Key, f.Value) }
func (f StringField) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type IntField struct {
	Key   string
	Value int
}

func (f IntField) AddTo(event *zerolog.Event)         { event.Int(f.Key, f.Value) }
func (f IntField) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type Int64Field struct {
	Key   string
	Value int64
}

func (f Int64Field) AddTo(event *zerolog.Event)         { event.Int64(f.Key, f.Value) }
func (f Int64Field) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type Float64Field struct {
	Key   string
	Value float64
}

func (f Float64Field) AddTo(event *zerolog.Event)         { event.Float64(f.Key, f.Value) }
func (f Float64Field) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type ErrorField struct {
	Key   string
	Value error
}

func (f ErrorField) AddTo(event *zerolog.Event) { event.Err(f.Value) }

func (f ErrorField) GetKeyValue() (string, interface{}) {
	if f.Value == nil {
		return f.Key, nil
	}
	return f.Key, f.Value.Error()
}

type AnyField struct {
	Key   string
	Value interface{}
}

func (f AnyField) AddTo(event *zerolog.Event)         { event.Interface(f.Key, f.Value) }
func (f AnyField) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type BoolField struct {
	Key   string
	Value bool
}

func (f BoolField) AddTo(event *zerolog.Event)         { event.Bool(f.Key, f.Value) }
func (f BoolField) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

type TimeField struct {
	Key   string
	Value time.Time
}

func (f TimeField) AddTo(event *zerolog.Event)         { event.Time(f.Key, f.Value) }
func (f TimeField) GetKeyValue() (string, interface{}) { return f.Key, f.Value }

// --- Field constructors ---

func String(key, value string) Field { return StringField{Key: key, Value: value} }

func Int(key string, value int) Field { return IntField{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Int64Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Float64Field{Key: key, Value: value} }

func Error(err error) Field { return ErrorField{Key: "error", Value: err} }

func Any(key string, value interface{}) Field { return AnyField{Key: key, Value: value} }

func Bool(key string, value bool) Field { return BoolField{Key: key, Value: value} }

func Time(key string, value time.Time) Field { return TimeField{Key: key, Value: value} }

// Duration is logged in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Int64Field{Key: key, Value: value.Milliseconds()}
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

// Market tags a log line with the trading pair it concerns.
func Market(market string) Field { return String("market", market) }
