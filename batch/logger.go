package batch

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// Field is a structured log field, matching client.Field's shape so a
// client.Logger value can be passed anywhere a batch.Logger is expected.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, val string) Field   { return Field{Key: key, Value: val} }
func Int(key string, val int) Field  { return Field{Key: key, Value: val} }
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }
func Uint32(key string, val uint32) Field { return Field{Key: key, Value: val} }
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}
func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}

// Logger is the structured logging interface batch.Session uses. It is
// declared separately from client.Logger (rather than imported) so this
// package never depends on client; any *client.Logger implementation
// already satisfies this interface structurally.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

type defaultLogger struct {
	logger     *log.Logger
	baseFields []Field
}

// NewLogger creates a Logger writing JSON lines to output (stdout if nil),
// matching client.NewLogger's behavior minus the level filter - batch logs
// are all low-volume lifecycle/diagnostic events, so no level gate is
// needed here.
func NewLogger(output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}
	return &defaultLogger{logger: log.New(output, "", 0)}
}

func (l *defaultLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields...) }
func (l *defaultLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields...) }
func (l *defaultLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields...) }
func (l *defaultLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields...) }

func (l *defaultLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.baseFields)+len(fields))
	merged = append(merged, l.baseFields...)
	merged = append(merged, fields...)
	return &defaultLogger{logger: l.logger, baseFields: merged}
}

func (l *defaultLogger) log(level, msg string, fields ...Field) {
	all := make(map[string]interface{}, len(l.baseFields)+len(fields)+3)
	all["timestamp"] = time.Now().Format(time.RFC3339Nano)
	all["level"] = level
	all["message"] = msg
	for _, f := range l.baseFields {
		all[f.Key] = f.Value
	}
	for _, f := range fields {
		all[f.Key] = f.Value
	}

	b, err := json.Marshal(all)
	if err != nil {
		l.logger.Printf(`{"level":"ERROR","message":"failed to marshal log: %s"}`, err.Error())
		return
	}
	l.logger.Println(string(b))
}

// nopLogger discards everything; used as the Session default so callers
// that never configure a Logger pay no cost.
type nopLogger struct{}

func (nopLogger) Debug(string, ...Field)   {}
func (nopLogger) Info(string, ...Field)    {}
func (nopLogger) Warn(string, ...Field)    {}
func (nopLogger) Error(string, ...Field)   {}
func (nopLogger) WithFields(...Field) Logger { return nopLogger{} }

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger { return nopLogger{} }
