// Package logadapter wires evloop.Logger to logiface, backed by stumpy's
// zero-allocation JSON encoder, grounded on
// joeycumines-go-utilpkg/logiface-stumpy's WithStumpy factory and on the
// package's With/Field chaining idiom for bound loggers.
package logadapter

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/loopkit/evloop"
)

// stumpyLogger adapts a *logiface.Logger[*stumpy.Event] to evloop.Logger.
type stumpyLogger struct {
	base   *logiface.Logger[*stumpy.Event]
	bound  []evloop.Field
}

// NewStumpyLogger returns an evloop.Logger that writes newline-delimited
// JSON to w via stumpy.
func NewStumpyLogger(w io.Writer) evloop.Logger {
	l := logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](logiface.LevelTrace),
		stumpy.WithStumpy(stumpy.WithWriter(w)),
	)
	return &stumpyLogger{base: l}
}

func (l *stumpyLogger) log(level logiface.Level, msg string, fields []evloop.Field) {
	b := l.base.Build(level)
	if b == nil {
		return
	}
	for _, f := range l.bound {
		b = applyField(b, f)
	}
	for _, f := range fields {
		b = applyField(b, f)
	}
	b.Log(msg)
}

func applyField(b *logiface.Builder[*stumpy.Event], f evloop.Field) *logiface.Builder[*stumpy.Event] {
	if err, ok := f.Value.(error); ok && f.Key == "error" {
		return b.Err(err)
	}
	return b.Field(f.Key, f.Value)
}

func (l *stumpyLogger) Debug(msg string, fields ...evloop.Field) {
	l.log(logiface.LevelDebug, msg, fields)
}

func (l *stumpyLogger) Info(msg string, fields ...evloop.Field) {
	l.log(logiface.LevelInformational, msg, fields)
}

func (l *stumpyLogger) Warn(msg string, fields ...evloop.Field) {
	l.log(logiface.LevelWarning, msg, fields)
}

func (l *stumpyLogger) Error(msg string, fields ...evloop.Field) {
	l.log(logiface.LevelError, msg, fields)
}

// With returns a derived Logger that always includes fields on top of any
// already bound, mirroring structlog's bind().
func (l *stumpyLogger) With(fields ...evloop.Field) evloop.Logger {
	merged := make([]evloop.Field, 0, len(l.bound)+len(fields))
	merged = append(merged, l.bound...)
	merged = append(merged, fields...)
	return &stumpyLogger{base: l.base, bound: merged}
}
