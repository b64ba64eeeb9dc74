package logx

import (
	"github.com/rs/zerolog"
)

// callerSkip ascends from Logger.log past the level method to its caller.
const callerSkip = 2

type source interface {
	current() *zerolog.Logger
}

type fixed struct{ zl zerolog.Logger }

func (f *fixed) current() *zerolog.Logger { return &f.zl }

// Logger is cheap to copy. The zero value discards everything; a Logger
// obtained from a Service follows every later Service.Apply.
type Logger struct {
	src    source
	fields []Field
}

var nop = &fixed{zl: zerolog.Nop()}

func Nop() Logger { return Logger{src: nop} }

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.log(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	e := l.src.current().WithLevel(level)
	if e == nil {
		return
	}
	e = e.Caller(callerSkip)
	for _, group := range [2][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}
