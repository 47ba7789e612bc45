package logger

var _ Logger = (*LevelWrapper)(nil)

type LevelWrapper struct {
	Base
}

func WrapLogger(l Base) Logger {
	if lg, ok := l.(Logger); ok {
		return lg
	}
	return &LevelWrapper{l}
}

func (w *LevelWrapper) With(kv ...any) Logger {
	if len(kv) == 0 {
		return w
	}

	if s, ok := w.Base.(Scoper); ok {
		return &LevelWrapper{s.With(kv...)}
	}

	return &LevelWrapper{&fieldsBase{Base: w.Base, fields: kv}}
}

func (w *LevelWrapper) Debug(msg string, kv ...any) {
	w.Log(DebugLevel, msg, kv...)
}

func (w *LevelWrapper) Info(msg string, kv ...any) {
	w.Log(InfoLevel, msg, kv...)
}

func (w *LevelWrapper) Warn(msg string, kv ...any) {
	w.Log(WarnLevel, msg, kv...)
}

func (w *LevelWrapper) Error(msg string, kv ...any) {
	w.Log(ErrorLevel, msg, kv...)
}

// fieldsBase prepends fixed fields for backends without native scoping
type fieldsBase struct {
	Base
	fields []any
}

func (f *fieldsBase) Log(level LogLevel, msg string, kv ...any) {
	all := make([]any, 0, len(f.fields)+len(kv))
	all = append(all, f.fields...)
	all = append(all, kv...)
	f.Base.Log(level, msg, all...)
}
