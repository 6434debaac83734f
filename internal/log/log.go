package log

import "context"

// Kv is a helper type for structured logging fields usage.
type Kv = map[string]interface{}

// Logger is the interface that the loggers used by the library will use.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	WithValues(values map[string]interface{}) Logger
	WithCtxValues(ctx context.Context) Logger
	SetValuesOnCtx(parent context.Context, values map[string]interface{}) context.Context
}

type contextKey string

const contextLogValuesKey contextKey = "opcore-log-values"

// CtxWithValues returns a copy of parent with the log Kv values attached.
func CtxWithValues(parent context.Context, kv Kv) context.Context {
	// Maps need to be copied, if not, when mutated it will affect in other
	// unwanted areas.
	newKv := Kv{}
	for k, v := range ValuesFromCtx(parent) {
		newKv[k] = v
	}
	for k, v := range kv {
		newKv[k] = v
	}

	return context.WithValue(parent, contextLogValuesKey, newKv)
}

// ValuesFromCtx gets the log Kv values from a context.
func ValuesFromCtx(ctx context.Context) Kv {
	values, ok := ctx.Value(contextLogValuesKey).(Kv)
	if !ok {
		return Kv{}
	}

	return values
}

// Noop logger doesn't log anything.
const Noop = noop(0)

type noop int

var _ Logger = Noop

func (n noop) Infof(format string, args ...interface{})    {}
func (n noop) Warningf(format string, args ...interface{}) {}
func (n noop) Errorf(format string, args ...interface{})   {}
func (n noop) Debugf(format string, args ...interface{})   {}
func (n noop) WithValues(map[string]interface{}) Logger    { return n }
func (n noop) WithCtxValues(ctx context.Context) Logger    { return n }
func (n noop) SetValuesOnCtx(parent context.Context, values map[string]interface{}) context.Context {
	return parent
}
