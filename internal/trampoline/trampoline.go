// Package trampoline builds the entry points that wrap an original method
// with timing hooks.
package trampoline

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
)

// ErrShapeMismatch is returned when the original function does not take the
// arguments its call shape declares.
var ErrShapeMismatch = errors.New("function does not match call shape")

// Hooks receive every call of an instrumented method. OnEnter runs before
// the original and its result is handed to OnExit, which runs after the
// original returned or panicked. Hooks run on the caller's goroutine and
// must be safe for concurrent use.
type Hooks interface {
	OnEnter(method metadata.Token) clock.Ticks
	OnExit(method metadata.Token, start clock.Ticks)
}

// HookFuncs adapts a pair of functions to Hooks. A nil field is skipped;
// a nil Enter passes a clock reading to Exit.
type HookFuncs struct {
	Enter func(metadata.Token) clock.Ticks
	Exit  func(metadata.Token, clock.Ticks)
}

func (h HookFuncs) OnEnter(method metadata.Token) clock.Ticks {
	if h.Enter == nil {
		return clock.Now()
	}
	return h.Enter(method)
}

func (h HookFuncs) OnExit(method metadata.Token, start clock.Ticks) {
	if h.Exit != nil {
		h.Exit(method, start)
	}
}

// Synthesize returns a function of the same type as original. Each call of
// it runs hooks.OnEnter, then original with the received arguments, then
// hooks.OnExit, and returns original's results unchanged. A panic raised by
// original propagates unchanged once OnExit has run.
func Synthesize(shape signature.CallShape, method metadata.Token, original any, hooks Hooks) (any, error) {
	fnType := reflect.TypeOf(original)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s: %T: %w", method, original, ErrShapeMismatch)
	}
	if fnType.NumIn() != shape.Arity() {
		return nil, fmt.Errorf("%s: %s takes %d arguments, shape has %d: %w", method, fnType, fnType.NumIn(), shape.Arity(), ErrShapeMismatch)
	}

	// Common shapes skip reflection. The cases only match unnamed function
	// types, so the result keeps the original's exact type.
	switch fn := original.(type) {
	case func():
		return func() {
			start := hooks.OnEnter(method)
			defer hooks.OnExit(method, start)
			fn()
		}, nil
	case func() error:
		return func() error {
			start := hooks.OnEnter(method)
			defer hooks.OnExit(method, start)
			return fn()
		}, nil
	case func(context.Context) error:
		return func(ctx context.Context) error {
			start := hooks.OnEnter(method)
			defer hooks.OnExit(method, start)
			return fn(ctx)
		}, nil
	}

	fnValue := reflect.ValueOf(original)
	variadic := fnType.IsVariadic()
	return reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		start := hooks.OnEnter(method)
		defer hooks.OnExit(method, start)
		if variadic {
			return fnValue.CallSlice(args)
		}
		return fnValue.Call(args)
	}).Interface(), nil
}
