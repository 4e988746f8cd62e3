// Package signature derives the call shape a trampoline has to reproduce
// from a method's metadata.
package signature

import (
	"fmt"
	"reflect"
	"sort"

	"methodtrace/internal/metadata"
)

// MaxArgs bounds the number of fixed arguments a shape may carry.
const MaxArgs = 64

// CallShape is the argument layout callers use to invoke a method.
type CallShape struct {
	HasReceiver   bool
	FixedArgCount int
	IsGeneric     bool
	GenericArity  int
	ArgTypes      []metadata.Token // declaration order
	ReturnType    metadata.Token
}

// Arity is the number of arguments actually passed, receiver included.
func (s CallShape) Arity() int {
	if s.HasReceiver {
		return s.FixedArgCount + 1
	}
	return s.FixedArgCount
}

// UnsupportedSignatureError is returned for methods outside the calling
// conventions trampolines can reproduce.
type UnsupportedSignatureError struct {
	Method string
	Reason string
}

func (e *UnsupportedSignatureError) Error() string {
	return fmt.Sprintf("unsupported signature for %s: %s", e.Method, e.Reason)
}

func unsupported(method *metadata.MethodRecord, format string, args ...any) error {
	return &UnsupportedSignatureError{Method: method.FullName(), Reason: fmt.Sprintf(format, args...)}
}

// Classify derives the call shape of method.
func Classify(method *metadata.MethodRecord) (CallShape, error) {
	conv := method.CallingConvention
	switch {
	case conv.Kind() != metadata.ConvDefault:
		return CallShape{}, unsupported(method, "calling convention %s", conv)
	case conv.HasExplicitThis():
		return CallShape{}, unsupported(method, "explicit receiver")
	case conv.IsGeneric() && method.GenericArity == 0:
		return CallShape{}, unsupported(method, "generic method without type parameters")
	case !conv.IsGeneric() && method.GenericArity != 0:
		return CallShape{}, unsupported(method, "%d type parameters on a non-generic method", method.GenericArity)
	case len(method.Params) > MaxArgs:
		return CallShape{}, unsupported(method, "%d arguments, at most %d supported", len(method.Params), MaxArgs)
	}

	params := make([]metadata.ParameterRecord, len(method.Params))
	copy(params, method.Params)
	sort.SliceStable(params, func(i, j int) bool { return params[i].Ordinal < params[j].Ordinal })

	shape := CallShape{
		HasReceiver:   conv.HasThis(),
		FixedArgCount: len(params),
		IsGeneric:     conv.IsGeneric(),
		GenericArity:  method.GenericArity,
		ArgTypes:      make([]metadata.Token, len(params)),
		ReturnType:    method.ReturnType,
	}
	for i, p := range params {
		// Positions must be dense, otherwise arguments would be matched to
		// the wrong slots.
		if p.Ordinal != i {
			return CallShape{}, unsupported(method, "parameter %q has ordinal %d at position %d", p.Name, p.Ordinal, i)
		}
		shape.ArgTypes[i] = p.DeclaredType
	}
	return shape, nil
}

// Validate checks that fn, a concrete entry point, can be called with
// shape.
func Validate(method *metadata.MethodRecord, shape CallShape, fn reflect.Type) error {
	if fn == nil || fn.Kind() != reflect.Func {
		return unsupported(method, "entry point is %v, not a function", fn)
	}
	if fn.NumIn() != shape.Arity() {
		return unsupported(method, "entry point takes %d arguments, metadata declares %d", fn.NumIn(), shape.Arity())
	}
	return nil
}
