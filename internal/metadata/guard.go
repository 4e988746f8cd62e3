package metadata

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Guard decides whether methods declared on a type may be instrumented.
type Guard interface {
	Check(method *MethodRecord) error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(*MethodRecord) error

func (f GuardFunc) Check(method *MethodRecord) error { return f(method) }

// VisibilityGuard accepts methods of public and nested public types. It is
// the guard for records read from compiled modules.
type VisibilityGuard struct{}

func (VisibilityGuard) Check(method *MethodRecord) error {
	if err := checkNoTrace(method); err != nil {
		return err
	}
	if method.DeclaringType.Visibility.IsAccessible() {
		return nil
	}
	return inaccessible(method.DeclaringType)
}

// ExportedGuard accepts methods whose declaring type is declared public and
// has an exported Go name. Methods without a declaring type (package level
// functions) pass.
type ExportedGuard struct{}

func (ExportedGuard) Check(method *MethodRecord) error {
	if err := checkNoTrace(method); err != nil {
		return err
	}
	t := method.DeclaringType
	if t.Name == "" {
		return nil
	}
	r, _ := utf8.DecodeRuneInString(t.Name)
	if unicode.IsUpper(r) && t.Visibility.IsAccessible() {
		return nil
	}
	return inaccessible(t)
}

func checkNoTrace(method *MethodRecord) error {
	if method.NoTrace {
		return fmt.Errorf("method %s: %w", method.FullName(), ErrNoTrace)
	}
	if method.DeclaringType.NoTrace {
		return fmt.Errorf("type %s: %w", method.DeclaringType.FullName(), ErrNoTrace)
	}
	return nil
}

func inaccessible(t TypeRecord) error {
	if t.IsInterface {
		return &InaccessibleInterfaceError{Type: t}
	}
	return &InaccessibleTypeError{Type: t}
}
