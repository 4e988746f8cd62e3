// Package dispatch holds the indirection table through which instrumentable
// methods are called. A method's active entry is a function value that can
// be replaced atomically; callers load it without locking.
package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"methodtrace/internal/metadata"
)

var (
	// ErrNoEntry is returned for tokens that were never defined.
	ErrNoEntry = errors.New("no dispatch entry")
	// ErrStaleEntry is returned by Swap when the active entry is not the
	// one the caller expected.
	ErrStaleEntry = errors.New("dispatch entry changed concurrently")
	// ErrTypeMismatch is returned when a function does not have the type
	// the entry was defined with.
	ErrTypeMismatch = errors.New("function type does not match dispatch entry")
)

// Target is one function value installed in an entry. Targets are compared
// by identity.
type Target struct {
	fn any
}

// NewTarget wraps fn.
func NewTarget(fn any) *Target {
	return &Target{fn: fn}
}

// Func returns the wrapped function.
func (t *Target) Func() any {
	return t.fn
}

type entry struct {
	typ     reflect.Type
	current atomic.Pointer[Target]
}

// Table maps method tokens to their active entry points.
type Table struct {
	mu      sync.RWMutex
	entries map[metadata.Token]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[metadata.Token]*entry)}
}

// Define registers fn as the entry point of token. Each token is defined
// once.
func (t *Table) Define(token metadata.Token, fn any) error {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func || reflect.ValueOf(fn).IsNil() {
		return fmt.Errorf("define %s: %T is not a non-nil function", token, fn)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.entries[token]; found {
		return fmt.Errorf("define %s: already defined", token)
	}
	e := &entry{typ: fnType}
	e.current.Store(NewTarget(fn))
	t.entries[token] = e
	return nil
}

func (t *Table) entry(token metadata.Token) (*entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, found := t.entries[token]
	if !found {
		return nil, fmt.Errorf("%s: %w", token, ErrNoEntry)
	}
	return e, nil
}

// Current returns the active target of token.
func (t *Table) Current(token metadata.Token) (*Target, error) {
	e, err := t.entry(token)
	if err != nil {
		return nil, err
	}
	return e.current.Load(), nil
}

// Type returns the function type token was defined with.
func (t *Table) Type(token metadata.Token) (reflect.Type, error) {
	e, err := t.entry(token)
	if err != nil {
		return nil, err
	}
	return e.typ, nil
}

// Swap makes next the active target of token if old still is. Callers see
// either old or next, never a mix of the two.
func (t *Table) Swap(token metadata.Token, old, next *Target) error {
	e, err := t.entry(token)
	if err != nil {
		return err
	}
	if reflect.TypeOf(next.fn) != e.typ {
		return fmt.Errorf("%s: %T for %s: %w", token, next.fn, e.typ, ErrTypeMismatch)
	}
	if !e.current.CompareAndSwap(old, next) {
		return fmt.Errorf("%s: %w", token, ErrStaleEntry)
	}
	return nil
}

// Handle is a typed, bound view of one entry. Func is lock-free.
type Handle[F any] struct {
	token metadata.Token
	entry *entry
}

// Bind returns a handle for token. F must be the type token was defined
// with.
func Bind[F any](t *Table, token metadata.Token) (*Handle[F], error) {
	e, err := t.entry(token)
	if err != nil {
		return nil, err
	}
	if want := reflect.TypeFor[F](); want != e.typ {
		return nil, fmt.Errorf("bind %s as %s, defined as %s: %w", token, want, e.typ, ErrTypeMismatch)
	}
	return &Handle[F]{token: token, entry: e}, nil
}

// MustBind is Bind for package initialization. It panics on error.
func MustBind[F any](t *Table, token metadata.Token) *Handle[F] {
	h, err := Bind[F](t, token)
	if err != nil {
		panic(err)
	}
	return h
}

// Token returns the token the handle is bound to.
func (h *Handle[F]) Token() metadata.Token {
	return h.token
}

// Func returns the active entry point.
func (h *Handle[F]) Func() F {
	return h.entry.current.Load().fn.(F)
}
