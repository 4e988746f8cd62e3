// Package installer redirects methods to tracing trampolines and back.
//
// Each method moves through Uninstalled -> Installing -> Installed, or
// Installing -> Failed when any step fails. Install resolves the method's
// metadata, checks the accessibility guard, classifies the signature,
// builds a trampoline and swaps the method's dispatch entry. Nothing is
// swapped unless every step before it succeeded, so a failed install leaves
// the method exactly as it was.
package installer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"methodtrace/internal/dispatch"
	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
	"methodtrace/internal/trampoline"
)

// NotInstalledError is returned by Uninstall for methods that are not
// installed.
type NotInstalledError struct {
	Token metadata.Token
	State State
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("%s is not installed (state %s)", e.Token, e.State)
}

// SynthesizeFunc builds a trampoline. trampoline.Synthesize is the default.
type SynthesizeFunc func(shape signature.CallShape, method metadata.Token, original any, hooks trampoline.Hooks) (any, error)

// Option configures an Installer.
type Option func(*Installer)

// WithGuard replaces the default metadata.ExportedGuard.
func WithGuard(guard metadata.Guard) Option {
	return func(in *Installer) { in.guard = guard }
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger zerolog.Logger) Option {
	return func(in *Installer) { in.logger = logger }
}

// WithSynthesizer replaces trampoline.Synthesize.
func WithSynthesizer(synthesize SynthesizeFunc) Option {
	return func(in *Installer) { in.synthesize = synthesize }
}

// Installer instruments methods whose entry points live in a dispatch
// table. It is safe for concurrent use.
type Installer struct {
	provider   metadata.Provider
	table      *dispatch.Table
	hooks      trampoline.Hooks
	guard      metadata.Guard
	synthesize SynthesizeFunc
	logger     zerolog.Logger

	registry *Registry
	inflight singleflight.Group
	builds   atomic.Int64
}

// New returns an installer that resolves methods with provider, patches
// table and reports calls to hooks. A nil hooks installs trampolines that
// only pass calls through.
func New(provider metadata.Provider, table *dispatch.Table, hooks trampoline.Hooks, opts ...Option) *Installer {
	if hooks == nil {
		hooks = trampoline.HookFuncs{}
	}
	in := &Installer{
		provider:   provider,
		table:      table,
		hooks:      hooks,
		guard:      metadata.ExportedGuard{},
		synthesize: trampoline.Synthesize,
		logger:     zerolog.Nop(),
		registry:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Install redirects token's dispatch entry to a trampoline. Installing an
// installed method succeeds without building anything. Concurrent calls
// for the same method share one attempt and its outcome.
func (in *Installer) Install(token metadata.Token) error {
	_, err, _ := in.inflight.Do(token.String(), func() (any, error) {
		return nil, in.install(token)
	})
	return err
}

func (in *Installer) install(token metadata.Token) error {
	for {
		rec := in.registry.acquire(token)
		rec.mu.Lock()
		if rec.removed {
			rec.mu.Unlock()
			continue
		}
		err := in.installLocked(rec)
		rec.mu.Unlock()
		return err
	}
}

func (in *Installer) installLocked(rec *record) error {
	if rec.state == Installed {
		return nil
	}

	rec.state = Installing
	original, tramp, err := in.build(rec.target)
	if err != nil {
		rec.state = Failed
		rec.err = err
		in.logger.Warn().Err(err).Stringer("method", rec.target).Msg("install failed")
		return err
	}

	rec.original = original
	rec.trampoline = tramp
	rec.err = nil
	rec.state = Installed
	in.logger.Debug().Stringer("method", rec.target).Msg("installed")
	return nil
}

// build runs every check, then the swap. The swap is the last step, so any
// error before it leaves the dispatch table untouched.
func (in *Installer) build(token metadata.Token) (original, tramp *dispatch.Target, err error) {
	method, err := in.provider.Method(token)
	if err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", token, err)
	}
	if err := in.guard.Check(method); err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", method.FullName(), err)
	}
	shape, err := signature.Classify(method)
	if err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", method.FullName(), err)
	}

	original, err = in.table.Current(token)
	if err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", method.FullName(), err)
	}
	if err := signature.Validate(method, shape, reflect.TypeOf(original.Func())); err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", method.FullName(), err)
	}

	fn, err := in.synthesize(shape, token, original.Func(), in.hooks)
	in.builds.Add(1)
	if err != nil {
		return nil, nil, fmt.Errorf("install %s: build trampoline: %w", method.FullName(), err)
	}

	tramp = dispatch.NewTarget(fn)
	if err := in.table.Swap(token, original, tramp); err != nil {
		return nil, nil, fmt.Errorf("install %s: %w", method.FullName(), err)
	}
	return original, tramp, nil
}

// Uninstall restores the entry point token had before Install. It fails
// with *NotInstalledError unless token is installed.
func (in *Installer) Uninstall(token metadata.Token) error {
	rec, found := in.registry.lookup(token)
	if !found {
		return &NotInstalledError{Token: token, State: Uninstalled}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return &NotInstalledError{Token: token, State: Uninstalled}
	}
	if rec.state != Installed {
		return &NotInstalledError{Token: token, State: rec.state}
	}

	if err := in.table.Swap(token, rec.trampoline, rec.original); err != nil {
		return fmt.Errorf("uninstall %s: %w", token, err)
	}
	rec.state = Uninstalled
	rec.original, rec.trampoline = nil, nil
	in.registry.remove(rec)
	in.logger.Debug().Stringer("method", token).Msg("uninstalled")
	return nil
}

// InstallAll installs tokens concurrently and returns the errors of the
// methods that failed. A cancelled ctx stops new installs from starting;
// installs already running complete.
func (in *Installer) InstallAll(ctx context.Context, tokens []metadata.Token) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, token := range tokens {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := in.Install(token); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// State returns the install state of token.
func (in *Installer) State(token metadata.Token) State {
	rec, found := in.registry.lookup(token)
	if !found {
		return Uninstalled
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Err returns the error of the last failed install of token.
func (in *Installer) Err(token metadata.Token) error {
	rec, found := in.registry.lookup(token)
	if !found {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.err
}

// Installed lists installed methods, ordered by token.
func (in *Installer) Installed() []metadata.Token {
	var tokens []metadata.Token
	for _, rec := range in.registry.snapshot() {
		rec.mu.Lock()
		if rec.state == Installed && !rec.removed {
			tokens = append(tokens, rec.target)
		}
		rec.mu.Unlock()
	}
	return tokens
}

// Builds returns how many trampolines have been built.
func (in *Installer) Builds() int64 {
	return in.builds.Load()
}

// Registry exposes the per-method records.
func (in *Installer) Registry() *Registry {
	return in.registry
}
