package telemetry

import (
	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
	"methodtrace/internal/trampoline"
)

type tee []trampoline.Hooks

// Tee fans calls out to several hooks. OnEnter runs in order and OnExit in
// reverse order. Every OnExit receives the clock reading taken by the
// first hook's OnEnter.
func Tee(hooks ...trampoline.Hooks) trampoline.Hooks {
	switch len(hooks) {
	case 0:
		return trampoline.HookFuncs{}
	case 1:
		return hooks[0]
	}
	return tee(hooks)
}

func (t tee) OnEnter(method metadata.Token) clock.Ticks {
	start := t[0].OnEnter(method)
	for _, h := range t[1:] {
		h.OnEnter(method)
	}
	return start
}

func (t tee) OnExit(method metadata.Token, start clock.Ticks) {
	for i := len(t) - 1; i >= 0; i-- {
		t[i].OnExit(method, start)
	}
}
